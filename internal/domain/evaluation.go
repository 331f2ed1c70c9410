package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EvaluationInput is everything one evaluation run needs, supplied in memory.
type EvaluationInput struct {
	Mandates []Mandate         `json:"mandates"`
	Events   []CollectionEvent `json:"events"`
	Income   []IncomeEvent     `json:"income"`
	// Balances holds known current balances per payer; missing payers start at zero.
	Balances map[string]decimal.Decimal `json:"balances,omitempty"`
	AsOf     time.Time                  `json:"as_of"`
}

// Rejection records a mandate that failed boundary validation.
type Rejection struct {
	MandateID string `json:"mandate_id"`
	Reason    string `json:"reason"`
}

// ReturnCodeStat is one row of the return-code distribution.
type ReturnCodeStat struct {
	Code     string          `json:"code"`
	Category FailureCategory `json:"category"`
	Count    int             `json:"count"`
	Share    float64         `json:"share"`
}

// PortfolioSummary aggregates per-mandate results.
//
// RecommendationMix counts mandate-scope recommendations only. A payer-level
// ChurnOutreach always accompanies at least one mandate-level ChurnOutreach, so
// counting both would report a single-mandate payer twice.
type PortfolioSummary struct {
	Evaluated          int                        `json:"evaluated"`
	Rejected           int                        `json:"rejected"`
	StatusCounts       map[MandateStatus]int      `json:"status_counts"`
	ChurnRiskCount     int                        `json:"churn_risk_count"`
	MonthlyVolume      decimal.Decimal            `json:"monthly_volume"`
	AtRiskVolume       decimal.Decimal            `json:"at_risk_volume"`
	RecoverableRevenue decimal.Decimal            `json:"recoverable_revenue"`
	AverageRiskScore   float64                    `json:"average_risk_score"`
	ReturnCodes        []ReturnCodeStat           `json:"return_codes"`
	RecommendationMix  map[RecommendationKind]int `json:"recommendation_mix"`
}

// EvaluationResult is the facade output.
type EvaluationResult struct {
	AsOf            time.Time                `json:"as_of"`
	Assessments     []RiskAssessment         `json:"assessments"`
	Statuses        map[string]MandateStatus `json:"statuses"`
	Forecasts       []PayerForecast          `json:"forecasts"`
	RetryPlans      []RetryPlan              `json:"retry_plans"`
	Recommendations []Recommendation         `json:"recommendations"`
	Rejections      []Rejection              `json:"rejections,omitempty"`
	Summary         PortfolioSummary         `json:"summary"`
	// Partial is set when the run was cancelled before every mandate finished.
	Partial bool `json:"partial"`
}

// AssessmentFor returns the assessment of a mandate.
func (r *EvaluationResult) AssessmentFor(mandateID string) (RiskAssessment, bool) {
	for _, a := range r.Assessments {
		if a.MandateID == mandateID {
			return a, true
		}
	}
	return RiskAssessment{}, false
}

// ForecastFor returns the forecast of a payer.
func (r *EvaluationResult) ForecastFor(payerID string) (PayerForecast, bool) {
	for _, f := range r.Forecasts {
		if f.PayerID == payerID {
			return f, true
		}
	}
	return PayerForecast{}, false
}

// RecommendationsFor returns recommendations targeting a mandate or payer id.
func (r *EvaluationResult) RecommendationsFor(targetID string) []Recommendation {
	var out []Recommendation
	for _, rec := range r.Recommendations {
		if rec.TargetID == targetID || rec.MandateID == targetID {
			out = append(out, rec)
		}
	}
	return out
}

// RecommendationsOfKind filters recommendations by kind.
func (r *EvaluationResult) RecommendationsOfKind(kind RecommendationKind) []Recommendation {
	var out []Recommendation
	for _, rec := range r.Recommendations {
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out
}

// HighChurn returns assessments at or above the churn threshold.
func (r *EvaluationResult) HighChurn(threshold float64) []RiskAssessment {
	var out []RiskAssessment
	for _, a := range r.Assessments {
		if a.ChurnProbability >= threshold {
			out = append(out, a)
		}
	}
	return out
}
