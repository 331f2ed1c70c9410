package domain

import "time"

const (
	FactorRecencySeverity   = "recency_weighted_severity"
	FactorRecentFailureRate = "recent_failure_rate"
	FactorVolatility        = "failure_category_volatility"
)

// Factor is one named, weighted reason behind a risk score.
type Factor struct {
	Label string `json:"label"`
	// Weight is the factor's share of the combined score, in [0,1].
	Weight float64 `json:"weight"`
	// Value is the raw term before weighting.
	Value         float64   `json:"value"`
	LatestEventAt time.Time `json:"latest_event_at"`
	Detail        string    `json:"detail"`
}

// RiskAssessment is the scorer output for one mandate.
type RiskAssessment struct {
	MandateID           string    `json:"mandate_id"`
	RiskScore           int       `json:"risk_score"`
	ChurnProbability    float64   `json:"churn_probability"`
	ContributingFactors []Factor  `json:"contributing_factors"`
	EvaluatedAt         time.Time `json:"evaluated_at"`
}
