package engine

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/segyhp/payment-risk-engine/internal/domain"
)

// aggregate is the fan-in reduction. It reads only completed mandate results;
// nil entries were never started and are left out.
func (e *Engine) aggregate(b *batch, forecasts []*domain.PayerForecast, results []*mandateResult) *domain.EvaluationResult {
	res := &domain.EvaluationResult{
		AsOf:            b.asOf,
		Assessments:     make([]domain.RiskAssessment, 0, len(results)),
		Statuses:        make(map[string]domain.MandateStatus, len(results)),
		Forecasts:       make([]domain.PayerForecast, 0, len(forecasts)),
		RetryPlans:      []domain.RetryPlan{},
		Recommendations: []domain.Recommendation{},
		Rejections:      b.rejections,
	}
	for _, f := range forecasts {
		if f != nil {
			res.Forecasts = append(res.Forecasts, *f)
		}
	}

	assessments := make(map[string]domain.RiskAssessment, len(results))
	completed := make(map[string][]domain.Mandate)
	for i, r := range results {
		if r == nil {
			continue
		}
		m := b.mandates[i]
		res.Assessments = append(res.Assessments, r.assessment)
		res.Statuses[m.ID] = r.status
		if r.plan != nil {
			res.RetryPlans = append(res.RetryPlans, *r.plan)
		}
		res.Recommendations = append(res.Recommendations, r.recs...)
		assessments[m.ID] = r.assessment
		completed[m.PayerID] = append(completed[m.PayerID], m)
	}

	for _, payer := range b.payers {
		if rec, ok := e.generator.ForPayer(payer, completed[payer], assessments); ok {
			res.Recommendations = append(res.Recommendations, rec)
		}
	}

	res.Summary = e.summarize(b, res, results)
	return res
}

func (e *Engine) summarize(b *batch, res *domain.EvaluationResult, results []*mandateResult) domain.PortfolioSummary {
	s := domain.PortfolioSummary{
		Evaluated:          len(res.Assessments),
		Rejected:           len(b.rejections),
		StatusCounts:       make(map[domain.MandateStatus]int),
		MonthlyVolume:      decimal.Zero,
		AtRiskVolume:       decimal.Zero,
		RecoverableRevenue: decimal.Zero,
		ReturnCodes:        []domain.ReturnCodeStat{},
		RecommendationMix:  make(map[domain.RecommendationKind]int),
	}

	codes := make(map[string]*domain.ReturnCodeStat)
	totalReturns, totalScore := 0, 0
	for i, r := range results {
		if r == nil {
			continue
		}
		m := b.mandates[i]
		s.StatusCounts[r.status]++
		totalScore += r.assessment.RiskScore
		if r.status.Collectable() {
			s.MonthlyVolume = s.MonthlyVolume.Add(m.Amount)
		}
		if r.status == domain.MandateStatusAtRisk || r.status == domain.MandateStatusFailed {
			s.AtRiskVolume = s.AtRiskVolume.Add(m.Amount)
		}
		for _, ce := range b.returns[m.ID] {
			stat, ok := codes[ce.Classification.Code]
			if !ok {
				stat = &domain.ReturnCodeStat{Code: ce.Classification.Code, Category: ce.Classification.Category}
				codes[ce.Classification.Code] = stat
			}
			stat.Count++
			totalReturns++
		}
	}
	s.ChurnRiskCount = len(res.HighChurn(e.ChurnThreshold()))
	if s.Evaluated > 0 {
		s.AverageRiskScore = math.Round(float64(totalScore)/float64(s.Evaluated)*100) / 100
	}

	for _, stat := range codes {
		stat.Share = float64(stat.Count) / float64(totalReturns)
		s.ReturnCodes = append(s.ReturnCodes, *stat)
	}
	sort.Slice(s.ReturnCodes, func(i, j int) bool {
		if s.ReturnCodes[i].Count != s.ReturnCodes[j].Count {
			return s.ReturnCodes[i].Count > s.ReturnCodes[j].Count
		}
		return s.ReturnCodes[i].Code < s.ReturnCodes[j].Code
	})

	for _, rec := range res.Recommendations {
		// Portfolio outreach rolls up mandate outreach already counted.
		if rec.Scope == domain.ScopeMandate {
			s.RecommendationMix[rec.Kind]++
		}
		switch rec.Kind {
		case domain.KindSmartRetry, domain.KindPaymentSplit, domain.KindPaymentDateShift:
			if rec.ExpectedImpact.IsPositive() {
				s.RecoverableRevenue = s.RecoverableRevenue.Add(rec.ExpectedImpact)
			}
		}
	}
	return s
}
