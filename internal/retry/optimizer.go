// Package retry picks the retry date and hour for a failed collection.
package retry

import (
	"time"

	"github.com/segyhp/payment-risk-engine/internal/domain"
	"github.com/segyhp/payment-risk-engine/pkg/utils"
)

type Settings struct {
	LookaheadDays int
	SafetyMargin  float64
	DefaultHour   int
}

// DefaultSettings is a 14 day window, 10% margin and 09:00 retries.
func DefaultSettings() Settings {
	return Settings{
		LookaheadDays: 14,
		SafetyMargin:  0.10,
		DefaultHour:   9,
	}
}

type Request struct {
	Mandate  domain.Mandate
	Failed   domain.CollectionEvent
	Forecast *domain.PayerForecast
	Stats    *Stats
	AsOf     time.Time
}

type Optimizer struct {
	settings Settings
}

func New(settings Settings) *Optimizer {
	if settings.LookaheadDays <= 0 {
		settings.LookaheadDays = DefaultSettings().LookaheadDays
	}
	if settings.DefaultHour < 0 || settings.DefaultHour > 23 {
		settings.DefaultHour = DefaultSettings().DefaultHour
	}
	return &Optimizer{settings: settings}
}

// Recommend chooses among forecast dates with a non-negative balance inside the
// look-ahead window. The earliest date covering amount plus margin wins;
// otherwise the best-funded date is returned with a scaled-down probability.
// ok is false when no date in the window has a non-negative balance.
func (o *Optimizer) Recommend(req Request) (plan domain.RetryPlan, ok bool) {
	if req.Forecast == nil {
		return plan, false
	}

	anchor := utils.DayStart(req.Failed.AttemptedAt)
	if asOf := utils.DayStart(req.AsOf); asOf.After(anchor) {
		anchor = asOf
	}
	windowEnd := anchor.AddDate(0, 0, o.settings.LookaheadDays)
	threshold := req.Mandate.Amount.Mul(utils.DecimalFromFloat(1 + o.settings.SafetyMargin))

	var chosen, best *domain.BalanceSample
	for i := range req.Forecast.Samples {
		s := &req.Forecast.Samples[i]
		if !s.Date.After(anchor) || s.Date.After(windowEnd) || s.ProjectedBalance.IsNegative() {
			continue
		}
		if best == nil || s.ProjectedBalance.GreaterThan(best.ProjectedBalance) {
			best = s
		}
		if chosen == nil && s.ProjectedBalance.GreaterThanOrEqual(threshold) {
			chosen = s
		}
	}
	if best == nil {
		return plan, false
	}

	meets := chosen != nil
	if !meets {
		chosen = best
	}

	hour := o.settings.DefaultHour
	if h, found := req.Stats.BestHour(req.Mandate.PayerID, req.Mandate.Category); found {
		hour = h
	}

	days, known := req.Stats.DaysSinceIncome(req.Mandate.PayerID, chosen.Date)
	probability, evidence := req.Stats.SuccessRate(req.Mandate.Category, BucketFor(days, known))
	if !meets && threshold.IsPositive() {
		coverage, _ := chosen.ProjectedBalance.Div(threshold).Float64()
		probability *= coverage
	}

	d := chosen.Date
	return domain.RetryPlan{
		MandateID:                  req.Mandate.ID,
		FailedAt:                   req.Failed.AttemptedAt,
		RetryAt:                    time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, d.Location()),
		ExpectedSuccessProbability: utils.Clamp01(probability),
		ProjectedBalance:           chosen.ProjectedBalance,
		MeetsSafetyMargin:          meets,
		Evidence:                   evidence,
	}, true
}
