package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceSample is a point on a payer's projected cash-flow curve.
type BalanceSample struct {
	PayerID          string          `json:"payer_id"`
	Date             time.Time       `json:"date"`
	Credits          decimal.Decimal `json:"credits"`
	Debits           decimal.Decimal `json:"debits"`
	ProjectedBalance decimal.Decimal `json:"projected_balance"`
	DebitedMandates  []string        `json:"debited_mandates,omitempty"`
	LowConfidence    bool            `json:"low_confidence"`
}

// PayerForecast is the forecaster output for one payer.
type PayerForecast struct {
	PayerID        string               `json:"payer_id"`
	From           time.Time            `json:"from"`
	HorizonDays    int                  `json:"horizon_days"`
	OpeningBalance decimal.Decimal      `json:"opening_balance"`
	Samples        []BalanceSample      `json:"samples"`
	AtRisk         map[string]time.Time `json:"at_risk,omitempty"` // mandate id -> first debit date inside a shortfall window
	LowConfidence  bool                 `json:"low_confidence"`
}

// BalanceOn returns the projected balance at the end of the given day.
// Days before the first sample carry the opening balance.
func (f *PayerForecast) BalanceOn(day time.Time) decimal.Decimal {
	balance := f.OpeningBalance
	for _, s := range f.Samples {
		if s.Date.After(day) {
			break
		}
		balance = s.ProjectedBalance
	}
	return balance
}

// MandateAtRisk reports whether the forecast flagged the mandate and on which date.
func (f *PayerForecast) MandateAtRisk(mandateID string) (time.Time, bool) {
	if f == nil {
		return time.Time{}, false
	}
	d, ok := f.AtRisk[mandateID]
	return d, ok
}

// RetryPlan is the optimizer's choice for a failed collection.
type RetryPlan struct {
	MandateID                  string          `json:"mandate_id"`
	FailedAt                   time.Time       `json:"failed_at"`
	RetryAt                    time.Time       `json:"retry_at"`
	ExpectedSuccessProbability float64         `json:"expected_success_probability"`
	ProjectedBalance           decimal.Decimal `json:"projected_balance"`
	// MeetsSafetyMargin is false when no in-window date covered amount plus margin
	// and the best available date was returned instead.
	MeetsSafetyMargin bool `json:"meets_safety_margin"`
	// Evidence is the number of historical attempts behind the probability.
	Evidence int `json:"evidence"`
}
