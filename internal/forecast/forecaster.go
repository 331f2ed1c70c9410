// Package forecast projects a payer's balance forward from scheduled mandate
// debits and expected income.
package forecast

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/segyhp/payment-risk-engine/internal/domain"
	"github.com/segyhp/payment-risk-engine/pkg/utils"
)

const dateKey = "2006-01-02"

type Settings struct {
	HorizonDays int
}

func DefaultSettings() Settings {
	return Settings{HorizonDays: 45}
}

// Request is one payer's forecast input. Mandates must already exclude
// mandates that no longer collect.
type Request struct {
	PayerID        string
	Mandates       []domain.Mandate
	Income         []domain.IncomeEvent
	OpeningBalance decimal.Decimal
	From           time.Time
	HorizonDays    int
}

// Forecaster has no clock and no randomness: the same request always yields
// the same forecast.
type Forecaster struct {
	settings Settings
}

func New(settings Settings) *Forecaster {
	if settings.HorizonDays <= 0 {
		settings.HorizonDays = DefaultSettings().HorizonDays
	}
	return &Forecaster{settings: settings}
}

type bucket struct {
	date     time.Time
	credits  decimal.Decimal
	debits   decimal.Decimal
	mandates []string
}

// Forecast produces one sample per event date plus the horizon end. Income
// lands before debits on the same day.
func (f *Forecaster) Forecast(req Request) domain.PayerForecast {
	horizon := req.HorizonDays
	if horizon <= 0 {
		horizon = f.settings.HorizonDays
	}
	from := utils.DayStart(req.From)
	end := from.AddDate(0, 0, horizon)

	buckets := make(map[string]*bucket)
	at := func(d time.Time) *bucket {
		k := d.Format(dateKey)
		b, ok := buckets[k]
		if !ok {
			b = &bucket{date: d}
			buckets[k] = b
		}
		return b
	}

	incomeSeen := false
	for _, inc := range req.Income {
		if inc.PayerID != req.PayerID {
			continue
		}
		d := utils.DayStart(inc.Date.In(from.Location()))
		if d.Before(from) || d.After(end) {
			continue
		}
		incomeSeen = true
		b := at(d)
		b.credits = b.credits.Add(inc.Amount)
	}

	for _, m := range req.Mandates {
		if m.PayerID != req.PayerID {
			continue
		}
		for _, d := range utils.ScheduledDatesBetween(from, end, m.ScheduledDay) {
			b := at(d)
			b.debits = b.debits.Add(m.Amount)
			b.mandates = append(b.mandates, m.ID)
		}
	}
	at(end)

	ordered := make([]*bucket, 0, len(buckets))
	for _, b := range buckets {
		ordered = append(ordered, b)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].date.Before(ordered[j].date)
	})

	result := domain.PayerForecast{
		PayerID:        req.PayerID,
		From:           from,
		HorizonDays:    horizon,
		OpeningBalance: req.OpeningBalance,
		Samples:        make([]domain.BalanceSample, 0, len(ordered)),
		AtRisk:         make(map[string]time.Time),
		LowConfidence:  !incomeSeen,
	}

	balance := req.OpeningBalance
	for _, b := range ordered {
		sort.Strings(b.mandates)
		balance = balance.Add(b.credits).Sub(b.debits)
		result.Samples = append(result.Samples, domain.BalanceSample{
			PayerID:          req.PayerID,
			Date:             b.date,
			Credits:          b.credits,
			Debits:           b.debits,
			ProjectedBalance: balance,
			DebitedMandates:  b.mandates,
			LowConfidence:    !incomeSeen,
		})

		// A shortfall window opens at the first negative sample and stays open
		// until the balance recovers; every debit inside it is at risk.
		if !balance.IsNegative() {
			continue
		}
		for _, id := range b.mandates {
			if _, flagged := result.AtRisk[id]; !flagged {
				result.AtRisk[id] = b.date
			}
		}
	}
	return result
}
