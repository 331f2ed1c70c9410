package retry

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/payment-risk-engine/internal/domain"
)

func day(m time.Month, d int) time.Time {
	return time.Date(2026, m, d, 0, 0, 0, 0, time.UTC)
}

func sample(d time.Time, balance int64) domain.BalanceSample {
	return domain.BalanceSample{PayerID: "payer-1", Date: d, ProjectedBalance: decimal.NewFromInt(balance)}
}

func energyMandate() domain.Mandate {
	return domain.Mandate{
		ID:           "energy",
		PayerID:      "payer-1",
		Amount:       decimal.NewFromInt(145),
		ScheduledDay: 15,
		Category:     domain.CategoryUtilities,
	}
}

func failedOn(d time.Time) domain.CollectionEvent {
	return domain.CollectionEvent{
		MandateID:   "energy",
		AttemptedAt: d.Add(6 * time.Hour),
		Outcome:     domain.OutcomeReturned,
		ReturnCode:  "AM04",
		Amount:      decimal.NewFromInt(145),
	}
}

func TestRecommend_EarliestDateCoveringMargin(t *testing.T) {
	forecast := &domain.PayerForecast{
		PayerID: "payer-1",
		Samples: []domain.BalanceSample{
			sample(day(time.August, 15), 20),
			sample(day(time.August, 20), 120),
			sample(day(time.August, 25), 160),
			sample(day(time.August, 28), 900),
		},
	}

	plan, ok := New(DefaultSettings()).Recommend(Request{
		Mandate:  energyMandate(),
		Failed:   failedOn(day(time.August, 15)),
		Forecast: forecast,
		AsOf:     day(time.August, 15),
	})

	require.True(t, ok)
	// 145 * 1.10 = 159.5, first covered on Aug 25
	assert.Equal(t, time.Date(2026, time.August, 25, 9, 0, 0, 0, time.UTC), plan.RetryAt)
	assert.True(t, plan.MeetsSafetyMargin)
	assert.InDelta(t, 0.5, plan.ExpectedSuccessProbability, 1e-9, "no history gives the uninformed rate")
}

func TestRecommend_NeverPicksNegativeBalance(t *testing.T) {
	forecast := &domain.PayerForecast{
		Samples: []domain.BalanceSample{
			sample(day(time.August, 16), -50),
			sample(day(time.August, 18), 60),
			sample(day(time.August, 20), -10),
		},
	}

	plan, ok := New(DefaultSettings()).Recommend(Request{
		Mandate:  energyMandate(),
		Failed:   failedOn(day(time.August, 15)),
		Forecast: forecast,
		AsOf:     day(time.August, 15),
	})

	require.True(t, ok)
	assert.Equal(t, day(time.August, 18), time.Date(plan.RetryAt.Year(), plan.RetryAt.Month(), plan.RetryAt.Day(), 0, 0, 0, 0, time.UTC))
	assert.False(t, plan.MeetsSafetyMargin)
	assert.True(t, plan.ProjectedBalance.Equal(decimal.NewFromInt(60)))
	assert.Less(t, plan.ExpectedSuccessProbability, 0.5, "uncovered date scales probability down")
}

func TestRecommend_NoCandidates(t *testing.T) {
	optimizer := New(DefaultSettings())

	tests := []struct {
		name     string
		forecast *domain.PayerForecast
	}{
		{name: "nil forecast", forecast: nil},
		{name: "all negative", forecast: &domain.PayerForecast{Samples: []domain.BalanceSample{sample(day(time.August, 20), -1)}}},
		{name: "outside window", forecast: &domain.PayerForecast{Samples: []domain.BalanceSample{sample(day(time.September, 20), 5000)}}},
		{name: "same day as failure", forecast: &domain.PayerForecast{Samples: []domain.BalanceSample{sample(day(time.August, 15), 5000)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := optimizer.Recommend(Request{
				Mandate:  energyMandate(),
				Failed:   failedOn(day(time.August, 15)),
				Forecast: tt.forecast,
				AsOf:     day(time.August, 15),
			})
			assert.False(t, ok)
		})
	}
}

func TestRecommend_WindowAnchoredAtEvaluationDay(t *testing.T) {
	forecast := &domain.PayerForecast{
		Samples: []domain.BalanceSample{sample(day(time.September, 1), 2000)},
	}

	plan, ok := New(DefaultSettings()).Recommend(Request{
		Mandate:  energyMandate(),
		Failed:   failedOn(day(time.August, 15)),
		Forecast: forecast,
		AsOf:     day(time.August, 25),
	})

	require.True(t, ok)
	assert.Equal(t, 1, plan.RetryAt.Day())
	assert.Equal(t, time.September, plan.RetryAt.Month())
}

func TestRecommend_UsesHistoricalHourAndBucket(t *testing.T) {
	m := energyMandate()
	water := domain.Mandate{ID: "water", PayerID: "payer-1", Amount: decimal.NewFromInt(30), ScheduledDay: 2, Category: domain.CategoryUtilities}

	var events []domain.CollectionEvent
	var income []domain.IncomeEvent
	for month := time.January; month <= time.August; month++ {
		income = append(income, domain.IncomeEvent{PayerID: "payer-1", Date: day(month, 1), Amount: decimal.NewFromInt(3000)})
		events = append(events, domain.CollectionEvent{
			MandateID:   "water",
			AttemptedAt: day(month, 2).Add(7 * time.Hour),
			Outcome:     domain.OutcomeSettled,
			Amount:      decimal.NewFromInt(30),
		})
	}
	income = append(income, domain.IncomeEvent{PayerID: "payer-1", Date: day(time.September, 1), Amount: decimal.NewFromInt(3000)})
	stats := BuildStats([]domain.Mandate{m, water}, events, income)

	forecast := &domain.PayerForecast{
		Samples: []domain.BalanceSample{sample(day(time.August, 28), 40), sample(day(time.September, 1), 2500)},
	}

	plan, ok := New(DefaultSettings()).Recommend(Request{
		Mandate:  m,
		Failed:   failedOn(day(time.August, 15)),
		Forecast: forecast,
		Stats:    stats,
		AsOf:     day(time.August, 25),
	})

	require.True(t, ok)
	assert.Equal(t, time.Date(2026, time.September, 1, 7, 0, 0, 0, time.UTC), plan.RetryAt)
	assert.InDelta(t, 0.9, plan.ExpectedSuccessProbability, 1e-9) // (8+1)/(8+2)
	assert.Equal(t, 8, plan.Evidence)
}

func TestBucketFor(t *testing.T) {
	assert.Equal(t, BucketUnknown, BucketFor(3, false))
	assert.Equal(t, BucketIncomeDay, BucketFor(0, true))
	assert.Equal(t, BucketIncomeDay, BucketFor(2, true))
	assert.Equal(t, BucketWeekOne, BucketFor(7, true))
	assert.Equal(t, BucketWeekTwo, BucketFor(14, true))
	assert.Equal(t, BucketLate, BucketFor(15, true))
}

func TestStats_FallsBackToCategory(t *testing.T) {
	m := energyMandate()
	events := []domain.CollectionEvent{
		{MandateID: "energy", AttemptedAt: day(time.March, 15), Outcome: domain.OutcomeSettled, Amount: m.Amount},
		{MandateID: "energy", AttemptedAt: day(time.April, 15), Outcome: domain.OutcomeReturned, ReturnCode: "AM04", Amount: m.Amount},
		{MandateID: "unknown", AttemptedAt: day(time.April, 15), Outcome: domain.OutcomeReturned, ReturnCode: "AM04", Amount: m.Amount},
	}
	stats := BuildStats([]domain.Mandate{m}, events, nil)

	rate, evidence := stats.SuccessRate(domain.CategoryUtilities, BucketIncomeDay)
	assert.InDelta(t, 0.5, rate, 1e-9)
	assert.Equal(t, 2, evidence)

	rate, evidence = stats.SuccessRate(domain.CategoryHousing, BucketIncomeDay)
	assert.InDelta(t, 0.5, rate, 1e-9)
	assert.Equal(t, 2, evidence)

	_, found := stats.BestHour("payer-1", domain.CategoryUtilities)
	assert.True(t, found)
	_, found = stats.BestHour("payer-2", domain.CategoryUtilities)
	assert.False(t, found)
}

func TestStats_DominantIncomeDay(t *testing.T) {
	income := []domain.IncomeEvent{
		{PayerID: "payer-1", Date: day(time.June, 28)},
		{PayerID: "payer-1", Date: day(time.July, 1)},
		{PayerID: "payer-1", Date: day(time.August, 1)},
	}
	stats := BuildStats(nil, nil, income)

	d, ok := stats.DominantIncomeDay("payer-1")
	assert.True(t, ok)
	assert.Equal(t, 1, d)

	_, ok = stats.DominantIncomeDay("payer-2")
	assert.False(t, ok)
}
