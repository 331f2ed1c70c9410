package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/payment-risk-engine/internal/config"
	"github.com/segyhp/payment-risk-engine/internal/domain"
	"github.com/segyhp/payment-risk-engine/internal/engine"
	"github.com/segyhp/payment-risk-engine/internal/repository"
	customError "github.com/segyhp/payment-risk-engine/pkg/errors"
	"github.com/segyhp/payment-risk-engine/tests/mocks"
)

var asOf = time.Date(2026, time.August, 25, 12, 0, 0, 0, time.UTC)

type fixture struct {
	mandates        *mocks.MockMandateRepository
	collections     *mocks.MockCollectionRepository
	income          *mocks.MockIncomeRepository
	balances        *mocks.MockBalanceRepository
	recommendations *mocks.MockRecommendationRepository
	cache           *mocks.MockResultCache
	service         *EvaluationService
}

func newFixture() *fixture {
	f := &fixture{
		mandates:        &mocks.MockMandateRepository{},
		collections:     &mocks.MockCollectionRepository{},
		income:          &mocks.MockIncomeRepository{},
		balances:        &mocks.MockBalanceRepository{},
		recommendations: &mocks.MockRecommendationRepository{},
		cache:           &mocks.MockResultCache{},
	}
	cfg := &config.Config{Engine: config.EngineConfig{ForecastHorizonDays: 45}}
	f.service = NewEvaluationService(Repositories{
		Mandates:        f.mandates,
		Collections:     f.collections,
		Income:          f.income,
		Balances:        f.balances,
		Recommendations: f.recommendations,
	}, engine.New(engine.DefaultSettings()), cfg,
		WithCache(f.cache),
		WithClock(func() time.Time { return asOf }),
	)
	return f
}

func rentMandate() domain.Mandate {
	return domain.Mandate{
		ID:           "rent",
		PayerID:      "payer-2",
		Amount:       decimal.NewFromInt(1250),
		ScheduledDay: 1,
		Category:     domain.CategoryHousing,
		SignedAt:     time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
}

func rentHistory() []domain.CollectionEvent {
	m := rentMandate()
	events := make([]domain.CollectionEvent, 0, 12)
	for i := range 12 {
		events = append(events, domain.CollectionEvent{
			ID:          int64(i + 1),
			MandateID:   m.ID,
			AttemptedAt: time.Date(2025, time.September, 1, 8, 0, 0, 0, time.UTC).AddDate(0, i, 0),
			Outcome:     domain.OutcomeSettled,
			Amount:      m.Amount,
		})
	}
	return events
}

// expectHistory wires the store reads of one evaluation of payer-2.
func (f *fixture) expectHistory() {
	f.mandates.On("ListByPayer", mock.Anything, "payer-2").Return([]domain.Mandate{rentMandate()}, nil)
	f.collections.On("ListByMandates", mock.Anything, []string{"rent"}, asOf).Return(rentHistory(), nil)
	f.income.On("ListByPayers", mock.Anything, []string{"payer-2"}, mock.Anything, mock.Anything).Return([]domain.IncomeEvent{}, nil)
	f.balances.On("GetByPayers", mock.Anything, []string{"payer-2"}).
		Return(map[string]decimal.Decimal{"payer-2": decimal.NewFromInt(5000)}, nil)
}

func hasKind(recs []domain.Recommendation, target string, kind domain.RecommendationKind) bool {
	for _, r := range recs {
		if r.TargetID == target && r.Kind == kind {
			return true
		}
	}
	return false
}

func TestEvaluatePayer_ServesFromCache(t *testing.T) {
	f := newFixture()
	cached := &domain.EvaluationResult{AsOf: asOf}
	f.cache.On("Get", mock.Anything, repository.PayerCacheKey("payer-2", asOf)).Return(cached, nil)

	res, err := f.service.EvaluatePayer(context.Background(), "payer-2", time.Time{})

	require.NoError(t, err)
	assert.Same(t, cached, res)
	f.mandates.AssertNotCalled(t, "ListByPayer", mock.Anything, mock.Anything)
}

func TestEvaluatePayer_EvaluatesMergesAndCaches(t *testing.T) {
	f := newFixture()
	key := repository.PayerCacheKey("payer-2", asOf)
	f.cache.On("Get", mock.Anything, key).Return(nil, repository.ErrCacheMiss)
	f.expectHistory()

	stale := domain.Recommendation{ID: "stale", Scope: domain.ScopeMandate, Kind: domain.KindChurnOutreach, TargetID: "rent", MandateID: "rent"}
	untouched := domain.Recommendation{ID: "kept", Scope: domain.ScopeMandate, Kind: domain.KindMandateRenewal, TargetID: "garage", MandateID: "garage"}
	f.recommendations.On("ListByPayer", mock.Anything, "payer-2").Return([]domain.Recommendation{stale, untouched}, nil)
	f.recommendations.On("ReplaceForPayer", mock.Anything, "payer-2", mock.MatchedBy(func(recs []domain.Recommendation) bool {
		return hasKind(recs, "rent", domain.KindUpsellOrCostOptimization) &&
			!hasKind(recs, "rent", domain.KindChurnOutreach) &&
			hasKind(recs, "garage", domain.KindMandateRenewal)
	})).Return(nil)
	f.cache.On("Set", mock.Anything, key, mock.AnythingOfType("*domain.EvaluationResult")).Return(nil)

	res, err := f.service.EvaluatePayer(context.Background(), "payer-2", time.Time{})

	require.NoError(t, err)
	assert.Equal(t, asOf, res.AsOf)
	assert.True(t, hasKind(res.Recommendations, "rent", domain.KindUpsellOrCostOptimization))
	f.recommendations.AssertExpectations(t)
	f.cache.AssertExpectations(t)
}

func TestEvaluatePayer_CacheFailureStillEvaluates(t *testing.T) {
	f := newFixture()
	f.cache.On("Get", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))
	f.cache.On("Set", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("connection refused"))
	f.expectHistory()
	f.recommendations.On("ListByPayer", mock.Anything, "payer-2").Return([]domain.Recommendation{}, nil)
	f.recommendations.On("ReplaceForPayer", mock.Anything, "payer-2", mock.Anything).Return(nil)

	res, err := f.service.EvaluatePayer(context.Background(), "payer-2", asOf)

	require.NoError(t, err)
	assert.Len(t, res.Assessments, 1)
}

func TestEvaluatePayer_Errors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
		code  string
	}{
		{
			name: "payer without mandates",
			setup: func(f *fixture) {
				f.mandates.On("ListByPayer", mock.Anything, "payer-2").Return([]domain.Mandate{}, nil)
			},
			code: customError.ErrCodePayerNotFound,
		},
		{
			name: "mandate store down",
			setup: func(f *fixture) {
				f.mandates.On("ListByPayer", mock.Anything, "payer-2").Return(nil, errors.New("connection reset"))
			},
			code: customError.ErrCodeDatabaseError,
		},
		{
			name: "collection log down",
			setup: func(f *fixture) {
				f.mandates.On("ListByPayer", mock.Anything, "payer-2").Return([]domain.Mandate{rentMandate()}, nil)
				f.collections.On("ListByMandates", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))
			},
			code: customError.ErrCodeDatabaseError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.cache.On("Get", mock.Anything, mock.Anything).Return(nil, repository.ErrCacheMiss)
			tt.setup(f)

			res, err := f.service.EvaluatePayer(context.Background(), "payer-2", asOf)

			assert.Nil(t, res)
			assert.Equal(t, tt.code, customError.CodeOf(err))
		})
	}
}

func TestGetMandateEvaluation(t *testing.T) {
	f := newFixture()
	rent := rentMandate()
	f.mandates.On("GetByID", mock.Anything, "rent").Return(&rent, nil)
	f.cache.On("Get", mock.Anything, mock.Anything).Return(nil, repository.ErrCacheMiss)
	f.cache.On("Set", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.expectHistory()
	f.recommendations.On("ListByPayer", mock.Anything, "payer-2").Return([]domain.Recommendation{}, nil)
	f.recommendations.On("ReplaceForPayer", mock.Anything, "payer-2", mock.Anything).Return(nil)

	view, err := f.service.GetMandateEvaluation(context.Background(), "rent", asOf)

	require.NoError(t, err)
	assert.Equal(t, domain.MandateStatusActive, view.Status)
	assert.Equal(t, "rent", view.Assessment.MandateID)
	assert.Nil(t, view.RetryPlan)
	assert.True(t, hasKind(view.Recommendations, "rent", domain.KindUpsellOrCostOptimization))
}

func TestGetMandateEvaluation_NotFound(t *testing.T) {
	f := newFixture()
	f.mandates.On("GetByID", mock.Anything, "ghost").Return(nil, sql.ErrNoRows)

	view, err := f.service.GetMandateEvaluation(context.Background(), "ghost", asOf)

	assert.Nil(t, view)
	assert.ErrorIs(t, err, customError.ErrMandateNotFound)
}

func TestRecordCollections(t *testing.T) {
	rent := rentMandate()
	returned := domain.CollectionEvent{
		MandateID:   "rent",
		AttemptedAt: time.Date(2026, time.September, 1, 8, 0, 0, 0, time.UTC),
		Outcome:     domain.OutcomeReturned,
		ReturnCode:  "AM04",
		Amount:      rent.Amount,
	}
	missingCode := returned
	missingCode.ReturnCode = ""
	ghost := returned
	ghost.MandateID = "ghost"

	tests := []struct {
		name    string
		events  []domain.CollectionEvent
		setup   func(f *fixture)
		invalid bool
		wantErr error
	}{
		{
			name:   "appends and invalidates",
			events: []domain.CollectionEvent{returned},
			setup: func(f *fixture) {
				f.mandates.On("GetByID", mock.Anything, "rent").Return(&rent, nil)
				f.collections.On("Append", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
					for i, ev := range args.Get(1).([]*domain.CollectionEvent) {
						ev.ID = int64(100 + i)
					}
				}).Return(nil)
				f.cache.On("Invalidate", mock.Anything,
					[]string{repository.PayerCachePattern("payer-2"), repository.PortfolioCachePattern()}).Return(nil)
			},
		},
		{
			name:    "returned event without code",
			events:  []domain.CollectionEvent{missingCode},
			setup:   func(f *fixture) {},
			invalid: true,
			wantErr: customError.ErrInvalidReturnCode,
		},
		{
			name:   "unknown mandate",
			events: []domain.CollectionEvent{ghost},
			setup: func(f *fixture) {
				f.mandates.On("GetByID", mock.Anything, "ghost").Return(nil, sql.ErrNoRows)
			},
			invalid: true,
			wantErr: customError.ErrUnknownMandate,
		},
		{
			name:    "empty request",
			events:  nil,
			setup:   func(f *fixture) {},
			invalid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.setup(f)

			stored, err := f.service.RecordCollections(context.Background(), domain.RecordCollectionsRequest{Events: tt.events})

			if tt.invalid {
				if tt.wantErr != nil {
					assert.ErrorIs(t, err, tt.wantErr)
				}
				assert.Equal(t, customError.ErrCodeValidation, customError.CodeOf(err))
				f.collections.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
				return
			}
			require.NoError(t, err)
			require.Len(t, stored, 1)
			assert.Equal(t, int64(100), stored[0].ID)
			f.cache.AssertExpectations(t)
		})
	}
}

func TestRegisterMandate_RejectsInvalidTerms(t *testing.T) {
	f := newFixture()
	m := rentMandate()
	m.ScheduledDay = 32

	err := f.service.RegisterMandate(context.Background(), &m)

	assert.True(t, customError.IsValidation(err))
	f.mandates.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestRecordBalance(t *testing.T) {
	f := newFixture()
	req := domain.BalanceRequest{Balance: decimal.NewFromInt(320), AsOf: asOf}
	f.balances.On("Upsert", mock.Anything, "payer-2", req.Balance, asOf).Return(nil)
	f.cache.On("Invalidate", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, f.service.RecordBalance(context.Background(), "payer-2", req))
	f.balances.AssertExpectations(t)
}
