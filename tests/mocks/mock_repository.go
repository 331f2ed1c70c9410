package mocks

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/segyhp/payment-risk-engine/internal/domain"
)

type MockMandateRepository struct {
	mock.Mock
}

func (m *MockMandateRepository) Upsert(ctx context.Context, mandate *domain.Mandate) error {
	args := m.Called(ctx, mandate)
	return args.Error(0)
}

func (m *MockMandateRepository) GetByID(ctx context.Context, id string) (*domain.Mandate, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Mandate), args.Error(1)
}

func (m *MockMandateRepository) ListByPayer(ctx context.Context, payerID string) ([]domain.Mandate, error) {
	args := m.Called(ctx, payerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Mandate), args.Error(1)
}

func (m *MockMandateRepository) List(ctx context.Context) ([]domain.Mandate, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Mandate), args.Error(1)
}

type MockCollectionRepository struct {
	mock.Mock
}

func (m *MockCollectionRepository) Append(ctx context.Context, events []*domain.CollectionEvent) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

func (m *MockCollectionRepository) ListByMandates(ctx context.Context, mandateIDs []string, until time.Time) ([]domain.CollectionEvent, error) {
	args := m.Called(ctx, mandateIDs, until)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.CollectionEvent), args.Error(1)
}

type MockIncomeRepository struct {
	mock.Mock
}

func (m *MockIncomeRepository) Create(ctx context.Context, income *domain.IncomeEvent) error {
	args := m.Called(ctx, income)
	return args.Error(0)
}

func (m *MockIncomeRepository) ListByPayers(ctx context.Context, payerIDs []string, from, to time.Time) ([]domain.IncomeEvent, error) {
	args := m.Called(ctx, payerIDs, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.IncomeEvent), args.Error(1)
}

type MockBalanceRepository struct {
	mock.Mock
}

func (m *MockBalanceRepository) Upsert(ctx context.Context, payerID string, balance decimal.Decimal, asOf time.Time) error {
	args := m.Called(ctx, payerID, balance, asOf)
	return args.Error(0)
}

func (m *MockBalanceRepository) GetByPayers(ctx context.Context, payerIDs []string) (map[string]decimal.Decimal, error) {
	args := m.Called(ctx, payerIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]decimal.Decimal), args.Error(1)
}

type MockRecommendationRepository struct {
	mock.Mock
}

func (m *MockRecommendationRepository) ListByPayer(ctx context.Context, payerID string) ([]domain.Recommendation, error) {
	args := m.Called(ctx, payerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Recommendation), args.Error(1)
}

func (m *MockRecommendationRepository) ReplaceForPayer(ctx context.Context, payerID string, recs []domain.Recommendation) error {
	args := m.Called(ctx, payerID, recs)
	return args.Error(0)
}

type MockResultCache struct {
	mock.Mock
}

func (m *MockResultCache) Get(ctx context.Context, key string) (*domain.EvaluationResult, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.EvaluationResult), args.Error(1)
}

func (m *MockResultCache) Set(ctx context.Context, key string, result *domain.EvaluationResult) error {
	args := m.Called(ctx, key, result)
	return args.Error(0)
}

func (m *MockResultCache) Invalidate(ctx context.Context, patterns ...string) error {
	args := m.Called(ctx, patterns)
	return args.Error(0)
}
