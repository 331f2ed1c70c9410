package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/segyhp/payment-risk-engine/internal/domain"
)

type MockEvaluationService struct {
	mock.Mock
}

func (m *MockEvaluationService) Evaluate(ctx context.Context, in domain.EvaluationInput) (*domain.EvaluationResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.EvaluationResult), args.Error(1)
}

func (m *MockEvaluationService) EvaluatePortfolio(ctx context.Context, asOf time.Time) (*domain.EvaluationResult, error) {
	args := m.Called(ctx, asOf)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.EvaluationResult), args.Error(1)
}

func (m *MockEvaluationService) EvaluatePayer(ctx context.Context, payerID string, asOf time.Time) (*domain.EvaluationResult, error) {
	args := m.Called(ctx, payerID, asOf)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.EvaluationResult), args.Error(1)
}

func (m *MockEvaluationService) GetMandateEvaluation(ctx context.Context, mandateID string, asOf time.Time) (*domain.MandateEvaluation, error) {
	args := m.Called(ctx, mandateID, asOf)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.MandateEvaluation), args.Error(1)
}

func (m *MockEvaluationService) RegisterMandate(ctx context.Context, mandate *domain.Mandate) error {
	args := m.Called(ctx, mandate)
	return args.Error(0)
}

func (m *MockEvaluationService) RecordCollections(ctx context.Context, req domain.RecordCollectionsRequest) ([]domain.CollectionEvent, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.CollectionEvent), args.Error(1)
}

func (m *MockEvaluationService) RecordIncome(ctx context.Context, income *domain.IncomeEvent) error {
	args := m.Called(ctx, income)
	return args.Error(0)
}

func (m *MockEvaluationService) RecordBalance(ctx context.Context, payerID string, req domain.BalanceRequest) error {
	args := m.Called(ctx, payerID, req)
	return args.Error(0)
}

func (m *MockEvaluationService) ListRecommendations(ctx context.Context, payerID string) ([]domain.Recommendation, error) {
	args := m.Called(ctx, payerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Recommendation), args.Error(1)
}

// NewMockEvaluationService creates a new mock evaluation service instance
func NewMockEvaluationService() *MockEvaluationService {
	return &MockEvaluationService{}
}
