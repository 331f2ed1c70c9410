package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/segyhp/payment-risk-engine/internal/domain"
)

// ErrCacheMiss is returned by ResultCache.Get when nothing is stored under the key.
var ErrCacheMiss = errors.New("cache miss")

// MandateRepository defines the interface for mandate data operations
type MandateRepository interface {
	// Upsert creates a mandate or replaces its terms
	Upsert(ctx context.Context, mandate *domain.Mandate) error

	// GetByID retrieves a mandate by its ID
	GetByID(ctx context.Context, id string) (*domain.Mandate, error)

	// ListByPayer retrieves all mandates of a payer ordered by ID
	ListByPayer(ctx context.Context, payerID string) ([]domain.Mandate, error)

	// List retrieves the whole portfolio ordered by ID
	List(ctx context.Context) ([]domain.Mandate, error)
}

// CollectionRepository is the append-only collection log
type CollectionRepository interface {
	// Append inserts events in one transaction and assigns their IDs
	Append(ctx context.Context, events []*domain.CollectionEvent) error

	// ListByMandates retrieves events of the given mandates attempted at or before until
	ListByMandates(ctx context.Context, mandateIDs []string, until time.Time) ([]domain.CollectionEvent, error)
}

// IncomeRepository defines the interface for expected income
type IncomeRepository interface {
	// Create records an income event
	Create(ctx context.Context, income *domain.IncomeEvent) error

	// ListByPayers retrieves income of the given payers dated within [from, to]
	ListByPayers(ctx context.Context, payerIDs []string, from, to time.Time) ([]domain.IncomeEvent, error)
}

// BalanceRepository stores the last known account balance per payer
type BalanceRepository interface {
	// Upsert stores the balance observed at asOf
	Upsert(ctx context.Context, payerID string, balance decimal.Decimal, asOf time.Time) error

	// GetByPayers returns known balances keyed by payer ID
	GetByPayers(ctx context.Context, payerIDs []string) (map[string]decimal.Decimal, error)
}

// RecommendationRepository keeps the current recommendation set per payer
type RecommendationRepository interface {
	// ListByPayer retrieves the stored recommendations of a payer
	ListByPayer(ctx context.Context, payerID string) ([]domain.Recommendation, error)

	// ReplaceForPayer swaps the stored set of a payer in one transaction
	ReplaceForPayer(ctx context.Context, payerID string, recs []domain.Recommendation) error
}

// ResultCache caches evaluation results
type ResultCache interface {
	// Get returns ErrCacheMiss when the key is absent
	Get(ctx context.Context, key string) (*domain.EvaluationResult, error)

	// Set stores a result under key for the configured TTL
	Set(ctx context.Context, key string, result *domain.EvaluationResult) error

	// Invalidate removes every key matching the given glob patterns
	Invalidate(ctx context.Context, patterns ...string) error
}
