package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/segyhp/payment-risk-engine/internal/domain"
)

type collectionRepository struct {
	db *sqlx.DB
}

func NewCollectionRepository(db *sqlx.DB) CollectionRepository {
	return &collectionRepository{db: db}
}

// Append never updates existing rows; the log only grows.
func (r *collectionRepository) Append(ctx context.Context, events []*domain.CollectionEvent) error {
	query := `
		INSERT INTO collection_events (mandate_id, attempted_at, outcome, return_code, amount)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		RETURNING id
	`

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, event := range events {
		err = tx.QueryRowxContext(ctx, query,
			event.MandateID,
			event.AttemptedAt,
			event.Outcome,
			event.ReturnCode,
			event.Amount,
		).Scan(&event.ID)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *collectionRepository) ListByMandates(ctx context.Context, mandateIDs []string, until time.Time) ([]domain.CollectionEvent, error) {
	query := `
		SELECT id, mandate_id, attempted_at, outcome, COALESCE(return_code, '') AS return_code, amount
		FROM collection_events
		WHERE mandate_id = ANY($1) AND attempted_at <= $2
		ORDER BY mandate_id, attempted_at, id
	`

	var events []domain.CollectionEvent
	err := r.db.SelectContext(ctx, &events, query, pq.Array(mandateIDs), until)
	if err != nil {
		return nil, err
	}

	return events, nil
}
