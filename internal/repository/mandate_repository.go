package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/segyhp/payment-risk-engine/internal/domain"
)

type mandateRepository struct {
	db *sqlx.DB
}

func NewMandateRepository(db *sqlx.DB) MandateRepository {
	return &mandateRepository{db: db}
}

func (r *mandateRepository) Upsert(ctx context.Context, mandate *domain.Mandate) error {
	query := `
		INSERT INTO mandates (id, payer_id, amount, scheduled_day, category, provider, signed_at, expires_at, created_at)
		VALUES (:id, :payer_id, :amount, :scheduled_day, :category, :provider, :signed_at, :expires_at, :created_at)
		ON CONFLICT (id) DO UPDATE
		SET payer_id = EXCLUDED.payer_id, amount = EXCLUDED.amount, scheduled_day = EXCLUDED.scheduled_day,
			category = EXCLUDED.category, provider = EXCLUDED.provider, signed_at = EXCLUDED.signed_at,
			expires_at = EXCLUDED.expires_at
	`

	_, err := r.db.NamedExecContext(ctx, query, mandate)
	return err
}

func (r *mandateRepository) GetByID(ctx context.Context, id string) (*domain.Mandate, error) {
	query := `
		SELECT id, payer_id, amount, scheduled_day, category, provider, signed_at, expires_at, created_at
		FROM mandates
		WHERE id = $1
	`

	var mandate domain.Mandate
	err := r.db.GetContext(ctx, &mandate, query, id)
	if err != nil {
		return nil, err
	}

	return &mandate, nil
}

func (r *mandateRepository) ListByPayer(ctx context.Context, payerID string) ([]domain.Mandate, error) {
	query := `
		SELECT id, payer_id, amount, scheduled_day, category, provider, signed_at, expires_at, created_at
		FROM mandates
		WHERE payer_id = $1
		ORDER BY id
	`

	var mandates []domain.Mandate
	err := r.db.SelectContext(ctx, &mandates, query, payerID)
	if err != nil {
		return nil, err
	}

	return mandates, nil
}

func (r *mandateRepository) List(ctx context.Context) ([]domain.Mandate, error) {
	query := `
		SELECT id, payer_id, amount, scheduled_day, category, provider, signed_at, expires_at, created_at
		FROM mandates
		ORDER BY id
	`

	var mandates []domain.Mandate
	err := r.db.SelectContext(ctx, &mandates, query)
	if err != nil {
		return nil, err
	}

	return mandates, nil
}
