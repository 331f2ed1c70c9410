package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/segyhp/payment-risk-engine/internal/domain"
)

type recommendationRow struct {
	ID             string           `db:"id"`
	PayerID        string           `db:"payer_id"`
	Scope          string           `db:"scope"`
	Kind           string           `db:"kind"`
	TargetID       string           `db:"target_id"`
	MandateID      string           `db:"mandate_id"`
	ExpectedImpact decimal.Decimal  `db:"expected_impact"`
	Confidence     float64          `db:"confidence"`
	Rationale      string           `db:"rationale"`
	Priority       int              `db:"priority"`
	RetryAt        *time.Time       `db:"retry_at"`
	ProposedDay    *int             `db:"proposed_day"`
	ProposedAmount *decimal.Decimal `db:"proposed_amount"`
	Partner        string           `db:"partner"`
}

func toRecommendationRow(payerID string, rec domain.Recommendation) recommendationRow {
	return recommendationRow{
		ID:             rec.ID,
		PayerID:        payerID,
		Scope:          string(rec.Scope),
		Kind:           string(rec.Kind),
		TargetID:       rec.TargetID,
		MandateID:      rec.MandateID,
		ExpectedImpact: rec.ExpectedImpact,
		Confidence:     rec.Confidence,
		Rationale:      rec.Rationale,
		Priority:       rec.Priority,
		RetryAt:        rec.RetryAt,
		ProposedDay:    rec.ProposedDay,
		ProposedAmount: rec.ProposedAmount,
		Partner:        rec.Partner,
	}
}

func (row recommendationRow) toDomain() domain.Recommendation {
	return domain.Recommendation{
		ID:             row.ID,
		Scope:          domain.RecommendationScope(row.Scope),
		Kind:           domain.RecommendationKind(row.Kind),
		TargetID:       row.TargetID,
		MandateID:      row.MandateID,
		ExpectedImpact: row.ExpectedImpact,
		Confidence:     row.Confidence,
		Rationale:      row.Rationale,
		Priority:       row.Priority,
		RetryAt:        row.RetryAt,
		ProposedDay:    row.ProposedDay,
		ProposedAmount: row.ProposedAmount,
		Partner:        row.Partner,
	}
}

type recommendationRepository struct {
	db *sqlx.DB
}

func NewRecommendationRepository(db *sqlx.DB) RecommendationRepository {
	return &recommendationRepository{db: db}
}

func (r *recommendationRepository) ListByPayer(ctx context.Context, payerID string) ([]domain.Recommendation, error) {
	query := `
		SELECT id, payer_id, scope, kind, target_id, mandate_id, expected_impact, confidence, rationale,
			priority, retry_at, proposed_day, proposed_amount, partner
		FROM recommendations
		WHERE payer_id = $1
		ORDER BY target_id, priority
	`

	var rows []recommendationRow
	err := r.db.SelectContext(ctx, &rows, query, payerID)
	if err != nil {
		return nil, err
	}

	recs := make([]domain.Recommendation, 0, len(rows))
	for _, row := range rows {
		recs = append(recs, row.toDomain())
	}

	return recs, nil
}

func (r *recommendationRepository) ReplaceForPayer(ctx context.Context, payerID string, recs []domain.Recommendation) error {
	insert := `
		INSERT INTO recommendations (id, payer_id, scope, kind, target_id, mandate_id, expected_impact, confidence,
			rationale, priority, retry_at, proposed_day, proposed_amount, partner)
		VALUES (:id, :payer_id, :scope, :kind, :target_id, :mandate_id, :expected_impact, :confidence,
			:rationale, :priority, :retry_at, :proposed_day, :proposed_amount, :partner)
	`

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, `DELETE FROM recommendations WHERE payer_id = $1`, payerID); err != nil {
		return err
	}

	for _, rec := range recs {
		if _, err = tx.NamedExecContext(ctx, insert, toRecommendationRow(payerID, rec)); err != nil {
			return err
		}
	}

	return tx.Commit()
}
