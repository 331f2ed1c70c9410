package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/segyhp/payment-risk-engine/internal/domain"
)

type incomeRepository struct {
	db *sqlx.DB
}

func NewIncomeRepository(db *sqlx.DB) IncomeRepository {
	return &incomeRepository{db: db}
}

func (r *incomeRepository) Create(ctx context.Context, income *domain.IncomeEvent) error {
	query := `
		INSERT INTO income_events (payer_id, date, amount, source)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.db.ExecContext(ctx, query,
		income.PayerID,
		income.Date,
		income.Amount,
		income.Source,
	)

	return err
}

func (r *incomeRepository) ListByPayers(ctx context.Context, payerIDs []string, from, to time.Time) ([]domain.IncomeEvent, error) {
	query := `
		SELECT payer_id, date, amount, source
		FROM income_events
		WHERE payer_id = ANY($1) AND date BETWEEN $2 AND $3
		ORDER BY payer_id, date
	`

	var income []domain.IncomeEvent
	err := r.db.SelectContext(ctx, &income, query, pq.Array(payerIDs), from, to)
	if err != nil {
		return nil, err
	}

	return income, nil
}

type balanceRepository struct {
	db *sqlx.DB
}

func NewBalanceRepository(db *sqlx.DB) BalanceRepository {
	return &balanceRepository{db: db}
}

func (r *balanceRepository) Upsert(ctx context.Context, payerID string, balance decimal.Decimal, asOf time.Time) error {
	query := `
		INSERT INTO payer_balances (payer_id, balance, as_of)
		VALUES ($1, $2, $3)
		ON CONFLICT (payer_id) DO UPDATE
		SET balance = EXCLUDED.balance, as_of = EXCLUDED.as_of
		WHERE payer_balances.as_of <= EXCLUDED.as_of
	`

	_, err := r.db.ExecContext(ctx, query, payerID, balance, asOf)
	return err
}

func (r *balanceRepository) GetByPayers(ctx context.Context, payerIDs []string) (map[string]decimal.Decimal, error) {
	query := `
		SELECT payer_id, balance
		FROM payer_balances
		WHERE payer_id = ANY($1)
	`

	var rows []struct {
		PayerID string          `db:"payer_id"`
		Balance decimal.Decimal `db:"balance"`
	}
	err := r.db.SelectContext(ctx, &rows, query, pq.Array(payerIDs))
	if err != nil {
		return nil, err
	}

	balances := make(map[string]decimal.Decimal, len(rows))
	for _, row := range rows {
		balances[row.PayerID] = row.Balance
	}

	return balances, nil
}
