//go:build integration

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/payment-risk-engine/internal/config"
	"github.com/segyhp/payment-risk-engine/internal/domain"
	"github.com/segyhp/payment-risk-engine/internal/repository"
)

const testDBName = "payment_risk_test"

var testDB *sqlx.DB

func TestMain(m *testing.M) {
	if err := setup(); err != nil {
		fmt.Fprintf(os.Stderr, "skipping repository integration tests: %v\n", err)
	}
	code := m.Run()
	teardown()
	os.Exit(code)
}

func setup() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cfg.Database.URL = ""
	cfg.Database.Name = "postgres"
	adminDB, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("connect to postgres database: %w", err)
	}
	defer adminDB.Close()

	adminDB.Exec(fmt.Sprintf("DROP DATABASE IF EXISTS %s", testDBName))
	if _, err = adminDB.Exec(fmt.Sprintf("CREATE DATABASE %s", testDBName)); err != nil {
		return fmt.Errorf("create test database: %w", err)
	}

	cfg.Database.Name = testDBName
	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("connect to test database: %w", err)
	}

	schema, err := os.ReadFile("../../../scripts/init.sql")
	if err != nil {
		return fmt.Errorf("read init.sql: %w", err)
	}
	if _, err = db.Exec(string(schema)); err != nil {
		return fmt.Errorf("execute init.sql: %w", err)
	}

	testDB = db
	return nil
}

func teardown() {
	if testDB == nil {
		return
	}
	testDB.Close()

	cfg, err := config.Load()
	if err != nil {
		return
	}
	cfg.Database.URL = ""
	cfg.Database.Name = "postgres"
	adminDB, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		return
	}
	defer adminDB.Close()

	adminDB.Exec(fmt.Sprintf("DROP DATABASE IF EXISTS %s", testDBName))
}

func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	if testDB == nil {
		t.Skip("postgres is not available")
	}
	testDB.Exec("DELETE FROM recommendations")
	testDB.Exec("DELETE FROM payer_balances")
	testDB.Exec("DELETE FROM income_events")
	testDB.Exec("DELETE FROM collection_events")
	testDB.Exec("DELETE FROM mandates")
	return testDB
}

func date(month time.Month, day int) time.Time {
	return time.Date(2026, month, day, 9, 0, 0, 0, time.UTC)
}

func seedMandate(t *testing.T, repo repository.MandateRepository, id, payerID string) domain.Mandate {
	t.Helper()
	m := domain.Mandate{
		ID:           id,
		PayerID:      payerID,
		Amount:       decimal.NewFromInt(145),
		ScheduledDay: 15,
		Category:     domain.CategoryUtilities,
		Provider:     "Energy Co",
		SignedAt:     date(time.January, 1),
		CreatedAt:    date(time.January, 1),
	}
	require.NoError(t, repo.Upsert(context.Background(), &m))
	return m
}

func TestMandateRepository_UpsertAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewMandateRepository(db)
	ctx := context.Background()

	m := seedMandate(t, repo, "energy", "payer-1")
	m.Amount = decimal.NewFromInt(160)
	require.NoError(t, repo.Upsert(ctx, &m))

	got, err := repo.GetByID(ctx, "energy")
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(160)))
	assert.Nil(t, got.ExpiresAt)

	_, err = repo.GetByID(ctx, "ghost")
	assert.ErrorIs(t, err, sql.ErrNoRows)

	seedMandate(t, repo, "water", "payer-1")
	seedMandate(t, repo, "rent", "payer-2")

	byPayer, err := repo.ListByPayer(ctx, "payer-1")
	require.NoError(t, err)
	require.Len(t, byPayer, 2)
	assert.Equal(t, "energy", byPayer[0].ID)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestCollectionRepository_AppendAndList(t *testing.T) {
	db := setupTestDB(t)
	mandates := repository.NewMandateRepository(db)
	repo := repository.NewCollectionRepository(db)
	ctx := context.Background()

	m := seedMandate(t, mandates, "energy", "payer-1")
	events := []*domain.CollectionEvent{
		{MandateID: m.ID, AttemptedAt: date(time.June, 15), Outcome: domain.OutcomeReturned, ReturnCode: "AM04", Amount: m.Amount},
		{MandateID: m.ID, AttemptedAt: date(time.July, 15), Outcome: domain.OutcomeSettled, Amount: m.Amount},
		{MandateID: m.ID, AttemptedAt: date(time.August, 15), Outcome: domain.OutcomeSettled, Amount: m.Amount},
	}
	require.NoError(t, repo.Append(ctx, events))
	for _, ev := range events {
		assert.NotZero(t, ev.ID)
	}

	got, err := repo.ListByMandates(ctx, []string{m.ID}, date(time.July, 31))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "AM04", got[0].ReturnCode)
	assert.Equal(t, "", got[1].ReturnCode)
}

func TestCollectionRepository_AppendIsAtomic(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewCollectionRepository(db)
	ctx := context.Background()

	m := seedMandate(t, repository.NewMandateRepository(db), "energy", "payer-1")
	events := []*domain.CollectionEvent{
		{MandateID: m.ID, AttemptedAt: date(time.June, 15), Outcome: domain.OutcomeSettled, Amount: m.Amount},
		{MandateID: "ghost", AttemptedAt: date(time.June, 15), Outcome: domain.OutcomeSettled, Amount: m.Amount},
	}
	assert.Error(t, repo.Append(ctx, events))

	got, err := repo.ListByMandates(ctx, []string{m.ID}, date(time.December, 31))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIncomeAndBalanceRepositories(t *testing.T) {
	db := setupTestDB(t)
	income := repository.NewIncomeRepository(db)
	balances := repository.NewBalanceRepository(db)
	ctx := context.Background()

	for month := time.June; month <= time.September; month++ {
		require.NoError(t, income.Create(ctx, &domain.IncomeEvent{
			PayerID: "payer-1", Date: date(month, 1), Amount: decimal.NewFromInt(2500), Source: "salary",
		}))
	}
	got, err := income.ListByPayers(ctx, []string{"payer-1", "payer-2"}, date(time.July, 1), date(time.August, 31))
	require.NoError(t, err)
	assert.Len(t, got, 2)

	require.NoError(t, balances.Upsert(ctx, "payer-1", decimal.NewFromInt(300), date(time.August, 20)))
	// an older observation never overwrites a newer one
	require.NoError(t, balances.Upsert(ctx, "payer-1", decimal.NewFromInt(900), date(time.August, 1)))

	known, err := balances.GetByPayers(ctx, []string{"payer-1", "payer-2"})
	require.NoError(t, err)
	assert.Len(t, known, 1)
	assert.True(t, known["payer-1"].Equal(decimal.NewFromInt(300)))
}

func TestRecommendationRepository_ReplaceForPayer(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewRecommendationRepository(db)
	ctx := context.Background()

	retryAt := date(time.September, 1)
	amount := decimal.NewFromFloat(72.5)
	first := []domain.Recommendation{
		{ID: "r1", Scope: domain.ScopeMandate, Kind: domain.KindSmartRetry, TargetID: "energy", MandateID: "energy",
			ExpectedImpact: decimal.NewFromInt(1566), Confidence: 0.9, Rationale: "retry", Priority: 2, RetryAt: &retryAt},
		{ID: "r2", Scope: domain.ScopeMandate, Kind: domain.KindPaymentSplit, TargetID: "energy", MandateID: "energy",
			ExpectedImpact: decimal.NewFromInt(400), Confidence: 0.5, Rationale: "split", Priority: 8, ProposedAmount: &amount},
	}
	require.NoError(t, repo.ReplaceForPayer(ctx, "payer-1", first))

	got, err := repo.ListByPayer(ctx, "payer-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NotNil(t, got[0].RetryAt)
	assert.True(t, retryAt.Equal(*got[0].RetryAt))
	require.NotNil(t, got[1].ProposedAmount)
	assert.True(t, amount.Equal(*got[1].ProposedAmount))
	assert.Nil(t, got[1].ProposedDay)

	require.NoError(t, repo.ReplaceForPayer(ctx, "payer-1", first[:1]))
	got, err = repo.ListByPayer(ctx, "payer-1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
