package classifier

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/payment-risk-engine/internal/domain"
)

func TestClassify(t *testing.T) {
	c := New()

	tests := []struct {
		name       string
		code       string
		category   domain.FailureCategory
		severity   float64
		recognized bool
	}{
		{name: "insufficient funds", code: "AM04", category: domain.FailureInsufficientFunds, severity: 0.55, recognized: true},
		{name: "no valid mandate", code: "MD01", category: domain.FailureNoValidMandate, severity: 0.80, recognized: true},
		{name: "account closed", code: "AC04", category: domain.FailureAccountClosed, severity: 1.0, recognized: true},
		{name: "amount exceeded", code: "SL01", category: domain.FailureAmountExceeded, severity: 0.50, recognized: true},
		{name: "refusal", code: "MS02", category: domain.FailureRefusal, severity: 0.75, recognized: true},
		{name: "alias is case insensitive", code: " Account-Closed ", category: domain.FailureAccountClosed, severity: 1.0, recognized: true},
		{name: "lower case code", code: "am04", category: domain.FailureInsufficientFunds, severity: 0.55, recognized: true},
		{name: "unknown code degrades", code: "ZZ99", category: domain.FailureGeneric, severity: GenericSeverity, recognized: false},
		{name: "empty code degrades", code: "", category: domain.FailureGeneric, severity: GenericSeverity, recognized: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := c.Classify(tt.code)
			assert.Equal(t, tt.category, result.Category)
			assert.InDelta(t, tt.severity, result.BaseSeverity, 1e-9)
			assert.Equal(t, tt.recognized, result.Recognized)
			assert.GreaterOrEqual(t, result.BaseSeverity, 0.0)
			assert.LessOrEqual(t, result.BaseSeverity, 1.0)
		})
	}
}

func TestClassify_AccountClosedIsNotRetryable(t *testing.T) {
	result := New().Classify("account-closed")

	assert.Equal(t, "AC04", result.Code)
	assert.False(t, result.Retryable)
}

func TestClassifyEvents_SkipsSettled(t *testing.T) {
	at := time.Date(2026, time.March, 15, 6, 0, 0, 0, time.UTC)
	events := []domain.CollectionEvent{
		{MandateID: "m1", AttemptedAt: at, Outcome: domain.OutcomeSettled, Amount: decimal.NewFromInt(10)},
		{MandateID: "m1", AttemptedAt: at.AddDate(0, 1, 0), Outcome: domain.OutcomeReturned, ReturnCode: "AM04", Amount: decimal.NewFromInt(10)},
		{MandateID: "m1", AttemptedAt: at.AddDate(0, 2, 0), Outcome: domain.OutcomeReturned, ReturnCode: "XX01", Amount: decimal.NewFromInt(10)},
	}

	classified := New().ClassifyEvents(events)

	require.Len(t, classified, 2)
	assert.Equal(t, domain.FailureInsufficientFunds, classified[0].Classification.Category)
	assert.False(t, classified[1].Classification.Recognized)
	assert.Equal(t, at.AddDate(0, 2, 0), classified[1].Event.AttemptedAt)
}
