package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CollectionOutcome is the settlement result of one collection attempt.
type CollectionOutcome string

const (
	OutcomeSettled  CollectionOutcome = "Settled"
	OutcomeReturned CollectionOutcome = "Returned"
)

// CollectionEvent is one entry of the append-only collection log.
// MandateID is a lookup key, never an object reference.
type CollectionEvent struct {
	ID          int64             `json:"id,omitempty" db:"id"`
	MandateID   string            `json:"mandate_id" db:"mandate_id" validate:"required"`
	AttemptedAt time.Time         `json:"attempted_at" db:"attempted_at" validate:"required"`
	Outcome     CollectionOutcome `json:"outcome" db:"outcome" validate:"required,oneof=Settled Returned"`
	ReturnCode  string            `json:"return_code,omitempty" db:"return_code"`
	Amount      decimal.Decimal   `json:"amount" db:"amount" validate:"decimal_gt0"`
}

// Returned reports whether the attempt came back unpaid.
func (e CollectionEvent) Returned() bool {
	return e.Outcome == OutcomeReturned
}

// FailureCategory is the semantic meaning of a return code.
type FailureCategory string

const (
	FailureInsufficientFunds FailureCategory = "InsufficientFunds"
	FailureNoValidMandate    FailureCategory = "NoValidMandate"
	FailureAccountClosed     FailureCategory = "AccountClosed"
	FailureAmountExceeded    FailureCategory = "AmountExceeded"
	FailureRefusal           FailureCategory = "Refusal"
	FailureGeneric           FailureCategory = "Generic"
)

// Classification is the classifier's view of a single return code.
type Classification struct {
	Code         string          `json:"code"`
	Category     FailureCategory `json:"category"`
	Description  string          `json:"description"`
	BaseSeverity float64         `json:"base_severity"`
	Retryable    bool            `json:"retryable"`
	// Recognized is false when the code fell back to Generic and needs manual review.
	Recognized bool `json:"recognized"`
}

// ClassifiedEvent pairs a returned event with its classification.
type ClassifiedEvent struct {
	Event          CollectionEvent `json:"event"`
	Classification Classification  `json:"classification"`
}
