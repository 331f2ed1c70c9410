package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RecordCollectionsRequest appends settled or returned attempts to the log.
type RecordCollectionsRequest struct {
	Events []CollectionEvent `json:"events" validate:"required,min=1"`
}

// RecordCollectionsResponse echoes the stored events with their IDs.
type RecordCollectionsResponse struct {
	Events []CollectionEvent `json:"events"`
}

// BalanceRequest reports a payer's observed account balance.
type BalanceRequest struct {
	Balance decimal.Decimal `json:"balance"`
	AsOf    time.Time       `json:"as_of" validate:"required"`
}

// MandateEvaluation is the per-mandate slice of an evaluation.
type MandateEvaluation struct {
	AsOf            time.Time        `json:"as_of"`
	Mandate         Mandate          `json:"mandate"`
	Status          MandateStatus    `json:"status"`
	Assessment      RiskAssessment   `json:"assessment"`
	RetryPlan       *RetryPlan       `json:"retry_plan,omitempty"`
	Recommendations []Recommendation `json:"recommendations"`
}
