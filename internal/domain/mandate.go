package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MandateCategory groups mandates by what is being collected.
type MandateCategory string

const (
	CategoryHousing      MandateCategory = "Housing"
	CategoryUtilities    MandateCategory = "Utilities"
	CategoryInternet     MandateCategory = "Internet"
	CategoryMobile       MandateCategory = "Mobile"
	CategorySubscription MandateCategory = "Subscription"
	CategoryOther        MandateCategory = "Other"
)

// MandateStatus is derived from the collection history, never set by callers.
type MandateStatus string

const (
	MandateStatusActive    MandateStatus = "Active"
	MandateStatusAtRisk    MandateStatus = "AtRisk"
	MandateStatusFailed    MandateStatus = "Failed"
	MandateStatusExpired   MandateStatus = "Expired"
	MandateStatusCancelled MandateStatus = "Cancelled"
)

// Mandate represents a recurring-collection agreement
type Mandate struct {
	ID           string          `json:"id" db:"id" validate:"required"`
	PayerID      string          `json:"payer_id" db:"payer_id" validate:"required"`
	Amount       decimal.Decimal `json:"amount" db:"amount" validate:"decimal_gt0"`
	ScheduledDay int             `json:"scheduled_day" db:"scheduled_day" validate:"min=1,max=31"`
	Category     MandateCategory `json:"category" db:"category" validate:"required,oneof=Housing Utilities Internet Mobile Subscription Other"`
	Provider     string          `json:"provider,omitempty" db:"provider"`
	SignedAt     time.Time       `json:"signed_at" db:"signed_at"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Collectable reports whether a mandate in the given status still produces debits.
func (s MandateStatus) Collectable() bool {
	return s != MandateStatusExpired && s != MandateStatusCancelled
}

// IncomeEvent is an expected credit to a payer's account.
type IncomeEvent struct {
	PayerID string          `json:"payer_id" db:"payer_id" validate:"required"`
	Date    time.Time       `json:"date" db:"date" validate:"required"`
	Amount  decimal.Decimal `json:"amount" db:"amount" validate:"decimal_gt0"`
	Source  string          `json:"source,omitempty" db:"source"`
}
