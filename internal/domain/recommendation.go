package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type RecommendationScope string

const (
	ScopeMandate   RecommendationScope = "Mandate"
	ScopePortfolio RecommendationScope = "Portfolio"
)

type RecommendationKind string

const (
	KindSmartRetry               RecommendationKind = "SmartRetry"
	KindMandateRenewal           RecommendationKind = "MandateRenewal"
	KindPaymentDateShift         RecommendationKind = "PaymentDateShift"
	KindPaymentSplit             RecommendationKind = "PaymentSplit"
	KindProactiveAlert           RecommendationKind = "ProactiveAlert"
	KindUpsellOrCostOptimization RecommendationKind = "UpsellOrCostOptimization"
	KindChurnOutreach            RecommendationKind = "ChurnOutreach"
	KindManualContact            RecommendationKind = "ManualContact"
)

// Recommendation is an actionable suggestion for a mandate or a payer.
type Recommendation struct {
	ID        string              `json:"id"`
	Scope     RecommendationScope `json:"scope"`
	Kind      RecommendationKind  `json:"kind"`
	TargetID  string              `json:"target_id"`
	MandateID string              `json:"mandate_id,omitempty"`
	// ExpectedImpact is signed: positive is revenue or retention gain, negative is cost.
	ExpectedImpact decimal.Decimal `json:"expected_impact"`
	Confidence     float64         `json:"confidence"`
	Rationale      string          `json:"rationale"`
	Priority       int             `json:"priority"`

	RetryAt        *time.Time       `json:"retry_at,omitempty"`
	ProposedDay    *int             `json:"proposed_day,omitempty"`
	ProposedAmount *decimal.Decimal `json:"proposed_amount,omitempty"`
	Partner        string           `json:"partner,omitempty"`
}

// Key identifies a recommendation for deduplication.
func (r Recommendation) Key() string {
	return string(r.Scope) + "|" + r.TargetID + "|" + string(r.Kind)
}
