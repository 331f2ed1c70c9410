package engine

import (
	"time"

	"github.com/segyhp/payment-risk-engine/internal/domain"
)

// failedStreak is the number of trailing returns after which a mandate is Failed.
const failedStreak = 3

// DeriveStatus computes a mandate's status from its ordered history and the
// classification of its returned events. A forecast shortfall can still move
// an Active mandate to AtRisk afterwards.
func DeriveStatus(m domain.Mandate, events []domain.CollectionEvent, returns []domain.ClassifiedEvent, asOf time.Time) domain.MandateStatus {
	if m.ExpiresAt != nil && !m.ExpiresAt.After(asOf) {
		return domain.MandateStatusExpired
	}

	trailing := 0
	for i := len(events) - 1; i >= 0 && events[i].Returned(); i-- {
		trailing++
	}
	if trailing == 0 || len(returns) < trailing {
		return domain.MandateStatusActive
	}

	last := returns[len(returns)-1].Classification.Category
	if trailing >= 2 && last == domain.FailureRefusal &&
		returns[len(returns)-2].Classification.Category == domain.FailureRefusal {
		return domain.MandateStatusCancelled
	}
	if last == domain.FailureAccountClosed || trailing >= failedStreak {
		return domain.MandateStatusFailed
	}
	return domain.MandateStatusAtRisk
}
