package recommend

import (
	"sort"

	"github.com/segyhp/payment-risk-engine/internal/domain"
)

// Merge folds a regeneration into a previously stored set. Regenerated
// entries replace previous ones with the same key. Previous entries whose
// target was re-evaluated but did not come back are dropped. Targets that
// produced nothing this time must be listed in reevaluated to have their
// stale entries removed.
func Merge(previous, regenerated []domain.Recommendation, reevaluated ...string) []domain.Recommendation {
	targets := make(map[string]bool, len(regenerated)+len(reevaluated))
	for _, id := range reevaluated {
		targets[id] = true
	}
	for _, r := range regenerated {
		targets[r.TargetID] = true
	}

	out := make([]domain.Recommendation, 0, len(previous)+len(regenerated))
	for _, r := range previous {
		if targets[r.TargetID] {
			continue
		}
		out = append(out, r)
	}
	out = append(out, regenerated...)
	out = Dedup(out)

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TargetID != out[j].TargetID {
			return out[i].TargetID < out[j].TargetID
		}
		return out[i].Priority < out[j].Priority
	})
	return out
}
