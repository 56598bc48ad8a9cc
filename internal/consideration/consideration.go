// Package consideration projects acknowledgement state onto ethical
// considerations. Acknowledgement lives in an external store; this package
// only reads it.
package consideration

import (
	"sort"

	"designgate/internal/domain"
)

// Apply returns copies of items with Acknowledged taken from acked. Items
// absent from acked are unacknowledged regardless of their loaded value.
func Apply(items []domain.EthicalConsideration, acked map[string]bool) []domain.EthicalConsideration {
	out := make([]domain.EthicalConsideration, len(items))
	for i, it := range items {
		it.Acknowledged = acked[it.ID]
		it.ActionableSteps = append([]string(nil), it.ActionableSteps...)
		out[i] = it
	}
	return out
}

// IDs lists the ids of items in order.
func IDs(items []domain.EthicalConsideration) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it.ID != "" {
			out = append(out, it.ID)
		}
	}
	return out
}

// Pending returns the unacknowledged items, high priority first, keeping
// input order within a priority.
func Pending(items []domain.EthicalConsideration) []domain.EthicalConsideration {
	var out []domain.EthicalConsideration
	for _, it := range items {
		if !it.Acknowledged {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority.Rank() < out[j].Priority.Rank()
	})
	return out
}

// CountByPriority tallies items per priority.
func CountByPriority(items []domain.EthicalConsideration) map[domain.Priority]int {
	out := map[domain.Priority]int{}
	for _, it := range items {
		out[it.Priority]++
	}
	return out
}
