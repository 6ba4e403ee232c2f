// Package diff turns two full status snapshots into the minimal changeset
// sent to roaming partners.
package diff

import (
	"slices"
	"time"

	"github.com/roamhub-io/roamhub/internal/roamhub/core/model"
)

// Compute classifies every EVSE of the current snapshot against the
// previous one: absent before is New, present with a different enumerated
// status is Changed, present before and absent now is Removed. Timestamps
// are ignored for equality so that re-observing the same status never
// produces a spurious change.
//
// Compute is pure: it never mutates its inputs, runs in
// O(|previous| + |current|) with hashed lookups, and identical inputs yield
// identical output, which makes replay and audit of published diffs cheap.
func Compute(operator model.OperatorID, previous, current map[model.EvseID]model.StatusValue, at time.Time) model.StatusDiff {
	d := model.StatusDiff{
		Operator:      operator,
		At:            at,
		NewStatus:     make(map[model.EvseID]model.StatusValue),
		ChangedStatus: make(map[model.EvseID]model.StatusValue),
	}

	for id, cur := range current {
		prev, seen := previous[id]
		switch {
		case !seen:
			d.NewStatus[id] = cur
		case !prev.SameStatus(cur):
			d.ChangedStatus[id] = cur
		}
	}

	for id := range previous {
		if _, still := current[id]; !still {
			d.RemovedIDs = append(d.RemovedIDs, id)
		}
	}

	// Deterministic output regardless of map iteration order.
	slices.SortFunc(d.RemovedIDs, model.Compare)

	return d
}
