package model

import "time"

// Status enumerates the operational state of an EVSE as seen by partners.
type Status string

const (
	StatusAvailable    Status = "Available"
	StatusReserved     Status = "Reserved"
	StatusCharging     Status = "Charging"
	StatusOutOfService Status = "OutOfService"
	StatusFaulted      Status = "Faulted"
	StatusUnknown      Status = "Unknown"
)

// AdminStatus is the operator-set administrative state, orthogonal to the
// occupancy state. Setting an EVSE Inoperative force-finishes any active
// session.
type AdminStatus string

const (
	AdminOperative   AdminStatus = "Operative"
	AdminInoperative AdminStatus = "Inoperative"
)

// StatusValue is one observed status with the instant it took effect.
type StatusValue struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// SameStatus reports whether two values carry the same enumerated status,
// ignoring timestamps. This is the equality the diff engine uses: two
// snapshots taken a millisecond apart with the same status are not a change.
func (v StatusValue) SameStatus(o StatusValue) bool {
	return v.Status == o.Status
}

// StatusDiff is the minimal changeset between two full snapshots of one
// operator scope. The three collections are disjoint by construction: an
// EVSE is classified exactly once per computation.
type StatusDiff struct {
	Operator      OperatorID              `json:"operator"`
	At            time.Time               `json:"at"`
	NewStatus     map[EvseID]StatusValue  `json:"newStatus"`
	ChangedStatus map[EvseID]StatusValue  `json:"changedStatus"`
	RemovedIDs    []EvseID                `json:"removedIds"`
}

// Empty reports whether the diff carries no entries at all.
func (d StatusDiff) Empty() bool {
	return len(d.NewStatus) == 0 && len(d.ChangedStatus) == 0 && len(d.RemovedIDs) == 0
}

// Size returns the total number of classified entries.
func (d StatusDiff) Size() int {
	return len(d.NewStatus) + len(d.ChangedStatus) + len(d.RemovedIDs)
}
