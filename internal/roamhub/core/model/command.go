package model

import "time"

// CommandKind enumerates the remote commands the hub dispatches on behalf
// of roaming partners.
type CommandKind string

const (
	CommandReserve           CommandKind = "Reserve"
	CommandCancelReservation CommandKind = "CancelReservation"
	CommandRemoteStart       CommandKind = "RemoteStart"
	CommandRemoteStop        CommandKind = "RemoteStop"
	CommandGetRecords        CommandKind = "GetChargeDetailRecords"
)

// Outcome classifies how a command ended. Only Success mutated state for
// certain; Timeout means "outcome unknown, reconcile via the event stream".
type Outcome string

const (
	OutcomeSuccess       Outcome = "Success"
	OutcomeTimeout       Outcome = "Timeout"
	OutcomeUnknownTarget Outcome = "UnknownTarget"
	OutcomeConflict      Outcome = "Conflict"
	OutcomeRejected      Outcome = "Rejected"
	OutcomeError         Outcome = "Error"
)

// CommandResult is the tagged result of one dispatched command. Kind and
// Outcome are always set; exactly one of the payload fields is populated on
// Success, matching the kind.
type CommandResult struct {
	Kind    CommandKind `json:"kind"`
	Outcome Outcome     `json:"outcome"`
	Target  EvseID      `json:"target,omitzero"`

	// PriorState is the occupancy state observed before the command was
	// applied, so a rejected caller can decide whether to retry,
	// escalate or reconcile.
	PriorState string `json:"priorState,omitempty"`

	// Detail carries the rejection or transport error description.
	Detail string `json:"detail,omitempty"`

	Reservation *Reservation         `json:"reservation,omitempty"`
	SessionID   SessionID            `json:"sessionId,omitempty"`
	Record      *ChargeDetailRecord  `json:"record,omitempty"`
	Records     []ChargeDetailRecord `json:"records,omitempty"`

	CompletedAt time.Time `json:"completedAt,omitzero"`
}

// OK reports whether the command succeeded.
func (r CommandResult) OK() bool { return r.Outcome == OutcomeSuccess }
