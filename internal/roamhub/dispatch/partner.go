package dispatch

import (
	"context"
	"time"

	"github.com/roamhub-io/roamhub/internal/roamhub/core/model"
)

// Command is the abstract payload handed to the partner integration. The
// wire encoding of any particular roaming protocol is the client's concern.
type Command struct {
	// ID is the trace id, either the caller's correlation id or generated.
	ID       string            `json:"id"`
	Kind     model.CommandKind `json:"kind"`
	Evse     model.EvseID      `json:"evse"`
	Params   map[string]string `json:"params,omitempty"`
	IssuedAt time.Time         `json:"issuedAt"`
}

// Ack is the partner's acknowledgment of a command.
type Ack struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// PartnerClient sends a command to the charge-point operator and waits for
// the acknowledgment, bounded by the context deadline.
type PartnerClient interface {
	Send(ctx context.Context, cmd Command) (Ack, error)
}
