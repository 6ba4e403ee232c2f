package session

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"

	fsmutil "github.com/roamhub-io/roamhub/internal/pkg/util/fsm"
	"github.com/roamhub-io/roamhub/internal/roamhub/core/model"
)

// Occupancy states of one EVSE. Free is initial; Finished is the terminal
// state of a settled session and remains observable until the next command
// begins a new occupancy cycle.
const (
	StateFree      = "Free"
	StateReserved  = "Reserved"
	StateCharging  = "Charging"
	StateFinishing = "Finishing"
	StateFinished  = "Finished"
)

// Occupancy events.
const (
	eventReserve   = "reserve"
	eventCancel    = "cancel"
	eventExpire    = "expire"
	eventStart     = "start"
	eventStop      = "stop"
	eventSettle    = "settle"
	eventForceFree = "force_free"
)

// newOccupancyFSM builds the transition table for one EVSE. Guards that
// need request data (conflict and authorization checks) run in the manager
// under the entity lock before the event fires; the table itself encodes
// which (state, event) pairs exist at all, so everything outside it is
// rejected uniformly.
func newOccupancyFSM() *fsm.FSM {
	return fsm.NewFSM(
		StateFree,
		fsm.Events{
			{Name: eventReserve, Src: []string{StateFree, StateFinished}, Dst: StateReserved},
			{Name: eventCancel, Src: []string{StateReserved}, Dst: StateFree},
			{Name: eventExpire, Src: []string{StateReserved}, Dst: StateFree},
			{Name: eventStart, Src: []string{StateFree, StateReserved, StateFinished}, Dst: StateCharging},
			{Name: eventStop, Src: []string{StateCharging}, Dst: StateFinishing},
			{Name: eventSettle, Src: []string{StateFinishing}, Dst: StateFinished},
			{Name: eventForceFree, Src: []string{StateReserved, StateCharging, StateFinishing, StateFinished}, Dst: StateFree},
		},
		fsm.Callbacks{
			"before_" + eventSettle: fsmutil.WrapEvent(guardSettleHasSession),
		},
	)
}

// guardSettleHasSession requires the session being settled as the first
// event argument; a settlement record must never be minted without one.
func guardSettleHasSession(_ context.Context, e *fsm.Event) error {
	if len(e.Args) == 0 {
		return fmt.Errorf("settle fired without a session")
	}
	if _, ok := e.Args[0].(*model.ChargingSession); !ok {
		return fmt.Errorf("settle fired with %T, want *ChargingSession", e.Args[0])
	}
	return nil
}

// fire drives the entity's machine and maps looplab errors onto the result
// taxonomy. Must be called with the entity lock held.
func (e *entity) fire(ctx context.Context, event string, args ...any) error {
	state := e.machine.Current()
	return translateFSMError(event, state, e.machine.Event(ctx, event, args...))
}

// translateFSMError maps looplab errors onto the result taxonomy. A start
// against an already-charging entity is contention, not protocol misuse.
func translateFSMError(event, state string, err error) error {
	if err == nil {
		return nil
	}
	if fsmutil.IsNoTransition(err) {
		return nil
	}
	if fsmutil.IsInvalidEvent(err) {
		if event == eventStart && state == StateCharging {
			return fmt.Errorf("%w: already charging", model.ErrConflict)
		}
		return fmt.Errorf("%w: event %q in state %q", model.ErrInvalidTransition, event, state)
	}
	return err
}
