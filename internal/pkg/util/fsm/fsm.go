package fsm

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// WrapEvent adapts an error-returning callback to looplab's signature.
// A returned error aborts the transition.
func WrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Cancel(err)
		}
	}
}

// IsInvalidEvent reports whether err rejects the event in the current state.
func IsInvalidEvent(err error) bool {
	var invalid fsm.InvalidEventError
	return errors.As(err, &invalid)
}

// IsNoTransition reports whether err is the benign "already there" case.
func IsNoTransition(err error) bool {
	var none fsm.NoTransitionError
	return errors.As(err, &none)
}
