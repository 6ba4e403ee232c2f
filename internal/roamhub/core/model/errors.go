package model

import "errors"

// Sentinel errors for the expected business conditions of the core.
// Callers are expected to classify them with errors.Is; none of them is
// fatal for the process.
var (
	// ErrMalformedIdentifier is returned when an identifier cannot be
	// parsed. It is a construction-time failure and never recoverable:
	// reject at the boundary, do not fall back to a zero identifier.
	ErrMalformedIdentifier = errors.New("malformed identifier")

	// ErrOutOfOrderTimestamp is returned by a status schedule when an
	// appended entry precedes the last recorded one. The write is
	// rejected; corrections go through the explicit override path.
	ErrOutOfOrderTimestamp = errors.New("out-of-order timestamp")

	// ErrInvalidTransition is returned for any (state, event) pair
	// outside the occupancy transition table. State is left untouched.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrConflict signals legitimate contention: another reservation or
	// session already holds the target. Safe to retry after reconciliation.
	ErrConflict = errors.New("conflict")

	// ErrUnknownTarget signals that the EVSE is not registered.
	ErrUnknownTarget = errors.New("unknown target")

	// ErrRejected signals that authorization did not match the active
	// reservation's allow-list, or the partner refused the command.
	ErrRejected = errors.New("rejected")
)
