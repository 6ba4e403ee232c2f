package model

import "time"

// ReservationID identifies one reservation within the hub.
type ReservationID string

// AuthSet is the allow-list attached to a reservation: RFID tokens,
// e-mobility account ids or PINs. Matching is exact.
type AuthSet struct {
	Tokens []string `json:"tokens,omitempty"`
}

// Allows reports whether the given credential is on the allow-list.
// An empty set allows nothing.
func (a AuthSet) Allows(token string) bool {
	if token == "" {
		return false
	}
	for _, t := range a.Tokens {
		if t == token {
			return true
		}
	}
	return false
}

// Equal reports whether two allow-lists are the same set, order-insensitive.
func (a AuthSet) Equal(b AuthSet) bool {
	if len(a.Tokens) != len(b.Tokens) {
		return false
	}
	for _, t := range a.Tokens {
		if !b.Allows(t) {
			return false
		}
	}
	return true
}

// Reservation holds one EVSE for a time window on behalf of an
// authorization set. A zero Duration means open-ended: the reservation
// never expires on its own and is destroyed only by cancellation or by
// being consumed when a session starts.
type Reservation struct {
	ID       ReservationID `json:"id"`
	Evse     EvseID        `json:"evse"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration,omitempty"`
	Auth     AuthSet       `json:"auth"`

	// Provider is the originating e-mobility provider, when known.
	// Check HasProvider before use.
	Provider    ProviderID `json:"provider,omitzero"`
	HasProvider bool       `json:"hasProvider,omitempty"`
}

// ExpiresAt returns the expiry instant. ok is false for an open-ended
// reservation.
func (r Reservation) ExpiresAt() (time.Time, bool) {
	if r.Duration == 0 {
		return time.Time{}, false
	}
	return r.Start.Add(r.Duration), true
}

// Expired reports whether the window has passed at the given instant.
func (r Reservation) Expired(now time.Time) bool {
	exp, ok := r.ExpiresAt()
	return ok && now.After(exp)
}
