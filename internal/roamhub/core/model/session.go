package model

import "time"

// SessionID identifies one charging session within the hub.
type SessionID string

// EnergySample is one absolute meter reading taken during a session.
type EnergySample struct {
	At      time.Time `json:"at"`
	MeterWh int64     `json:"meterWh"`
}

// ChargingSession is the occupancy of one EVSE between remote start and
// settlement. While a session is active the EVSE status is Charging; the
// lifecycle enforces this, callers cannot violate it directly.
type ChargingSession struct {
	ID        SessionID `json:"id"`
	Evse      EvseID    `json:"evse"`
	StartedAt time.Time `json:"startedAt"`

	// StoppedAt is set once the session left Charging. Check ok via IsZero.
	StoppedAt time.Time `json:"stoppedAt,omitzero"`

	Samples []EnergySample `json:"samples,omitempty"`

	reservation    Reservation
	hasReservation bool
}

// NewChargingSession starts a session record. The consumed reservation, if
// any, travels with the session for settlement attribution.
func NewChargingSession(id SessionID, evse EvseID, startedAt time.Time, res Reservation, hasRes bool) *ChargingSession {
	return &ChargingSession{
		ID:             id,
		Evse:           evse,
		StartedAt:      startedAt,
		reservation:    res,
		hasReservation: hasRes,
	}
}

// Reservation returns the consumed reservation, if the session originated
// from one.
func (s *ChargingSession) Reservation() (Reservation, bool) {
	return s.reservation, s.hasReservation
}

// AddSample appends a meter reading.
func (s *ChargingSession) AddSample(sample EnergySample) {
	s.Samples = append(s.Samples, sample)
}

// ChargeDetailRecord is the immutable settlement produced exactly once when
// a session reaches its terminal state.
type ChargeDetailRecord struct {
	SessionID SessionID `json:"sessionId"`
	Evse      EvseID    `json:"evse"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`

	// ConsumedEnergyKWh is the sum of meter deltas. Never negative: a
	// decreasing meter reading contributes zero and flags the record.
	ConsumedEnergyKWh float64 `json:"consumedEnergyKWh"`

	// MeterAnomaly marks a record whose source samples contained a
	// decreasing meter value. The record is still billable but needs
	// operator review.
	MeterAnomaly bool `json:"meterAnomaly,omitempty"`

	Provider    ProviderID `json:"provider,omitzero"`
	HasProvider bool       `json:"hasProvider,omitempty"`
}
