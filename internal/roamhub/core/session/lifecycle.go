// Package session drives the occupancy of every EVSE across
// reservation, charging and settlement, and owns the current-status map
// the diff engine snapshots.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"k8s.io/utils/clock"

	"github.com/roamhub-io/roamhub/internal/pkg/metrics"
	"github.com/roamhub-io/roamhub/internal/roamhub/core/bus"
	"github.com/roamhub-io/roamhub/internal/roamhub/core/model"
	"github.com/roamhub-io/roamhub/internal/roamhub/core/schedule"
	"github.com/roamhub-io/roamhub/pkg/log"
)

// entity is the per-EVSE sequencing domain: all transitions for one EVSE
// run under its mutex, transitions for distinct EVSEs run in parallel.
type entity struct {
	mu sync.Mutex

	id      model.EvseID
	machine *fsm.FSM
	admin   model.AdminStatus

	// freeStatus is what the EVSE reports while unoccupied: Available,
	// Faulted or Unknown, fed by external status sources.
	freeStatus model.Status

	res    model.Reservation
	hasRes bool
	active *model.ChargingSession

	history *schedule.Schedule
	current model.StatusValue
}

// Manager registers EVSEs and applies occupancy transitions. Every
// committed transition is appended to the entity's schedule and fanned out
// on the event bus.
type Manager struct {
	clk clock.PassiveClock
	bus *bus.Bus
	log log.Logger

	mu       sync.RWMutex
	entities map[model.EvseID]*entity

	cdrMu sync.Mutex
	cdrs  []model.ChargeDetailRecord
}

// NewManager creates an empty fleet.
func NewManager(clk clock.PassiveClock, b *bus.Bus, logger log.Logger) *Manager {
	return &Manager{
		clk:      clk,
		bus:      b,
		log:      logger.WithName("lifecycle"),
		entities: make(map[model.EvseID]*entity),
	}
}

// Register adds an EVSE to the fleet with status Available. Registering an
// already-known EVSE is a no-op.
func (m *Manager) Register(id model.EvseID) error {
	if id.IsZero() {
		return fmt.Errorf("%w: zero EVSE id", model.ErrMalformedIdentifier)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entities[id]; ok {
		return nil
	}

	now := m.clk.Now()
	e := &entity{
		id:         id,
		machine:    newOccupancyFSM(),
		admin:      model.AdminOperative,
		freeStatus: model.StatusAvailable,
		history:    schedule.New(id),
		current:    model.StatusValue{Status: model.StatusUnknown, Timestamp: now},
	}
	m.entities[id] = e

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := m.commitStatusLocked(e, now); err != nil {
		return err
	}
	m.log.Info("evse registered", "evse", id)
	return nil
}

func (m *Manager) lookup(id model.EvseID) (*entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownTarget, id)
	}
	return e, nil
}

// Reserve holds the EVSE for the given window. Supplying the id of the
// current reservation extends it; so does presenting the same
// authorization set. A different authorization against a live reservation
// is a conflict.
func (m *Manager) Reserve(ctx context.Context, id model.EvseID, resID model.ReservationID, start time.Time, duration time.Duration, auth model.AuthSet, provider model.ProviderID, hasProvider bool) (model.Reservation, error) {
	e, err := m.lookup(id)
	if err != nil {
		return model.Reservation{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := m.clk.Now()
	if e.admin == model.AdminInoperative {
		return model.Reservation{}, fmt.Errorf("%w: %s is out of service", model.ErrRejected, id)
	}

	if e.hasRes && e.res.Expired(now) {
		if err := m.expireLocked(ctx, e); err != nil {
			return model.Reservation{}, err
		}
	}

	if e.hasRes {
		extend := (resID != "" && resID == e.res.ID) || (resID == "" && auth.Equal(e.res.Auth))
		if !extend {
			return model.Reservation{}, fmt.Errorf("%w: %s is reserved under %s", model.ErrConflict, id, e.res.ID)
		}
		e.res.Start = start
		e.res.Duration = duration
		e.res.Auth = auth
		return e.res, nil
	}

	if err := e.fire(ctx, eventReserve); err != nil {
		return model.Reservation{}, err
	}

	r := model.Reservation{
		ID:          resID,
		Evse:        id,
		Start:       start,
		Duration:    duration,
		Auth:        auth,
		Provider:    provider,
		HasProvider: hasProvider,
	}
	if r.ID == "" {
		r.ID = model.ReservationID(newID("R"))
	}
	e.res = r
	e.hasRes = true

	if err := m.commitStatusLocked(e, now); err != nil {
		return model.Reservation{}, err
	}
	return r, nil
}

// CancelReservation destroys the active reservation. A non-empty resID
// must match the active reservation.
func (m *Manager) CancelReservation(ctx context.Context, id model.EvseID, resID model.ReservationID) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.hasRes && resID != "" && resID != e.res.ID {
		return fmt.Errorf("%w: reservation %s is not active on %s", model.ErrRejected, resID, id)
	}
	if err := e.fire(ctx, eventCancel); err != nil {
		return err
	}
	e.hasRes = false
	e.res = model.Reservation{}
	return m.commitStatusLocked(e, m.clk.Now())
}

// RemoteStart begins a charging session. When a live reservation exists the
// credential must be on its allow-list; the reservation is consumed by the
// session. Without a reservation any credential is accepted.
func (m *Manager) RemoteStart(ctx context.Context, id model.EvseID, token string) (model.SessionID, error) {
	e, err := m.lookup(id)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := m.clk.Now()
	if e.admin == model.AdminInoperative {
		return "", fmt.Errorf("%w: %s is out of service", model.ErrRejected, id)
	}

	if e.hasRes && e.res.Expired(now) {
		if err := m.expireLocked(ctx, e); err != nil {
			return "", err
		}
	}
	if e.hasRes && !e.res.Auth.Allows(token) {
		return "", fmt.Errorf("%w: credential not on reservation %s allow-list", model.ErrRejected, e.res.ID)
	}

	prior := e.machine.Current()
	if err := e.fire(ctx, eventStart); err != nil {
		return "", err
	}

	s := model.NewChargingSession(model.SessionID(newID("S")), id, now, e.res, e.hasRes)
	e.active = s
	e.hasRes = false
	e.res = model.Reservation{}

	if err := m.commitStatusLocked(e, now); err != nil {
		return "", err
	}
	m.publishSession(s.ID, id, prior, StateCharging, now)
	return s.ID, nil
}

// RecordSample appends a meter reading to the active session.
func (m *Manager) RecordSample(id model.EvseID, sample model.EnergySample) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active == nil || e.machine.Current() != StateCharging {
		return fmt.Errorf("%w: no charging session on %s", model.ErrInvalidTransition, id)
	}
	e.active.AddSample(sample)
	return nil
}

// RemoteStop ends the active session, settles it and returns the
// settlement record. The record is created exactly once; it is also
// retained for GetRecords queries.
func (m *Manager) RemoteStop(ctx context.Context, id model.EvseID) (model.ChargeDetailRecord, error) {
	e, err := m.lookup(id)
	if err != nil {
		return model.ChargeDetailRecord{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.fire(ctx, eventStop); err != nil {
		return model.ChargeDetailRecord{}, err
	}

	now := m.clk.Now()
	s := e.active
	m.publishSession(s.ID, id, StateCharging, StateFinishing, now)

	cdr := settle(s, now)
	if err := e.fire(ctx, eventSettle, s); err != nil {
		return model.ChargeDetailRecord{}, err
	}
	s.StoppedAt = now
	e.active = nil
	m.retain(cdr)

	if err := m.commitStatusLocked(e, now); err != nil {
		return model.ChargeDetailRecord{}, err
	}
	m.publishSession(s.ID, id, StateFinishing, StateFinished, now)

	m.log.Info("session settled", "evse", id, "session", s.ID,
		"consumedKWh", cdr.ConsumedEnergyKWh, "meterAnomaly", cdr.MeterAnomaly)
	return cdr, nil
}

// SetAdminStatus switches the administrative state. Going Inoperative
// force-finishes any active session using its last known samples and frees
// the entity; the settlement is retained, never dropped.
func (m *Manager) SetAdminStatus(ctx context.Context, id model.EvseID, admin model.AdminStatus) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.admin == admin {
		return nil
	}
	e.admin = admin

	now := m.clk.Now()
	if admin == model.AdminInoperative {
		prior := e.machine.Current()
		if s := e.active; s != nil {
			cdr := settle(s, now)
			s.StoppedAt = now
			e.active = nil
			m.retain(cdr)
			m.publishSession(s.ID, id, prior, StateFree, now)
			m.log.Warn("session force-finished by admin status", "evse", id, "session", s.ID)
		}
		e.hasRes = false
		e.res = model.Reservation{}
		if prior != StateFree {
			if err := e.fire(ctx, eventForceFree); err != nil {
				return err
			}
		}
	}
	return m.commitStatusLocked(e, now)
}

// ApplyStatus ingests an observed status from an external source. Only the
// unoccupied statuses may be pushed from outside; occupancy-controlled
// statuses (Reserved, Charging) are driven exclusively by commands, and a
// push that contradicts an active occupancy is rejected. OutOfService is
// routed to the administrative path.
func (m *Manager) ApplyStatus(ctx context.Context, id model.EvseID, v model.StatusValue) error {
	if v.Status == model.StatusOutOfService {
		return m.SetAdminStatus(ctx, id, model.AdminInoperative)
	}

	e, err := m.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch v.Status {
	case model.StatusAvailable, model.StatusFaulted, model.StatusUnknown:
	default:
		return fmt.Errorf("%w: status %s is occupancy-controlled", model.ErrInvalidTransition, v.Status)
	}
	if state := e.machine.Current(); state != StateFree && state != StateFinished {
		return fmt.Errorf("%w: source reports %s but %s is %s", model.ErrInvalidTransition, v.Status, id, state)
	}

	prev := e.freeStatus
	e.freeStatus = v.Status
	if e.admin == model.AdminInoperative {
		// Recorded for when the EVSE returns to service.
		return nil
	}
	if err := m.commitStatusLocked(e, v.Timestamp); err != nil {
		e.freeStatus = prev
		return err
	}
	return nil
}

// State returns the occupancy state of one EVSE.
func (m *Manager) State(id model.EvseID) (string, error) {
	e, err := m.lookup(id)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.machine.Current(), nil
}

// Status returns the current published status of one EVSE.
func (m *Manager) Status(id model.EvseID) (model.StatusValue, error) {
	e, err := m.lookup(id)
	if err != nil {
		return model.StatusValue{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current, nil
}

// History returns the status schedule of one EVSE.
func (m *Manager) History(id model.EvseID) (*schedule.Schedule, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.history, nil
}

// Snapshot returns a fresh copy of the current-status map for one operator
// scope. The copy is immutable from the caller's perspective: a diff
// computation over it never blocks concurrent status updates.
func (m *Manager) Snapshot(op model.OperatorID) map[model.EvseID]model.StatusValue {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := make(map[model.EvseID]model.StatusValue)
	for id, e := range m.entities {
		if id.Operator() != op {
			continue
		}
		e.mu.Lock()
		snap[id] = e.current
		e.mu.Unlock()
	}
	return snap
}

// Operators lists every operator scope with at least one registered EVSE.
func (m *Manager) Operators() []model.OperatorID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[model.OperatorID]struct{})
	var ops []model.OperatorID
	for id := range m.entities {
		op := id.Operator()
		if _, ok := seen[op]; !ok {
			seen[op] = struct{}{}
			ops = append(ops, op)
		}
	}
	return ops
}

// Records returns settlement records whose end falls in [from, to).
func (m *Manager) Records(from, to time.Time) []model.ChargeDetailRecord {
	m.cdrMu.Lock()
	defer m.cdrMu.Unlock()

	var out []model.ChargeDetailRecord
	for _, cdr := range m.cdrs {
		if !cdr.End.Before(from) && cdr.End.Before(to) {
			out = append(out, cdr)
		}
	}
	return out
}

// SweepExpired cancels every reservation whose window has passed and
// returns how many were expired.
func (m *Manager) SweepExpired(ctx context.Context) int {
	m.mu.RLock()
	entities := make([]*entity, 0, len(m.entities))
	for _, e := range m.entities {
		entities = append(entities, e)
	}
	m.mu.RUnlock()

	now := m.clk.Now()
	expired := 0
	for _, e := range entities {
		e.mu.Lock()
		if e.hasRes && e.res.Expired(now) {
			if err := m.expireLocked(ctx, e); err != nil {
				m.log.Error(err, "failed to expire reservation", "evse", e.id)
			} else {
				expired++
			}
		}
		e.mu.Unlock()
	}
	return expired
}

// RunExpirySweeper periodically expires stale reservations until the
// context is cancelled.
func (m *Manager) RunExpirySweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := m.SweepExpired(ctx); n > 0 {
				m.log.Info("expired reservations", "count", n)
			}
		}
	}
}

func (m *Manager) expireLocked(ctx context.Context, e *entity) error {
	res := e.res
	if err := e.fire(ctx, eventExpire); err != nil {
		return err
	}
	e.hasRes = false
	e.res = model.Reservation{}
	m.log.Info("reservation expired", "evse", e.id, "reservation", res.ID)
	return m.commitStatusLocked(e, m.clk.Now())
}

// statusForLocked derives the partner-visible status from admin state,
// occupancy and the last unoccupied observation.
func (m *Manager) statusForLocked(e *entity) model.Status {
	if e.admin == model.AdminInoperative {
		return model.StatusOutOfService
	}
	switch e.machine.Current() {
	case StateReserved:
		return model.StatusReserved
	case StateCharging, StateFinishing:
		return model.StatusCharging
	default:
		return e.freeStatus
	}
}

// commitStatusLocked records and publishes the status implied by the
// current occupancy, if it differs from the last published one.
func (m *Manager) commitStatusLocked(e *entity, at time.Time) error {
	next := m.statusForLocked(e)
	if next == e.current.Status {
		return nil
	}

	v := model.StatusValue{Status: next, Timestamp: at}
	if err := e.history.Append(v); err != nil {
		return err
	}
	old := e.current
	e.current = v

	m.bus.Publish(bus.StatusChanged{Evse: e.id, Old: old, New: v, At: at})
	metrics.StatusUpdatesTotal.WithLabelValues(e.id.Operator().String()).Inc()
	return nil
}

func (m *Manager) publishSession(sid model.SessionID, id model.EvseID, from, to string, at time.Time) {
	m.bus.Publish(bus.SessionChanged{Session: sid, Evse: id, Old: from, New: to, At: at})
}

func (m *Manager) retain(cdr model.ChargeDetailRecord) {
	m.cdrMu.Lock()
	m.cdrs = append(m.cdrs, cdr)
	m.cdrMu.Unlock()
}
