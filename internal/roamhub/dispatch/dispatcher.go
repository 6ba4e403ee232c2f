package dispatch

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"k8s.io/utils/clock"

	"github.com/roamhub-io/roamhub/internal/pkg/metrics"
	"github.com/roamhub-io/roamhub/internal/roamhub/core/model"
	"github.com/roamhub-io/roamhub/internal/roamhub/core/session"
	"github.com/roamhub-io/roamhub/pkg/log"
)

const (
	// DefaultTimeout bounds a command when the caller's context carries no
	// deadline of its own.
	DefaultTimeout = 10 * time.Second

	// DefaultReplayRetention is how long completed results are kept for
	// correlation-id replay.
	DefaultReplayRetention = 10 * time.Minute
)

// Dispatcher executes remote commands: it performs the partner round trip,
// applies the committed effect to the session lifecycle, and classifies the
// result. Retries carrying a correlation id of an already-completed command
// replay the original result instead of executing again.
type Dispatcher struct {
	lifecycle *session.Manager
	partner   PartnerClient
	clk       clock.PassiveClock
	log       log.Logger
	replays   *replayCache
	timeout   time.Duration
}

// Option mutates dispatcher construction defaults.
type Option func(*Dispatcher)

// WithTimeout overrides the default per-command deadline.
func WithTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) { dp.timeout = d }
}

// WithReplayRetention overrides how long results are replayable.
func WithReplayRetention(d time.Duration) Option {
	return func(dp *Dispatcher) { dp.replays.retention = d }
}

func New(lifecycle *session.Manager, partner PartnerClient, clk clock.PassiveClock, logger log.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		lifecycle: lifecycle,
		partner:   partner,
		clk:       clk,
		log:       logger.WithName("dispatch"),
		replays:   newReplayCache(clk, DefaultReplayRetention),
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ReserveRequest asks the operator to hold an EVSE for the given tokens.
type ReserveRequest struct {
	Target        model.EvseID
	ReservationID model.ReservationID
	Start         time.Time
	Duration      time.Duration
	Auth          model.AuthSet
	Provider      model.ProviderID
	HasProvider   bool
	CorrelationID string
}

// CancelRequest releases a previously placed reservation.
type CancelRequest struct {
	Target        model.EvseID
	ReservationID model.ReservationID
	CorrelationID string
}

// StartRequest begins a charging session for the presented token.
type StartRequest struct {
	Target        model.EvseID
	Token         string
	CorrelationID string
}

// StopRequest ends the active charging session.
type StopRequest struct {
	Target        model.EvseID
	CorrelationID string
}

func (d *Dispatcher) Reserve(ctx context.Context, req ReserveRequest) model.CommandResult {
	if req.Start.IsZero() {
		req.Start = d.clk.Now()
	}
	params := map[string]string{
		"reservationId": string(req.ReservationID),
		"start":         req.Start.UTC().Format(time.RFC3339),
		"duration":      req.Duration.String(),
		"tokens":        strings.Join(req.Auth.Tokens, ","),
	}
	if req.HasProvider {
		params["provider"] = req.Provider.String()
	}
	return d.execute(ctx, model.CommandReserve, req.CorrelationID, req.Target, params,
		func(ctx context.Context) model.CommandResult {
			res, err := d.lifecycle.Reserve(ctx, req.Target, req.ReservationID, req.Start, req.Duration, req.Auth, req.Provider, req.HasProvider)
			if err != nil {
				return d.failure(model.CommandReserve, req.Target, err)
			}
			return model.CommandResult{
				Kind:        model.CommandReserve,
				Outcome:     model.OutcomeSuccess,
				Target:      req.Target,
				Reservation: &res,
				CompletedAt: d.clk.Now(),
			}
		})
}

func (d *Dispatcher) CancelReservation(ctx context.Context, req CancelRequest) model.CommandResult {
	params := map[string]string{"reservationId": string(req.ReservationID)}
	return d.execute(ctx, model.CommandCancelReservation, req.CorrelationID, req.Target, params,
		func(ctx context.Context) model.CommandResult {
			if err := d.lifecycle.CancelReservation(ctx, req.Target, req.ReservationID); err != nil {
				return d.failure(model.CommandCancelReservation, req.Target, err)
			}
			return model.CommandResult{
				Kind:        model.CommandCancelReservation,
				Outcome:     model.OutcomeSuccess,
				Target:      req.Target,
				CompletedAt: d.clk.Now(),
			}
		})
}

func (d *Dispatcher) RemoteStart(ctx context.Context, req StartRequest) model.CommandResult {
	params := map[string]string{"token": req.Token}
	return d.execute(ctx, model.CommandRemoteStart, req.CorrelationID, req.Target, params,
		func(ctx context.Context) model.CommandResult {
			sid, err := d.lifecycle.RemoteStart(ctx, req.Target, req.Token)
			if err != nil {
				return d.failure(model.CommandRemoteStart, req.Target, err)
			}
			return model.CommandResult{
				Kind:        model.CommandRemoteStart,
				Outcome:     model.OutcomeSuccess,
				Target:      req.Target,
				SessionID:   sid,
				CompletedAt: d.clk.Now(),
			}
		})
}

func (d *Dispatcher) RemoteStop(ctx context.Context, req StopRequest) model.CommandResult {
	return d.execute(ctx, model.CommandRemoteStop, req.CorrelationID, req.Target, nil,
		func(ctx context.Context) model.CommandResult {
			cdr, err := d.lifecycle.RemoteStop(ctx, req.Target)
			if err != nil {
				return d.failure(model.CommandRemoteStop, req.Target, err)
			}
			return model.CommandResult{
				Kind:        model.CommandRemoteStop,
				Outcome:     model.OutcomeSuccess,
				Target:      req.Target,
				Record:      &cdr,
				CompletedAt: d.clk.Now(),
			}
		})
}

// GetChargeDetailRecords is a local query over settled records; it involves
// no partner round trip. The range is half-open on the session end time.
func (d *Dispatcher) GetChargeDetailRecords(ctx context.Context, from, to time.Time) model.CommandResult {
	if err := ctx.Err(); err != nil {
		return model.CommandResult{
			Kind:    model.CommandGetRecords,
			Outcome: model.OutcomeTimeout,
			Detail:  err.Error(),
		}
	}
	records := d.lifecycle.Records(from, to)
	metrics.CommandsTotal.WithLabelValues(string(model.CommandGetRecords), string(model.OutcomeSuccess)).Inc()
	return model.CommandResult{
		Kind:        model.CommandGetRecords,
		Outcome:     model.OutcomeSuccess,
		Records:     records,
		CompletedAt: d.clk.Now(),
	}
}

// execute runs the shared command pipeline: replay check, partner round
// trip, then the lifecycle effect. The round trip and the effect run in
// their own goroutine so that a caller cancelling after the partner has
// acknowledged does not retract a committed transition; the caller gets
// Timeout ("outcome unknown") while the commit completes and the result
// lands in the replay cache.
func (d *Dispatcher) execute(ctx context.Context, kind model.CommandKind, correlation string, target model.EvseID, params map[string]string, apply func(context.Context) model.CommandResult) model.CommandResult {
	started := d.clk.Now()

	if correlation != "" {
		if e, ok := d.replays.lookup(correlation); ok {
			if e.target != target {
				return d.record(started, model.CommandResult{
					Kind:    kind,
					Outcome: model.OutcomeRejected,
					Target:  target,
					Detail:  fmt.Sprintf("correlation id %q already used for target %s", correlation, e.target),
				})
			}
			d.log.Debug("replaying completed command", "correlationId", correlation, "kind", kind, "target", target)
			return e.result
		}
	}

	prior, err := d.lifecycle.State(target)
	if err != nil {
		return d.record(started, d.failure(kind, target, err))
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	traceID := correlation
	if traceID == "" {
		traceID = newTraceID()
	}
	cmd := Command{
		ID:       traceID,
		Kind:     kind,
		Evse:     target,
		Params:   params,
		IssuedAt: d.clk.Now(),
	}

	resCh := make(chan model.CommandResult, 1)
	go func() {
		var result model.CommandResult
		ack, err := d.partner.Send(ctx, cmd)
		switch {
		case err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)):
			result = model.CommandResult{
				Kind:       kind,
				Outcome:    model.OutcomeTimeout,
				Target:     target,
				PriorState: prior,
				Detail:     "partner acknowledgment not received: " + err.Error(),
			}
		case err != nil:
			result = model.CommandResult{
				Kind:       kind,
				Outcome:    model.OutcomeError,
				Target:     target,
				PriorState: prior,
				Detail:     err.Error(),
			}
		case !ack.Accepted:
			result = model.CommandResult{
				Kind:        kind,
				Outcome:     model.OutcomeRejected,
				Target:      target,
				PriorState:  prior,
				Detail:      ack.Reason,
				CompletedAt: d.clk.Now(),
			}
		default:
			// The partner committed; the local effect must complete
			// even if the caller has gone away.
			result = apply(context.WithoutCancel(ctx))
			result.PriorState = prior
		}
		if correlation != "" && result.Outcome != model.OutcomeTimeout && result.Outcome != model.OutcomeError {
			d.replays.store(correlation, target, result)
		}
		resCh <- result
	}()

	select {
	case result := <-resCh:
		return d.record(started, result)
	case <-ctx.Done():
		return d.record(started, model.CommandResult{
			Kind:       kind,
			Outcome:    model.OutcomeTimeout,
			Target:     target,
			PriorState: prior,
			Detail:     "outcome unknown, reconcile via status events: " + ctx.Err().Error(),
		})
	}
}

// failure maps a lifecycle error onto the result taxonomy.
func (d *Dispatcher) failure(kind model.CommandKind, target model.EvseID, err error) model.CommandResult {
	result := model.CommandResult{
		Kind:        kind,
		Outcome:     model.OutcomeError,
		Target:      target,
		Detail:      err.Error(),
		CompletedAt: d.clk.Now(),
	}
	switch {
	case errors.Is(err, model.ErrUnknownTarget):
		result.Outcome = model.OutcomeUnknownTarget
	case errors.Is(err, model.ErrConflict):
		result.Outcome = model.OutcomeConflict
	case errors.Is(err, model.ErrRejected):
		result.Outcome = model.OutcomeRejected
	case errors.Is(err, model.ErrInvalidTransition):
		result.Outcome = model.OutcomeRejected
	}
	if state, serr := d.lifecycle.State(target); serr == nil {
		result.PriorState = state
	}
	return result
}

func (d *Dispatcher) record(started time.Time, result model.CommandResult) model.CommandResult {
	metrics.CommandsTotal.WithLabelValues(string(result.Kind), string(result.Outcome)).Inc()
	metrics.CommandLatency.WithLabelValues(string(result.Kind)).Observe(d.clk.Since(started).Seconds())
	if !result.OK() {
		d.log.Info("command did not succeed",
			"kind", result.Kind, "outcome", result.Outcome, "target", result.Target, "detail", result.Detail)
	}
	return result
}

func newTraceID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "cmd-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return "cmd-" + fmt.Sprintf("%x", b)
}
