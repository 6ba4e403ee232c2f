package syncer

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/roamhub-io/roamhub/internal/pkg/metrics"
	"github.com/roamhub-io/roamhub/internal/roamhub/core/diff"
	"github.com/roamhub-io/roamhub/internal/roamhub/core/model"
	"github.com/roamhub-io/roamhub/internal/roamhub/core/session"
	"github.com/roamhub-io/roamhub/pkg/log"
)

// Publisher delivers a non-empty status diff to roaming partners.
type Publisher interface {
	PublishDiff(ctx context.Context, d model.StatusDiff) error
}

// Syncer periodically compares each operator's current fleet snapshot with
// the snapshot it last published and hands the delta to the publisher. An
// operator whose snapshot did not change publishes nothing.
type Syncer struct {
	lifecycle *session.Manager
	pub       Publisher
	clk       clock.PassiveClock
	log       log.Logger
	interval  time.Duration

	mu   sync.Mutex
	last map[model.OperatorID]map[model.EvseID]model.StatusValue

	kick chan struct{}
}

func New(lifecycle *session.Manager, pub Publisher, clk clock.PassiveClock, logger log.Logger, interval time.Duration) *Syncer {
	return &Syncer{
		lifecycle: lifecycle,
		pub:       pub,
		clk:       clk,
		log:       logger.WithName("syncer"),
		interval:  interval,
		last:      make(map[model.OperatorID]map[model.EvseID]model.StatusValue),
		kick:      make(chan struct{}, 1),
	}
}

// Kick requests an out-of-band sync pass. It never blocks; a pass already
// pending absorbs the request.
func (s *Syncer) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// SyncNow runs a single pass over all known operators and returns how many
// diffs were published.
func (s *Syncer) SyncNow(ctx context.Context) (int, error) {
	published := 0
	for _, op := range s.lifecycle.Operators() {
		d, ok, err := s.syncOperator(ctx, op)
		if err != nil {
			return published, err
		}
		if ok {
			published++
			s.log.Debug("published status diff", "operator", op, "entries", d.Size())
		}
	}
	return published, nil
}

func (s *Syncer) syncOperator(ctx context.Context, op model.OperatorID) (model.StatusDiff, bool, error) {
	current := s.lifecycle.Snapshot(op)

	s.mu.Lock()
	previous := s.last[op]
	s.mu.Unlock()

	d := diff.Compute(op, previous, current, s.clk.Now())
	if d.Empty() {
		s.mu.Lock()
		s.last[op] = current
		s.mu.Unlock()
		return d, false, nil
	}

	if err := s.pub.PublishDiff(ctx, d); err != nil {
		// Keep the previous baseline so the delta is retried whole on
		// the next pass.
		return d, false, err
	}

	s.mu.Lock()
	s.last[op] = current
	s.mu.Unlock()

	opLabel := op.String()
	metrics.DiffEntriesTotal.WithLabelValues(opLabel, "new").Add(float64(len(d.NewStatus)))
	metrics.DiffEntriesTotal.WithLabelValues(opLabel, "changed").Add(float64(len(d.ChangedStatus)))
	metrics.DiffEntriesTotal.WithLabelValues(opLabel, "removed").Add(float64(len(d.RemovedIDs)))
	return d, true, nil
}

// Run drives periodic passes until the context ends. Kick requests run
// between ticks.
func (s *Syncer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-s.kick:
		}
		if _, err := s.SyncNow(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Error(err, "sync pass failed")
		}
	}
}
