// Package bus fans out status and session notifications to subscribers
// without ever blocking the producing transition.
package bus

import (
	"sync"
	"time"

	"github.com/roamhub-io/roamhub/internal/pkg/metrics"
	"github.com/roamhub-io/roamhub/internal/roamhub/core/model"
	"github.com/roamhub-io/roamhub/pkg/log"
)

// Notification is one committed change. Implementations are the two
// concrete event types below; EntityKey identifies the ordering domain.
type Notification interface {
	EntityKey() string
}

// StatusChanged reports an EVSE status transition.
type StatusChanged struct {
	Evse model.EvseID
	Old  model.StatusValue
	New  model.StatusValue
	At   time.Time
}

func (n StatusChanged) EntityKey() string { return n.Evse.String() }

// SessionChanged reports an occupancy state transition for one session.
type SessionChanged struct {
	Session model.SessionID
	Evse    model.EvseID
	Old     string
	New     string
	At      time.Time
}

func (n SessionChanged) EntityKey() string { return n.Evse.String() }

// Subscriber receives notifications. Notify may be slow; the bus decouples
// it from producers with a bounded per-subscriber queue.
type Subscriber interface {
	Notify(n Notification)
}

// Bus delivers every published notification to every subscriber,
// at-least-once, preserving publish order per subscriber (and therefore per
// entity). When a subscriber's queue is full the oldest queued notification
// is dropped and counted; Publish never blocks.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]*subscription
	wg   sync.WaitGroup
	log  log.Logger
}

// New creates an empty bus.
func New(logger log.Logger) *Bus {
	return &Bus{
		subs: make(map[string]*subscription),
		log:  logger.WithName("bus"),
	}
}

type subscription struct {
	name     string
	receiver Subscriber

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Notification
	limit   int
	dropped uint64
	closed  bool
}

// Subscribe registers a named subscriber with the given queue capacity.
// A duplicate name replaces the previous registration.
func (b *Bus) Subscribe(name string, capacity int, receiver Subscriber) {
	if capacity <= 0 {
		capacity = 64
	}
	s := &subscription{
		name:     name,
		receiver: receiver,
		limit:    capacity,
	}
	s.cond = sync.NewCond(&s.mu)

	b.mu.Lock()
	if prev, ok := b.subs[name]; ok {
		prev.close()
	}
	b.subs[name] = s
	b.mu.Unlock()

	b.wg.Add(1)
	go b.drain(s)
	b.log.Debug("subscriber registered", "name", name, "capacity", capacity)
}

// Unsubscribe removes a subscriber. Queued notifications are still drained.
func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	s, ok := b.subs[name]
	delete(b.subs, name)
	b.mu.Unlock()
	if ok {
		s.close()
	}
}

// Publish enqueues the notification for every subscriber. It never blocks:
// a full queue drops its oldest entry and increments the drop counter.
func (b *Bus) Publish(n Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subs {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			continue
		}
		if len(s.queue) >= s.limit {
			s.queue = s.queue[1:]
			s.dropped++
			metrics.DroppedNotificationsTotal.WithLabelValues(s.name).Inc()
		}
		s.queue = append(s.queue, n)
		s.cond.Signal()
		s.mu.Unlock()
	}
}

// Dropped returns how many notifications have been dropped for a subscriber.
func (b *Bus) Dropped(name string) uint64 {
	b.mu.RLock()
	s, ok := b.subs[name]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close stops all subscribers after draining their queues.
func (b *Bus) Close() {
	b.mu.Lock()
	for name, s := range b.subs {
		s.close()
		delete(b.subs, name)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Bus) drain(s *subscription) {
	defer b.wg.Done()
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		n := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.receiver.Notify(n)
	}
}

func (s *subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}
