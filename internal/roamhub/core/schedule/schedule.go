// Package schedule keeps the append-only status history of one EVSE.
package schedule

import (
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/roamhub-io/roamhub/internal/roamhub/core/model"
)

// Schedule is the timestamp-ordered status history of one EVSE. Entries are
// never truncated here; retention is a collaborator's concern.
type Schedule struct {
	mu      sync.Mutex
	evse    model.EvseID
	entries []model.StatusValue
}

// New creates an empty schedule for the given EVSE.
func New(evse model.EvseID) *Schedule {
	return &Schedule{evse: evse}
}

// Evse returns the owning EVSE.
func (s *Schedule) Evse() model.EvseID { return s.evse }

// Append records a new entry. The timestamp must not precede the last
// recorded one; an out-of-order write is rejected with
// ErrOutOfOrderTimestamp and leaves the schedule unchanged. Corrections go
// through Override.
func (s *Schedule) Append(v model.StatusValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.entries); n > 0 && v.Timestamp.Before(s.entries[n-1].Timestamp) {
		return fmt.Errorf("%w: %s precedes last entry %s for %s",
			model.ErrOutOfOrderTimestamp, v.Timestamp.Format(time.RFC3339Nano),
			s.entries[n-1].Timestamp.Format(time.RFC3339Nano), s.evse)
	}
	s.entries = append(s.entries, v)
	return nil
}

// Override inserts a correction at its timestamp-ordered position. Unlike
// Append it accepts entries in the past. The backing array is reallocated
// so in-flight Slice iterations keep observing a consistent history.
func (s *Schedule) Override(v model.StatusValue) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].Timestamp.After(v.Timestamp)
	})
	next := make([]model.StatusValue, 0, len(s.entries)+1)
	next = append(next, s.entries[:i]...)
	next = append(next, v)
	next = append(next, s.entries[i:]...)
	s.entries = next
}

// Latest returns the most recent entry. ok is false for an empty schedule.
func (s *Schedule) Latest() (model.StatusValue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) == 0 {
		return model.StatusValue{}, false
	}
	return s.entries[len(s.entries)-1], true
}

// Len returns the number of recorded entries.
func (s *Schedule) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Slice returns a lazy, restartable sequence of entries with timestamps in
// the half-open range [from, to), ascending. Each range over the sequence
// observes the history as of that moment; entries appended later do not
// appear mid-iteration.
func (s *Schedule) Slice(from, to time.Time) iter.Seq[model.StatusValue] {
	return func(yield func(model.StatusValue) bool) {
		s.mu.Lock()
		snapshot := s.entries
		s.mu.Unlock()

		for _, v := range snapshot {
			if v.Timestamp.Before(from) {
				continue
			}
			if !v.Timestamp.Before(to) {
				return
			}
			if !yield(v) {
				return
			}
		}
	}
}
