package dispatch

import (
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/roamhub-io/roamhub/internal/roamhub/core/model"
)

// replayEntry pins a completed command result to the target it ran against.
type replayEntry struct {
	target model.EvseID
	result model.CommandResult
	at     time.Time
}

// replayCache retains completed command results keyed by correlation id so
// that a retried command returns the original result instead of executing
// twice. Entries expire after the configured retention window.
type replayCache struct {
	mu        sync.Mutex
	clk       clock.PassiveClock
	retention time.Duration
	entries   map[string]replayEntry
}

func newReplayCache(clk clock.PassiveClock, retention time.Duration) *replayCache {
	return &replayCache{
		clk:       clk,
		retention: retention,
		entries:   make(map[string]replayEntry),
	}
}

func (c *replayCache) lookup(id string) (replayEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return replayEntry{}, false
	}
	if c.clk.Now().Sub(e.at) > c.retention {
		delete(c.entries, id)
		return replayEntry{}, false
	}
	return e, true
}

func (c *replayCache) store(id string, target model.EvseID, result model.CommandResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clk.Now()
	for key, e := range c.entries {
		if now.Sub(e.at) > c.retention {
			delete(c.entries, key)
		}
	}
	c.entries[id] = replayEntry{target: target, result: result, at: now}
}
