package notifier

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/roamhub-io/roamhub/internal/roamhub/core/bus"
	"github.com/roamhub-io/roamhub/internal/roamhub/core/model"
	"github.com/roamhub-io/roamhub/pkg/log"
	"github.com/roamhub-io/roamhub/pkg/mqtt"
	"github.com/roamhub-io/roamhub/pkg/mqtt/topic"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type publishCapture struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
}

func (c *publishCapture) Start(ctx context.Context) error           { return nil }
func (c *publishCapture) Disconnect(ctx context.Context)            {}
func (c *publishCapture) AwaitConnection(ctx context.Context) error { return nil }
func (c *publishCapture) Subscribe(ctx context.Context, f string, q int, h mqtt.MessageHandler) error {
	return nil
}
func (c *publishCapture) Unsubscribe(ctx context.Context, f string) error { return nil }

func (c *publishCapture) Publish(ctx context.Context, tpc string, qos int, retain bool, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, tpc)
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *publishCapture) last(t *testing.T) (string, Envelope) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.topics) == 0 {
		t.Fatal("nothing published")
	}
	var env Envelope
	if err := json.Unmarshal(c.payloads[len(c.payloads)-1], &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return c.topics[len(c.topics)-1], env
}

func TestPublishDiff(t *testing.T) {
	sink := &publishCapture{}
	n := New(sink, topic.NewTopicBuilder("roaming/v1"), log.NewNopLogger())

	op, _ := model.ParseOperatorID("DE*ABC")
	evse, _ := model.ParseEvseID("DE*ABC*E1")
	d := model.StatusDiff{
		Operator: op,
		At:       t0,
		NewStatus: map[model.EvseID]model.StatusValue{
			evse: {Status: model.StatusAvailable, Timestamp: t0},
		},
	}
	if err := n.PublishDiff(context.Background(), d); err != nil {
		t.Fatal(err)
	}

	tpc, env := sink.last(t)
	if tpc != "roaming/v1/diff/DE*ABC" {
		t.Fatalf("topic = %q", tpc)
	}
	if env.Type != "StatusDiff" || env.EventID == "" || !env.At.Equal(t0) {
		t.Fatalf("envelope = %+v", env)
	}
	var decoded model.StatusDiff
	if err := json.Unmarshal(env.Payload, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Operator != op || len(decoded.NewStatus) != 1 {
		t.Fatalf("payload = %+v", decoded)
	}
}

func TestNotifyStatusChanged(t *testing.T) {
	sink := &publishCapture{}
	n := New(sink, topic.NewTopicBuilder("roaming/v1"), log.NewNopLogger())

	evse, _ := model.ParseEvseID("DE*ABC*E1")
	n.Notify(bus.StatusChanged{
		Evse: evse,
		Old:  model.StatusValue{Status: model.StatusAvailable, Timestamp: t0},
		New:  model.StatusValue{Status: model.StatusCharging, Timestamp: t0.Add(time.Minute)},
		At:   t0.Add(time.Minute),
	})

	tpc, env := sink.last(t)
	if tpc != "roaming/v1/status/DE*ABC/DE*ABC*E1" {
		t.Fatalf("topic = %q", tpc)
	}
	if env.Type != "StatusChanged" {
		t.Fatalf("type = %q", env.Type)
	}
	var ev StatusEvent
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.New.Status != model.StatusCharging {
		t.Fatalf("event = %+v", ev)
	}
}

func TestNotifySessionChanged(t *testing.T) {
	sink := &publishCapture{}
	n := New(sink, topic.NewTopicBuilder("roaming/v1"), log.NewNopLogger())

	evse, _ := model.ParseEvseID("DE*ABC*E1")
	n.Notify(bus.SessionChanged{
		Session: "ses-1",
		Evse:    evse,
		Old:     "Charging",
		New:     "Finishing",
		At:      t0,
	})

	tpc, env := sink.last(t)
	if tpc != "roaming/v1/session/DE*ABC*E1" {
		t.Fatalf("topic = %q", tpc)
	}
	if env.Type != "SessionChanged" {
		t.Fatalf("type = %q", env.Type)
	}
	var ev SessionEvent
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Session != "ses-1" || ev.New != "Finishing" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestEventIDsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		id := newEventID()
		if seen[id] {
			t.Fatalf("duplicate event id %s", id)
		}
		seen[id] = true
	}
}
