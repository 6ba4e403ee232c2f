// Package notifier bridges committed hub events onto MQTT for roaming
// partners: fleet status diffs per operator, plus individual status and
// session transitions taken from the notification bus.
package notifier

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roamhub-io/roamhub/internal/roamhub/core/bus"
	"github.com/roamhub-io/roamhub/internal/roamhub/core/model"
	"github.com/roamhub-io/roamhub/pkg/log"
	"github.com/roamhub-io/roamhub/pkg/mqtt"
	"github.com/roamhub-io/roamhub/pkg/mqtt/topic"
)

const publishTimeout = 5 * time.Second

// Envelope wraps every partner-facing event with a unique id so consumers
// can deduplicate at-least-once deliveries.
type Envelope struct {
	EventID string          `json:"eventId"`
	Type    string          `json:"type"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

// StatusEvent is the payload for a single EVSE status transition.
type StatusEvent struct {
	Evse model.EvseID      `json:"evse"`
	Old  model.StatusValue `json:"old"`
	New  model.StatusValue `json:"new"`
}

// SessionEvent is the payload for an occupancy state transition.
type SessionEvent struct {
	Session model.SessionID `json:"session"`
	Evse    model.EvseID    `json:"evse"`
	Old     string          `json:"old"`
	New     string          `json:"new"`
}

type Notifier struct {
	client mqtt.Client
	topics *topic.TopicBuilder
	log    log.Logger
}

var _ bus.Subscriber = (*Notifier)(nil)

func New(client mqtt.Client, topics *topic.TopicBuilder, logger log.Logger) *Notifier {
	return &Notifier{
		client: client,
		topics: topics,
		log:    logger.WithName("notifier"),
	}
}

// PublishDiff sends a fleet status diff on the operator's diff topic.
func (n *Notifier) PublishDiff(ctx context.Context, d model.StatusDiff) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal diff: %w", err)
	}
	env, err := json.Marshal(Envelope{
		EventID: newEventID(),
		Type:    "StatusDiff",
		At:      d.At,
		Payload: payload,
	})
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, n.topics.Diff(d.Operator.String()), 1, false, env)
}

// Notify forwards a bus notification to the matching partner topic. It is
// invoked from the bus's per-subscriber drain goroutine, so a slow broker
// delays only this subscriber's queue.
func (n *Notifier) Notify(note bus.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	switch ev := note.(type) {
	case bus.StatusChanged:
		n.publishEnvelope(ctx, n.topics.Status(ev.Evse.Operator().String(), ev.Evse.String()),
			"StatusChanged", ev.At, StatusEvent{Evse: ev.Evse, Old: ev.Old, New: ev.New})
	case bus.SessionChanged:
		n.publishEnvelope(ctx, n.topics.Session(ev.Evse.String()),
			"SessionChanged", ev.At, SessionEvent{Session: ev.Session, Evse: ev.Evse, Old: ev.Old, New: ev.New})
	default:
		n.log.Warn("Unknown notification type", "key", note.EntityKey())
	}
}

func (n *Notifier) publishEnvelope(ctx context.Context, tpc, kind string, at time.Time, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		n.log.Error(err, "Failed to marshal event payload", "type", kind)
		return
	}
	env, err := json.Marshal(Envelope{
		EventID: newEventID(),
		Type:    kind,
		At:      at,
		Payload: raw,
	})
	if err != nil {
		n.log.Error(err, "Failed to marshal envelope", "type", kind)
		return
	}
	if err := n.client.Publish(ctx, tpc, 1, false, env); err != nil {
		n.log.Error(err, "Failed to publish event", "topic", tpc, "type", kind)
	}
}

func newEventID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("evt-%d", time.Now().UnixNano())
	}
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
