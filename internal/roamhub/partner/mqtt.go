package partner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/roamhub-io/roamhub/internal/roamhub/dispatch"
	"github.com/roamhub-io/roamhub/pkg/log"
	"github.com/roamhub-io/roamhub/pkg/mqtt"
	"github.com/roamhub-io/roamhub/pkg/mqtt/topic"
)

// AckMessage is the wire form of a command acknowledgment published by an
// operator backend on the command/ack topic.
type AckMessage struct {
	CommandID string `json:"commandId"`
	Accepted  bool   `json:"accepted"`
	Reason    string `json:"reason,omitempty"`
}

// MQTTClient dispatches commands to charge-point operators over MQTT: each
// command is published to {root}/command/{evseID} and the matching
// acknowledgment is awaited on {root}/command/ack/+, correlated by command id.
type MQTTClient struct {
	client mqtt.Client
	topics *topic.TopicBuilder
	log    log.Logger

	mu      sync.Mutex
	pending map[string]chan dispatch.Ack
}

var _ dispatch.PartnerClient = (*MQTTClient)(nil)

func NewMQTTClient(client mqtt.Client, topics *topic.TopicBuilder, logger log.Logger) *MQTTClient {
	return &MQTTClient{
		client:  client,
		topics:  topics,
		log:     logger.WithName("partner"),
		pending: make(map[string]chan dispatch.Ack),
	}
}

// Start subscribes to the acknowledgment topic. It must be called once after
// the MQTT client is connected and before the first Send.
func (c *MQTTClient) Start(ctx context.Context) error {
	return c.client.Subscribe(ctx, c.topics.CommandAckWildcard(), 1, c.onAck)
}

// Send publishes the command and blocks until the operator acknowledges it
// or the context ends.
func (c *MQTTClient) Send(ctx context.Context, cmd dispatch.Command) (dispatch.Ack, error) {
	ch := make(chan dispatch.Ack, 1)

	c.mu.Lock()
	if _, dup := c.pending[cmd.ID]; dup {
		c.mu.Unlock()
		return dispatch.Ack{}, fmt.Errorf("command %s already in flight", cmd.ID)
	}
	c.pending[cmd.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, cmd.ID)
		c.mu.Unlock()
	}()

	payload, err := json.Marshal(cmd)
	if err != nil {
		return dispatch.Ack{}, fmt.Errorf("marshal command: %w", err)
	}
	if err := c.client.Publish(ctx, c.topics.Command(cmd.Evse.String()), 1, false, payload); err != nil {
		return dispatch.Ack{}, fmt.Errorf("publish command: %w", err)
	}

	select {
	case ack := <-ch:
		return ack, nil
	case <-ctx.Done():
		return dispatch.Ack{}, ctx.Err()
	}
}

func (c *MQTTClient) onAck(_ context.Context, tpc string, payload []byte) {
	var msg AckMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.log.Warn("Discarding malformed acknowledgment", "topic", tpc, "error", err.Error())
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[msg.CommandID]
	c.mu.Unlock()
	if !ok {
		// Late or duplicate ack after the waiter gave up.
		c.log.Debug("Acknowledgment without waiter", "commandId", msg.CommandID)
		return
	}

	select {
	case ch <- dispatch.Ack{Accepted: msg.Accepted, Reason: msg.Reason}:
	default:
	}
}
