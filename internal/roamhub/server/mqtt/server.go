// Package mqtt runs the hub's broker-facing side: it connects the client,
// wires the command acknowledgment subscription and ingests operator status
// reports published on the status topics.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roamhub-io/roamhub/internal/roamhub/core/model"
	"github.com/roamhub-io/roamhub/internal/roamhub/core/session"
	"github.com/roamhub-io/roamhub/internal/roamhub/partner"
	"github.com/roamhub-io/roamhub/pkg/log"
	"github.com/roamhub-io/roamhub/pkg/mqtt"
	"github.com/roamhub-io/roamhub/pkg/mqtt/topic"
)

// StatusReport is the wire form of one status sample published by an
// operator backend on {root}/status/{operatorID}/{evseID}.
type StatusReport struct {
	Evse      string    `json:"evse"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type Server struct {
	client    mqtt.Client
	partner   *partner.MQTTClient
	topics    *topic.TopicBuilder
	lifecycle *session.Manager
	log       log.Logger
}

func NewServer(client mqtt.Client, partnerClient *partner.MQTTClient, topics *topic.TopicBuilder, lifecycle *session.Manager, logger log.Logger) *Server {
	return &Server{
		client:    client,
		partner:   partnerClient,
		topics:    topics,
		lifecycle: lifecycle,
		log:       logger.WithName("mqtt-server"),
	}
}

// Start connects to the broker, subscribes the acknowledgment and status
// topics and then blocks until the context ends.
func (s *Server) Start(ctx context.Context) error {
	if err := s.client.Start(ctx); err != nil {
		return fmt.Errorf("start mqtt client: %w", err)
	}
	if err := s.client.AwaitConnection(ctx); err != nil {
		return fmt.Errorf("await mqtt connection: %w", err)
	}

	if err := s.partner.Start(ctx); err != nil {
		return fmt.Errorf("subscribe command acks: %w", err)
	}
	if err := s.client.Subscribe(ctx, s.topics.StatusWildcard(), 1, s.onStatusReport); err != nil {
		return fmt.Errorf("subscribe status reports: %w", err)
	}

	<-ctx.Done()

	disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.client.Disconnect(disconnectCtx)
	return ctx.Err()
}

// onStatusReport applies one operator-published status sample to the
// lifecycle. Malformed or stale reports are logged and dropped; the broker
// must not redeliver them.
func (s *Server) onStatusReport(ctx context.Context, tpc string, payload []byte) {
	var report StatusReport
	if err := json.Unmarshal(payload, &report); err != nil {
		s.log.Warn("Discarding malformed status report", "topic", tpc, "error", err.Error())
		return
	}

	evse, err := model.ParseEvseID(report.Evse)
	if err != nil {
		s.log.Warn("Discarding status report with bad EVSE id", "topic", tpc, "evse", report.Evse)
		return
	}

	v := model.StatusValue{Status: model.Status(report.Status), Timestamp: report.Timestamp}
	if err := s.lifecycle.ApplyStatus(ctx, evse, v); err != nil {
		s.log.Warn("Rejected status report", "evse", evse, "status", report.Status, "error", err.Error())
	}
}
