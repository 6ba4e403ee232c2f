package roamhub

import (
	"k8s.io/utils/clock"

	"github.com/roamhub-io/roamhub/internal/roamhub/core/bus"
	"github.com/roamhub-io/roamhub/internal/roamhub/core/session"
	"github.com/roamhub-io/roamhub/internal/roamhub/dispatch"
	"github.com/roamhub-io/roamhub/internal/roamhub/notifier"
	"github.com/roamhub-io/roamhub/internal/roamhub/partner"
	httpserver "github.com/roamhub-io/roamhub/internal/roamhub/server/http"
	mqttserver "github.com/roamhub-io/roamhub/internal/roamhub/server/mqtt"
	"github.com/roamhub-io/roamhub/internal/roamhub/syncer"
	"github.com/roamhub-io/roamhub/pkg/log"
	"github.com/roamhub-io/roamhub/pkg/mqtt"
	mqtttopic "github.com/roamhub-io/roamhub/pkg/mqtt/topic"
	"github.com/roamhub-io/roamhub/pkg/options"
)

// Config holds the fully validated option groups the hub runs with.
type Config struct {
	HttpOptions *options.HttpOptions
	MqttOptions *options.MqttOptions
	SyncOptions *options.SyncOptions
}

// NewServer assembles the hub from the configuration: session lifecycle,
// notification bus, MQTT transport, command dispatcher, diff syncer and the
// protocol servers.
func (cfg *Config) NewServer() (*Server, error) {
	logger := log.Std()
	clk := clock.RealClock{}

	eventBus := bus.New(logger)
	lifecycle := session.NewManager(clk, eventBus, logger)

	mqttClient, err := mqtt.NewClient(cfg.MqttOptions.ToClientConfig())
	if err != nil {
		return nil, err
	}
	topics := mqtttopic.NewTopicBuilder(cfg.MqttOptions.TopicRoot)

	partnerClient := partner.NewMQTTClient(mqttClient, topics, logger)
	dispatcher := dispatch.New(lifecycle, partnerClient, clk, logger,
		dispatch.WithTimeout(cfg.SyncOptions.CommandTimeout),
		dispatch.WithReplayRetention(cfg.SyncOptions.ReplayRetention),
	)

	notif := notifier.New(mqttClient, topics, logger)
	eventBus.Subscribe("mqtt-notifier", cfg.SyncOptions.NotifyQueueSize, notif)

	sync := syncer.New(lifecycle, notif, clk, logger, cfg.SyncOptions.DiffInterval)

	handler := httpserver.NewHandler(lifecycle, dispatcher, sync, logger)
	httpSrv := httpserver.NewServer(cfg.HttpOptions, handler)
	mqttSrv := mqttserver.NewServer(mqttClient, partnerClient, topics, lifecycle, logger)

	return &Server{
		bus:       eventBus,
		lifecycle: lifecycle,
		syncer:    sync,
		httpSrv:   httpSrv,
		mqttSrv:   mqttSrv,
		sweep:     cfg.SyncOptions.ExpirySweepInterval,
		log:       logger,
	}, nil
}
