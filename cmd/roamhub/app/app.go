package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/roamhub-io/roamhub/cmd/roamhub/app/options"
	"github.com/roamhub-io/roamhub/pkg/app"
	"github.com/roamhub-io/roamhub/pkg/log"
)

const (
	commandName = "roamhub"
	commandDesc = `The roaming hub mediates between charge-point operators and e-mobility
providers: it maintains the status history of every EVSE in the fleet,
publishes snapshot diffs to partners, and dispatches remote commands
(reservations, session start/stop, charge detail record queries) to the
operator backends over MQTT.`
)

// NewApp builds the roamhub command line application.
func NewApp() *app.App {
	opts := options.NewServerOptions()
	application := app.NewApp(
		commandName,
		"Launch the EV roaming hub server",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts)),
	)
	application.Command().AddCommand(newStatusCommand())
	return application
}

func run(opts *options.ServerOptions) app.RunFunc {
	return func() error {
		log.Init(opts.Log)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		server, err := cfg.NewServer()
		if err != nil {
			return fmt.Errorf("failed to create hub server: %w", err)
		}

		return server.Run(ctx)
	}
}
