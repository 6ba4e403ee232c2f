package roamhub

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roamhub-io/roamhub/internal/roamhub/core/bus"
	"github.com/roamhub-io/roamhub/internal/roamhub/core/session"
	httpserver "github.com/roamhub-io/roamhub/internal/roamhub/server/http"
	mqttserver "github.com/roamhub-io/roamhub/internal/roamhub/server/mqtt"
	"github.com/roamhub-io/roamhub/internal/roamhub/syncer"
	"github.com/roamhub-io/roamhub/pkg/log"
)

// Server runs the hub's long-lived loops until the context is cancelled.
type Server struct {
	bus       *bus.Bus
	lifecycle *session.Manager
	syncer    *syncer.Syncer
	httpSrv   *httpserver.Server
	mqttSrv   *mqttserver.Server
	sweep     time.Duration
	log       log.Logger
}

// Run starts all sub-servers and blocks until one fails or the context
// ends. Shutdown drains the notification bus before returning.
func (s *Server) Run(ctx context.Context) error {
	defer s.bus.Close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.mqttSrv.Start(ctx)
	})
	g.Go(func() error {
		return s.httpSrv.Start(ctx)
	})
	g.Go(func() error {
		return s.syncer.Run(ctx)
	})
	g.Go(func() error {
		return s.lifecycle.RunExpirySweeper(ctx, s.sweep)
	})

	s.log.Info("All servers starting...")

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		s.log.Info("Hub stopped gracefully")
		return nil
	}
	return err
}
