package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	domrepo "AgroPulse/internal/domain/repository"
	"AgroPulse/internal/handler/api"
	"AgroPulse/internal/middleware"
	"AgroPulse/internal/usecase"
	xhttp "AgroPulse/pkg/http"
	pkgkafka "AgroPulse/pkg/kafka"
	applogger "AgroPulse/pkg/logger"
	"AgroPulse/pkg/scheduler"
)

// Closer releases an infrastructure client on shutdown.
type Closer struct {
	Name  string
	Close func() error
}

// Components are the pieces App starts and stops. Only Engine and Server are
// required; everything else is optional and skipped when nil.
type Components struct {
	Engine       *usecase.Engine
	Server       *xhttp.Server
	Pipeline     *middleware.IngestPipeline
	Archive      domrepo.ObservationArchive
	WarmLoadDays int
	Consumer     *pkgkafka.Consumer
	Handler      pkgkafka.MessageHandler
	Scheduler    *scheduler.Runner
	// RefreshOnStart runs once after warm start, before the API is served.
	RefreshOnStart func(context.Context)
	Hub            *api.AlertHub
	Closers        []Closer
}

// App encapsulates the entire application lifecycle.
type App struct {
	c   Components
	log *applogger.Logger
}

// New creates a new App instance with all dependencies.
func New(c Components, l *applogger.Logger) *App {
	if l == nil {
		l = applogger.NewNop()
	}
	return &App{c: c, log: l.With(applogger.String("component", "app"))}
}

// Run starts every component and blocks until ctx is done or the process is
// interrupted, then shuts down in reverse order.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.c.Archive != nil && a.c.WarmLoadDays > 0 {
		rep, err := a.c.Engine.WarmStart(ctx, a.c.Archive, a.c.WarmLoadDays)
		if err != nil {
			// an empty store still serves ingest; history comes back on the next start
			a.log.Warn("Warm start failed", applogger.Error(err))
		} else {
			a.log.Info("Series store warmed", applogger.Int("observations", rep.Accepted))
		}
	}

	if a.c.Pipeline != nil {
		a.c.Pipeline.Start(ctx)
	}
	if a.c.RefreshOnStart != nil {
		a.c.RefreshOnStart(ctx)
	}
	if a.c.Scheduler != nil {
		a.c.Scheduler.Start()
	}

	if a.c.Consumer != nil && a.c.Handler != nil {
		a.c.Consumer.RegisterHandler(a.c.Handler)
		go func() {
			if err := a.c.Consumer.Start(); err != nil {
				a.log.Error("Kafka consumer error", applogger.Error(err))
			}
		}()
		a.log.Info("Kafka consumer started", applogger.String("topic", a.c.Handler.Topic()))
	}

	if err := a.c.Server.Start(); err != nil {
		a.log.Error("HTTP server start error", applogger.Error(err))
		a.shutdown()
		return err
	}

	<-ctx.Done()
	a.log.Info("Shutdown signal received")
	a.shutdown()
	return nil
}

// shutdown stops intake first, then background work, then closes clients.
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := a.c.Server.Stop(ctx); err != nil {
		a.log.Error("HTTP shutdown error", applogger.Error(err))
	}
	if a.c.Consumer != nil {
		if err := a.c.Consumer.Stop(ctx); err != nil {
			a.log.Warn("Kafka consumer stop error", applogger.Error(err))
		}
	}
	if a.c.Scheduler != nil {
		a.c.Scheduler.Stop()
	}
	if a.c.Pipeline != nil {
		if n := a.c.Pipeline.Pending(); n > 0 {
			a.log.Warn("Archive batches still buffered at shutdown", applogger.Int("batches", n))
		}
		a.c.Pipeline.Stop()
	}
	if a.c.Hub != nil {
		a.c.Hub.Close()
	}
	for _, c := range a.c.Closers {
		if err := c.Close(); err != nil {
			a.log.Warn("Close error", applogger.String("client", c.Name), applogger.Error(err))
		}
	}
	a.log.Info("Shutdown complete")
}
