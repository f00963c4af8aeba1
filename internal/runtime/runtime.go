// Package runtime assembles the speechd service: telemetry, the optional
// message bus, the transcript store, the recognition engine and the HTTP
// gateway, with ordered startup and shutdown.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Ddahuang324/IeltsSpeking-Assistant/internal/bus"
	"github.com/Ddahuang324/IeltsSpeking-Assistant/internal/config"
	"github.com/Ddahuang324/IeltsSpeking-Assistant/internal/engine"
	"github.com/Ddahuang324/IeltsSpeking-Assistant/internal/gateway"
	"github.com/Ddahuang324/IeltsSpeking-Assistant/internal/natsserver"
	"github.com/Ddahuang324/IeltsSpeking-Assistant/internal/session"
	"github.com/Ddahuang324/IeltsSpeking-Assistant/internal/transcripts"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	var embedded *natsserver.EmbeddedServer
	var busClient *bus.Client
	if r.cfg.Bus.Enabled {
		embedded, err = natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded NATS server: %w", err)
		}

		busCfg := r.cfg.Bus
		if embedded != nil {
			busCfg.Servers = []string{fmt.Sprintf("nats://127.0.0.1:%d", r.cfg.Bus.Port)}
		}
		busClient, err = bus.Connect(busCfg, r.logger)
		if err != nil {
			embedded.Shutdown()
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
	}

	store, err := transcripts.Open(ctx, r.cfg.Transcripts, r.logger)
	if err != nil {
		busClient.Close()
		embedded.Shutdown()
		return fmt.Errorf("failed to open transcript store: %w", err)
	}

	eng, err := engine.New(r.cfg.Engine)
	if err != nil {
		_ = store.Close()
		busClient.Close()
		embedded.Shutdown()
		return fmt.Errorf("failed to initialize recognition engine: %w", err)
	}

	var publisher session.Publisher
	if busClient != nil {
		publisher = busClient
	}
	coord := session.NewCoordinator(eng, r.cfg.Engine.SampleRate, publisher, store, r.logger)

	gw := gateway.New(r.cfg, eng, coord, store, r.ready.Load, r.logger)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           gw.Router(metricsHandler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("engine_mode", r.cfg.Engine.Mode),
		slog.Bool("bus_enabled", r.cfg.Bus.Enabled))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	eng.Close()
	busClient.Close()
	embedded.Shutdown()
	if err := store.Close(); err != nil {
		r.logger.Error("transcript store close error", slog.String("error", err.Error()))
	}

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}
