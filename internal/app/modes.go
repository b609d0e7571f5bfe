package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/autotrader/internal/cache/redis"
	"github.com/alanyoungcy/autotrader/internal/observability"
	"github.com/alanyoungcy/autotrader/internal/orchestrator"
	"github.com/alanyoungcy/autotrader/internal/pipeline"
	"github.com/alanyoungcy/autotrader/internal/server"
	"github.com/alanyoungcy/autotrader/internal/server/handler"
	"github.com/alanyoungcy/autotrader/internal/server/ws"
	"github.com/alanyoungcy/autotrader/internal/service"
)

// PaperMode runs the orchestrator against in-memory stores and the synthetic
// feed, seeded with the demo signals. The HTTP API is served when enabled;
// the websocket hub needs the Redis bus and stays off.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")

	orch, err := a.buildOrchestrator(ctx, deps)
	if err != nil {
		return fmt.Errorf("paper mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orch.Run(ctx)
	})

	if a.cfg.Demo.Enabled {
		a.seedDemo(ctx, orch)
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, orch, nil)
	}

	return g.Wait()
}

// TradeMode runs the orchestrator with Postgres persistence, consuming
// signals from the Redis stream.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	orch, err := a.buildOrchestrator(ctx, deps)
	if err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orch.Run(ctx)
	})
	a.startSignalStream(ctx, g, deps, orch)

	return g.Wait()
}

// FullMode is TradeMode plus the HTTP API, the websocket hub and the
// scheduled archive.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	orch, err := a.buildOrchestrator(ctx, deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orch.Run(ctx)
	})
	a.startSignalStream(ctx, g, deps, orch)

	if deps.Archiver != nil {
		archiver := pipeline.NewArchiver(deps.Archiver, deps.LockManager, a.cfg.Archive.RetentionDays, a.logger)
		g.Go(func() error {
			return archiver.RunCron(ctx, a.cfg.Archive.Cron)
		})
	}

	if a.cfg.Server.Enabled {
		hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:         a.cfg.Mode,
			Channels:     service.Channels,
			StartedAt:    time.Now().UTC(),
			LiveSessions: orch.LiveSessions,
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
		a.startHTTPServer(ctx, g, deps, orch, hub)
	}

	return g.Wait()
}

// startSignalStream consumes externally produced signals from Redis.
func (a *App) startSignalStream(ctx context.Context, g *errgroup.Group, deps *Dependencies, orch *orchestrator.Orchestrator) {
	if deps.Redis == nil || deps.SignalBus == nil {
		return
	}
	src := redis.NewStreamSignalSource(deps.Redis, deps.SignalBus, orch, a.cfg.Redis.SignalStream, 0, a.logger)
	g.Go(func() error {
		return src.Run(ctx)
	})
}

// startHTTPServer serves the API until ctx is cancelled. hub may be nil.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	orch *orchestrator.Orchestrator,
	hub *ws.Hub,
) {
	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(deps.Health, a.logger),
		Status:   handler.NewStatusHandler(orch, a.cfg.Mode),
		Accounts: handler.NewAccountHandler(orch, deps.TradeStore, deps.SnapshotStore, a.logger),
		Sessions: handler.NewSessionHandler(orch, deps.SessionStore, a.logger),
		Signals:  handler.NewSignalHandler(orch, a.logger),
		Audit:    handler.NewAuditHandler(deps.AuditStore, a.logger),
		Metrics:  observability.HandlerFor(deps.Registry),
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
