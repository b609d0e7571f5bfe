// Package app wires the autotrader together and runs it in one of three
// modes: paper (in-memory, demo signals), trade (Postgres, Redis stream
// signals) and full (trade plus the HTTP API, websocket hub and archive).
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/alanyoungcy/autotrader/internal/config"
)

// runFunc runs one mode until ctx is cancelled.
type runFunc func(a *App, ctx context.Context, deps *Dependencies) error

var modes = map[string]runFunc{
	"paper": (*App).PaperMode,
	"trade": (*App).TradeMode,
	"full":  (*App).FullMode,
}

// Modes lists the runnable mode names.
func Modes() []string {
	out := make([]string, 0, len(modes))
	for m := range modes {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// App owns the configuration and the cleanup of everything Run wired.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	closeOnce sync.Once
	cleanup   func()
}

// New creates an App.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires the dependencies for the configured mode and blocks in that mode
// until ctx is cancelled. Call Close afterwards.
func (a *App) Run(ctx context.Context) error {
	a.cfg.Mode = strings.ToLower(strings.TrimSpace(a.cfg.Mode))
	run, ok := modes[a.cfg.Mode]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q (want one of %s)", a.cfg.Mode, strings.Join(Modes(), ", "))
	}

	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.cleanup = cleanup

	return run(a, ctx, deps)
}

// Close releases everything Run wired. Only the first call has an effect.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.cleanup == nil {
			return
		}
		a.logger.Info("releasing resources")
		a.cleanup()
	})
}
