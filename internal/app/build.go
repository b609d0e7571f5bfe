package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/autotrader/internal/config"
	"github.com/alanyoungcy/autotrader/internal/domain"
	"github.com/alanyoungcy/autotrader/internal/executor"
	"github.com/alanyoungcy/autotrader/internal/feed"
	"github.com/alanyoungcy/autotrader/internal/orchestrator"
	"github.com/alanyoungcy/autotrader/internal/screening"
	"github.com/alanyoungcy/autotrader/internal/service"
	"github.com/alanyoungcy/autotrader/internal/strategy"
	"github.com/alanyoungcy/autotrader/internal/wallet"
)

// orchestratorConfig maps the config sections onto orchestrator.Config.
func orchestratorConfig(cfg *config.Config) orchestrator.Config {
	o := cfg.Orchestrator
	tiers := make([]strategy.Tier, 0, len(cfg.Strategy.Tiers))
	for _, t := range cfg.Strategy.Tiers {
		tiers = append(tiers, strategy.Tier{Gain: t.Gain, Fraction: t.Fraction})
	}
	return orchestrator.Config{
		MaxConcurrent:      o.MaxConcurrent,
		RiskFraction:       o.RiskFraction,
		MinTradeSize:       o.MinTradeSize,
		SerializeSessions:  o.SerializeSessions,
		QueueSize:          o.QueueSize,
		IntakeInterval:     o.IntakeInterval.Duration,
		SnapshotInterval:   o.SnapshotInterval.Duration,
		MaxEntryTicks:      o.MaxEntryTicks,
		RequeueDelay:       o.RequeueDelay.Duration,
		RequeueMaxDelay:    o.RequeueMaxDelay.Duration,
		RequeueMaxAttempts: o.RequeueMaxAttempts,
		ReplayTTL:          o.ReplayTTL.Duration,
		Exit: strategy.ExitConfig{
			InitialStopLoss: cfg.Strategy.InitialStopLoss,
			TrailingStop:    cfg.Strategy.TrailingStop,
			Tiers:           tiers,
		},
		Execution: executor.Config{
			SlippagePct: cfg.Execution.SlippagePct,
			FeePct:      cfg.Execution.FeePct,
		},
	}
}

// buildFeed selects the price source. Live feeds are wrapped in retries;
// every tick is mirrored into the price cache when one is wired.
func buildFeed(cfg *config.Config, deps *Dependencies, logger *slog.Logger) feed.Source {
	fc := cfg.Feed
	var src feed.Source
	switch fc.Source {
	case "ws":
		src = feed.NewRetrying(
			feed.NewWSSource(fc.WSURL, fc.IdleTimeout.Duration, logger),
			logger,
			feed.WithMaxRetries(fc.MaxRetries),
			feed.WithRetryDelay(fc.RetryDelay.Duration),
			feed.WithMaxDelay(fc.MaxDelay.Duration),
		)
	default:
		sc := feed.DefaultSyntheticConfig()
		sc.InitialPrice = fc.InitialPrice
		sc.Drift = fc.Drift
		sc.Volatility = fc.Volatility
		sc.Steps = fc.Steps
		sc.Seed = fc.Seed
		sc.Interval = fc.Interval.Duration
		src = feed.NewSynthetic(sc)
	}
	if fc.CachePrices && deps.PriceCache != nil {
		src = feed.NewCached(src, deps.PriceCache, logger)
	}
	return src
}

// buildScreener returns nil when screening is disabled.
func buildScreener(cfg *config.Config, deps *Dependencies, logger *slog.Logger) orchestrator.Screener {
	sc := cfg.Screening
	if !sc.Enabled {
		return nil
	}
	opts := []screening.Option{
		screening.WithMinScore(sc.MinScore),
		screening.WithMaxAttempts(sc.MaxAttempts),
		screening.WithRetryDelay(sc.RetryDelay.Duration),
		screening.WithMaxDelay(sc.MaxDelay.Duration),
	}
	if deps.RateLimiter != nil && sc.RateLimit > 0 {
		opts = append(opts, screening.WithRateLimiter(deps.RateLimiter, sc.RateLimit, sc.RateWindow.Duration))
	}
	return screening.NewClient(sc.Endpoint, logger, opts...)
}

// buildJournal persists every orchestrator event and fans it out to the
// wired side channels.
func buildJournal(deps *Dependencies, logger *slog.Logger) *service.Journal {
	opts := []service.JournalOption{service.WithMetrics(deps.Metrics)}
	if deps.SignalBus != nil {
		opts = append(opts, service.WithBus(deps.SignalBus))
	}
	if deps.Notifier != nil {
		opts = append(opts, service.WithNotifier(deps.Notifier))
	}
	return service.NewJournal(service.Stores{
		Sessions:  deps.SessionStore,
		Trades:    deps.TradeStore,
		Positions: deps.PositionStore,
		Snapshots: deps.SnapshotStore,
		Audit:     deps.AuditStore,
	}, logger, opts...)
}

// provisionAccounts makes sure every listed account exists, tops up the
// registered wallets to the requested count and returns every stored
// account.
func provisionAccounts(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) ([]domain.Account, error) {
	opts := []wallet.Option{
		wallet.WithBalanceRange(cfg.Accounts.MinBalance, cfg.Accounts.MaxBalance),
	}
	if deps.LockManager != nil {
		opts = append(opts, wallet.WithLockManager(deps.LockManager))
	}
	reg := wallet.NewRegistrar(deps.AccountStore, logger, opts...)

	for _, ac := range cfg.Accounts.List {
		if _, err := reg.Ensure(ctx, domain.Account{
			ID:             ac.ID,
			Wallet:         ac.Wallet,
			InitialBalance: ac.Balance,
		}); err != nil {
			return nil, fmt.Errorf("app: provision account: %w", err)
		}
	}

	stored, err := deps.AccountStore.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: list accounts: %w", err)
	}
	for want := len(cfg.Accounts.List) + cfg.Accounts.Register; len(stored) < want; {
		acct, err := reg.Register(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: register account: %w", err)
		}
		stored = append(stored, acct)
	}
	return stored, nil
}

// buildOrchestrator assembles the core with its feed, journal, entry rule,
// optional screener and every provisioned account.
func (a *App) buildOrchestrator(ctx context.Context, deps *Dependencies) (*orchestrator.Orchestrator, error) {
	cfg := orchestratorConfig(a.cfg)
	if err := cfg.Exit.Validate(); err != nil {
		return nil, fmt.Errorf("app: exit strategy: %w", err)
	}

	entry, err := strategy.NewRegistry().Get(a.cfg.Orchestrator.EntryRule)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	opts := []orchestrator.Option{orchestrator.WithEntryRule(entry)}
	if s := buildScreener(a.cfg, deps, a.logger); s != nil {
		opts = append(opts, orchestrator.WithScreener(s))
	}

	orch := orchestrator.New(cfg, buildFeed(a.cfg, deps, a.logger), buildJournal(deps, a.logger), a.logger, opts...)

	accounts, err := provisionAccounts(ctx, a.cfg, deps, a.logger)
	if err != nil {
		return nil, err
	}
	for _, acct := range accounts {
		if err := orch.AddAccount(acct); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
	}
	return orch, nil
}

// demoSignals converts the configured demo entries into signals.
func demoSignals(cfg *config.Config) []domain.Signal {
	out := make([]domain.Signal, 0, len(cfg.Demo.Signals))
	for _, d := range cfg.Demo.Signals {
		kind := domain.SignalKind(strings.ToUpper(d.Kind))
		if kind == "" {
			kind = domain.SignalKindGreenFlag
		}
		out = append(out, domain.Signal{
			Token:    d.Token,
			Symbol:   d.Token,
			Kind:     kind,
			Priority: d.Priority,
			Metadata: map[string]string{"source": "demo"},
		})
	}
	return out
}

// seedDemo submits the demo signals. Rejections are logged and skipped.
func (a *App) seedDemo(ctx context.Context, orch *orchestrator.Orchestrator) {
	for _, sig := range demoSignals(a.cfg) {
		if _, err := orch.Submit(ctx, sig); err != nil {
			a.logger.WarnContext(ctx, "demo signal rejected",
				slog.String("token", sig.Token),
				slog.String("error", err.Error()),
			)
		}
	}
}
