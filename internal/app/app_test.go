package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/autotrader/internal/config"
	"github.com/alanyoungcy/autotrader/internal/domain"
	"github.com/alanyoungcy/autotrader/internal/feed"
	"github.com/alanyoungcy/autotrader/internal/orchestrator"
	"github.com/alanyoungcy/autotrader/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type nopPriceCache struct{}

func (nopPriceCache) SetPrice(context.Context, string, float64, time.Time) error { return nil }
func (nopPriceCache) GetPrice(context.Context, string) (float64, time.Time, error) {
	return 0, time.Time{}, domain.ErrNotFound
}
func (nopPriceCache) GetPrices(context.Context, []string) (map[string]float64, error) {
	return map[string]float64{}, nil
}

func TestRun_UnsupportedMode(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "backtest"
	a := New(&cfg, testLogger())
	defer a.Close()

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "full, paper, trade")
	assert.Equal(t, []string{"full", "paper", "trade"}, Modes())
}

func TestOrchestratorConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Orchestrator.SerializeSessions = true
	cfg.Execution.FeePct = 0.01

	oc := orchestratorConfig(&cfg)
	assert.Equal(t, 5, oc.MaxConcurrent)
	assert.True(t, oc.SerializeSessions)
	assert.Equal(t, 500*time.Millisecond, oc.IntakeInterval)
	assert.Equal(t, 10*time.Minute, oc.ReplayTTL)
	assert.InDelta(t, 0.15, oc.Exit.InitialStopLoss, 1e-12)
	require.Len(t, oc.Exit.Tiers, 2)
	assert.InDelta(t, 0.75, oc.Exit.Tiers[1].Gain, 1e-12)
	assert.InDelta(t, 0.01, oc.Execution.FeePct, 1e-12)
	require.NoError(t, oc.Exit.Validate())
}

func TestOrchestratorConfig_DefaultsAgree(t *testing.T) {
	cfg := config.Defaults()
	oc := orchestratorConfig(&cfg)
	def := orchestrator.DefaultConfig()

	assert.Equal(t, def.SerializeSessions, oc.SerializeSessions)
	assert.Equal(t, def.MaxConcurrent, oc.MaxConcurrent)
	assert.InDelta(t, def.RiskFraction, oc.RiskFraction, 1e-12)
	assert.InDelta(t, def.MinTradeSize, oc.MinTradeSize, 1e-12)
	assert.Equal(t, def.QueueSize, oc.QueueSize)
	assert.Equal(t, def.RequeueDelay, oc.RequeueDelay)
	assert.Equal(t, def.RequeueMaxAttempts, oc.RequeueMaxAttempts)
}

func TestBuildFeed(t *testing.T) {
	cfg := config.Defaults()
	logger := testLogger()

	_, ok := buildFeed(&cfg, &Dependencies{}, logger).(*feed.Synthetic)
	assert.True(t, ok, "synthetic without a cache")

	_, ok = buildFeed(&cfg, &Dependencies{PriceCache: nopPriceCache{}}, logger).(*feed.Cached)
	assert.True(t, ok, "ticks are mirrored into the cache")

	cfg.Feed.Source = "ws"
	cfg.Feed.WSURL = "ws://127.0.0.1:1/ticks"
	cfg.Feed.CachePrices = false
	_, ok = buildFeed(&cfg, &Dependencies{PriceCache: nopPriceCache{}}, logger).(*feed.Retrying)
	assert.True(t, ok, "live feeds retry")
}

func TestBuildScreener(t *testing.T) {
	cfg := config.Defaults()
	assert.Nil(t, buildScreener(&cfg, &Dependencies{}, testLogger()))

	cfg.Screening.Enabled = true
	cfg.Screening.Endpoint = "http://127.0.0.1:1/screen"
	assert.NotNil(t, buildScreener(&cfg, &Dependencies{}, testLogger()))
}

func TestProvisionAccounts(t *testing.T) {
	ctx := context.Background()
	cfg := config.Defaults()
	cfg.Accounts.List = []config.AccountConfig{
		{ID: "default", Balance: 50},
		{ID: "pinned", Wallet: "PINNED", Balance: 5},
	}
	cfg.Accounts.Register = 2
	deps := &Dependencies{AccountStore: memory.NewAccountStore()}

	accounts, err := provisionAccounts(ctx, &cfg, deps, testLogger())
	require.NoError(t, err)
	assert.Len(t, accounts, 4)

	byID := make(map[string]domain.Account)
	for _, a := range accounts {
		byID[a.ID] = a
	}
	assert.Equal(t, 50.0, byID["default"].InitialBalance)
	assert.NotEmpty(t, byID["default"].Wallet)
	assert.Equal(t, "PINNED", byID["pinned"].Wallet)

	// A restart over the same store registers nothing new.
	again, err := provisionAccounts(ctx, &cfg, deps, testLogger())
	require.NoError(t, err)
	assert.Len(t, again, 4)
}

func TestDemoSignals(t *testing.T) {
	cfg := config.Defaults()
	cfg.Demo.Signals = append(cfg.Demo.Signals, config.DemoSignalConfig{Token: "PLAIN"})

	sigs := demoSignals(&cfg)
	require.Len(t, sigs, 4)
	assert.Equal(t, "MOONSHOT_TOKEN", sigs[0].Token)
	assert.Equal(t, domain.SignalKindGreenFlag, sigs[0].Kind)
	assert.Equal(t, 3, sigs[0].Priority)
	assert.Equal(t, domain.SignalKindBullish, sigs[1].Kind)
	assert.Equal(t, domain.SignalKindGreenFlag, sigs[3].Kind, "kind defaults to green flag")
}

func TestPaperMode_RunsDemoSessionsToCompletion(t *testing.T) {
	cfg := config.Defaults()
	cfg.Server.Enabled = false
	cfg.Feed.Steps = 40
	cfg.Feed.Interval.Duration = time.Millisecond
	cfg.Orchestrator.IntakeInterval.Duration = 5 * time.Millisecond
	cfg.Orchestrator.SnapshotInterval.Duration = 0
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := testLogger()
	deps, cleanup, err := Wire(ctx, &cfg, logger)
	require.NoError(t, err)
	defer cleanup()

	a := New(&cfg, logger)
	done := make(chan error, 1)
	go func() { done <- a.PaperMode(ctx, deps) }()

	require.Eventually(t, func() bool {
		sessions, err := deps.SessionStore.ListByAccount(ctx, domain.DefaultAccountID, domain.ListOpts{})
		if err != nil || len(sessions) != 3 {
			return false
		}
		for _, s := range sessions {
			if !s.Status.Terminal() {
				return false
			}
		}
		return true
	}, 10*time.Second, 20*time.Millisecond)

	trades, err := deps.TradeStore.ListByAccount(ctx, domain.DefaultAccountID, domain.ListOpts{})
	require.NoError(t, err)
	assert.NotEmpty(t, trades, "every demo session bought on entry")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("paper mode did not stop")
	}
}
