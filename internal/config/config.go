// Package config defines the top-level configuration for the autotrader and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by AUTOTRADER_* environment variables.
type Config struct {
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Strategy     StrategyConfig     `toml:"strategy"`
	Execution    ExecutionConfig    `toml:"execution"`
	Feed         FeedConfig         `toml:"feed"`
	Screening    ScreeningConfig    `toml:"screening"`
	Accounts     AccountsConfig     `toml:"accounts"`
	Postgres     PostgresConfig     `toml:"postgres"`
	Redis        RedisConfig        `toml:"redis"`
	S3           S3Config           `toml:"s3"`
	Server       ServerConfig       `toml:"server"`
	Notify       NotifyConfig       `toml:"notify"`
	Archive      ArchiveConfig      `toml:"archive"`
	Demo         DemoConfig         `toml:"demo"`
	Mode         string             `toml:"mode"`
	LogLevel     string             `toml:"log_level"`
}

// OrchestratorConfig holds admission and session-loop parameters.
type OrchestratorConfig struct {
	MaxConcurrent      int      `toml:"max_concurrent"`
	RiskFraction       float64  `toml:"risk_fraction"`
	MinTradeSize       float64  `toml:"min_trade_size"`
	SerializeSessions  bool     `toml:"serialize_sessions"`
	QueueSize          int      `toml:"queue_size"`
	IntakeInterval     duration `toml:"intake_interval"`
	SnapshotInterval   duration `toml:"snapshot_interval"`
	MaxEntryTicks      int      `toml:"max_entry_ticks"`
	RequeueDelay       duration `toml:"requeue_delay"`
	RequeueMaxDelay    duration `toml:"requeue_max_delay"`
	RequeueMaxAttempts int      `toml:"requeue_max_attempts"`
	ReplayTTL          duration `toml:"replay_ttl"`
	// EntryRule names a rule from the strategy registry: "immediate", "sma"
	// or "breakout".
	EntryRule string `toml:"entry_rule"`
}

// StrategyConfig holds the tiered exit parameters.
type StrategyConfig struct {
	InitialStopLoss float64      `toml:"initial_stop_loss"`
	TrailingStop    float64      `toml:"trailing_stop"`
	Tiers           []TierConfig `toml:"tiers"`
}

// TierConfig is one take-profit tier.
type TierConfig struct {
	Gain     float64 `toml:"gain"`
	Fraction float64 `toml:"fraction"`
}

// ExecutionConfig holds simulated execution costs.
type ExecutionConfig struct {
	SlippagePct float64 `toml:"slippage_pct"`
	FeePct      float64 `toml:"fee_pct"`
}

// FeedConfig selects and tunes the market-data source.
type FeedConfig struct {
	// Source is "synthetic" or "ws".
	Source      string   `toml:"source"`
	WSURL       string   `toml:"ws_url"`
	IdleTimeout duration `toml:"idle_timeout"`

	InitialPrice float64  `toml:"initial_price"`
	Drift        float64  `toml:"drift"`
	Volatility   float64  `toml:"volatility"`
	Steps        int      `toml:"steps"`
	Seed         uint64   `toml:"seed"`
	Interval     duration `toml:"interval"`

	MaxRetries  int      `toml:"max_retries"`
	RetryDelay  duration `toml:"retry_delay"`
	MaxDelay    duration `toml:"max_delay"`
	CachePrices bool     `toml:"cache_prices"`
	PriceTTL    duration `toml:"price_ttl"`
}

// ScreeningConfig holds the external token screening service parameters.
type ScreeningConfig struct {
	Enabled     bool     `toml:"enabled"`
	Endpoint    string   `toml:"endpoint"`
	MinScore    float64  `toml:"min_score"`
	MaxAttempts int      `toml:"max_attempts"`
	RetryDelay  duration `toml:"retry_delay"`
	MaxDelay    duration `toml:"max_delay"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// AccountsConfig lists the accounts provisioned at startup. Register adds
// that many freshly generated wallets on top of the listed ones.
type AccountsConfig struct {
	List       []AccountConfig `toml:"list"`
	Register   int             `toml:"register"`
	MinBalance float64         `toml:"min_balance"`
	MaxBalance float64         `toml:"max_balance"`
}

// AccountConfig pins one account. An empty Wallet gets a generated address;
// a zero Balance gets a random one from the configured range.
type AccountConfig struct {
	ID      string  `toml:"id"`
	Wallet  string  `toml:"wallet"`
	Balance float64 `toml:"balance"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	Namespace    string `toml:"namespace"`
	SignalStream string `toml:"signal_stream"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds the cold-storage archive schedule.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// DemoConfig seeds paper mode with signals at startup.
type DemoConfig struct {
	Enabled bool               `toml:"enabled"`
	Signals []DemoSignalConfig `toml:"signals"`
}

// DemoSignalConfig is one seeded signal.
type DemoSignalConfig struct {
	Token    string `toml:"token"`
	Kind     string `toml:"kind"`
	Priority int    `toml:"priority"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Orchestrator: OrchestratorConfig{
			MaxConcurrent:      5,
			RiskFraction:       0.02,
			MinTradeSize:       0.01,
			QueueSize:          100,
			IntakeInterval:     duration{500 * time.Millisecond},
			SnapshotInterval:   duration{30 * time.Second},
			MaxEntryTicks:      500,
			RequeueDelay:       duration{5 * time.Second},
			RequeueMaxDelay:    duration{2 * time.Minute},
			RequeueMaxAttempts: 3,
			ReplayTTL:          duration{10 * time.Minute},
			EntryRule:          "immediate",
		},
		Strategy: StrategyConfig{
			InitialStopLoss: 0.15,
			TrailingStop:    0.20,
			Tiers: []TierConfig{
				{Gain: 0.30, Fraction: 0.33},
				{Gain: 0.75, Fraction: 0.33},
			},
		},
		Execution: ExecutionConfig{
			SlippagePct: 0.005,
			FeePct:      0.003,
		},
		Feed: FeedConfig{
			Source:       "synthetic",
			IdleTimeout:  duration{30 * time.Second},
			InitialPrice: 0.01,
			Drift:        0.001,
			Volatility:   0.02,
			Steps:        1000,
			Seed:         1,
			Interval:     duration{time.Second},
			MaxRetries:   5,
			RetryDelay:   duration{500 * time.Millisecond},
			MaxDelay:     duration{10 * time.Second},
			CachePrices:  true,
			PriceTTL:     duration{5 * time.Minute},
		},
		Screening: ScreeningConfig{
			Enabled:     false,
			MinScore:    0.5,
			MaxAttempts: 3,
			RetryDelay:  duration{5 * time.Second},
			MaxDelay:    duration{time.Minute},
			RateLimit:   30,
			RateWindow:  duration{time.Minute},
		},
		Accounts: AccountsConfig{
			List:       []AccountConfig{{ID: "default", Balance: 50}},
			MinBalance: 10,
			MaxBalance: 20,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "autotrader",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			Namespace:    "autotrader",
			SignalStream: "signals:incoming",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "autotrader-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"position_closed", "session_failed"},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Cron:          "0 3 1 * *",
		},
		Demo: DemoConfig{
			Enabled: true,
			Signals: []DemoSignalConfig{
				{Token: "MOONSHOT_TOKEN", Kind: "GREEN_FLAG", Priority: 3},
				{Token: "DEGEN_COIN", Kind: "BULLISH", Priority: 2},
				{Token: "ROCKET_TOKEN", Kind: "GREEN_FLAG", Priority: 1},
			},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"paper": true,
	"trade": true,
	"full":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validEntryRules = map[string]bool{
	"immediate": true,
	"sma":       true,
	"breakout":  true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("mode %q is not valid; choose one of: paper, trade, full", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("log_level %q is not valid; choose one of: debug, info, warn, error", c.LogLevel))
	}

	// ── Orchestrator ──
	o := c.Orchestrator
	if o.MaxConcurrent < 1 {
		errs = append(errs, "orchestrator.max_concurrent must be at least 1")
	}
	if o.RiskFraction <= 0 || o.RiskFraction > 1 {
		errs = append(errs, "orchestrator.risk_fraction must be in (0,1]")
	}
	if o.MinTradeSize < 0 {
		errs = append(errs, "orchestrator.min_trade_size must not be negative")
	}
	if o.QueueSize < 1 {
		errs = append(errs, "orchestrator.queue_size must be at least 1")
	}
	if o.IntakeInterval.Duration <= 0 {
		errs = append(errs, "orchestrator.intake_interval must be positive")
	}
	if o.RequeueMaxAttempts < 0 {
		errs = append(errs, "orchestrator.requeue_max_attempts must not be negative")
	}
	if !validEntryRules[o.EntryRule] {
		errs = append(errs, fmt.Sprintf("orchestrator.entry_rule %q is not valid; choose one of: immediate, sma, breakout", o.EntryRule))
	}

	// ── Strategy ──
	s := c.Strategy
	if s.InitialStopLoss <= 0 || s.InitialStopLoss >= 1 {
		errs = append(errs, "strategy.initial_stop_loss must be in (0,1)")
	}
	if s.TrailingStop <= 0 || s.TrailingStop >= 1 {
		errs = append(errs, "strategy.trailing_stop must be in (0,1)")
	}
	prev, sum := 0.0, 0.0
	for i, t := range s.Tiers {
		if t.Gain <= prev {
			errs = append(errs, fmt.Sprintf("strategy.tiers[%d].gain must exceed the previous tier", i))
		}
		if t.Fraction <= 0 || t.Fraction > 1 {
			errs = append(errs, fmt.Sprintf("strategy.tiers[%d].fraction must be in (0,1]", i))
		}
		prev = t.Gain
		sum += t.Fraction
	}
	if sum > 1 {
		errs = append(errs, "strategy.tiers fractions must not sum above 1")
	}

	// ── Execution ──
	if c.Execution.SlippagePct < 0 || c.Execution.SlippagePct >= 1 {
		errs = append(errs, "execution.slippage_pct must be in [0,1)")
	}
	if c.Execution.FeePct < 0 || c.Execution.FeePct >= 1 {
		errs = append(errs, "execution.fee_pct must be in [0,1)")
	}

	// ── Feed ──
	switch c.Feed.Source {
	case "synthetic":
		if c.Feed.InitialPrice <= 0 {
			errs = append(errs, "feed.initial_price must be positive")
		}
		if c.Feed.Volatility < 0 {
			errs = append(errs, "feed.volatility must not be negative")
		}
	case "ws":
		if c.Feed.WSURL == "" {
			errs = append(errs, "feed.ws_url is required when feed.source is \"ws\"")
		}
	default:
		errs = append(errs, fmt.Sprintf("feed.source %q is not valid; choose one of: synthetic, ws", c.Feed.Source))
	}
	if c.Feed.Source == "ws" && mode == "paper" {
		errs = append(errs, "feed.source \"ws\" is not available in paper mode")
	}

	// ── Screening ──
	if c.Screening.Enabled {
		if c.Screening.Endpoint == "" {
			errs = append(errs, "screening.endpoint is required when screening is enabled")
		}
		if c.Screening.MaxAttempts < 1 {
			errs = append(errs, "screening.max_attempts must be at least 1")
		}
	}

	// ── Accounts ──
	if len(c.Accounts.List) == 0 && c.Accounts.Register < 1 {
		errs = append(errs, "accounts: at least one account must be listed or registered")
	}
	seen := make(map[string]bool, len(c.Accounts.List))
	for i, a := range c.Accounts.List {
		if a.Balance < 0 {
			errs = append(errs, fmt.Sprintf("accounts.list[%d].balance must not be negative", i))
		}
		if a.ID != "" {
			if seen[a.ID] {
				errs = append(errs, fmt.Sprintf("accounts.list[%d].id %q is duplicated", i, a.ID))
			}
			seen[a.ID] = true
		}
	}
	if c.Accounts.MinBalance <= 0 || c.Accounts.MaxBalance < c.Accounts.MinBalance {
		errs = append(errs, "accounts.min_balance must be positive and not above accounts.max_balance")
	}

	// ── Infrastructure ──
	if mode == "trade" || mode == "full" {
		if c.Postgres.DSN == "" && c.Postgres.Host == "" {
			errs = append(errs, "postgres.dsn or postgres.host is required in trade and full modes")
		}
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required in trade and full modes")
		}
	}
	if mode == "full" && c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3.bucket is required when the archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive.retention_days must be at least 1")
		}
	}

	// ── Demo ──
	for i, d := range c.Demo.Signals {
		if strings.TrimSpace(d.Token) == "" {
			errs = append(errs, fmt.Sprintf("demo.signals[%d].token is required", i))
		}
	}

	// ── Server ──
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}

	// ── Notify ──
	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
		errs = append(errs, "notify.telegram_chat_id is required when notify.telegram_token is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
