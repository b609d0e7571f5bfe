package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies AUTOTRADER_* environment variable overrides, and
// returns the final Config. An empty path or a missing file leaves the
// defaults in place. The returned Config has NOT been validated; the caller
// should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known AUTOTRADER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Orchestrator ──
	setInt(&cfg.Orchestrator.MaxConcurrent, "AUTOTRADER_ORCHESTRATOR_MAX_CONCURRENT")
	setFloat64(&cfg.Orchestrator.RiskFraction, "AUTOTRADER_ORCHESTRATOR_RISK_FRACTION")
	setFloat64(&cfg.Orchestrator.MinTradeSize, "AUTOTRADER_ORCHESTRATOR_MIN_TRADE_SIZE")
	setBool(&cfg.Orchestrator.SerializeSessions, "AUTOTRADER_ORCHESTRATOR_SERIALIZE_SESSIONS")
	setInt(&cfg.Orchestrator.QueueSize, "AUTOTRADER_ORCHESTRATOR_QUEUE_SIZE")
	setDuration(&cfg.Orchestrator.IntakeInterval, "AUTOTRADER_ORCHESTRATOR_INTAKE_INTERVAL")
	setDuration(&cfg.Orchestrator.SnapshotInterval, "AUTOTRADER_ORCHESTRATOR_SNAPSHOT_INTERVAL")
	setInt(&cfg.Orchestrator.MaxEntryTicks, "AUTOTRADER_ORCHESTRATOR_MAX_ENTRY_TICKS")
	setDuration(&cfg.Orchestrator.RequeueDelay, "AUTOTRADER_ORCHESTRATOR_REQUEUE_DELAY")
	setDuration(&cfg.Orchestrator.RequeueMaxDelay, "AUTOTRADER_ORCHESTRATOR_REQUEUE_MAX_DELAY")
	setInt(&cfg.Orchestrator.RequeueMaxAttempts, "AUTOTRADER_ORCHESTRATOR_REQUEUE_MAX_ATTEMPTS")
	setDuration(&cfg.Orchestrator.ReplayTTL, "AUTOTRADER_ORCHESTRATOR_REPLAY_TTL")
	setStr(&cfg.Orchestrator.EntryRule, "AUTOTRADER_ORCHESTRATOR_ENTRY_RULE")

	// ── Strategy ──
	setFloat64(&cfg.Strategy.InitialStopLoss, "AUTOTRADER_STRATEGY_INITIAL_STOP_LOSS")
	setFloat64(&cfg.Strategy.TrailingStop, "AUTOTRADER_STRATEGY_TRAILING_STOP")

	// ── Execution ──
	setFloat64(&cfg.Execution.SlippagePct, "AUTOTRADER_EXECUTION_SLIPPAGE_PCT")
	setFloat64(&cfg.Execution.FeePct, "AUTOTRADER_EXECUTION_FEE_PCT")

	// ── Feed ──
	setStr(&cfg.Feed.Source, "AUTOTRADER_FEED_SOURCE")
	setStr(&cfg.Feed.WSURL, "AUTOTRADER_FEED_WS_URL")
	setDuration(&cfg.Feed.IdleTimeout, "AUTOTRADER_FEED_IDLE_TIMEOUT")
	setFloat64(&cfg.Feed.InitialPrice, "AUTOTRADER_FEED_INITIAL_PRICE")
	setFloat64(&cfg.Feed.Drift, "AUTOTRADER_FEED_DRIFT")
	setFloat64(&cfg.Feed.Volatility, "AUTOTRADER_FEED_VOLATILITY")
	setInt(&cfg.Feed.Steps, "AUTOTRADER_FEED_STEPS")
	setUint64(&cfg.Feed.Seed, "AUTOTRADER_FEED_SEED")
	setDuration(&cfg.Feed.Interval, "AUTOTRADER_FEED_INTERVAL")
	setInt(&cfg.Feed.MaxRetries, "AUTOTRADER_FEED_MAX_RETRIES")
	setDuration(&cfg.Feed.RetryDelay, "AUTOTRADER_FEED_RETRY_DELAY")
	setDuration(&cfg.Feed.MaxDelay, "AUTOTRADER_FEED_MAX_DELAY")
	setBool(&cfg.Feed.CachePrices, "AUTOTRADER_FEED_CACHE_PRICES")
	setDuration(&cfg.Feed.PriceTTL, "AUTOTRADER_FEED_PRICE_TTL")

	// ── Screening ──
	setBool(&cfg.Screening.Enabled, "AUTOTRADER_SCREENING_ENABLED")
	setStr(&cfg.Screening.Endpoint, "AUTOTRADER_SCREENING_ENDPOINT")
	setFloat64(&cfg.Screening.MinScore, "AUTOTRADER_SCREENING_MIN_SCORE")
	setInt(&cfg.Screening.MaxAttempts, "AUTOTRADER_SCREENING_MAX_ATTEMPTS")
	setDuration(&cfg.Screening.RetryDelay, "AUTOTRADER_SCREENING_RETRY_DELAY")
	setDuration(&cfg.Screening.MaxDelay, "AUTOTRADER_SCREENING_MAX_DELAY")
	setInt(&cfg.Screening.RateLimit, "AUTOTRADER_SCREENING_RATE_LIMIT")
	setDuration(&cfg.Screening.RateWindow, "AUTOTRADER_SCREENING_RATE_WINDOW")

	// ── Accounts ──
	setInt(&cfg.Accounts.Register, "AUTOTRADER_ACCOUNTS_REGISTER")
	setFloat64(&cfg.Accounts.MinBalance, "AUTOTRADER_ACCOUNTS_MIN_BALANCE")
	setFloat64(&cfg.Accounts.MaxBalance, "AUTOTRADER_ACCOUNTS_MAX_BALANCE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "AUTOTRADER_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "AUTOTRADER_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "AUTOTRADER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "AUTOTRADER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "AUTOTRADER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "AUTOTRADER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "AUTOTRADER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "AUTOTRADER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "AUTOTRADER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "AUTOTRADER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "AUTOTRADER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "AUTOTRADER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "AUTOTRADER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "AUTOTRADER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "AUTOTRADER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "AUTOTRADER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "AUTOTRADER_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Namespace, "AUTOTRADER_REDIS_NAMESPACE")
	setStr(&cfg.Redis.SignalStream, "AUTOTRADER_REDIS_SIGNAL_STREAM")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "AUTOTRADER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "AUTOTRADER_S3_REGION")
	setStr(&cfg.S3.Bucket, "AUTOTRADER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "AUTOTRADER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "AUTOTRADER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "AUTOTRADER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "AUTOTRADER_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "AUTOTRADER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "AUTOTRADER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "AUTOTRADER_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "AUTOTRADER_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "AUTOTRADER_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "AUTOTRADER_SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "AUTOTRADER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "AUTOTRADER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "AUTOTRADER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "AUTOTRADER_NOTIFY_EVENTS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "AUTOTRADER_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "AUTOTRADER_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "AUTOTRADER_ARCHIVE_CRON")

	// ── Demo ──
	setBool(&cfg.Demo.Enabled, "AUTOTRADER_DEMO_ENABLED")

	// ── Top-level ──
	setStr(&cfg.Mode, "AUTOTRADER_MODE")
	setStr(&cfg.LogLevel, "AUTOTRADER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
