package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ARBBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ARBBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// Trading.
	setFloat64(&cfg.Trading.CapitalUSD, "ARBBOT_TRADING_CAPITAL_USD")
	setFloat64(&cfg.Trading.Leverage, "ARBBOT_TRADING_LEVERAGE")
	setFloat64(&cfg.Trading.MinROIPct, "ARBBOT_TRADING_MIN_ROI_PCT")
	setFloat64(&cfg.Trading.MinSpreadPct, "ARBBOT_TRADING_MIN_SPREAD_PCT")
	setFloat64(&cfg.Trading.StopLossPct, "ARBBOT_TRADING_STOP_LOSS_PCT")
	setFloat64(&cfg.Trading.TargetConvergencePct, "ARBBOT_TRADING_TARGET_CONVERGENCE_PCT")
	setDuration(&cfg.Trading.MaxHold, "ARBBOT_TRADING_MAX_HOLD")
	setFloat64(&cfg.Trading.FixedSlippagePct, "ARBBOT_TRADING_FIXED_SLIPPAGE_PCT")

	// Detection.
	setFloat64(&cfg.Detection.MinSpreadThresholdPct, "ARBBOT_DETECTION_MIN_SPREAD_THRESHOLD_PCT")
	setDuration(&cfg.Detection.SpreadCheckInterval, "ARBBOT_DETECTION_SPREAD_CHECK_INTERVAL")
	setDuration(&cfg.Detection.StalenessThreshold, "ARBBOT_DETECTION_STALENESS_THRESHOLD")
	setDuration(&cfg.Detection.StatsInterval, "ARBBOT_DETECTION_STATS_INTERVAL")

	// Connector.
	setDuration(&cfg.Connector.ReconnectInitialDelay, "ARBBOT_CONNECTOR_RECONNECT_INITIAL_DELAY")
	setDuration(&cfg.Connector.ReconnectMaxDelay, "ARBBOT_CONNECTOR_RECONNECT_MAX_DELAY")
	setInt(&cfg.Connector.MaxRetries, "ARBBOT_CONNECTOR_MAX_RETRIES")
	setInt(&cfg.Connector.QueueSize, "ARBBOT_CONNECTOR_QUEUE_SIZE")

	// Monitor.
	setDuration(&cfg.Monitor.Interval, "ARBBOT_MONITOR_INTERVAL")
	setInt(&cfg.Monitor.MaxLiquidityWarnings, "ARBBOT_MONITOR_MAX_LIQUIDITY_WARNINGS")
	setInt(&cfg.Monitor.MaxCloseAttempts, "ARBBOT_MONITOR_MAX_CLOSE_ATTEMPTS")
	setDuration(&cfg.Monitor.CloseRetryInitialDelay, "ARBBOT_MONITOR_CLOSE_RETRY_INITIAL_DELAY")
	setDuration(&cfg.Monitor.CloseRetryMaxDelay, "ARBBOT_MONITOR_CLOSE_RETRY_MAX_DELAY")
	setFloat64(&cfg.Monitor.CloseRetryMultiplier, "ARBBOT_MONITOR_CLOSE_RETRY_MULTIPLIER")

	// Postgres.
	setStr(&cfg.Postgres.DSN, "ARBBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ARBBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ARBBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARBBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARBBOT_POSTGRES_RUN_MIGRATIONS")

	// Redis.
	setBool(&cfg.Redis.Enabled, "ARBBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ARBBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARBBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARBBOT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.QuoteTTL, "ARBBOT_REDIS_QUOTE_TTL")

	// S3.
	setBool(&cfg.S3.Enabled, "ARBBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ARBBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ARBBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ARBBOT_S3_FORCE_PATH_STYLE")

	// Notify.
	setStr(&cfg.Notify.TelegramToken, "ARBBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARBBOT_NOTIFY_EVENTS")

	// Top-level.
	setStr(&cfg.Mode, "ARBBOT_MODE")
	setStr(&cfg.LogLevel, "ARBBOT_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

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
