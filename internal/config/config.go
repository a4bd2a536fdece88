// Package config defines the top-level configuration for the arbitrage bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ARBBOT_* environment variables.
type Config struct {
	// Exchanges maps an exchange name to the instruments subscribed on it,
	// e.g. bybit = ["BTCUSDT", "ETHUSDT"].
	Exchanges map[string][]string `toml:"exchanges"`

	Trading   TradingConfig   `toml:"trading"`
	Detection DetectionConfig `toml:"detection"`
	Connector ConnectorConfig `toml:"connector"`
	Monitor   MonitorConfig   `toml:"monitor"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Notify    NotifyConfig    `toml:"notify"`

	// Mode selects the position store: "live" persists to PostgreSQL,
	// "dry-run" keeps everything in memory. Both paper-trade.
	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`
}

// TradingConfig holds position sizing and lifecycle thresholds.
type TradingConfig struct {
	CapitalUSD           float64  `toml:"capital_usd"`
	Leverage             float64  `toml:"leverage"`
	MinROIPct            float64  `toml:"min_roi_pct"`
	MinSpreadPct         float64  `toml:"min_spread_pct"`
	StopLossPct          float64  `toml:"stop_loss_pct"`
	TargetConvergencePct float64  `toml:"target_convergence_pct"`
	MaxHold              duration `toml:"max_hold"`
	// FixedSlippagePct overrides the liquidity-based slippage estimate when
	// set to a non-negative value; negative means dynamic.
	FixedSlippagePct float64 `toml:"fixed_slippage_pct"`
}

// FixedSlippage returns the fixed slippage override, or nil when dynamic
// slippage is in effect.
func (t TradingConfig) FixedSlippage() *float64 {
	if t.FixedSlippagePct < 0 {
		return nil
	}
	v := t.FixedSlippagePct
	return &v
}

// DetectionConfig holds spread-scanning parameters.
type DetectionConfig struct {
	MinSpreadThresholdPct float64  `toml:"min_spread_threshold_pct"`
	SpreadCheckInterval   duration `toml:"spread_check_interval"`
	StalenessThreshold    duration `toml:"staleness_threshold"`
	StatsInterval         duration `toml:"stats_interval"`
}

// ConnectorConfig holds WebSocket reconnect and queue parameters shared by
// all exchange connectors.
type ConnectorConfig struct {
	ReconnectInitialDelay duration `toml:"reconnect_initial_delay"`
	ReconnectMaxDelay     duration `toml:"reconnect_max_delay"`
	MaxRetries            int      `toml:"max_retries"`
	QueueSize             int      `toml:"queue_size"`
}

// MonitorConfig holds the position-monitoring loop parameters.
type MonitorConfig struct {
	Interval duration `toml:"interval"`

	// MaxLiquidityWarnings flags a position as stuck after this many
	// liquidity-blocked close attempts.
	MaxLiquidityWarnings int `toml:"max_liquidity_warnings"`
	// MaxCloseAttempts escalates to error-level logging; the position keeps
	// retrying but needs operator attention.
	MaxCloseAttempts int `toml:"max_close_attempts"`

	// Backoff between failed close attempts: initial * multiplier^(n-1),
	// capped.
	CloseRetryInitialDelay duration `toml:"close_retry_initial_delay"`
	CloseRetryMaxDelay     duration `toml:"close_retry_max_delay"`
	CloseRetryMultiplier   float64  `toml:"close_retry_multiplier"`
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

// RedisConfig holds Redis connection parameters for the quote mirror.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	QuoteTTL   duration `toml:"quote_ttl"`
}

// S3Config holds S3-compatible object storage parameters for the archiver.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// knownExchanges enumerates the venues with connector adapters.
var knownExchanges = map[string]bool{
	"bybit":   true,
	"okx":     true,
	"binance": true,
	"deribit": true,
	"bitget":  true,
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Exchanges: map[string][]string{},
		Trading: TradingConfig{
			CapitalUSD:           100.0,
			Leverage:             10.0,
			MinROIPct:            2.0,
			MinSpreadPct:         1.5,
			StopLossPct:          -10.0,
			TargetConvergencePct: 0.1,
			MaxHold:              duration{24 * time.Hour},
			FixedSlippagePct:     -1.0,
		},
		Detection: DetectionConfig{
			MinSpreadThresholdPct: 0.05,
			SpreadCheckInterval:   duration{time.Second},
			StalenessThreshold:    duration{5 * time.Second},
			StatsInterval:         duration{5 * time.Minute},
		},
		Connector: ConnectorConfig{
			ReconnectInitialDelay: duration{3 * time.Second},
			ReconnectMaxDelay:     duration{60 * time.Second},
			MaxRetries:            10,
			QueueSize:             1000,
		},
		Monitor: MonitorConfig{
			Interval:               duration{5 * time.Second},
			MaxLiquidityWarnings:   5,
			MaxCloseAttempts:       10,
			CloseRetryInitialDelay: duration{30 * time.Second},
			CloseRetryMaxDelay:     duration{10 * time.Minute},
			CloseRetryMultiplier:   1.5,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "arbbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			QuoteTTL:   duration{30 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arbbot-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_closed", "position_stuck", "connector_closed"},
		},
		Mode:     "dry-run",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"live":    true,
	"dry-run": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, dry-run)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchanges: at least two venues with instruments, all of them known.
	active := 0
	for name, instruments := range c.Exchanges {
		if !knownExchanges[name] {
			errs = append(errs, fmt.Sprintf("exchanges: unknown exchange %q", name))
			continue
		}
		if len(instruments) > 0 {
			active++
		}
	}
	if active < 2 {
		errs = append(errs, "exchanges: at least two exchanges with instruments are required")
	}

	// Trading.
	if c.Trading.CapitalUSD <= 0 {
		errs = append(errs, "trading: capital_usd must be positive")
	}
	if c.Trading.Leverage <= 0 {
		errs = append(errs, "trading: leverage must be positive")
	}
	if c.Trading.MinSpreadPct <= 0 {
		errs = append(errs, "trading: min_spread_pct must be positive")
	}
	if c.Trading.StopLossPct >= 0 {
		errs = append(errs, "trading: stop_loss_pct must be negative")
	}
	if c.Trading.MaxHold.Duration <= 0 {
		errs = append(errs, "trading: max_hold must be positive")
	}

	// Detection.
	if c.Detection.SpreadCheckInterval.Duration <= 0 {
		errs = append(errs, "detection: spread_check_interval must be positive")
	}
	if c.Detection.StalenessThreshold.Duration <= 0 {
		errs = append(errs, "detection: staleness_threshold must be positive")
	}

	// Connector.
	if c.Connector.ReconnectInitialDelay.Duration <= 0 {
		errs = append(errs, "connector: reconnect_initial_delay must be positive")
	}
	if c.Connector.ReconnectMaxDelay.Duration < c.Connector.ReconnectInitialDelay.Duration {
		errs = append(errs, "connector: reconnect_max_delay must be >= reconnect_initial_delay")
	}
	if c.Connector.MaxRetries < 1 {
		errs = append(errs, "connector: max_retries must be >= 1")
	}
	if c.Connector.QueueSize < 1 {
		errs = append(errs, "connector: queue_size must be >= 1")
	}

	// Monitor.
	if c.Monitor.Interval.Duration <= 0 {
		errs = append(errs, "monitor: interval must be positive")
	}
	if c.Monitor.MaxLiquidityWarnings < 1 {
		errs = append(errs, "monitor: max_liquidity_warnings must be >= 1")
	}
	if c.Monitor.MaxCloseAttempts < 1 {
		errs = append(errs, "monitor: max_close_attempts must be >= 1")
	}
	if c.Monitor.CloseRetryInitialDelay.Duration <= 0 {
		errs = append(errs, "monitor: close_retry_initial_delay must be positive")
	}
	if c.Monitor.CloseRetryMaxDelay.Duration < c.Monitor.CloseRetryInitialDelay.Duration {
		errs = append(errs, "monitor: close_retry_max_delay must be >= close_retry_initial_delay")
	}
	if c.Monitor.CloseRetryMultiplier < 1 {
		errs = append(errs, "monitor: close_retry_multiplier must be >= 1")
	}

	// Postgres, only needed in live mode.
	if strings.ToLower(c.Mode) == "live" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis.
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty when enabled")
	}

	// S3.
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
	}

	// Notify: Telegram credentials come in pairs.
	tt := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if tt != tc {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
