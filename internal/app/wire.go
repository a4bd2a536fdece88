package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	s3blob "github.com/random-alex/between-exchanges-arbitrage/internal/blob/s3"
	"github.com/random-alex/between-exchanges-arbitrage/internal/cache/redis"
	"github.com/random-alex/between-exchanges-arbitrage/internal/config"
	"github.com/random-alex/between-exchanges-arbitrage/internal/connector"
	"github.com/random-alex/between-exchanges-arbitrage/internal/domain"
	"github.com/random-alex/between-exchanges-arbitrage/internal/engine"
	"github.com/random-alex/between-exchanges-arbitrage/internal/exchange"
	"github.com/random-alex/between-exchanges-arbitrage/internal/exchange/specs"
	"github.com/random-alex/between-exchanges-arbitrage/internal/notify"
	"github.com/random-alex/between-exchanges-arbitrage/internal/position"
	"github.com/random-alex/between-exchanges-arbitrage/internal/quotes"
	"github.com/random-alex/between-exchanges-arbitrage/internal/store/memory"
	"github.com/random-alex/between-exchanges-arbitrage/internal/store/postgres"
)

// connectTimeout and subscribeTimeout bound the two connection setup phases
// for every exchange connector.
const (
	connectTimeout   = 15 * time.Second
	subscribeTimeout = 10 * time.Second
)

// Dependencies bundles everything the run loop needs. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	PositionStore domain.PositionStore
	QuoteStore    *quotes.Store
	Specs         *specs.Fetcher

	// Connectors keyed by exchange name.
	Connectors map[string]*connector.Manager

	Manager  *position.Manager
	Monitor  *position.Monitor
	Scanner  *engine.Scanner
	Notifier *notify.Notifier
	Relay    *notify.EventRelay

	// Archiver is nil unless S3 is enabled.
	Archiver domain.PositionArchiver
}

// Wire constructs all concrete dependencies from the configuration and
// returns them with a cleanup function to call on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// Notifications first; later components forward events through them.
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	deps.Relay = notify.NewEventRelay(deps.Notifier)

	// Position store: PostgreSQL in live mode, in-memory for dry runs.
	if strings.ToLower(cfg.Mode) == "live" {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.PositionStore = postgres.NewPositionStore(pgClient.Pool())
	} else {
		deps.PositionStore = memory.NewStore()
	}

	// Redis quote mirror, best-effort and optional.
	var mirror domain.QuoteCache
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		mirror = redis.NewQuoteCache(redisClient, cfg.Redis.QuoteTTL.Duration)
	}

	deps.QuoteStore = quotes.NewStore(mirror, logger)

	// S3 archiver, optional.
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.PositionStore, logger)
	}

	// Instrument specs: one bulk fetch per exchange before trading starts.
	deps.Specs = specs.NewFetcher(logger)
	if err := deps.Specs.FetchAll(ctx, cfg.Exchanges); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: instrument specs: %w", err)
	}

	// One connector per configured exchange, deterministic order for logs.
	deps.Connectors = make(map[string]*connector.Manager, len(cfg.Exchanges))
	names := make([]string, 0, len(cfg.Exchanges))
	for name := range cfg.Exchanges {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		instruments := cfg.Exchanges[name]
		if len(instruments) == 0 {
			continue
		}
		adapter, err := exchange.New(name, instruments)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: %w", err)
		}
		deps.Connectors[name] = connector.NewManager(connector.Config{
			Exchange:              name,
			InitialReconnectDelay: cfg.Connector.ReconnectInitialDelay.Duration,
			MaxReconnectDelay:     cfg.Connector.ReconnectMaxDelay.Duration,
			MaxRetries:            cfg.Connector.MaxRetries,
			ConnectTimeout:        connectTimeout,
			SubscribeTimeout:      subscribeTimeout,
			StalenessThreshold:    cfg.Detection.StalenessThreshold.Duration,
			QueueSize:             cfg.Connector.QueueSize,
		}, adapter, deps.QuoteStore, logger)
	}

	// Position lifecycle.
	deps.Manager = position.NewManager(position.ManagerConfig{
		MinROIPct:            cfg.Trading.MinROIPct,
		MinSpreadPct:         cfg.Trading.MinSpreadPct,
		StopLossPct:          cfg.Trading.StopLossPct,
		TargetConvergencePct: cfg.Trading.TargetConvergencePct,
		MaxHold:              cfg.Trading.MaxHold.Duration,
	}, deps.PositionStore, deps.Relay, logger)

	deps.Monitor = position.NewMonitor(position.MonitorConfig{
		Interval:             cfg.Monitor.Interval.Duration,
		MaxLiquidityWarnings: cfg.Monitor.MaxLiquidityWarnings,
		MaxCloseAttempts:     cfg.Monitor.MaxCloseAttempts,
		Retry: position.RetryPolicy{
			InitialDelay: cfg.Monitor.CloseRetryInitialDelay.Duration,
			Multiplier:   cfg.Monitor.CloseRetryMultiplier,
			MaxDelay:     cfg.Monitor.CloseRetryMaxDelay.Duration,
		},
	}, deps.Manager, deps.QuoteStore, deps.Specs, logger)

	deps.Scanner = engine.NewScanner(engine.ScannerConfig{
		Interval: cfg.Detection.SpreadCheckInterval.Duration,
		Pricing: engine.PricingParams{
			CapitalUSD:            cfg.Trading.CapitalUSD,
			Leverage:              cfg.Trading.Leverage,
			FixedSlippagePct:      cfg.Trading.FixedSlippage(),
			MinSpreadThresholdPct: cfg.Detection.MinSpreadThresholdPct,
		},
		MinROIPct:          cfg.Trading.MinROIPct,
		StalenessThreshold: cfg.Detection.StalenessThreshold.Duration,
	}, deps.QuoteStore, deps.Specs, deps.Manager, logger)

	return deps, cleanup, nil
}
