package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/random-alex/between-exchanges-arbitrage/internal/config"
	"github.com/random-alex/between-exchanges-arbitrage/internal/domain"
)

// archiveTimeout bounds the position archive pass performed at shutdown.
const archiveTimeout = 30 * time.Second

// App owns the wired dependencies and the run loop.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	deps    *Dependencies
	cleanup func()
}

// New wires all dependencies from the configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	deps, cleanup, err := Wire(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return &App{cfg: cfg, logger: logger, deps: deps, cleanup: cleanup}, nil
}

// Run starts all components and blocks until the context is cancelled or a
// component fails. A single exchange feed exhausting its reconnect budget is
// reported but does not bring the process down; arbitrage simply stops
// finding pairs that involve that venue.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting",
		slog.String("mode", a.cfg.Mode),
		slog.Int("exchanges", len(a.deps.Connectors)),
	)

	g, gctx := errgroup.WithContext(ctx)

	for name, mgr := range a.deps.Connectors {
		name, mgr := name, mgr
		g.Go(func() error {
			err := mgr.RunWithRetry(gctx)
			if err == nil {
				return nil
			}
			if errors.Is(err, domain.ErrConnectorClosed) {
				a.logger.Error("exchange feed gave up",
					slog.String("component", "app"),
					slog.String("exchange", name),
					slog.Any("error", err),
				)
				a.deps.Relay.ConnectorClosed(gctx, name, err)
				return nil
			}
			return err
		})
	}

	g.Go(func() error { return a.deps.Scanner.Run(gctx) })
	g.Go(func() error { return a.deps.Monitor.Run(gctx) })
	g.Go(func() error { return a.statsLoop(gctx) })

	err := g.Wait()

	a.archiveOnShutdown()

	return err
}

// statsLoop periodically logs connector health and aggregate trading stats.
func (a *App) statsLoop(ctx context.Context) error {
	interval := a.cfg.Detection.StatsInterval.Duration
	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.logStats(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (a *App) logStats(ctx context.Context) {
	a.deps.Scanner.FlushLogSummary()
	a.deps.Monitor.FlushLogSummary()

	for name, mgr := range a.deps.Connectors {
		mgr.FlushLogSummary()
		s := mgr.Stats()
		a.logger.Info("connector stats",
			slog.String("component", "app"),
			slog.String("exchange", name),
			slog.String("state", mgr.State().String()),
			slog.Uint64("parse_errors", s.ParseErrors),
			slog.Uint64("queue_drops", s.QueueDrops),
			slog.Uint64("connection_errors", s.ConnectionErrors),
			slog.Uint64("reconnects", s.Reconnects),
		)
	}

	stats, err := a.deps.PositionStore.GetPositionStats(ctx)
	if err != nil {
		a.logger.Warn("position stats unavailable",
			slog.String("component", "app"),
			slog.Any("error", err),
		)
		return
	}
	a.logger.Info("position stats",
		slog.String("component", "app"),
		slog.Int("open", stats.OpenPositions),
		slog.Int("closed", stats.ClosedPositions),
		slog.Float64("total_net_pnl_usd", stats.TotalNetPnLUSD),
		slog.Float64("avg_roi_pct", stats.AvgROIPct),
		slog.Float64("win_rate_pct", stats.WinRatePct),
	)
}

// archiveOnShutdown exports closed positions to object storage if an archiver
// is configured. It runs on a fresh context because the run context is
// already cancelled by the time we get here.
func (a *App) archiveOnShutdown() {
	if a.deps.Archiver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	n, err := a.deps.Archiver.ArchiveClosedPositions(ctx, time.Now().UTC())
	if err != nil {
		a.logger.Error("position archive failed",
			slog.String("component", "app"),
			slog.Any("error", err),
		)
		return
	}
	a.logger.Info("positions archived",
		slog.String("component", "app"),
		slog.Int64("count", n),
	)
}

// Close stops connectors and releases wired resources in reverse order.
func (a *App) Close() {
	for _, mgr := range a.deps.Connectors {
		mgr.Stop()
	}
	if a.cleanup != nil {
		a.cleanup()
	}
}
