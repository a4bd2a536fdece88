package position

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/random-alex/between-exchanges-arbitrage/internal/domain"
	"github.com/random-alex/between-exchanges-arbitrage/internal/logging"
	"github.com/random-alex/between-exchanges-arbitrage/internal/quotes"
)

const (
	// defaultMaxLiquidityWarnings flags the position as stuck and notifies.
	defaultMaxLiquidityWarnings = 5

	// defaultMaxCloseAttempts escalates to an error-level log; the position
	// keeps retrying but needs operator attention.
	defaultMaxCloseAttempts = 10
)

// MonitorConfig configures the close-side monitoring loop. Zero values for
// the ceilings and the retry policy fall back to the defaults.
type MonitorConfig struct {
	Interval time.Duration

	MaxLiquidityWarnings int
	MaxCloseAttempts     int
	Retry                RetryPolicy
}

// Monitor periodically walks every open position, prices its exit from live
// quotes, and drives the close decision through the manager.
type Monitor struct {
	cfg     MonitorConfig
	manager *Manager
	store   *quotes.Store
	specs   domain.SpecProvider
	logger  *logging.RateLimited
}

// NewMonitor creates a Monitor.
func NewMonitor(cfg MonitorConfig, manager *Manager, store *quotes.Store, specs domain.SpecProvider, logger *slog.Logger) *Monitor {
	if cfg.MaxLiquidityWarnings <= 0 {
		cfg.MaxLiquidityWarnings = defaultMaxLiquidityWarnings
	}
	if cfg.MaxCloseAttempts <= 0 {
		cfg.MaxCloseAttempts = defaultMaxCloseAttempts
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}
	return &Monitor{
		cfg:     cfg,
		manager: manager,
		store:   store,
		specs:   specs,
		logger:  logging.NewRateLimited(logger.With(slog.String("component", "position_monitor"))),
	}
}

// FlushLogSummary emits counts for any log lines suppressed since the last
// flush.
func (m *Monitor) FlushLogSummary() {
	m.logger.ForceSummary()
}

// Run blocks, checking open positions on the configured interval until the
// context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.logger.Base().Info("position monitor started", slog.Duration("interval", m.cfg.Interval))

	for {
		select {
		case <-ticker.C:
			m.checkAll(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// checkAll runs one monitoring pass. Store errors are logged and retried on
// the next tick.
func (m *Monitor) checkAll(ctx context.Context) {
	open, err := m.manager.Store().GetOpenPositions(ctx)
	if err != nil {
		m.logger.Base().Error("failed to load open positions", slog.String("error", err.Error()))
		return
	}
	if len(open) == 0 {
		return
	}

	m.logger.Base().Debug("monitoring open positions", slog.Int("count", len(open)))

	for i := range open {
		p := &open[i]
		if err := m.checkPosition(ctx, p); err != nil {
			m.logger.Base().Error("position check failed",
				slog.String("id", p.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (m *Monitor) checkPosition(ctx context.Context, p *domain.Position) error {
	// A position with one leg already closed carries unhedged exposure;
	// it is surfaced for the operator, not auto-closed here.
	if p.Status == domain.PositionStatusPartialLegClosed {
		m.logger.Event(slog.LevelWarn, "unhedged:"+p.ID, "position has unhedged leg",
			slog.String("id", p.ID),
			slog.String("symbol", p.Symbol),
		)
		return nil
	}

	longQuote, longErr := m.store.Get(p.LongExchange, p.Symbol)
	shortQuote, shortErr := m.store.Get(p.ShortExchange, p.Symbol)

	now := time.Now().UTC()

	if longErr != nil || shortErr != nil {
		// Without quotes only the max-hold rule applies, closing at
		// entry prices with zero realized profit.
		shouldClose, reason := m.manager.ShouldClose(p, nil, now)
		if !shouldClose {
			return nil
		}
		return m.manager.Close(ctx, p, nil, reason)
	}

	exit := m.exitPricing(p, longQuote, shortQuote)

	shouldClose, reason := m.manager.ShouldClose(p, &exit, now)
	if !shouldClose {
		return nil
	}

	if ok, wait := m.cfg.Retry.CanRetry(p, now); !ok {
		m.logger.Event(slog.LevelDebug, "retry_wait:"+p.ID, "close retry backing off",
			slog.String("id", p.ID),
			slog.Duration("remaining", wait.Round(time.Second)),
		)
		return nil
	}

	return m.close(ctx, p, longQuote, shortQuote, exit, reason)
}

// exitPricing builds the close-side pricing: sell the long leg at its bid,
// buy the short leg back at its ask. Exit fees cover the full remaining
// quantity at mid pricing.
func (m *Monitor) exitPricing(p *domain.Position, longQuote, shortQuote domain.Quote) domain.ExitPricing {
	exitLong := longQuote.BidPrice
	exitShort := shortQuote.AskPrice

	feePct := m.exitFeePct(p)
	qty := p.OpenQuantity()
	mid := (exitLong + exitShort) / 2

	return domain.ExitPricing{
		LongPrice:  exitLong,
		ShortPrice: exitShort,
		SpreadPct:  (exitLong - exitShort) / exitShort * 100,
		FeesUSD:    qty * mid * feePct / 100,
	}
}

// exitFeePct sums both legs' fee percentages, falling back to zero for specs
// lost since entry.
func (m *Monitor) exitFeePct(p *domain.Position) float64 {
	total := 0.0
	if spec, err := m.specs.GetSpec(p.LongExchange, p.LongInstrument); err == nil {
		total += spec.FeePct
	} else if !errors.Is(err, domain.ErrSpecMissing) {
		m.logger.Base().Warn("spec lookup failed",
			slog.String("exchange", p.LongExchange),
			slog.String("error", err.Error()),
		)
	}
	if spec, err := m.specs.GetSpec(p.ShortExchange, p.ShortInstrument); err == nil {
		total += spec.FeePct
	}
	return total
}

// close dispatches on the liquidity verdict: full close, normalized partial
// close, forced close for urgent exits, or wait with a recorded attempt.
func (m *Monitor) close(ctx context.Context, p *domain.Position, longQuote, shortQuote domain.Quote, exit domain.ExitPricing, reason string) error {
	longSpec, shortSpec := m.closeSpecs(p)
	check := ValidateCloseLiquidity(p, longQuote, shortQuote, longSpec, shortSpec)

	switch check.Strategy {
	case CloseFull:
		if err := m.manager.RecordCloseAttempt(ctx, p, check, exit, true, "", p.OpenQuantity()); err != nil {
			return err
		}
		_, err := m.manager.ClosePartial(ctx, p, p.OpenQuantity(), exit, reason)
		return err

	case ClosePartial:
		chunk, ok := normalizeChunk(check.MaxCloseableQty, longSpec, shortSpec)
		if !ok {
			// Rounding ate the closeable quantity; wait, but the audit
			// trail records that the venue minimum was the blocker.
			return m.waitForLiquidity(ctx, p, check, exit, reason, "quantity_below_exchange_minimum")
		}
		if err := m.manager.RecordCloseAttempt(ctx, p, check, exit, true, "", chunk); err != nil {
			return err
		}
		m.logger.Base().Warn("partial close",
			slog.String("id", p.ID),
			slog.Float64("chunk_qty", chunk),
			slog.Float64("remaining_qty", p.OpenQuantity()),
			slog.Float64("liquidity_ratio", check.LiquidityRatio),
		)
		_, err := m.manager.ClosePartial(ctx, p, chunk, exit, reason)
		return err

	default: // CloseWait
		if urgentClose(reason) {
			if err := m.manager.RecordCloseAttempt(ctx, p, check, exit, true, "", p.OpenQuantity()); err != nil {
				return err
			}
			return m.manager.ForceClose(ctx, p, exit, check.AvailableLongQty, check.AvailableShortQty, reason)
		}
		return m.waitForLiquidity(ctx, p, check, exit, reason, "insufficient_liquidity")
	}
}

// waitForLiquidity records the failed attempt under the given failure reason
// and escalates the longer the position stays unclosable.
func (m *Monitor) waitForLiquidity(ctx context.Context, p *domain.Position, check LiquidityCheck, exit domain.ExitPricing, reason, failureReason string) error {
	p.LiquidityWarnings++
	if err := m.manager.RecordCloseAttempt(ctx, p, check, exit, false, failureReason, 0); err != nil {
		return err
	}

	level := slog.LevelWarn
	if p.LiquidityWarnings >= m.cfg.MaxLiquidityWarnings {
		level = slog.LevelError
	}
	m.logger.Event(level, "liquidity_wait:"+p.ID, "close blocked on liquidity",
		slog.String("id", p.ID),
		slog.String("symbol", p.Symbol),
		slog.String("close_reason", reason),
		slog.Float64("liquidity_ratio", check.LiquidityRatio),
		slog.Int("warnings", p.LiquidityWarnings),
		slog.Int("attempts", p.CloseAttempts),
	)

	if p.LiquidityWarnings == m.cfg.MaxLiquidityWarnings {
		m.logger.Base().Error("position stuck, repeated liquidity failures",
			slog.String("id", p.ID),
			slog.String("symbol", p.Symbol),
		)
		m.manager.NotifyStuck(ctx, p)
	}
	if p.CloseAttempts >= m.cfg.MaxCloseAttempts {
		m.logger.Base().Error("close attempt ceiling reached, requires forced closure",
			slog.String("id", p.ID),
			slog.Int("attempts", p.CloseAttempts),
		)
	}
	return nil
}

// closeSpecs rebuilds the venue constraints for chunk normalization from the
// values cached at entry, so a spec outage cannot block closing.
func (m *Monitor) closeSpecs(p *domain.Position) (domain.InstrumentSpec, domain.InstrumentSpec) {
	longSpec := domain.InstrumentSpec{
		MinOrderQty: p.EntryLongMinQty,
		QtyStep:     p.EntryLongQtyStep,
	}
	shortSpec := domain.InstrumentSpec{
		MinOrderQty: p.EntryShortMinQty,
		QtyStep:     p.EntryShortQtyStep,
	}
	return longSpec, shortSpec
}

// normalizeChunk rounds a partial-close quantity down to the coarser step and
// rejects it below the larger minimum.
func normalizeChunk(qty float64, longSpec, shortSpec domain.InstrumentSpec) (float64, bool) {
	minQty := math.Max(longSpec.MinOrderQty, shortSpec.MinOrderQty)
	if qty < minQty {
		return 0, false
	}

	step := math.Max(longSpec.QtyStep, shortSpec.QtyStep)
	if step > 0 {
		// The epsilon keeps a grid-aligned quantity from being floored
		// down a whole step (0.3/0.1 is 2.999... in floats).
		qty = math.Floor(qty/step+fullCloseEpsilon) * step
	}
	if qty < minQty {
		return 0, false
	}
	return qty, true
}

// urgentClose reports whether the close reason cannot wait for liquidity.
func urgentClose(reason string) bool {
	switch {
	case reason == "max_hold_time_exceeded", reason == "max_hold_time_no_data":
		return true
	case len(reason) >= 9 && reason[:9] == "stop_loss":
		return true
	}
	return false
}
