package position

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/random-alex/between-exchanges-arbitrage/internal/domain"
)

// fullCloseEpsilon is the remaining quantity below which a position counts as
// fully closed; it absorbs float error from repeated partial-close subtraction.
const fullCloseEpsilon = 1e-9

// Leg names one side of a position for asymmetric closes.
type Leg string

const (
	LongLeg  Leg = "long"
	ShortLeg Leg = "short"
)

// Events receives lifecycle notifications. All methods are best-effort; the
// manager never fails an operation because a notification did.
type Events interface {
	PositionOpened(ctx context.Context, p *domain.Position)
	PositionClosed(ctx context.Context, p *domain.Position)
	PositionStuck(ctx context.Context, p *domain.Position)
}

// ManagerConfig holds the open/close decision thresholds.
type ManagerConfig struct {
	MinROIPct    float64
	MinSpreadPct float64
	// StopLossPct is negative: close when the spread has moved against the
	// position by at least this much.
	StopLossPct float64
	// TargetConvergencePct closes the position once the exit spread has
	// converged to at or above this value (entry spreads are negative from
	// the exit perspective; convergence drives them up through zero).
	TargetConvergencePct float64
	MaxHold              time.Duration
}

// Manager makes open and close decisions and owns every mutation of a
// position. It is safe for concurrent use as long as each position is only
// processed by one goroutine at a time, which the monitor guarantees.
type Manager struct {
	cfg    ManagerConfig
	store  domain.PositionStore
	events Events
	logger *slog.Logger
}

// NewManager creates a Manager. events may be nil.
func NewManager(cfg ManagerConfig, store domain.PositionStore, events Events, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		store:  store,
		events: events,
		logger: logger.With(slog.String("component", "position_manager")),
	}
}

// Store exposes the underlying position store for read-side consumers.
func (m *Manager) Store() domain.PositionStore {
	return m.store
}

// ShouldOpen decides whether a priced opportunity becomes a position. The
// returned reason explains a rejection; it is "criteria_met" on success.
func (m *Manager) ShouldOpen(ctx context.Context, opp *domain.Opportunity) (bool, string, error) {
	if opp.ROIPct < m.cfg.MinROIPct {
		return false, fmt.Sprintf("roi_too_low_%.2f", opp.ROIPct), nil
	}
	if opp.SpreadPct < m.cfg.MinSpreadPct {
		return false, fmt.Sprintf("spread_too_low_%.2f", opp.SpreadPct), nil
	}

	used, err := m.store.HasOpenPositionForSymbolAndExchanges(ctx, opp.Symbol, opp.LongExchange, opp.ShortExchange)
	if err != nil {
		return false, "", fmt.Errorf("position: uniqueness check: %w", err)
	}
	if used {
		return false, "exchanges_already_used_for_symbol", nil
	}

	if opp.QuantityAdjusted && opp.Quantity < opp.LongMinQty {
		return false, "quantity_too_small_after_adjustment", nil
	}

	return true, "criteria_met", nil
}

// Open turns an opportunity into a persisted position. The store re-checks
// pair uniqueness atomically; a concurrent duplicate surfaces as
// domain.ErrDuplicatePosition.
func (m *Manager) Open(ctx context.Context, opp *domain.Opportunity) (*domain.Position, error) {
	p := domain.Position{
		ID:              uuid.NewString(),
		CreatedAt:       time.Now().UTC(),
		Symbol:          opp.Symbol,
		LongExchange:    opp.LongExchange,
		ShortExchange:   opp.ShortExchange,
		LongInstrument:  opp.LongInstrument,
		ShortInstrument: opp.ShortInstrument,
		EntryLongPrice:  opp.EntryLongPrice,
		EntryShortPrice: opp.EntryShortPrice,
		EntrySpreadPct:  opp.SpreadPct,
		Quantity:        opp.Quantity,
		NotionalUSD:     opp.NotionalUSD,
		MarginUsedUSD:   opp.MarginUsedUSD,
		Leverage:        opp.Leverage,
		// Entry fees are half of the estimated round trip.
		EntryFeesUSD:      opp.EstimatedTotalFeesUSD / 2,
		EntryLongMinQty:   opp.LongMinQty,
		EntryShortMinQty:  opp.ShortMinQty,
		EntryLongQtyStep:  opp.LongQtyStep,
		EntryShortQtyStep: opp.ShortQtyStep,
		Status:            domain.PositionStatusOpen,
		OpenReason:        fmt.Sprintf("roi_%.2f_spread_%.4f", opp.ROIPct, opp.SpreadPct),
	}

	if err := m.store.OpenPosition(ctx, p); err != nil {
		return nil, fmt.Errorf("position: open: %w", err)
	}

	m.logger.Info("position opened",
		slog.String("id", p.ID),
		slog.String("symbol", p.Symbol),
		slog.String("long_exchange", p.LongExchange),
		slog.String("short_exchange", p.ShortExchange),
		slog.Float64("entry_spread_pct", p.EntrySpreadPct),
		slog.Float64("quantity", p.Quantity),
		slog.Float64("expected_roi_pct", opp.ROIPct),
	)
	if m.events != nil {
		m.events.PositionOpened(ctx, &p)
	}
	return &p, nil
}

// ShouldClose evaluates the exit rules for an open position. exit is nil when
// either leg currently has no quote; in that case only the max-hold rule
// applies.
func (m *Manager) ShouldClose(p *domain.Position, exit *domain.ExitPricing, now time.Time) (bool, string) {
	age := p.Age(now)

	if exit == nil {
		if age >= m.cfg.MaxHold {
			return true, "max_hold_time_no_data"
		}
		return false, ""
	}

	if exit.SpreadPct >= m.cfg.TargetConvergencePct {
		return true, "convergence_target_reached"
	}

	spreadChange := exit.SpreadPct - p.EntrySpreadPct
	if spreadChange <= m.cfg.StopLossPct {
		return true, fmt.Sprintf("stop_loss_widened_%.2fpct", spreadChange)
	}

	if age >= m.cfg.MaxHold {
		return true, "max_hold_time_exceeded"
	}

	return false, ""
}

// Close closes the full remaining quantity. A nil exit closes at entry prices
// with zero additional profit and fees, used when no quote data exists at
// the max-hold deadline.
func (m *Manager) Close(ctx context.Context, p *domain.Position, exit *domain.ExitPricing, reason string) error {
	if exit == nil {
		exit = &domain.ExitPricing{
			LongPrice:  p.EntryLongPrice,
			ShortPrice: p.EntryShortPrice,
			SpreadPct:  p.EntrySpreadPct,
		}
	}

	_, err := m.ClosePartial(ctx, p, p.OpenQuantity(), *exit, reason)
	return err
}

// ForceClose closes the full remaining quantity despite insufficient level-1
// liquidity, pricing in the estimated slippage on each leg. The recorded
// reason carries a "forced_" prefix.
func (m *Manager) ForceClose(ctx context.Context, p *domain.Position, exit domain.ExitPricing, availableLongQty, availableShortQty float64, reason string) error {
	qty := p.OpenQuantity()

	longSlip := EstimateSlippage(qty, availableLongQty)
	shortSlip := EstimateSlippage(qty, availableShortQty)

	// Selling the long leg through a thin bid fills lower; buying the
	// short leg back through a thin ask fills higher.
	forced := domain.ExitPricing{
		LongPrice:  exit.LongPrice * (1 - longSlip/100),
		ShortPrice: exit.ShortPrice * (1 + shortSlip/100),
		FeesUSD:    exit.FeesUSD,
	}
	forced.SpreadPct = (forced.LongPrice - forced.ShortPrice) / forced.ShortPrice * 100

	m.logger.Warn("forcing close through thin book",
		slog.String("id", p.ID),
		slog.Float64("long_slippage_pct", longSlip),
		slog.Float64("short_slippage_pct", shortSlip),
	)

	_, err := m.ClosePartial(ctx, p, qty, forced, "forced_"+reason)
	return err
}

// ClosePartial closes qty of the position at the given exit pricing,
// accumulating realized profit and fees onto the position. It returns true
// when the position is fully closed. exit.FeesUSD must cover the full
// remaining quantity; the chunk's share is pro-rated.
func (m *Manager) ClosePartial(ctx context.Context, p *domain.Position, qty float64, exit domain.ExitPricing, reason string) (bool, error) {
	remaining := p.OpenQuantity()
	if qty <= 0 || qty > remaining+fullCloseEpsilon {
		return false, fmt.Errorf("position: close %s: invalid quantity %v (remaining %v)", p.ID, qty, remaining)
	}
	if qty > remaining {
		qty = remaining
	}

	chunkGross := LegPnL(qty, p.EntryLongPrice, exit.LongPrice, true) +
		LegPnL(qty, p.EntryShortPrice, exit.ShortPrice, false)

	chunkExitFees := 0.0
	if remaining > 0 {
		chunkExitFees = exit.FeesUSD * qty / remaining
	}

	gross := chunkGross + deref(p.GrossProfitUSD)
	exitFees := chunkExitFees + deref(p.ExitFeesUSD)
	totalFees := p.EntryFeesUSD + exitFees
	net := gross - totalFees

	roi := 0.0
	if p.MarginUsedUSD > 0 {
		roi = net / p.MarginUsedUSD * 100
	}

	newRemaining := remaining - qty
	now := time.Now().UTC()

	p.GrossProfitUSD = ptr(gross)
	p.ExitFeesUSD = ptr(exitFees)
	p.TotalFeesUSD = ptr(totalFees)
	p.NetProfitUSD = ptr(net)
	p.ROIPct = ptr(roi)
	p.ExitLongPrice = ptr(exit.LongPrice)
	p.ExitShortPrice = ptr(exit.ShortPrice)
	p.ExitSpreadPct = ptr(exit.SpreadPct)
	p.RemainingQuantity = ptr(newRemaining)

	fullyClosed := newRemaining <= fullCloseEpsilon
	if fullyClosed {
		p.RemainingQuantity = ptr(0.0)
		p.Status = domain.PositionStatusClosed
		p.ClosedAt = &now
		p.CloseReason = &reason
	} else {
		p.Status = domain.PositionStatusPartiallyClosed
	}

	var persistErr error
	if fullyClosed {
		persistErr = m.store.ClosePosition(ctx, *p)
	} else {
		persistErr = m.store.UpdatePosition(ctx, *p)
	}
	if persistErr != nil {
		return false, fmt.Errorf("position: close %s: %w", p.ID, persistErr)
	}

	m.logger.Info("position close executed",
		slog.String("id", p.ID),
		slog.String("symbol", p.Symbol),
		slog.Float64("closed_qty", qty),
		slog.Float64("remaining_qty", newRemaining),
		slog.Float64("exit_spread_pct", exit.SpreadPct),
		slog.String("reason", reason),
		slog.Float64("net_profit_usd", net),
		slog.Float64("roi_pct", roi),
		slog.Bool("fully_closed", fullyClosed),
	)
	if fullyClosed && m.events != nil {
		m.events.PositionClosed(ctx, p)
	}
	return fullyClosed, nil
}

// CloseLeg closes one leg at the given price while the other stays open,
// leaving unhedged exposure. Both legs closed transitions the position to
// closed with whatever profit was accumulated.
func (m *Manager) CloseLeg(ctx context.Context, p *domain.Position, leg Leg, price float64, reason string) error {
	now := time.Now().UTC()

	qty := p.OpenQuantity()
	switch leg {
	case LongLeg:
		if p.LongLegClosed {
			return fmt.Errorf("position: close leg %s: long leg already closed", p.ID)
		}
		p.LongLegClosed = true
		p.LongLegClosedAt = &now
		p.ExitLongPrice = ptr(price)
		p.GrossProfitUSD = ptr(deref(p.GrossProfitUSD) + LegPnL(qty, p.EntryLongPrice, price, true))
	case ShortLeg:
		if p.ShortLegClosed {
			return fmt.Errorf("position: close leg %s: short leg already closed", p.ID)
		}
		p.ShortLegClosed = true
		p.ShortLegClosedAt = &now
		p.ExitShortPrice = ptr(price)
		p.GrossProfitUSD = ptr(deref(p.GrossProfitUSD) + LegPnL(qty, p.EntryShortPrice, price, false))
	default:
		return fmt.Errorf("position: close leg %s: unknown leg %q", p.ID, leg)
	}

	if p.LongLegClosed && p.ShortLegClosed {
		p.Status = domain.PositionStatusClosed
		p.ClosedAt = &now
		p.CloseReason = &reason
		p.RemainingQuantity = ptr(0.0)

		net := deref(p.GrossProfitUSD) - p.EntryFeesUSD - deref(p.ExitFeesUSD)
		p.NetProfitUSD = ptr(net)
		if p.MarginUsedUSD > 0 {
			p.ROIPct = ptr(net / p.MarginUsedUSD * 100)
		}
	} else {
		p.Status = domain.PositionStatusPartialLegClosed
	}

	var persistErr error
	if p.Status == domain.PositionStatusClosed {
		persistErr = m.store.ClosePosition(ctx, *p)
	} else {
		persistErr = m.store.UpdatePosition(ctx, *p)
	}
	if persistErr != nil {
		return fmt.Errorf("position: close leg %s: %w", p.ID, persistErr)
	}

	m.logger.Warn("single leg closed",
		slog.String("id", p.ID),
		slog.String("leg", string(leg)),
		slog.Float64("price", price),
		slog.String("reason", reason),
		slog.String("status", string(p.Status)),
	)
	if p.Status == domain.PositionStatusClosed && m.events != nil {
		m.events.PositionClosed(ctx, p)
	}
	return nil
}

// RecordCloseAttempt appends one audit record and advances the position's
// retry bookkeeping. Call it before mutating the position so the recorded
// required quantity reflects the state the attempt saw.
func (m *Manager) RecordCloseAttempt(ctx context.Context, p *domain.Position, check LiquidityCheck, exit domain.ExitPricing, success bool, failureReason string, closedQty float64) error {
	now := time.Now().UTC()
	required := p.OpenQuantity()

	attempt := domain.CloseAttempt{
		ID:                  uuid.NewString(),
		PositionID:          p.ID,
		AttemptedAt:         now,
		AvailableLongQty:    check.AvailableLongQty,
		AvailableShortQty:   check.AvailableShortQty,
		RequiredQty:         required,
		LiquiditySufficient: check.CanCloseFull,
		AttemptedLongPrice:  exit.LongPrice,
		AttemptedShortPrice: exit.ShortPrice,
		AttemptedSpreadPct:  exit.SpreadPct,
		Success:             success,
		FailureReason:       failureReason,
		PartialClose:        closedQty > 0 && closedQty < required-fullCloseEpsilon,
		ClosedQty:           closedQty,
	}

	if err := m.store.CreateCloseAttempt(ctx, attempt); err != nil {
		return fmt.Errorf("position: record attempt %s: %w", p.ID, err)
	}

	p.CloseAttempts++
	if p.FirstCloseAttempt == nil {
		p.FirstCloseAttempt = &now
	}
	p.LastCloseAttempt = &now

	if err := m.store.UpdatePosition(ctx, *p); err != nil {
		return fmt.Errorf("position: record attempt %s: %w", p.ID, err)
	}
	return nil
}

// NotifyStuck reports a position that repeatedly fails to close.
func (m *Manager) NotifyStuck(ctx context.Context, p *domain.Position) {
	if m.events != nil {
		m.events.PositionStuck(ctx, p)
	}
}

func ptr(v float64) *float64 { return &v }

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
