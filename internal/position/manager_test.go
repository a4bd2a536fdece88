package position

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/random-alex/between-exchanges-arbitrage/internal/domain"
	"github.com/random-alex/between-exchanges-arbitrage/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testManager(t *testing.T) (*Manager, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	cfg := ManagerConfig{
		MinROIPct:            2.0,
		MinSpreadPct:         1.5,
		StopLossPct:          -10.0,
		TargetConvergencePct: 0.1,
		MaxHold:              24 * time.Hour,
	}
	return NewManager(cfg, store, nil, testLogger()), store
}

func testOpportunity() *domain.Opportunity {
	return &domain.Opportunity{
		Symbol:                "BTCUSDT",
		LongExchange:          "bybit",
		LongInstrument:        "BTCUSDT",
		ShortExchange:         "okx",
		ShortInstrument:       "BTC-USDT-SWAP",
		EntryLongPrice:        50000,
		EntryShortPrice:       51000,
		SpreadPct:             2.0,
		RawSpreadPct:          2.1,
		Quantity:              0.1,
		InitialQuantity:       0.1,
		NotionalUSD:           5000,
		MarginUsedUSD:         1000,
		Leverage:              10,
		EntryFeesUSD:          5,
		EstimatedTotalFeesUSD: 10,
		NetProfitUSD:          90,
		ROIPct:                9.0,
		Profitable:            true,
		LongMinQty:            0.001,
		ShortMinQty:           0.001,
		LongQtyStep:           0.001,
		ShortQtyStep:          0.001,
	}
}

func mustOpen(t *testing.T, m *Manager) *domain.Position {
	t.Helper()
	p, err := m.Open(context.Background(), testOpportunity())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return p
}

func TestShouldOpenCriteriaMet(t *testing.T) {
	m, _ := testManager(t)
	ok, reason, err := m.ShouldOpen(context.Background(), testOpportunity())
	if err != nil {
		t.Fatalf("ShouldOpen: %v", err)
	}
	if !ok || reason != "criteria_met" {
		t.Fatalf("ok=%v reason=%q", ok, reason)
	}
}

func TestShouldOpenRejections(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	lowROI := testOpportunity()
	lowROI.ROIPct = 1.0
	if ok, reason, _ := m.ShouldOpen(ctx, lowROI); ok || !strings.HasPrefix(reason, "roi_too_low") {
		t.Errorf("low ROI: ok=%v reason=%q", ok, reason)
	}

	lowSpread := testOpportunity()
	lowSpread.SpreadPct = 1.0
	if ok, reason, _ := m.ShouldOpen(ctx, lowSpread); ok || !strings.HasPrefix(reason, "spread_too_low") {
		t.Errorf("low spread: ok=%v reason=%q", ok, reason)
	}

	tiny := testOpportunity()
	tiny.QuantityAdjusted = true
	tiny.Quantity = 0.0005
	if ok, reason, _ := m.ShouldOpen(ctx, tiny); ok || reason != "quantity_too_small_after_adjustment" {
		t.Errorf("tiny quantity: ok=%v reason=%q", ok, reason)
	}
}

func TestShouldOpenExchangeUniqueness(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()
	mustOpen(t, m)

	// Same symbol reusing either exchange is rejected.
	reuse := testOpportunity()
	reuse.ShortExchange = "binance"
	if ok, reason, _ := m.ShouldOpen(ctx, reuse); ok || reason != "exchanges_already_used_for_symbol" {
		t.Errorf("reused exchange: ok=%v reason=%q", ok, reason)
	}

	// A different symbol on the same exchanges is fine.
	other := testOpportunity()
	other.Symbol = "ETHUSDT"
	if ok, _, _ := m.ShouldOpen(ctx, other); !ok {
		t.Error("different symbol should be allowed")
	}
}

func TestOpenPersistsPosition(t *testing.T) {
	m, store := testManager(t)
	p := mustOpen(t, m)

	if p.ID == "" {
		t.Fatal("missing id")
	}
	if p.Status != domain.PositionStatusOpen {
		t.Errorf("Status = %s", p.Status)
	}
	// Entry fees are half the estimated round trip.
	if p.EntryFeesUSD != 5 {
		t.Errorf("EntryFeesUSD = %v, want 5", p.EntryFeesUSD)
	}
	if p.OpenReason != "roi_9.00_spread_2.0000" {
		t.Errorf("OpenReason = %q", p.OpenReason)
	}

	stored, err := store.GetPosition(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if stored.Symbol != "BTCUSDT" || stored.Quantity != 0.1 {
		t.Errorf("stored position wrong: %+v", stored)
	}
}

func TestOpenDuplicateRace(t *testing.T) {
	m, _ := testManager(t)
	mustOpen(t, m)

	// Open bypasses ShouldOpen here, simulating a lost race; the store's
	// atomic check must reject it.
	_, err := m.Open(context.Background(), testOpportunity())
	if !errors.Is(err, domain.ErrDuplicatePosition) {
		t.Fatalf("expected ErrDuplicatePosition, got %v", err)
	}
}

func TestShouldClose(t *testing.T) {
	m, _ := testManager(t)
	now := time.Now()
	p := &domain.Position{
		CreatedAt:      now.Add(-time.Hour),
		EntrySpreadPct: 2.0,
	}

	// Converged.
	if ok, reason := m.ShouldClose(p, &domain.ExitPricing{SpreadPct: 0.2}, now); !ok || reason != "convergence_target_reached" {
		t.Errorf("convergence: ok=%v reason=%q", ok, reason)
	}

	// Spread widened past stop loss: change = -9 - 2 = -11 <= -10.
	if ok, reason := m.ShouldClose(p, &domain.ExitPricing{SpreadPct: -9.0}, now); !ok || !strings.HasPrefix(reason, "stop_loss_widened") {
		t.Errorf("stop loss: ok=%v reason=%q", ok, reason)
	}

	// Neither rule: hold.
	if ok, _ := m.ShouldClose(p, &domain.ExitPricing{SpreadPct: -1.0}, now); ok {
		t.Error("should hold inside bounds")
	}

	// Max hold.
	old := &domain.Position{CreatedAt: now.Add(-25 * time.Hour), EntrySpreadPct: 2.0}
	if ok, reason := m.ShouldClose(old, &domain.ExitPricing{SpreadPct: -1.0}, now); !ok || reason != "max_hold_time_exceeded" {
		t.Errorf("max hold: ok=%v reason=%q", ok, reason)
	}

	// No quotes: only max hold applies.
	if ok, _ := m.ShouldClose(p, nil, now); ok {
		t.Error("no quotes within hold time should not close")
	}
	if ok, reason := m.ShouldClose(old, nil, now); !ok || reason != "max_hold_time_no_data" {
		t.Errorf("no quotes past hold: ok=%v reason=%q", ok, reason)
	}
}

func TestCloseFull(t *testing.T) {
	m, store := testManager(t)
	p := mustOpen(t, m)

	exit := domain.ExitPricing{
		LongPrice:  50500,
		ShortPrice: 50400,
		SpreadPct:  0.198,
		FeesUSD:    5,
	}
	if err := m.Close(context.Background(), p, &exit, "convergence_target_reached"); err != nil {
		t.Fatalf("Close: %v", err)
	}

	stored, _ := store.GetPosition(context.Background(), p.ID)
	if stored.Status != domain.PositionStatusClosed {
		t.Fatalf("Status = %s", stored.Status)
	}
	if stored.CloseReason == nil || *stored.CloseReason != "convergence_target_reached" {
		t.Errorf("CloseReason = %v", stored.CloseReason)
	}

	// Long: (50500-50000)*0.1 = 50. Short: (51000-50400)*0.1 = 60.
	// Gross 110, fees 5+5, net 100, ROI 100/1000*100 = 10%.
	if stored.GrossProfitUSD == nil || math.Abs(*stored.GrossProfitUSD-110) > 1e-9 {
		t.Errorf("GrossProfitUSD = %v, want 110", stored.GrossProfitUSD)
	}
	if stored.NetProfitUSD == nil || math.Abs(*stored.NetProfitUSD-100) > 1e-9 {
		t.Errorf("NetProfitUSD = %v, want 100", stored.NetProfitUSD)
	}
	if stored.ROIPct == nil || math.Abs(*stored.ROIPct-10) > 1e-9 {
		t.Errorf("ROIPct = %v, want 10", stored.ROIPct)
	}
}

func TestCloseWithoutQuotes(t *testing.T) {
	m, store := testManager(t)
	p := mustOpen(t, m)

	if err := m.Close(context.Background(), p, nil, "max_hold_time_no_data"); err != nil {
		t.Fatalf("Close: %v", err)
	}

	stored, _ := store.GetPosition(context.Background(), p.ID)
	if stored.Status != domain.PositionStatusClosed {
		t.Fatalf("Status = %s", stored.Status)
	}
	// Closing at entry prices realizes no gross profit; fees still count.
	if stored.GrossProfitUSD == nil || *stored.GrossProfitUSD != 0 {
		t.Errorf("GrossProfitUSD = %v, want 0", stored.GrossProfitUSD)
	}
	if stored.ExitLongPrice == nil || *stored.ExitLongPrice != p.EntryLongPrice {
		t.Errorf("ExitLongPrice = %v, want entry", stored.ExitLongPrice)
	}
}

func TestClosePartialChunks(t *testing.T) {
	m, store := testManager(t)
	p := mustOpen(t, m)
	ctx := context.Background()

	exit := domain.ExitPricing{LongPrice: 50500, ShortPrice: 50400, SpreadPct: 0.198, FeesUSD: 5}

	// 30%, then 40%, then the remaining 30%.
	full, err := m.ClosePartial(ctx, p, 0.03, exit, "partial_1")
	if err != nil || full {
		t.Fatalf("chunk 1: full=%v err=%v", full, err)
	}
	if p.Status != domain.PositionStatusPartiallyClosed {
		t.Fatalf("Status = %s", p.Status)
	}
	if math.Abs(p.OpenQuantity()-0.07) > 1e-9 {
		t.Fatalf("remaining = %v, want 0.07", p.OpenQuantity())
	}

	full, err = m.ClosePartial(ctx, p, 0.04, exit, "partial_2")
	if err != nil || full {
		t.Fatalf("chunk 2: full=%v err=%v", full, err)
	}
	if math.Abs(p.OpenQuantity()-0.03) > 1e-9 {
		t.Fatalf("remaining = %v, want 0.03", p.OpenQuantity())
	}

	full, err = m.ClosePartial(ctx, p, p.OpenQuantity(), exit, "partial_3")
	if err != nil {
		t.Fatalf("chunk 3: %v", err)
	}
	if !full {
		t.Fatal("final chunk should fully close")
	}

	stored, _ := store.GetPosition(ctx, p.ID)
	if stored.Status != domain.PositionStatusClosed {
		t.Fatalf("Status = %s", stored.Status)
	}
	if stored.RemainingQuantity == nil || *stored.RemainingQuantity != 0 {
		t.Errorf("RemainingQuantity = %v, want 0", stored.RemainingQuantity)
	}

	// Accumulated totals must match a single full close at the same exit.
	if stored.GrossProfitUSD == nil || math.Abs(*stored.GrossProfitUSD-110) > 1e-6 {
		t.Errorf("accumulated GrossProfitUSD = %v, want 110", stored.GrossProfitUSD)
	}
	if stored.NetProfitUSD == nil || math.Abs(*stored.NetProfitUSD-100) > 1e-6 {
		t.Errorf("accumulated NetProfitUSD = %v, want 100", stored.NetProfitUSD)
	}
}

func TestClosePartialRejectsBadQuantity(t *testing.T) {
	m, _ := testManager(t)
	p := mustOpen(t, m)
	exit := domain.ExitPricing{LongPrice: 50500, ShortPrice: 50400}

	if _, err := m.ClosePartial(context.Background(), p, 0, exit, "x"); err == nil {
		t.Error("zero quantity should error")
	}
	if _, err := m.ClosePartial(context.Background(), p, 0.2, exit, "x"); err == nil {
		t.Error("quantity above remaining should error")
	}
}

func TestForceCloseAppliesSlippageAndPrefix(t *testing.T) {
	m, store := testManager(t)
	p := mustOpen(t, m)

	exit := domain.ExitPricing{LongPrice: 50500, ShortPrice: 50400, SpreadPct: 0.198, FeesUSD: 5}

	// Position qty 0.1 against 0.05 available on each side: 100% overage,
	// 1% slippage per leg.
	err := m.ForceClose(context.Background(), p, exit, 0.05, 0.05, "max_hold_time_exceeded")
	if err != nil {
		t.Fatalf("ForceClose: %v", err)
	}

	stored, _ := store.GetPosition(context.Background(), p.ID)
	if stored.Status != domain.PositionStatusClosed {
		t.Fatalf("Status = %s", stored.Status)
	}
	if stored.CloseReason == nil || *stored.CloseReason != "forced_max_hold_time_exceeded" {
		t.Errorf("CloseReason = %v", stored.CloseReason)
	}
	if stored.ExitLongPrice == nil || math.Abs(*stored.ExitLongPrice-50500*0.99) > 1e-6 {
		t.Errorf("ExitLongPrice = %v, want slipped down 1%%", stored.ExitLongPrice)
	}
	if stored.ExitShortPrice == nil || math.Abs(*stored.ExitShortPrice-50400*1.01) > 1e-6 {
		t.Errorf("ExitShortPrice = %v, want slipped up 1%%", stored.ExitShortPrice)
	}
}

func TestCloseLegAsymmetric(t *testing.T) {
	m, store := testManager(t)
	p := mustOpen(t, m)
	ctx := context.Background()

	if err := m.CloseLeg(ctx, p, LongLeg, 50500, "venue_halted"); err != nil {
		t.Fatalf("CloseLeg long: %v", err)
	}
	if p.Status != domain.PositionStatusPartialLegClosed {
		t.Fatalf("Status = %s", p.Status)
	}
	if !p.LongLegClosed || p.ShortLegClosed {
		t.Fatalf("leg flags wrong: %+v", p)
	}

	// Still counted as open for monitoring.
	open, _ := store.GetOpenPositions(ctx)
	if len(open) != 1 {
		t.Fatalf("open positions = %d, want 1", len(open))
	}

	if err := m.CloseLeg(ctx, p, LongLeg, 50500, "again"); err == nil {
		t.Error("double close of a leg should error")
	}

	if err := m.CloseLeg(ctx, p, ShortLeg, 50400, "venue_halted"); err != nil {
		t.Fatalf("CloseLeg short: %v", err)
	}
	if p.Status != domain.PositionStatusClosed {
		t.Fatalf("Status = %s", p.Status)
	}
	// Long: (50500-50000)*0.1 = 50; short: (51000-50400)*0.1 = 60.
	if p.GrossProfitUSD == nil || math.Abs(*p.GrossProfitUSD-110) > 1e-9 {
		t.Errorf("GrossProfitUSD = %v, want 110", p.GrossProfitUSD)
	}
}

func TestRecordCloseAttempt(t *testing.T) {
	m, store := testManager(t)
	p := mustOpen(t, m)
	ctx := context.Background()

	check := LiquidityCheck{
		AvailableLongQty:  0.05,
		AvailableShortQty: 0.05,
		CanCloseFull:      false,
		Strategy:          CloseWait,
	}
	exit := domain.ExitPricing{LongPrice: 50050, ShortPrice: 50000, SpreadPct: 0.1}

	err := m.RecordCloseAttempt(ctx, p, check, exit, false, "insufficient_liquidity", 0)
	if err != nil {
		t.Fatalf("RecordCloseAttempt: %v", err)
	}

	if p.CloseAttempts != 1 {
		t.Errorf("CloseAttempts = %d", p.CloseAttempts)
	}
	if p.FirstCloseAttempt == nil || p.LastCloseAttempt == nil {
		t.Error("attempt timestamps not set")
	}

	attempts, err := store.GetCloseAttempts(ctx, p.ID, 0)
	if err != nil {
		t.Fatalf("GetCloseAttempts: %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(attempts))
	}
	a := attempts[0]
	if a.Success || a.FailureReason != "insufficient_liquidity" {
		t.Errorf("attempt fields wrong: %+v", a)
	}
	if a.LiquiditySufficient {
		t.Error("LiquiditySufficient should be false")
	}
	if a.RequiredQty != 0.1 {
		t.Errorf("RequiredQty = %v, want 0.1", a.RequiredQty)
	}
}
