package position

import (
	"math"
	"testing"
	"time"

	"github.com/random-alex/between-exchanges-arbitrage/internal/domain"
)

func liquidityPosition(qty float64) *domain.Position {
	return &domain.Position{
		ID:       "pos-1",
		Quantity: qty,
	}
}

func quoteWithDepth(bidQty, askQty float64) (domain.Quote, domain.Quote) {
	long := domain.Quote{BidPrice: 50000, BidQty: bidQty, AskPrice: 50010, AskQty: bidQty}
	short := domain.Quote{BidPrice: 50050, BidQty: askQty, AskPrice: 50060, AskQty: askQty}
	return long, short
}

func TestValidateCloseLiquidityFull(t *testing.T) {
	spec := domain.InstrumentSpec{MinOrderQty: 0.001, QtyStep: 0.001}
	long, short := quoteWithDepth(1.0, 1.0)

	check := ValidateCloseLiquidity(liquidityPosition(0.1), long, short, spec, spec)

	if check.Strategy != CloseFull || !check.CanCloseFull {
		t.Fatalf("expected full close, got %+v", check)
	}
	if check.LiquidityRatio < 1.0 {
		t.Errorf("LiquidityRatio = %v, want >= 1", check.LiquidityRatio)
	}
}

func TestValidateCloseLiquidityPartial(t *testing.T) {
	spec := domain.InstrumentSpec{MinOrderQty: 0.001, QtyStep: 0.001}
	long, short := quoteWithDepth(0.05, 0.05)

	check := ValidateCloseLiquidity(liquidityPosition(0.1), long, short, spec, spec)

	if check.Strategy != ClosePartial {
		t.Fatalf("expected partial, got %s", check.Strategy)
	}
	if check.CanCloseFull || !check.CanClosePartial {
		t.Errorf("flags wrong: %+v", check)
	}
	if math.Abs(check.LiquidityRatio-0.5) > 1e-9 {
		t.Errorf("LiquidityRatio = %v, want 0.5", check.LiquidityRatio)
	}
	if math.Abs(check.MaxCloseableQty-0.05) > 1e-9 {
		t.Errorf("MaxCloseableQty = %v, want 0.05", check.MaxCloseableQty)
	}
}

func TestValidateCloseLiquidityWait(t *testing.T) {
	spec := domain.InstrumentSpec{MinOrderQty: 0.001, QtyStep: 0.001}
	long, short := quoteWithDepth(0.0005, 0.0005)

	check := ValidateCloseLiquidity(liquidityPosition(0.1), long, short, spec, spec)

	if check.Strategy != CloseWait {
		t.Fatalf("expected wait, got %s", check.Strategy)
	}
	if check.CanCloseFull || check.CanClosePartial {
		t.Errorf("flags wrong: %+v", check)
	}
	if math.Abs(check.MaxCloseableQty-0.0005) > 1e-9 {
		t.Errorf("MaxCloseableQty = %v, want 0.0005", check.MaxCloseableQty)
	}
}

func TestValidateCloseLiquidityAsymmetric(t *testing.T) {
	spec := domain.InstrumentSpec{MinOrderQty: 0.001, QtyStep: 0.001}
	// Deep long bid, thin short ask.
	long, short := quoteWithDepth(1.0, 0.02)

	check := ValidateCloseLiquidity(liquidityPosition(0.1), long, short, spec, spec)

	if check.Strategy != ClosePartial {
		t.Fatalf("expected partial, got %s", check.Strategy)
	}
	if check.LongRatio < 1.0 {
		t.Errorf("LongRatio = %v, want >= 1", check.LongRatio)
	}
	if math.Abs(check.ShortRatio-0.2) > 1e-9 {
		t.Errorf("ShortRatio = %v, want 0.2", check.ShortRatio)
	}
	if math.Abs(check.LiquidityRatio-0.2) > 1e-9 {
		t.Errorf("LiquidityRatio = %v, want 0.2 (short side limits)", check.LiquidityRatio)
	}
}

func TestValidateCloseLiquidityUsesRemainingQuantity(t *testing.T) {
	spec := domain.InstrumentSpec{MinOrderQty: 0.001, QtyStep: 0.001}
	p := liquidityPosition(0.1)
	remaining := 0.04
	p.RemainingQuantity = &remaining

	long, short := quoteWithDepth(0.05, 0.05)
	check := ValidateCloseLiquidity(p, long, short, spec, spec)

	if check.Strategy != CloseFull {
		t.Fatalf("remaining 0.04 against depth 0.05 should close full, got %s", check.Strategy)
	}
}

func TestEstimateSlippage(t *testing.T) {
	cases := []struct {
		name      string
		qty       float64
		available float64
		want      float64
	}{
		{"fits in book", 0.1, 1.0, 0},
		{"exact fit", 1.0, 1.0, 0},
		{"50% overage", 1.5, 1.0, 0.5},
		{"100% overage", 2.0, 1.0, 1.0},
		{"capped at 2%", 10.0, 1.0, 2.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := EstimateSlippage(tc.qty, tc.available)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("EstimateSlippage(%v, %v) = %v, want %v",
					tc.qty, tc.available, got, tc.want)
			}
		})
	}
}

func TestNextRetryDelay(t *testing.T) {
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 0},
		{1, 30 * time.Second},
		{2, 45 * time.Second},
		{3, 67500 * time.Millisecond},
		{100, 10 * time.Minute},
	}
	for _, tc := range cases {
		if got := NextRetryDelay(tc.attempts); got != tc.want {
			t.Errorf("NextRetryDelay(%d) = %s, want %s", tc.attempts, got, tc.want)
		}
	}

	// Delays never decrease and never exceed the cap.
	prev := time.Duration(0)
	for attempts := 1; attempts <= 20; attempts++ {
		d := NextRetryDelay(attempts)
		if d < prev {
			t.Fatalf("delay decreased at attempt %d: %s < %s", attempts, d, prev)
		}
		if d > 10*time.Minute {
			t.Fatalf("delay exceeds cap at attempt %d: %s", attempts, d)
		}
		prev = d
	}
}

func TestCanRetryClose(t *testing.T) {
	now := time.Now()

	// No attempts yet: retry immediately.
	p := liquidityPosition(0.1)
	if ok, wait := CanRetryClose(p, now); !ok || wait != 0 {
		t.Fatalf("fresh position: ok=%v wait=%s", ok, wait)
	}

	// One failed attempt 10s ago: 30s backoff still running.
	last := now.Add(-10 * time.Second)
	p.CloseAttempts = 1
	p.LastCloseAttempt = &last
	ok, wait := CanRetryClose(p, now)
	if ok {
		t.Fatal("expected backoff to block retry")
	}
	if wait <= 0 || wait > 20*time.Second {
		t.Fatalf("wait = %s, want ~20s", wait)
	}

	// Same attempt 35s ago: backoff expired.
	last = now.Add(-35 * time.Second)
	p.LastCloseAttempt = &last
	if ok, _ := CanRetryClose(p, now); !ok {
		t.Fatal("expected retry after backoff expiry")
	}
}

func TestRetryPolicyCustomBackoff(t *testing.T) {
	rp := RetryPolicy{InitialDelay: time.Second, Multiplier: 2, MaxDelay: 4 * time.Second}

	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 4 * time.Second},
	}
	for _, tc := range cases {
		if got := rp.NextDelay(tc.attempts); got != tc.want {
			t.Errorf("NextDelay(%d) = %s, want %s", tc.attempts, got, tc.want)
		}
	}
}
