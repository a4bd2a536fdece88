package position

import (
	"math"
	"testing"
)

func TestFees(t *testing.T) {
	// qty 10, both legs at 100, 0.1% per leg: 1 + 1 = 2.
	if got := Fees(10, 100, 100, 0.1, 0.1); math.Abs(got-2.0) > 1e-12 {
		t.Fatalf("Fees = %v, want 2.0", got)
	}

	// Asymmetric prices and fees charge each leg on its own notional.
	got := Fees(10, 105, 100, 0.1, 0.05)
	// 10*105*0.001 + 10*100*0.0005 = 1.05 + 0.5 = 1.55.
	if math.Abs(got-1.55) > 1e-12 {
		t.Fatalf("Fees = %v, want 1.55", got)
	}
}

func TestFeesLinearInQuantity(t *testing.T) {
	base := Fees(1, 100, 101, 0.1, 0.05)
	for _, mult := range []float64{2, 5, 10} {
		got := Fees(mult, 100, 101, 0.1, 0.05)
		if math.Abs(got-base*mult) > 1e-9 {
			t.Fatalf("Fees not linear at %vx: %v vs %v", mult, got, base*mult)
		}
	}
}

func TestLegPnL(t *testing.T) {
	// Long: bought at 100, sold at 105.
	if got := LegPnL(10, 100, 105, true); got != 50 {
		t.Errorf("long LegPnL = %v, want 50", got)
	}
	// Short: sold at 105, bought back at 100.
	if got := LegPnL(10, 105, 100, false); got != 50 {
		t.Errorf("short LegPnL = %v, want 50", got)
	}
	// Losing directions.
	if got := LegPnL(10, 105, 100, true); got != -50 {
		t.Errorf("losing long LegPnL = %v, want -50", got)
	}
	if got := LegPnL(10, 100, 105, false); got != -50 {
		t.Errorf("losing short LegPnL = %v, want -50", got)
	}
}

func TestPnL(t *testing.T) {
	// Long entered 100 exits 100.5 (+0.5/unit); short entered 101 exits
	// 100.5 (+0.5/unit); qty 10 gives gross 10. Fees 2+2, margin 20.
	res := PnL(10, 100, 101, 100.5, 100.5, 2, 2, 20)

	if math.Abs(res.GrossProfitUSD-10) > 1e-9 {
		t.Errorf("GrossProfitUSD = %v, want 10", res.GrossProfitUSD)
	}
	if math.Abs(res.NetProfitUSD-6) > 1e-9 {
		t.Errorf("NetProfitUSD = %v, want 6", res.NetProfitUSD)
	}
	if math.Abs(res.ROIPct-30) > 1e-9 {
		t.Errorf("ROIPct = %v, want 30", res.ROIPct)
	}
	if math.Abs(res.TotalFeesUSD-4) > 1e-9 {
		t.Errorf("TotalFeesUSD = %v, want 4", res.TotalFeesUSD)
	}
	// Exit spread: both legs at 100.5 means full convergence.
	if math.Abs(res.ExitSpreadPct) > 1e-9 {
		t.Errorf("ExitSpreadPct = %v, want 0", res.ExitSpreadPct)
	}
}

func TestPnLZeroMargin(t *testing.T) {
	res := PnL(10, 100, 101, 100.5, 100.5, 2, 2, 0)
	if res.ROIPct != 0 {
		t.Fatalf("ROIPct with zero margin = %v, want 0", res.ROIPct)
	}
}
