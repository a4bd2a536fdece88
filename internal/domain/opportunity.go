package domain

import "time"

// Opportunity is a priced, fee- and slippage-adjusted arbitrage opportunity
// between two venues for one normalized instrument. It lives only for the
// detection cycle that produced it; a successful open decision copies its
// fields into a Position.
type Opportunity struct {
	Symbol       string
	DetectedAt   time.Time
	LongExchange string
	// LongInstrument is the venue-native instrument id on the long exchange.
	LongInstrument  string
	ShortExchange   string
	ShortInstrument string

	// EntryLongPrice and EntryShortPrice are slippage-adjusted: buy price
	// widened upward, sell price widened downward.
	EntryLongPrice  float64
	EntryShortPrice float64

	RawSpreadPct float64
	SpreadPct    float64
	SlippagePct  float64

	// Quantity is the venue-normalized order size; InitialQuantity is the
	// size before step/minimum adjustment. QuantityAdjusted reports whether
	// the two differ, so the open decision can reject marginal sizes.
	Quantity         float64
	InitialQuantity  float64
	QuantityAdjusted bool

	NotionalUSD   float64
	MarginUsedUSD float64
	LiquidityUSD  float64
	Leverage      float64

	// EntryFeesUSD is the one-way cost of putting both legs on.
	// EstimatedTotalFeesUSD assumes exit fees equal to entry fees.
	EntryFeesUSD          float64
	EstimatedTotalFeesUSD float64

	GrossProfitUSD float64
	NetProfitUSD   float64
	ROIPct         float64
	Profitable     bool

	// Venue constraints cached from the instrument specs at detection time.
	LongMinQty   float64
	ShortMinQty  float64
	LongQtyStep  float64
	ShortQtyStep float64
}

// ExitPricing carries the current exit-side prices for an open position:
// the bid on the long leg (we sell to close) and the ask on the short leg
// (we buy to close).
type ExitPricing struct {
	LongPrice  float64
	ShortPrice float64
	SpreadPct  float64
	// FeesUSD is the estimated one-way exit fee for both legs at these prices.
	FeesUSD float64
}

// ExitResult is the outcome of pricing a close (full or partial chunk).
type ExitResult struct {
	ExitLongPrice  float64
	ExitShortPrice float64
	ExitSpreadPct  float64
	GrossProfitUSD float64
	ExitFeesUSD    float64
	TotalFeesUSD   float64
	NetProfitUSD   float64
	ROIPct         float64
}
