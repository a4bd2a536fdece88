// Package engine detects arbitrage opportunities: it pairs live quotes for
// the same normalized instrument across exchanges, prices each pair with
// slippage, fees, and exchange lot constraints, and hands viable
// opportunities to the position layer.
package engine

import (
	"math"
	"time"

	"github.com/random-alex/between-exchanges-arbitrage/internal/domain"
	"github.com/random-alex/between-exchanges-arbitrage/internal/position"
)

// quantityEpsilon separates a real lot-size adjustment from float noise.
const quantityEpsilon = 1e-10

// stepEpsilon keeps floor division from eating a whole step when the
// quantity already sits on the step grid: 0.3/0.1 is 2.999... in floats.
const stepEpsilon = 1e-9

// PricingParams configure opportunity pricing.
type PricingParams struct {
	// CapitalUSD is the total capital available for one opportunity,
	// split evenly between the two legs.
	CapitalUSD float64
	Leverage   float64

	// FixedSlippagePct disables dynamic slippage when non-nil.
	FixedSlippagePct *float64

	// MinSpreadThresholdPct filters out spreads not worth pricing.
	MinSpreadThresholdPct float64
}

// DynamicSlippage estimates slippage from the order's share of available
// level-1 liquidity. Zero liquidity gets the worst-case estimate.
func DynamicSlippage(notionalUSD, liquidityUSD float64) float64 {
	if liquidityUSD == 0 {
		return 0.5
	}

	ratio := notionalUSD / liquidityUSD
	switch {
	case ratio < 0.01:
		return 0.01
	case ratio < 0.05:
		return 0.05
	case ratio < 0.10:
		return 0.10
	default:
		return math.Min(0.20+(ratio-0.10)*2, 0.50)
	}
}

// NormalizeQuantity rounds quantity down to the coarser of the two
// exchanges' quantity steps and rejects it if it falls below the larger
// minimum order size. ok is false when no valid quantity exists.
func NormalizeQuantity(quantity float64, longSpec, shortSpec domain.InstrumentSpec) (float64, bool) {
	minQty := math.Max(longSpec.MinOrderQty, shortSpec.MinOrderQty)
	if quantity < minQty {
		return 0, false
	}

	step := math.Max(longSpec.QtyStep, shortSpec.QtyStep)
	adjusted := quantity
	if step > 0 {
		adjusted = math.Floor(quantity/step+stepEpsilon) * step
	}

	if adjusted < minQty {
		return 0, false
	}
	return adjusted, true
}

// CalculateSpread prices the arbitrage between two quotes of the same
// normalized instrument. It returns nil when there is no crossed market, the
// raw spread is below threshold, or no lot-valid quantity exists. The caller
// guarantees a and b come from different exchanges.
func CalculateSpread(a, b domain.Quote, aSpec, bSpec domain.InstrumentSpec, params PricingParams) *domain.Opportunity {
	var (
		longQuote, shortQuote domain.Quote
		longSpec, shortSpec   domain.InstrumentSpec
	)

	// The long leg buys at one venue's ask, the short leg sells at the
	// other's bid; the market must be crossed in one direction.
	switch {
	case a.AskPrice < b.BidPrice:
		longQuote, shortQuote = a, b
		longSpec, shortSpec = aSpec, bSpec
	case b.AskPrice < a.BidPrice:
		longQuote, shortQuote = b, a
		longSpec, shortSpec = bSpec, aSpec
	default:
		return nil
	}

	baseBuy := longQuote.AskPrice
	baseSell := shortQuote.BidPrice

	rawSpreadPct := (baseSell - baseBuy) / baseBuy * 100
	if rawSpreadPct < params.MinSpreadThresholdPct {
		return nil
	}

	// Liquidity is checked only on the sides actually traded: the long
	// leg lifts the ask, the short leg hits the bid.
	buyLiquidity := longQuote.AskQty * longSpec.ContractSize * longQuote.AskPrice
	sellLiquidity := shortQuote.BidQty * shortSpec.ContractSize * shortQuote.BidPrice
	liquidity := math.Min(buyLiquidity, sellLiquidity)

	maxNotional := params.CapitalUSD / 2 * params.Leverage
	notional := math.Min(maxNotional, liquidity)

	var slippagePct float64
	if params.FixedSlippagePct != nil {
		slippagePct = *params.FixedSlippagePct
	} else {
		slippagePct = DynamicSlippage(notional, liquidity)
	}

	buyPrice := baseBuy * (1 + slippagePct/100)
	sellPrice := baseSell * (1 - slippagePct/100)

	initialQty := notional / buyPrice
	quantity, ok := NormalizeQuantity(initialQty, longSpec, shortSpec)
	if !ok {
		return nil
	}
	notional = quantity * buyPrice

	grossProfit := (sellPrice - buyPrice) * quantity
	entryFees := position.Fees(quantity, buyPrice, sellPrice, longSpec.FeePct, shortSpec.FeePct)

	// Exit fees are unknown at detection time; assume a symmetric exit.
	estimatedTotalFees := entryFees * 2
	netProfit := grossProfit - estimatedTotalFees

	marginUsed := notional / params.Leverage * 2
	roi := netProfit / marginUsed * 100

	return &domain.Opportunity{
		Symbol:                a.NormalizedID,
		DetectedAt:            time.Now().UTC(),
		LongExchange:          longQuote.Exchange,
		LongInstrument:        longQuote.InstrumentID,
		ShortExchange:         shortQuote.Exchange,
		ShortInstrument:       shortQuote.InstrumentID,
		EntryLongPrice:        buyPrice,
		EntryShortPrice:       sellPrice,
		RawSpreadPct:          rawSpreadPct,
		SpreadPct:             (sellPrice - buyPrice) / buyPrice * 100,
		SlippagePct:           slippagePct,
		Quantity:              quantity,
		InitialQuantity:       initialQty,
		QuantityAdjusted:      math.Abs(quantity-initialQty) > quantityEpsilon,
		NotionalUSD:           notional,
		MarginUsedUSD:         marginUsed,
		LiquidityUSD:          liquidity,
		Leverage:              params.Leverage,
		EntryFeesUSD:          entryFees,
		EstimatedTotalFeesUSD: estimatedTotalFees,
		GrossProfitUSD:        grossProfit,
		NetProfitUSD:          netProfit,
		ROIPct:                roi,
		Profitable:            netProfit > 0,
		LongMinQty:            longSpec.MinOrderQty,
		ShortMinQty:           shortSpec.MinOrderQty,
		LongQtyStep:           longSpec.QtyStep,
		ShortQtyStep:          shortSpec.QtyStep,
	}
}
