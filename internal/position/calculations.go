// Package position owns the simulated position lifecycle: opening validated
// opportunities, monitoring open positions against live quotes, closing them
// fully or partially when exit conditions or liquidity allow, and recording
// every close attempt for the audit trail.
package position

import "github.com/random-alex/between-exchanges-arbitrage/internal/domain"

// Fees computes one-way fees for a two-leg order, each leg charged on its own
// notional.
func Fees(quantity, longPrice, shortPrice, longFeePct, shortFeePct float64) float64 {
	longFee := quantity * longPrice * longFeePct / 100
	shortFee := quantity * shortPrice * shortFeePct / 100
	return longFee + shortFee
}

// LegPnL computes the profit of one leg before fees. A long leg buys at entry
// and sells at exit; a short leg sells at entry and buys back at exit.
func LegPnL(quantity, entryPrice, exitPrice float64, isLong bool) float64 {
	if isLong {
		return (exitPrice - entryPrice) * quantity
	}
	return (entryPrice - exitPrice) * quantity
}

// PnL computes the full breakdown for a closed (or partially closed) slice of
// a position.
func PnL(quantity, entryLong, entryShort, exitLong, exitShort, entryFees, exitFees, margin float64) domain.ExitResult {
	gross := LegPnL(quantity, entryLong, exitLong, true) +
		LegPnL(quantity, entryShort, exitShort, false)

	totalFees := entryFees + exitFees
	net := gross - totalFees

	roi := 0.0
	if margin > 0 {
		roi = net / margin * 100
	}

	return domain.ExitResult{
		ExitLongPrice:  exitLong,
		ExitShortPrice: exitShort,
		ExitSpreadPct:  (exitLong - exitShort) / exitShort * 100,
		GrossProfitUSD: gross,
		ExitFeesUSD:    exitFees,
		TotalFeesUSD:   totalFees,
		NetProfitUSD:   net,
		ROIPct:         roi,
	}
}
