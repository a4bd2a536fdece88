package domain

import "time"

// PositionStatus tracks where a position is in its lifecycle.
type PositionStatus string

const (
	PositionStatusOpen PositionStatus = "open"
	// PositionStatusPartiallyClosed means part of the quantity was closed on
	// both legs; RemainingQuantity holds what is still open.
	PositionStatusPartiallyClosed PositionStatus = "partially_closed"
	// PositionStatusPartialLegClosed means one leg closed while the other is
	// still open, leaving unhedged exposure.
	PositionStatusPartialLegClosed PositionStatus = "partial_leg_closed"
	PositionStatusClosed           PositionStatus = "closed"
)

// Terminal reports whether the status is final.
func (s PositionStatus) Terminal() bool {
	return s == PositionStatusClosed
}

// OpenStatuses are the statuses a position can hold while it still needs
// monitoring. Every store query for "open" positions must include all three.
var OpenStatuses = []PositionStatus{
	PositionStatusOpen,
	PositionStatusPartiallyClosed,
	PositionStatusPartialLegClosed,
}

// Position is the durable unit of risk: a long leg on one exchange hedged by
// a short leg on another. Positions are created by the lifecycle manager on a
// successful open decision and mutated only by it; they are never deleted,
// only transitioned to closed.
type Position struct {
	ID        string
	CreatedAt time.Time

	Symbol string

	LongExchange    string
	ShortExchange   string
	LongInstrument  string
	ShortInstrument string

	EntryLongPrice  float64
	EntryShortPrice float64
	EntrySpreadPct  float64

	Quantity      float64
	NotionalUSD   float64
	MarginUsedUSD float64
	Leverage      float64

	EntryFeesUSD float64
	// ExitFeesUSD accumulates across partial closes.
	ExitFeesUSD  *float64
	TotalFeesUSD *float64

	// Venue constraints cached at entry so partial closes can be normalized
	// without a spec lookup.
	EntryLongMinQty   float64
	EntryShortMinQty  float64
	EntryLongQtyStep  float64
	EntryShortQtyStep float64

	Status PositionStatus

	// RemainingQuantity is nil until the first partial close, then holds the
	// still-open quantity. Invariant: 0 <= *RemainingQuantity <= Quantity.
	RemainingQuantity *float64

	// Close-attempt bookkeeping for the retry/backoff scheduler.
	CloseAttempts      int
	FirstCloseAttempt  *time.Time
	LastCloseAttempt   *time.Time
	LiquidityWarnings  int

	// Per-leg close state for asymmetric closes.
	LongLegClosed    bool
	ShortLegClosed   bool
	LongLegClosedAt  *time.Time
	ShortLegClosedAt *time.Time

	ClosedAt       *time.Time
	ExitLongPrice  *float64
	ExitShortPrice *float64
	ExitSpreadPct  *float64

	GrossProfitUSD *float64
	NetProfitUSD   *float64
	ROIPct         *float64

	OpenReason  string
	CloseReason *string
}

// OpenQuantity returns how much of the position still needs closing.
func (p *Position) OpenQuantity() float64 {
	if p.RemainingQuantity != nil {
		return *p.RemainingQuantity
	}
	return p.Quantity
}

// Age returns how long the position has been open.
func (p *Position) Age(now time.Time) time.Duration {
	return now.Sub(p.CreatedAt)
}

// CloseAttempt is an immutable audit record of one attempt to close a
// position, successful or not. Append-only.
type CloseAttempt struct {
	ID          string
	PositionID  string
	AttemptedAt time.Time

	// Level-1 liquidity snapshot at the time of the attempt.
	AvailableLongQty    float64
	AvailableShortQty   float64
	RequiredQty         float64
	LiquiditySufficient bool

	AttemptedLongPrice  float64
	AttemptedShortPrice float64
	AttemptedSpreadPct  float64

	Success       bool
	FailureReason string

	PartialClose bool
	ClosedQty    float64
}

// PositionStats aggregates outcomes across the whole position history.
type PositionStats struct {
	OpenPositions   int
	ClosedPositions int
	TotalNetPnLUSD  float64
	WinRatePct      float64
	AvgROIPct       float64
}
