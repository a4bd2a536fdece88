package position

import (
	"math"
	"time"

	"github.com/random-alex/between-exchanges-arbitrage/internal/domain"
)

// CloseStrategy is the liquidity verdict for one close attempt.
type CloseStrategy string

const (
	// CloseFull means both legs can absorb the whole remaining quantity.
	CloseFull CloseStrategy = "full"
	// ClosePartial means only part of the quantity is closeable, but that
	// part meets both venues' minimum order size.
	ClosePartial CloseStrategy = "partial"
	// CloseWait means the closeable quantity is below the minimum order
	// size; nothing can be done this cycle.
	CloseWait CloseStrategy = "wait"
)

// Default retry backoff for failed close attempts. The first attempt is
// free; after that the wait grows geometrically up to the cap.
const (
	closeRetryInitialDelay = 30 * time.Second
	closeRetryMultiplier   = 1.5
	closeRetryMaxDelay     = 10 * time.Minute
)

// RetryPolicy shapes the backoff between failed close attempts.
type RetryPolicy struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryPolicy returns the standard close-retry backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialDelay: closeRetryInitialDelay,
		Multiplier:   closeRetryMultiplier,
		MaxDelay:     closeRetryMaxDelay,
	}
}

// NextDelay returns how long to wait after the given number of failed close
// attempts: initial * multiplier^(attempts-1), capped.
func (rp RetryPolicy) NextDelay(attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}

	delay := float64(rp.InitialDelay) * math.Pow(rp.Multiplier, float64(attempts-1))
	return time.Duration(math.Min(delay, float64(rp.MaxDelay)))
}

// CanRetry reports whether enough time has passed since the last close
// attempt, and if not, how long remains.
func (rp RetryPolicy) CanRetry(p *domain.Position, now time.Time) (bool, time.Duration) {
	if p.CloseAttempts == 0 || p.LastCloseAttempt == nil {
		return true, 0
	}

	nextAt := p.LastCloseAttempt.Add(rp.NextDelay(p.CloseAttempts))
	if now.Before(nextAt) {
		return false, nextAt.Sub(now)
	}
	return true, 0
}

// LiquidityCheck is the level-1 liquidity assessment for closing a position:
// the long leg sells into the long exchange's bid, the short leg buys from
// the short exchange's ask.
type LiquidityCheck struct {
	Strategy CloseStrategy

	CanCloseFull    bool
	CanClosePartial bool

	AvailableLongQty  float64
	AvailableShortQty float64
	MaxCloseableQty   float64

	// Ratios of available to required quantity, per leg and combined.
	LongRatio      float64
	ShortRatio     float64
	LiquidityRatio float64

	Warning string
}

// ValidateCloseLiquidity checks whether the position's remaining quantity can
// be closed against the current level-1 book on both legs.
func ValidateCloseLiquidity(p *domain.Position, longQuote, shortQuote domain.Quote, longSpec, shortSpec domain.InstrumentSpec) LiquidityCheck {
	required := p.OpenQuantity()

	availableLong := longQuote.BidQty
	availableShort := shortQuote.AskQty

	canCloseFull := availableLong >= required && availableShort >= required
	maxCloseable := math.Min(availableLong, availableShort)

	minOrderQty := math.Max(longSpec.MinOrderQty, shortSpec.MinOrderQty)
	canClosePartial := maxCloseable >= minOrderQty && maxCloseable < required

	longRatio, shortRatio := 1.0, 1.0
	if required > 0 {
		longRatio = availableLong / required
		shortRatio = availableShort / required
	}
	liquidityRatio := math.Min(longRatio, shortRatio)

	check := LiquidityCheck{
		CanCloseFull:      canCloseFull,
		CanClosePartial:   canClosePartial,
		AvailableLongQty:  availableLong,
		AvailableShortQty: availableShort,
		MaxCloseableQty:   maxCloseable,
		LongRatio:         longRatio,
		ShortRatio:        shortRatio,
		LiquidityRatio:    liquidityRatio,
	}

	switch {
	case canCloseFull:
		check.Strategy = CloseFull
	case canClosePartial:
		check.Strategy = ClosePartial
		check.Warning = "insufficient liquidity for full close"
	default:
		check.Strategy = CloseWait
		check.Warning = "closeable quantity below minimum order size"
	}
	return check
}

// EstimateSlippage estimates the extra cost of pushing a close through a
// level-1 book thinner than the order: 0.01% per 1% of overage, capped at 2%.
func EstimateSlippage(positionQty, availableQty float64) float64 {
	if positionQty <= availableQty {
		return 0
	}

	overagePct := (positionQty - availableQty) / availableQty * 100
	return math.Min(overagePct*0.01, 2.0)
}

// NextRetryDelay is RetryPolicy.NextDelay under the default policy.
func NextRetryDelay(attempts int) time.Duration {
	return DefaultRetryPolicy().NextDelay(attempts)
}

// CanRetryClose is RetryPolicy.CanRetry under the default policy.
func CanRetryClose(p *domain.Position, now time.Time) (bool, time.Duration) {
	return DefaultRetryPolicy().CanRetry(p, now)
}
