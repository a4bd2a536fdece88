package domain

import "time"

// Quote is an immutable level-1 snapshot for one instrument on one exchange.
// NormalizedID is the canonical cross-exchange key produced by the symbol
// normalizer; two quotes for the same contract family and expiry on different
// exchanges carry equal NormalizedID values.
type Quote struct {
	Exchange     string
	InstrumentID string
	NormalizedID string
	AskPrice     float64
	AskQty       float64
	BidPrice     float64
	BidQty       float64
	// Timestamp is the exchange event time in milliseconds since epoch.
	Timestamp int64
}

// Time returns the quote's event time.
func (q Quote) Time() time.Time {
	return time.UnixMilli(q.Timestamp)
}

// Mid returns the midpoint of the best bid and ask.
func (q Quote) Mid() float64 {
	return (q.AskPrice + q.BidPrice) / 2
}
