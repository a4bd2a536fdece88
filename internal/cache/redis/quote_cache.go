package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/random-alex/between-exchanges-arbitrage/internal/domain"
)

// defaultQuoteTTL keeps dashboard reads from ever serving a quote older than
// a stalled connector would produce.
const defaultQuoteTTL = 30 * time.Second

// QuoteCache implements domain.QuoteCache on a Redis hash per quote.
//
// Key schema:
//
//	quote:{exchange}:{symbol} - hash with fields
//	    instrument, bid, bid_qty, ask, ask_qty, ts
type QuoteCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewQuoteCache creates a QuoteCache backed by the given Client. ttl <= 0
// uses the default.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	if ttl <= 0 {
		ttl = defaultQuoteTTL
	}
	return &QuoteCache{rdb: c.Underlying(), ttl: ttl}
}

func quoteKey(exchange, normalizedID string) string {
	return "quote:" + exchange + ":" + normalizedID
}

// SetQuote writes the latest quote for its exchange/symbol pair and refreshes
// the key's TTL.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.Quote) error {
	key := quoteKey(q.Exchange, q.NormalizedID)

	pipe := qc.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"instrument", q.InstrumentID,
		"bid", strconv.FormatFloat(q.BidPrice, 'f', -1, 64),
		"bid_qty", strconv.FormatFloat(q.BidQty, 'f', -1, 64),
		"ask", strconv.FormatFloat(q.AskPrice, 'f', -1, 64),
		"ask_qty", strconv.FormatFloat(q.AskQty, 'f', -1, 64),
		"ts", strconv.FormatInt(q.Timestamp, 10),
	)
	pipe.Expire(ctx, key, qc.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s/%s: %w", q.Exchange, q.NormalizedID, err)
	}
	return nil
}

// GetQuote reads the latest cached quote, returning domain.ErrNoQuote when
// the key is absent or expired.
func (qc *QuoteCache) GetQuote(ctx context.Context, exchange, normalizedID string) (domain.Quote, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(exchange, normalizedID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s/%s: %w", exchange, normalizedID, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, domain.ErrNoQuote
	}

	q := domain.Quote{
		Exchange:     exchange,
		InstrumentID: vals["instrument"],
		NormalizedID: normalizedID,
	}
	q.BidPrice, _ = strconv.ParseFloat(vals["bid"], 64)
	q.BidQty, _ = strconv.ParseFloat(vals["bid_qty"], 64)
	q.AskPrice, _ = strconv.ParseFloat(vals["ask"], 64)
	q.AskQty, _ = strconv.ParseFloat(vals["ask_qty"], 64)
	q.Timestamp, _ = strconv.ParseInt(vals["ts"], 10, 64)
	return q, nil
}

var _ domain.QuoteCache = (*QuoteCache)(nil)
