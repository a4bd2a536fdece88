package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/random-alex/between-exchanges-arbitrage/internal/domain"
	"github.com/random-alex/between-exchanges-arbitrage/internal/symbol"
)

const (
	bybitWSURL        = "wss://stream.bybit.com/v5/public/linear"
	bybitPingInterval = 20 * time.Second
)

// Bybit streams level-1 orderbooks over the v5 public linear endpoint. The
// venue expects an application-level {"op":"ping"} every 20 seconds.
type Bybit struct {
	sock        socket
	instruments []string
}

// NewBybit creates an adapter subscribing to the given native instrument ids
// (e.g. "BTCUSDT", "BTC-26DEC25").
func NewBybit(instruments []string) *Bybit {
	return &Bybit{instruments: instruments}
}

func (b *Bybit) Name() string { return "bybit" }

func (b *Bybit) Connect(ctx context.Context) error {
	if err := b.sock.dial(ctx, bybitWSURL); err != nil {
		return fmt.Errorf("bybit: %w", err)
	}
	return nil
}

func (b *Bybit) Subscribe(ctx context.Context) error {
	args := make([]string, 0, len(b.instruments))
	for _, inst := range b.instruments {
		args = append(args, "orderbook.1."+inst)
	}
	payload, err := json.Marshal(map[string]any{
		"op":   "subscribe",
		"args": args,
	})
	if err != nil {
		return fmt.Errorf("bybit: marshal subscribe: %w", err)
	}
	if err := b.sock.writeText(payload); err != nil {
		return fmt.Errorf("bybit: subscribe: %w", err)
	}
	return nil
}

func (b *Bybit) SendPing(ctx context.Context) error {
	if err := b.sock.writeText([]byte(`{"op":"ping"}`)); err != nil {
		return fmt.Errorf("bybit: ping: %w", err)
	}
	return nil
}

func (b *Bybit) ReadMessage(ctx context.Context) ([]byte, error) {
	return b.sock.read(ctx)
}

type bybitMessage struct {
	Topic string `json:"topic"`
	TS    int64  `json:"ts"`
	Data  struct {
		Symbol string      `json:"s"`
		Bids   [][2]string `json:"b"`
		Asks   [][2]string `json:"a"`
	} `json:"data"`
}

// ParseMessage extracts the level-1 quote from an orderbook frame. Delta
// frames may update only one side; a frame missing either side is skipped
// rather than emitted with zeroes.
func (b *Bybit) ParseMessage(raw []byte) (domain.Quote, bool, error) {
	var msg bybitMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.Quote{}, false, fmt.Errorf("bybit: parse: %w", err)
	}
	if !strings.HasPrefix(msg.Topic, "orderbook.") {
		// Subscription acks and pong responses carry no topic.
		return domain.Quote{}, false, nil
	}
	if len(msg.Data.Bids) == 0 || len(msg.Data.Asks) == 0 {
		return domain.Quote{}, false, nil
	}

	bidPrice, bidQty, err := parseLevel(msg.Data.Bids[0])
	if err != nil {
		return domain.Quote{}, false, fmt.Errorf("bybit: bid: %w", err)
	}
	askPrice, askQty, err := parseLevel(msg.Data.Asks[0])
	if err != nil {
		return domain.Quote{}, false, fmt.Errorf("bybit: ask: %w", err)
	}

	normalized, err := symbol.Normalize("bybit", msg.Data.Symbol)
	if err != nil {
		return domain.Quote{}, false, fmt.Errorf("bybit: %w", err)
	}

	return domain.Quote{
		Exchange:     "bybit",
		InstrumentID: msg.Data.Symbol,
		NormalizedID: normalized,
		BidPrice:     bidPrice,
		BidQty:       bidQty,
		AskPrice:     askPrice,
		AskQty:       askQty,
		Timestamp:    msg.TS,
	}, true, nil
}

func (b *Bybit) Close() error {
	return b.sock.close()
}

func (b *Bybit) PingInterval() time.Duration { return bybitPingInterval }
