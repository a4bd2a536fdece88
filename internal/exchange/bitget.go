package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/random-alex/between-exchanges-arbitrage/internal/domain"
	"github.com/random-alex/between-exchanges-arbitrage/internal/symbol"
)

const (
	bitgetWSURL        = "wss://ws.bitget.com/v2/ws/public"
	bitgetPingInterval = 20 * time.Second
)

// Bitget streams level-1 books over the v2 public endpoint. Keep-alive is a
// bare "ping" text frame answered with a bare "pong".
type Bitget struct {
	sock        socket
	instruments []string
}

// NewBitget creates an adapter subscribing to the given native instrument
// ids (e.g. "BTCUSDT").
func NewBitget(instruments []string) *Bitget {
	return &Bitget{instruments: instruments}
}

func (b *Bitget) Name() string { return "bitget" }

func (b *Bitget) Connect(ctx context.Context) error {
	if err := b.sock.dial(ctx, bitgetWSURL); err != nil {
		return fmt.Errorf("bitget: %w", err)
	}
	return nil
}

func (b *Bitget) Subscribe(ctx context.Context) error {
	args := make([]map[string]string, 0, len(b.instruments))
	for _, inst := range b.instruments {
		args = append(args, map[string]string{
			"instType": "USDT-FUTURES",
			"channel":  "books1",
			"instId":   inst,
		})
	}
	payload, err := json.Marshal(map[string]any{
		"op":   "subscribe",
		"args": args,
	})
	if err != nil {
		return fmt.Errorf("bitget: marshal subscribe: %w", err)
	}
	if err := b.sock.writeText(payload); err != nil {
		return fmt.Errorf("bitget: subscribe: %w", err)
	}
	return nil
}

func (b *Bitget) SendPing(ctx context.Context) error {
	if err := b.sock.writeText([]byte("ping")); err != nil {
		return fmt.Errorf("bitget: ping: %w", err)
	}
	return nil
}

func (b *Bitget) ReadMessage(ctx context.Context) ([]byte, error) {
	return b.sock.read(ctx)
}

type bitgetMessage struct {
	Event  string `json:"event"`
	Action string `json:"action"`
	Arg    struct {
		InstID string `json:"instId"`
	} `json:"arg"`
	Data []struct {
		Asks [][]string `json:"asks"`
		Bids [][]string `json:"bids"`
		TS   string     `json:"ts"`
	} `json:"data"`
}

func (b *Bitget) ParseMessage(raw []byte) (domain.Quote, bool, error) {
	if string(raw) == "pong" {
		return domain.Quote{}, false, nil
	}

	var msg bitgetMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.Quote{}, false, fmt.Errorf("bitget: parse: %w", err)
	}
	// Subscription confirmations carry an event; books arrive as snapshot
	// or update actions.
	if msg.Event != "" || (msg.Action != "snapshot" && msg.Action != "update") {
		return domain.Quote{}, false, nil
	}
	if len(msg.Data) == 0 {
		return domain.Quote{}, false, nil
	}

	book := msg.Data[0]
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return domain.Quote{}, false, nil
	}

	bidPrice, bidQty, err := parseLevelSlice(book.Bids[0])
	if err != nil {
		return domain.Quote{}, false, fmt.Errorf("bitget: bid: %w", err)
	}
	askPrice, askQty, err := parseLevelSlice(book.Asks[0])
	if err != nil {
		return domain.Quote{}, false, fmt.Errorf("bitget: ask: %w", err)
	}
	ts, err := strconv.ParseInt(book.TS, 10, 64)
	if err != nil {
		return domain.Quote{}, false, fmt.Errorf("bitget: ts %q: %w", book.TS, err)
	}

	normalized, err := symbol.Normalize("bitget", msg.Arg.InstID)
	if err != nil {
		return domain.Quote{}, false, fmt.Errorf("bitget: %w", err)
	}

	return domain.Quote{
		Exchange:     "bitget",
		InstrumentID: msg.Arg.InstID,
		NormalizedID: normalized,
		BidPrice:     bidPrice,
		BidQty:       bidQty,
		AskPrice:     askPrice,
		AskQty:       askQty,
		Timestamp:    ts,
	}, true, nil
}

func (b *Bitget) Close() error {
	return b.sock.close()
}

func (b *Bitget) PingInterval() time.Duration { return bitgetPingInterval }
