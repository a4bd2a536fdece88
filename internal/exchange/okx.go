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
	okxWSURL        = "wss://ws.okx.com:8443/ws/v5/public"
	okxPingInterval = 20 * time.Second
)

// OKX streams best-bid-offer ticks over the v5 public endpoint. Keep-alive is
// a bare "ping" text frame answered with a bare "pong".
type OKX struct {
	sock        socket
	instruments []string
}

// NewOKX creates an adapter subscribing to the given native instrument ids
// (e.g. "BTC-USDT-SWAP", "BTC-USDT-251226").
func NewOKX(instruments []string) *OKX {
	return &OKX{instruments: instruments}
}

func (o *OKX) Name() string { return "okx" }

func (o *OKX) Connect(ctx context.Context) error {
	if err := o.sock.dial(ctx, okxWSURL); err != nil {
		return fmt.Errorf("okx: %w", err)
	}
	return nil
}

func (o *OKX) Subscribe(ctx context.Context) error {
	args := make([]map[string]string, 0, len(o.instruments))
	for _, inst := range o.instruments {
		args = append(args, map[string]string{
			"channel": "bbo-tbt",
			"instId":  inst,
		})
	}
	payload, err := json.Marshal(map[string]any{
		"op":   "subscribe",
		"args": args,
	})
	if err != nil {
		return fmt.Errorf("okx: marshal subscribe: %w", err)
	}
	if err := o.sock.writeText(payload); err != nil {
		return fmt.Errorf("okx: subscribe: %w", err)
	}
	return nil
}

func (o *OKX) SendPing(ctx context.Context) error {
	if err := o.sock.writeText([]byte("ping")); err != nil {
		return fmt.Errorf("okx: ping: %w", err)
	}
	return nil
}

func (o *OKX) ReadMessage(ctx context.Context) ([]byte, error) {
	return o.sock.read(ctx)
}

type okxMessage struct {
	Arg struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data []struct {
		Asks [][]string `json:"asks"`
		Bids [][]string `json:"bids"`
		TS   string     `json:"ts"`
	} `json:"data"`
}

func (o *OKX) ParseMessage(raw []byte) (domain.Quote, bool, error) {
	if string(raw) == "pong" {
		return domain.Quote{}, false, nil
	}

	var msg okxMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.Quote{}, false, fmt.Errorf("okx: parse: %w", err)
	}
	// Events (subscribe acks, errors) carry no data array.
	if len(msg.Data) == 0 {
		return domain.Quote{}, false, nil
	}

	tick := msg.Data[0]
	if len(tick.Bids) == 0 || len(tick.Asks) == 0 {
		return domain.Quote{}, false, nil
	}

	bidPrice, bidQty, err := parseLevelSlice(tick.Bids[0])
	if err != nil {
		return domain.Quote{}, false, fmt.Errorf("okx: bid: %w", err)
	}
	askPrice, askQty, err := parseLevelSlice(tick.Asks[0])
	if err != nil {
		return domain.Quote{}, false, fmt.Errorf("okx: ask: %w", err)
	}
	ts, err := strconv.ParseInt(tick.TS, 10, 64)
	if err != nil {
		return domain.Quote{}, false, fmt.Errorf("okx: ts %q: %w", tick.TS, err)
	}

	normalized, err := symbol.Normalize("okx", msg.Arg.InstID)
	if err != nil {
		return domain.Quote{}, false, fmt.Errorf("okx: %w", err)
	}

	return domain.Quote{
		Exchange:     "okx",
		InstrumentID: msg.Arg.InstID,
		NormalizedID: normalized,
		BidPrice:     bidPrice,
		BidQty:       bidQty,
		AskPrice:     askPrice,
		AskQty:       askQty,
		Timestamp:    ts,
	}, true, nil
}

func (o *OKX) Close() error {
	return o.sock.close()
}

func (o *OKX) PingInterval() time.Duration { return okxPingInterval }
