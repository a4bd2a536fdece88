package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/random-alex/between-exchanges-arbitrage/internal/domain"
	"github.com/random-alex/between-exchanges-arbitrage/internal/symbol"
)

const (
	deribitWSURL        = "wss://www.deribit.com/ws/api/v2"
	deribitPingInterval = 25 * time.Second
)

// Deribit speaks JSON-RPC 2.0. Quotes arrive on the quote.{instrument}
// channel; keep-alive is the public/test method, whose response doubles as a
// liveness proof.
type Deribit struct {
	sock        socket
	instruments []string
	msgID       atomic.Int64
}

// NewDeribit creates an adapter subscribing to the given native instrument
// ids (e.g. "BTC_USDC-PERPETUAL", "BTC-26DEC25").
func NewDeribit(instruments []string) *Deribit {
	return &Deribit{instruments: instruments}
}

func (d *Deribit) Name() string { return "deribit" }

func (d *Deribit) Connect(ctx context.Context) error {
	if err := d.sock.dial(ctx, deribitWSURL); err != nil {
		return fmt.Errorf("deribit: %w", err)
	}
	return nil
}

func (d *Deribit) Subscribe(ctx context.Context) error {
	channels := make([]string, 0, len(d.instruments))
	for _, inst := range d.instruments {
		channels = append(channels, "quote."+inst)
	}
	payload, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      d.msgID.Add(1),
		"method":  "public/subscribe",
		"params":  map[string]any{"channels": channels},
	})
	if err != nil {
		return fmt.Errorf("deribit: marshal subscribe: %w", err)
	}
	if err := d.sock.writeText(payload); err != nil {
		return fmt.Errorf("deribit: subscribe: %w", err)
	}
	return nil
}

func (d *Deribit) SendPing(ctx context.Context) error {
	payload, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      d.msgID.Add(1),
		"method":  "public/test",
		"params":  map[string]any{},
	})
	if err != nil {
		return fmt.Errorf("deribit: marshal ping: %w", err)
	}
	if err := d.sock.writeText(payload); err != nil {
		return fmt.Errorf("deribit: ping: %w", err)
	}
	return nil
}

func (d *Deribit) ReadMessage(ctx context.Context) ([]byte, error) {
	return d.sock.read(ctx)
}

type deribitMessage struct {
	Params struct {
		Channel string `json:"channel"`
		Data    struct {
			InstrumentName string  `json:"instrument_name"`
			BestBidPrice   float64 `json:"best_bid_price"`
			BestBidAmount  float64 `json:"best_bid_amount"`
			BestAskPrice   float64 `json:"best_ask_price"`
			BestAskAmount  float64 `json:"best_ask_amount"`
			Timestamp      int64   `json:"timestamp"`
		} `json:"data"`
	} `json:"params"`
}

func (d *Deribit) ParseMessage(raw []byte) (domain.Quote, bool, error) {
	var msg deribitMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.Quote{}, false, fmt.Errorf("deribit: parse: %w", err)
	}
	// RPC responses (subscribe acks, test results) carry no channel.
	if !strings.HasPrefix(msg.Params.Channel, "quote.") {
		return domain.Quote{}, false, nil
	}

	data := msg.Params.Data
	normalized, err := symbol.Normalize("deribit", data.InstrumentName)
	if err != nil {
		return domain.Quote{}, false, fmt.Errorf("deribit: %w", err)
	}

	return domain.Quote{
		Exchange:     "deribit",
		InstrumentID: data.InstrumentName,
		NormalizedID: normalized,
		BidPrice:     data.BestBidPrice,
		BidQty:       data.BestBidAmount,
		AskPrice:     data.BestAskPrice,
		AskQty:       data.BestAskAmount,
		Timestamp:    data.Timestamp,
	}, true, nil
}

func (d *Deribit) Close() error {
	return d.sock.close()
}

func (d *Deribit) PingInterval() time.Duration { return deribitPingInterval }
