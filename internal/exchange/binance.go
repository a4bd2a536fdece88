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
	binanceWSURL        = "wss://fstream.binance.com/stream"
	binancePingInterval = 3 * time.Minute
)

// Binance subscribes through the combined-stream URL, so Subscribe is a
// no-op. The venue pings the client at the protocol level (gorilla answers
// those automatically); our outbound ping is a protocol-level frame too.
type Binance struct {
	sock        socket
	instruments []string
}

// NewBinance creates an adapter subscribing to the given native instrument
// ids (e.g. "BTCUSDT", "BTCUSDT_251226").
func NewBinance(instruments []string) *Binance {
	return &Binance{instruments: instruments}
}

func (b *Binance) Name() string { return "binance" }

func (b *Binance) Connect(ctx context.Context) error {
	streams := make([]string, 0, len(b.instruments))
	for _, inst := range b.instruments {
		streams = append(streams, strings.ToLower(inst)+"@bookTicker")
	}
	url := binanceWSURL + "?streams=" + strings.Join(streams, "/")

	if err := b.sock.dial(ctx, url); err != nil {
		return fmt.Errorf("binance: %w", err)
	}
	return nil
}

func (b *Binance) Subscribe(ctx context.Context) error {
	// Subscriptions ride on the connect URL.
	return nil
}

func (b *Binance) SendPing(ctx context.Context) error {
	if err := b.sock.writeControlPing(); err != nil {
		return fmt.Errorf("binance: %w", err)
	}
	return nil
}

func (b *Binance) ReadMessage(ctx context.Context) ([]byte, error) {
	return b.sock.read(ctx)
}

type binanceMessage struct {
	Data struct {
		Symbol   string `json:"s"`
		BidPrice string `json:"b"`
		BidQty   string `json:"B"`
		AskPrice string `json:"a"`
		AskQty   string `json:"A"`
		TS       int64  `json:"T"`
	} `json:"data"`
}

func (b *Binance) ParseMessage(raw []byte) (domain.Quote, bool, error) {
	var msg binanceMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.Quote{}, false, fmt.Errorf("binance: parse: %w", err)
	}
	if msg.Data.Symbol == "" {
		return domain.Quote{}, false, nil
	}

	bidPrice, bidQty, err := parsePriceQty(msg.Data.BidPrice, msg.Data.BidQty)
	if err != nil {
		return domain.Quote{}, false, fmt.Errorf("binance: bid: %w", err)
	}
	askPrice, askQty, err := parsePriceQty(msg.Data.AskPrice, msg.Data.AskQty)
	if err != nil {
		return domain.Quote{}, false, fmt.Errorf("binance: ask: %w", err)
	}

	normalized, err := symbol.Normalize("binance", msg.Data.Symbol)
	if err != nil {
		return domain.Quote{}, false, fmt.Errorf("binance: %w", err)
	}

	return domain.Quote{
		Exchange:     "binance",
		InstrumentID: msg.Data.Symbol,
		NormalizedID: normalized,
		BidPrice:     bidPrice,
		BidQty:       bidQty,
		AskPrice:     askPrice,
		AskQty:       askQty,
		Timestamp:    msg.Data.TS,
	}, true, nil
}

func (b *Binance) Close() error {
	return b.sock.close()
}

func (b *Binance) PingInterval() time.Duration { return binancePingInterval }
