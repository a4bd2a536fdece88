package exchange

import (
	"errors"
	"testing"

	"github.com/random-alex/between-exchanges-arbitrage/internal/domain"
)

func TestBybitParseMessage(t *testing.T) {
	raw := []byte(`{"topic":"orderbook.1.BTCUSDT","type":"snapshot","ts":1700000000123,` +
		`"data":{"s":"BTCUSDT","b":[["97000.5","1.25"]],"a":[["97001.0","0.80"]]}}`)

	b := NewBybit(nil)
	q, ok, err := b.ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if !ok {
		t.Fatal("expected a quote")
	}
	if q.Exchange != "bybit" || q.InstrumentID != "BTCUSDT" || q.NormalizedID != "BTCUSDT" {
		t.Errorf("identity fields wrong: %+v", q)
	}
	if q.BidPrice != 97000.5 || q.BidQty != 1.25 || q.AskPrice != 97001.0 || q.AskQty != 0.80 {
		t.Errorf("level fields wrong: %+v", q)
	}
	if q.Timestamp != 1700000000123 {
		t.Errorf("Timestamp = %d", q.Timestamp)
	}
}

func TestBybitSkipsAcksAndOneSidedDeltas(t *testing.T) {
	b := NewBybit(nil)

	for _, raw := range []string{
		`{"success":true,"op":"subscribe"}`,
		`{"op":"pong"}`,
		`{"topic":"orderbook.1.BTCUSDT","type":"delta","ts":1,"data":{"s":"BTCUSDT","b":[["97000.5","1.25"]],"a":[]}}`,
	} {
		_, ok, err := b.ParseMessage([]byte(raw))
		if err != nil {
			t.Errorf("%s: unexpected error %v", raw, err)
		}
		if ok {
			t.Errorf("%s: should not yield a quote", raw)
		}
	}
}

func TestBybitParseErrors(t *testing.T) {
	b := NewBybit(nil)

	_, _, err := b.ParseMessage([]byte("not json"))
	if err == nil {
		t.Error("malformed JSON should error")
	}

	_, _, err = b.ParseMessage([]byte(
		`{"topic":"orderbook.1.BTCUSDT","ts":1,"data":{"s":"BTCUSDT","b":[["oops","1"]],"a":[["1","1"]]}}`))
	if err == nil {
		t.Error("non-numeric price should error")
	}
}

func TestOKXParseMessage(t *testing.T) {
	raw := []byte(`{"arg":{"channel":"bbo-tbt","instId":"BTC-USDT-SWAP"},` +
		`"data":[{"asks":[["97001.0","12","0","4"]],"bids":[["97000.5","25","0","7"]],"ts":"1700000000456"}]}`)

	o := NewOKX(nil)
	q, ok, err := o.ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if !ok {
		t.Fatal("expected a quote")
	}
	if q.InstrumentID != "BTC-USDT-SWAP" || q.NormalizedID != "BTCUSDT" {
		t.Errorf("identity fields wrong: %+v", q)
	}
	if q.AskPrice != 97001.0 || q.AskQty != 12 || q.BidPrice != 97000.5 || q.BidQty != 25 {
		t.Errorf("level fields wrong: %+v", q)
	}
	if q.Timestamp != 1700000000456 {
		t.Errorf("Timestamp = %d", q.Timestamp)
	}
}

func TestOKXSkipsEventsAndPong(t *testing.T) {
	o := NewOKX(nil)
	for _, raw := range []string{
		"pong",
		`{"event":"subscribe","arg":{"channel":"bbo-tbt","instId":"BTC-USDT-SWAP"}}`,
	} {
		_, ok, err := o.ParseMessage([]byte(raw))
		if err != nil {
			t.Errorf("%s: unexpected error %v", raw, err)
		}
		if ok {
			t.Errorf("%s: should not yield a quote", raw)
		}
	}
}

func TestBinanceParseMessage(t *testing.T) {
	raw := []byte(`{"stream":"btcusdt@bookTicker","data":{"e":"bookTicker","s":"BTCUSDT",` +
		`"b":"97000.50","B":"1.250","a":"97001.00","A":"0.800","T":1700000000789}}`)

	b := NewBinance(nil)
	q, ok, err := b.ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if !ok {
		t.Fatal("expected a quote")
	}
	if q.InstrumentID != "BTCUSDT" || q.NormalizedID != "BTCUSDT" {
		t.Errorf("identity fields wrong: %+v", q)
	}
	if q.BidPrice != 97000.50 || q.AskQty != 0.8 {
		t.Errorf("level fields wrong: %+v", q)
	}
}

func TestBinanceNormalizesDatedSymbol(t *testing.T) {
	raw := []byte(`{"data":{"s":"BTCUSDT_251226","b":"97000.5","B":"1","a":"97001","A":"1","T":1}}`)

	b := NewBinance(nil)
	q, ok, err := b.ParseMessage(raw)
	if err != nil || !ok {
		t.Fatalf("ParseMessage: ok=%v err=%v", ok, err)
	}
	if q.NormalizedID != "BTCUSDT251226" {
		t.Errorf("NormalizedID = %q, want BTCUSDT251226", q.NormalizedID)
	}
}

func TestDeribitParseMessage(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","method":"subscription","params":{"channel":"quote.BTC_USDC-PERPETUAL",` +
		`"data":{"instrument_name":"BTC_USDC-PERPETUAL","best_bid_price":97000.5,"best_bid_amount":1.25,` +
		`"best_ask_price":97001.0,"best_ask_amount":0.8,"timestamp":1700000000321}}}`)

	d := NewDeribit(nil)
	q, ok, err := d.ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if !ok {
		t.Fatal("expected a quote")
	}
	if q.InstrumentID != "BTC_USDC-PERPETUAL" || q.NormalizedID != "BTCUSDT" {
		t.Errorf("identity fields wrong: %+v", q)
	}
	if q.BidPrice != 97000.5 || q.AskQty != 0.8 {
		t.Errorf("level fields wrong: %+v", q)
	}
}

func TestDeribitSkipsRPCResponses(t *testing.T) {
	d := NewDeribit(nil)
	_, ok, err := d.ParseMessage([]byte(`{"jsonrpc":"2.0","id":1,"result":["quote.BTC_USDC-PERPETUAL"]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("RPC response should not yield a quote")
	}
}

func TestBitgetParseMessage(t *testing.T) {
	raw := []byte(`{"action":"snapshot","arg":{"instType":"USDT-FUTURES","channel":"books1","instId":"SOLUSDT"},` +
		`"data":[{"asks":[["150.25","2000"]],"bids":[["150.20","1500"]],"ts":"1700000000654"}]}`)

	b := NewBitget(nil)
	q, ok, err := b.ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if !ok {
		t.Fatal("expected a quote")
	}
	if q.InstrumentID != "SOLUSDT" || q.NormalizedID != "SOLUSDT" {
		t.Errorf("identity fields wrong: %+v", q)
	}
	if q.AskPrice != 150.25 || q.BidQty != 1500 {
		t.Errorf("level fields wrong: %+v", q)
	}
}

func TestBitgetSkipsPongAndEvents(t *testing.T) {
	b := NewBitget(nil)
	for _, raw := range []string{
		"pong",
		`{"event":"subscribe","arg":{"instType":"USDT-FUTURES","channel":"books1","instId":"SOLUSDT"}}`,
	} {
		_, ok, err := b.ParseMessage([]byte(raw))
		if err != nil {
			t.Errorf("%s: unexpected error %v", raw, err)
		}
		if ok {
			t.Errorf("%s: should not yield a quote", raw)
		}
	}
}

func TestFactoryKnowsAllExchanges(t *testing.T) {
	for _, name := range []string{"bybit", "okx", "binance", "deribit", "bitget"} {
		a, err := New(name, []string{"BTCUSDT"})
		if err != nil {
			t.Fatalf("New(%s): %v", name, err)
		}
		if a.Name() != name {
			t.Errorf("New(%s).Name() = %s", name, a.Name())
		}
	}

	_, err := New("kraken", nil)
	if !errors.Is(err, domain.ErrUnknownExchange) {
		t.Fatalf("expected ErrUnknownExchange, got %v", err)
	}
}
