package specs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/random-alex/between-exchanges-arbitrage/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFetchBybit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v5/market/instruments-info" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("category") != "linear" {
			t.Errorf("category = %q", r.URL.Query().Get("category"))
		}
		io.WriteString(w, `{"result":{"list":[
			{"symbol":"BTCUSDT","baseCoin":"BTC","settleCoin":"USDT",
			 "lotSizeFilter":{"minOrderQty":"0.001","qtyStep":"0.001"}},
			{"symbol":"ETHUSDT","baseCoin":"ETH","settleCoin":"USDT",
			 "lotSizeFilter":{"minOrderQty":"0.01","qtyStep":"0.01"}}
		]}}`)
	}))
	defer srv.Close()

	f := NewFetcher(testLogger(), WithBaseURL("bybit", srv.URL))
	err := f.FetchAll(context.Background(), map[string][]string{
		"bybit": {"BTCUSDT"},
	})
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}

	spec, err := f.GetSpec("bybit", "BTCUSDT")
	if err != nil {
		t.Fatalf("GetSpec: %v", err)
	}
	if spec.MinOrderQty != 0.001 || spec.QtyStep != 0.001 {
		t.Errorf("lot size wrong: %+v", spec)
	}
	if spec.FeePct != 0.1 || spec.BaseCoin != "BTC" || spec.SettleCoin != "USDT" {
		t.Errorf("spec fields wrong: %+v", spec)
	}

	// Not requested, so not loaded.
	if _, err := f.GetSpec("bybit", "ETHUSDT"); !errors.Is(err, domain.ErrSpecMissing) {
		t.Errorf("expected ErrSpecMissing, got %v", err)
	}
}

func TestFetchBitgetDerivesStepFromDecimalPlaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":[
			{"symbol":"SOLUSDT","sizeMultiplier":"1","minTradeNum":"0.1",
			 "volumePlace":"1","baseCoin":"SOL","quoteCoin":"USDT"}
		]}`)
	}))
	defer srv.Close()

	f := NewFetcher(testLogger(), WithBaseURL("bitget", srv.URL))
	err := f.FetchAll(context.Background(), map[string][]string{
		"bitget": {"SOLUSDT"},
	})
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}

	spec, err := f.GetSpec("bitget", "SOLUSDT")
	if err != nil {
		t.Fatalf("GetSpec: %v", err)
	}
	if spec.QtyStep != 0.1 {
		t.Errorf("QtyStep = %v, want 0.1", spec.QtyStep)
	}
}

func TestRetryOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		io.WriteString(w, `{"result":{"list":[
			{"symbol":"BTCUSDT","baseCoin":"BTC","settleCoin":"USDT",
			 "lotSizeFilter":{"minOrderQty":"0.001","qtyStep":"0.001"}}
		]}}`)
	}))
	defer srv.Close()

	f := NewFetcher(testLogger(), WithBaseURL("bybit", srv.URL))
	err := f.FetchAll(context.Background(), map[string][]string{
		"bybit": {"BTCUSDT"},
	})
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
	if _, err := f.GetSpec("bybit", "BTCUSDT"); err != nil {
		t.Errorf("GetSpec after retry: %v", err)
	}
}

func TestExchangeFailureDoesNotBlockOthers(t *testing.T) {
	okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":[
			{"symbol":"SOLUSDT","sizeMultiplier":"1","minTradeNum":"0.1",
			 "volumePlace":"1","baseCoin":"SOL","quoteCoin":"USDT"}
		]}`)
	}))
	defer okSrv.Close()

	badSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer badSrv.Close()

	f := NewFetcher(testLogger(),
		WithBaseURL("bitget", okSrv.URL),
		WithBaseURL("bybit", badSrv.URL),
	)
	err := f.FetchAll(context.Background(), map[string][]string{
		"bitget": {"SOLUSDT"},
		"bybit":  {"BTCUSDT"},
	})
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}

	if _, err := f.GetSpec("bitget", "SOLUSDT"); err != nil {
		t.Errorf("healthy exchange should be loaded: %v", err)
	}
	if _, err := f.GetSpec("bybit", "BTCUSDT"); !errors.Is(err, domain.ErrSpecMissing) {
		t.Errorf("failed exchange should report ErrSpecMissing, got %v", err)
	}
}

func TestDeribitCurrency(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"BTC_USDC-PERPETUAL", "BTC"},
		{"BTC-26DEC25", "BTC"},
		{"ETH_USDC-PERPETUAL", "ETH"},
		{"NODASH", ""},
	}
	for _, tc := range cases {
		if got := deribitCurrency(tc.in); got != tc.want {
			t.Errorf("deribitCurrency(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
