package symbol

import (
	"errors"
	"testing"

	"github.com/random-alex/between-exchanges-arbitrage/internal/domain"
)

func TestNormalizePerExchange(t *testing.T) {
	cases := []struct {
		exchange string
		id       string
		want     string
	}{
		{"okx", "BTC-USDT-SWAP", "BTCUSDT"},
		{"okx", "SOL-USDT-SWAP", "SOLUSDT"},
		{"okx", "BTC-USDT-251226", "BTCUSDT251226"},
		{"bybit", "BTCUSDT", "BTCUSDT"},
		{"bybit", "BTCUSDT-26DEC25", "BTCUSDT251226"},
		{"binance", "BTCUSDT", "BTCUSDT"},
		{"binance", "BTCUSDT_251226", "BTCUSDT251226"},
		{"deribit", "SOL_USDC-PERPETUAL", "SOLUSDT"},
		{"deribit", "BTC-26DEC25", "BTCUSDT251226"},
		{"bitget", "DOGEUSDT", "DOGEUSDT"},
	}

	for _, tc := range cases {
		got, err := Normalize(tc.exchange, tc.id)
		if err != nil {
			t.Fatalf("Normalize(%s, %s): %v", tc.exchange, tc.id, err)
		}
		if got != tc.want {
			t.Errorf("Normalize(%s, %s) = %q, want %q", tc.exchange, tc.id, got, tc.want)
		}
	}
}

// The whole point of normalization: the same contract on different venues
// must land on one key.
func TestNormalizeCrossExchangeAgreement(t *testing.T) {
	groups := [][][2]string{
		{
			{"bybit", "BTCUSDT-26DEC25"},
			{"okx", "BTC-USDT-251226"},
			{"binance", "BTCUSDT_251226"},
			{"deribit", "BTC-26DEC25"},
		},
		{
			{"bybit", "SOLUSDT"},
			{"okx", "SOL-USDT-SWAP"},
			{"binance", "SOLUSDT"},
			{"deribit", "SOL_USDC-PERPETUAL"},
			{"bitget", "SOLUSDT"},
		},
	}

	for _, group := range groups {
		var key string
		for i, pair := range group {
			got, err := Normalize(pair[0], pair[1])
			if err != nil {
				t.Fatalf("Normalize(%s, %s): %v", pair[0], pair[1], err)
			}
			if i == 0 {
				key = got
				continue
			}
			if got != key {
				t.Errorf("Normalize(%s, %s) = %q, want %q (key of %s %s)",
					pair[0], pair[1], got, key, group[0][0], group[0][1])
			}
		}
	}
}

func TestNormalizeUnknownExchange(t *testing.T) {
	_, err := Normalize("kraken", "BTCUSDT")
	if !errors.Is(err, domain.ErrUnknownExchange) {
		t.Fatalf("expected ErrUnknownExchange, got %v", err)
	}
}

func TestNormalizeNoMatchingRule(t *testing.T) {
	// Deribit id with neither a USDC marker nor a parseable expiry.
	if _, err := Normalize("deribit", "BTCPERP"); err == nil {
		t.Fatal("expected error for non-normalizable deribit id")
	}
}

func TestConvertExpiry(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"26DEC25", "251226", true},
		{"01JAN26", "260101", true},
		{"26XXX25", "", false},
		{"DEC25", "", false},
		{"2６DEC25", "", false},
	}
	for _, tc := range cases {
		got, ok := convertExpiry(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("convertExpiry(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
