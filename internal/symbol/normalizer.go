// Package symbol maps venue-native instrument identifiers onto canonical
// cross-exchange keys. Two instruments referring to the same contract family
// and expiry must normalize to equal strings or the detection engine never
// sees them as a pair, so the per-exchange rules live in one declarative
// table validated by fixtures rather than ad-hoc string surgery at call
// sites.
package symbol

import (
	"fmt"
	"strings"

	"github.com/random-alex/between-exchanges-arbitrage/internal/domain"
)

// rule describes one normalization step for an exchange. Rules are tried in
// order; the first rule that applies terminates the lookup. A zero rule is
// the identity and always applies.
type rule struct {
	// contains restricts the rule to ids containing the substring.
	contains string
	// replace pairs are applied in order as replace-all operations.
	replace [][2]string
	// expirySep, when set, requires the id to carry a trailing DDMMMYY
	// expiry after the separator. The expiry is re-encoded as YYMMDD and
	// appended to the leading segment with joiner in between.
	expirySep string
	joiner    string
}

// tables holds the normalization rules per exchange. Examples of the keys
// each table produces:
//
//	okx     BTC-USDT-SWAP   -> BTCUSDT      BTC-USDT-251226 -> BTCUSDT251226
//	bybit   BTCUSDT-26DEC25 -> BTCUSDT251226   SOLUSDT      -> SOLUSDT
//	binance BTCUSDT_251226  -> BTCUSDT251226
//	deribit BTC_USDC-PERPETUAL -> BTCUSDT   BTC-26DEC25     -> BTCUSDT251226
//	bitget  BTCUSDT         -> BTCUSDT
var tables = map[string][]rule{
	"okx": {
		{replace: [][2]string{{"-SWAP", ""}, {"-", ""}}},
	},
	"bybit": {
		{expirySep: "-", joiner: ""},
		{},
	},
	"binance": {
		{replace: [][2]string{{"_", ""}}},
	},
	"deribit": {
		{contains: "USDC", replace: [][2]string{{"_USDC-PERPETUAL", "USDT"}}},
		{expirySep: "-", joiner: "USDT"},
	},
	"bitget": {
		{},
	},
}

var months = map[string]string{
	"JAN": "01", "FEB": "02", "MAR": "03", "APR": "04",
	"MAY": "05", "JUN": "06", "JUL": "07", "AUG": "08",
	"SEP": "09", "OCT": "10", "NOV": "11", "DEC": "12",
}

// Normalize converts a venue-native instrument id into the canonical
// cross-exchange key. It returns domain.ErrUnknownExchange for venues without
// a rule table, and an error when an id matches no rule, so callers can
// surface a detection gap instead of silently skipping the pair.
func Normalize(exchange, instrumentID string) (string, error) {
	rules, ok := tables[exchange]
	if !ok {
		return "", fmt.Errorf("symbol: %q: %w", exchange, domain.ErrUnknownExchange)
	}

	for _, r := range rules {
		out, ok := r.apply(instrumentID)
		if ok {
			return out, nil
		}
	}
	return "", fmt.Errorf("symbol: %s %q matched no normalization rule", exchange, instrumentID)
}

// Exchanges returns the venues the normalizer has a rule table for.
func Exchanges() []string {
	out := make([]string, 0, len(tables))
	for name := range tables {
		out = append(out, name)
	}
	return out
}

func (r rule) apply(id string) (string, bool) {
	if r.contains != "" && !strings.Contains(id, r.contains) {
		return "", false
	}

	if r.expirySep != "" {
		parts := strings.Split(id, r.expirySep)
		if len(parts) < 2 {
			return "", false
		}
		expiry, ok := convertExpiry(parts[len(parts)-1])
		if !ok {
			return "", false
		}
		return parts[0] + r.joiner + expiry, true
	}

	for _, pair := range r.replace {
		id = strings.ReplaceAll(id, pair[0], pair[1])
	}
	return id, true
}

// convertExpiry re-encodes a DDMMMYY venue expiry (e.g. "26DEC25") as the
// sortable YYMMDD form ("251226") shared across venues.
func convertExpiry(s string) (string, bool) {
	if len(s) != 7 {
		return "", false
	}
	day, mon, year := s[:2], s[2:5], s[5:]
	mm, ok := months[mon]
	if !ok {
		return "", false
	}
	if !isDigits(day) || !isDigits(year) {
		return "", false
	}
	return year + mm + day, true
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
