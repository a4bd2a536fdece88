package exchange

import (
	"fmt"

	"github.com/random-alex/between-exchanges-arbitrage/internal/connector"
	"github.com/random-alex/between-exchanges-arbitrage/internal/domain"
)

// New returns the adapter for a supported exchange, subscribed to the given
// native instrument ids.
func New(exchange string, instruments []string) (connector.Adapter, error) {
	switch exchange {
	case "bybit":
		return NewBybit(instruments), nil
	case "okx":
		return NewOKX(instruments), nil
	case "binance":
		return NewBinance(instruments), nil
	case "deribit":
		return NewDeribit(instruments), nil
	case "bitget":
		return NewBitget(instruments), nil
	default:
		return nil, fmt.Errorf("exchange %q: %w", exchange, domain.ErrUnknownExchange)
	}
}
