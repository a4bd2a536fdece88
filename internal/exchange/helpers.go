package exchange

import (
	"errors"
	"fmt"
	"strconv"
)

// parseLevel decodes one [price, qty] orderbook level.
func parseLevel(level [2]string) (price, qty float64, err error) {
	return parsePriceQty(level[0], level[1])
}

// parseLevelSlice decodes the first two fields of a variable-width level,
// as sent by venues that append sequence numbers or order counts.
func parseLevelSlice(level []string) (price, qty float64, err error) {
	if len(level) < 2 {
		return 0, 0, errors.New("level has fewer than 2 fields")
	}
	return parsePriceQty(level[0], level[1])
}

func parsePriceQty(p, q string) (price, qty float64, err error) {
	price, err = strconv.ParseFloat(p, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("price %q: %w", p, err)
	}
	qty, err = strconv.ParseFloat(q, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("qty %q: %w", q, err)
	}
	return price, qty, nil
}
