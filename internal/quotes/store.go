// Package quotes holds the latest level-1 quote per exchange and normalized
// instrument. Connector managers are the writers; the detection engine and
// position monitor are the readers. Last write wins, and readers tolerate a
// quote being replaced mid-scan: a stale detection is re-validated against
// live prices and liquidity before any position is touched.
package quotes

import (
	"context"
	"log/slog"
	"sync"

	"github.com/random-alex/between-exchanges-arbitrage/internal/domain"
)

// Store is a concurrent map of exchange -> normalized id -> latest quote.
type Store struct {
	mu     sync.RWMutex
	latest map[string]map[string]domain.Quote

	// mirror, when set, receives every accepted quote best-effort.
	mirror domain.QuoteCache
	logger *slog.Logger
}

// NewStore creates an empty Store. mirror may be nil.
func NewStore(mirror domain.QuoteCache, logger *slog.Logger) *Store {
	return &Store{
		latest: make(map[string]map[string]domain.Quote),
		mirror: mirror,
		logger: logger.With(slog.String("component", "quote_store")),
	}
}

// Put records q as the latest quote for its exchange and normalized id.
func (s *Store) Put(ctx context.Context, q domain.Quote) {
	s.mu.Lock()
	byID, ok := s.latest[q.Exchange]
	if !ok {
		byID = make(map[string]domain.Quote)
		s.latest[q.Exchange] = byID
	}
	byID[q.NormalizedID] = q
	s.mu.Unlock()

	if s.mirror != nil {
		if err := s.mirror.SetQuote(ctx, q); err != nil {
			s.logger.Debug("quote mirror write failed",
				slog.String("exchange", q.Exchange),
				slog.String("symbol", q.NormalizedID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Get returns the latest quote for the exchange/normalized id pair.
func (s *Store) Get(exchange, normalizedID string) (domain.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.latest[exchange][normalizedID]
	if !ok {
		return domain.Quote{}, domain.ErrNoQuote
	}
	return q, nil
}

// Exchanges returns the exchanges that have delivered at least one quote.
func (s *Store) Exchanges() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.latest))
	for name, byID := range s.latest {
		if len(byID) > 0 {
			out = append(out, name)
		}
	}
	return out
}

// Snapshot copies one exchange's quote map for lock-free iteration by the
// scanner.
func (s *Store) Snapshot(exchange string) map[string]domain.Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byID := s.latest[exchange]
	out := make(map[string]domain.Quote, len(byID))
	for id, q := range byID {
		out[id] = q
	}
	return out
}
