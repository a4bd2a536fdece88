// Package memory provides an in-memory PositionStore for dry-run mode and
// tests. It mirrors the postgres store's semantics, including the atomic
// uniqueness check in OpenPosition.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/random-alex/between-exchanges-arbitrage/internal/domain"
)

// Store is a mutex-guarded in-memory position store.
type Store struct {
	mu        sync.Mutex
	positions map[string]domain.Position
	attempts  map[string][]domain.CloseAttempt
	order     []string
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		positions: make(map[string]domain.Position),
		attempts:  make(map[string][]domain.CloseAttempt),
	}
}

func (s *Store) CreatePosition(ctx context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(p)
}

func (s *Store) OpenPosition(ctx context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasOpenForSymbolAndExchanges(p.Symbol, p.LongExchange, p.ShortExchange) {
		return domain.ErrDuplicatePosition
	}
	return s.insert(p)
}

// insert assumes s.mu is held.
func (s *Store) insert(p domain.Position) error {
	if _, exists := s.positions[p.ID]; exists {
		return domain.ErrDuplicatePosition
	}
	s.positions[p.ID] = p
	s.order = append(s.order, p.ID)
	return nil
}

func (s *Store) GetPosition(ctx context.Context, id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *Store) UpdatePosition(ctx context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[p.ID]; !ok {
		return domain.ErrNotFound
	}
	s.positions[p.ID] = p
	return nil
}

func (s *Store) ClosePosition(ctx context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.positions[p.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if existing.Status == domain.PositionStatusClosed {
		return domain.ErrPositionClosed
	}
	s.positions[p.ID] = p
	return nil
}

func (s *Store) GetOpenPositions(ctx context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Position
	for _, id := range s.order {
		if p := s.positions[id]; !p.Status.Terminal() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) GetClosedPositions(ctx context.Context, limit int) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Position
	for _, id := range s.order {
		if p := s.positions[id]; p.Status.Terminal() {
			out = append(out, p)
		}
	}

	// Most recently closed first.
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].ClosedAt, out[j].ClosedAt
		if ti == nil || tj == nil {
			return tj == nil
		}
		return ti.After(*tj)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) HasOpenPositionForSymbolAndExchanges(ctx context.Context, symbol, ex1, ex2 string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasOpenForSymbolAndExchanges(symbol, ex1, ex2), nil
}

// hasOpenForSymbolAndExchanges assumes s.mu is held.
func (s *Store) hasOpenForSymbolAndExchanges(symbol, ex1, ex2 string) bool {
	for _, p := range s.positions {
		if p.Status.Terminal() || p.Symbol != symbol {
			continue
		}
		for _, ex := range []string{ex1, ex2} {
			if p.LongExchange == ex || p.ShortExchange == ex {
				return true
			}
		}
	}
	return false
}

func (s *Store) CreateCloseAttempt(ctx context.Context, a domain.CloseAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts[a.PositionID] = append(s.attempts[a.PositionID], a)
	return nil
}

func (s *Store) GetCloseAttempts(ctx context.Context, positionID string, limit int) ([]domain.CloseAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempts := s.attempts[positionID]
	out := make([]domain.CloseAttempt, len(attempts))
	copy(out, attempts)

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetPositionStats(ctx context.Context) (domain.PositionStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats domain.PositionStats
	wins := 0
	roiSum := 0.0

	for _, p := range s.positions {
		if !p.Status.Terminal() {
			stats.OpenPositions++
			continue
		}

		stats.ClosedPositions++
		if p.NetProfitUSD != nil {
			stats.TotalNetPnLUSD += *p.NetProfitUSD
			if *p.NetProfitUSD > 0 {
				wins++
			}
		}
		if p.ROIPct != nil {
			roiSum += *p.ROIPct
		}
	}

	if stats.ClosedPositions > 0 {
		stats.WinRatePct = float64(wins) / float64(stats.ClosedPositions) * 100
		stats.AvgROIPct = roiSum / float64(stats.ClosedPositions)
	}
	return stats, nil
}
