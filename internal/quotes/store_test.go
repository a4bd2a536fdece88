package quotes

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/random-alex/between-exchanges-arbitrage/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPutGetLastWriteWins(t *testing.T) {
	s := NewStore(nil, testLogger())
	ctx := context.Background()

	s.Put(ctx, domain.Quote{Exchange: "bybit", NormalizedID: "SOLUSDT", BidPrice: 100, Timestamp: 1})
	s.Put(ctx, domain.Quote{Exchange: "bybit", NormalizedID: "SOLUSDT", BidPrice: 101, Timestamp: 2})

	q, err := s.Get("bybit", "SOLUSDT")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if q.BidPrice != 101 || q.Timestamp != 2 {
		t.Fatalf("expected latest quote, got %+v", q)
	}
}

func TestGetMissing(t *testing.T) {
	s := NewStore(nil, testLogger())
	if _, err := s.Get("okx", "SOLUSDT"); !errors.Is(err, domain.ErrNoQuote) {
		t.Fatalf("expected ErrNoQuote, got %v", err)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	s := NewStore(nil, testLogger())
	ctx := context.Background()
	s.Put(ctx, domain.Quote{Exchange: "okx", NormalizedID: "SOLUSDT", BidPrice: 50})

	snap := s.Snapshot("okx")
	snap["SOLUSDT"] = domain.Quote{BidPrice: 0}

	q, err := s.Get("okx", "SOLUSDT")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if q.BidPrice != 50 {
		t.Fatal("snapshot mutation leaked into store")
	}
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	s := NewStore(nil, testLogger())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				s.Put(ctx, domain.Quote{Exchange: "bybit", NormalizedID: "SOLUSDT", BidPrice: float64(j)})
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_, _ = s.Get("bybit", "SOLUSDT")
				_ = s.Exchanges()
			}
		}()
	}
	wg.Wait()
}
