package logging

import (
	"context"
	"log/slog"
	"sync"
	"testing"
)

type captureHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func (h *captureHandler) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

func (h *captureHandler) last() slog.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.records[len(h.records)-1]
}

func attrUint64(r slog.Record, key string) (uint64, bool) {
	var v uint64
	var found bool
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == key {
			v = a.Value.Uint64()
			found = true
			return false
		}
		return true
	})
	return v, found
}

func TestRateLimitSuppressesRepeats(t *testing.T) {
	h := &captureHandler{}
	l := NewRateLimited(slog.New(h))

	l.QueueFull()
	l.QueueFull()
	l.QueueFull()

	if got := h.len(); got != 1 {
		t.Fatalf("emitted %d records within the window, want 1", got)
	}
}

func TestForceSummaryEmitsSuppressedCounts(t *testing.T) {
	h := &captureHandler{}
	l := NewRateLimited(slog.New(h))

	l.QueueFull() // logged
	l.QueueFull() // suppressed
	l.QueueFull() // suppressed

	before := h.len()
	l.ForceSummary()
	if got := h.len(); got != before+1 {
		t.Fatalf("ForceSummary emitted %d records, want 1", got-before)
	}

	r := h.last()
	if r.Message != "suppressed log summary" {
		t.Fatalf("message = %q", r.Message)
	}
	occ, ok := attrUint64(r, "occurrences")
	if !ok || occ != 2 {
		t.Fatalf("occurrences = %d (found=%v), want 2", occ, ok)
	}

	// Counters reset: a second flush with nothing new is silent.
	before = h.len()
	l.ForceSummary()
	if h.len() != before {
		t.Fatal("ForceSummary emitted records with nothing suppressed")
	}
}
