// Package logging provides a rate-limited wrapper around slog for the hot
// paths that can emit the same message thousands of times per second (parse
// failures on a misbehaving feed, queue drops during a burst). Repeats
// within the window are counted instead of logged, and a summary line is
// emitted when the window reopens.
package logging

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultWindow = 10 * time.Second

// RateLimited wraps an slog.Logger with per-category suppression windows.
type RateLimited struct {
	base   *slog.Logger
	window time.Duration

	mu    sync.Mutex
	stats map[string]*categoryStats
}

type categoryStats struct {
	count      uint64
	lastLogged time.Time
	firstSeen  time.Time
}

// NewRateLimited creates a wrapper with the default 10s window.
func NewRateLimited(base *slog.Logger) *RateLimited {
	return &RateLimited{
		base:   base,
		window: defaultWindow,
		stats:  make(map[string]*categoryStats),
	}
}

// Base returns the unwrapped logger for messages that must never be
// suppressed (state transitions, terminal failures).
func (l *RateLimited) Base() *slog.Logger {
	return l.base
}

// ParseError logs a message parse failure, rate-limited per window. A short
// prefix of the raw payload is included on the logged occurrences.
func (l *RateLimited) ParseError(err error, raw []byte) {
	sample := raw
	if len(sample) > 120 {
		sample = sample[:120]
	}
	l.log(slog.LevelWarn, "parse_error", "message parse failed",
		slog.String("error", err.Error()),
		slog.String("sample", string(sample)),
	)
}

// QueueFull logs a dropped quote, rate-limited per window.
func (l *RateLimited) QueueFull() {
	l.log(slog.LevelWarn, "queue_full", "quote queue full, dropping newest")
}

// ConnectionError logs a connection failure with retry context,
// rate-limited per window.
func (l *RateLimited) ConnectionError(err error, attempt, maxRetries int) {
	l.log(slog.LevelWarn, "connection_error", "connection failed",
		slog.String("error", err.Error()),
		slog.Int("attempt", attempt),
		slog.Int("max_retries", maxRetries),
	)
}

// Event logs an arbitrary rate-limited message under the given category.
func (l *RateLimited) Event(level slog.Level, category, msg string, attrs ...slog.Attr) {
	l.log(level, category, msg, attrs...)
}

// Opportunity logs one detected opportunity, rate-limited per exchange pair
// and symbol so a persistent spread does not flood the log.
func (l *RateLimited) Opportunity(longExchange, shortExchange, symbol string, attrs ...slog.Attr) {
	category := "opportunity:" + longExchange + ":" + shortExchange + ":" + symbol
	attrs = append(attrs,
		slog.String("long_exchange", longExchange),
		slog.String("short_exchange", shortExchange),
		slog.String("symbol", symbol),
	)
	l.log(slog.LevelInfo, category, "arbitrage opportunity", attrs...)
}

func (l *RateLimited) log(level slog.Level, category, msg string, attrs ...slog.Attr) {
	l.mu.Lock()
	st, ok := l.stats[category]
	now := time.Now()
	if !ok {
		st = &categoryStats{firstSeen: now}
		l.stats[category] = st
	}
	st.count++

	shouldLog := st.lastLogged.IsZero() || now.Sub(st.lastLogged) >= l.window
	var suppressed uint64
	if shouldLog {
		suppressed = st.count - 1
		st.count = 0
		st.lastLogged = now
	}
	l.mu.Unlock()

	if !shouldLog {
		return
	}

	args := make([]any, 0, len(attrs)+1)
	for _, a := range attrs {
		args = append(args, a)
	}
	if suppressed > 0 {
		args = append(args, slog.Uint64("suppressed", suppressed))
	}
	l.base.Log(context.Background(), level, msg, args...)
}

// ForceSummary emits a summary line for every category with suppressed
// occurrences and resets the counters. The stats loop calls this
// periodically so bursts are never lost entirely.
func (l *RateLimited) ForceSummary() {
	l.mu.Lock()
	type pending struct {
		category string
		count    uint64
	}
	var out []pending
	for cat, st := range l.stats {
		if st.count > 0 {
			out = append(out, pending{cat, st.count})
			st.count = 0
			st.lastLogged = time.Now()
		}
	}
	l.mu.Unlock()

	for _, p := range out {
		l.base.Info("suppressed log summary",
			slog.String("category", p.category),
			slog.Uint64("occurrences", p.count),
		)
	}
}
