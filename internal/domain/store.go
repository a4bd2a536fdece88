package domain

import (
	"context"
	"time"
)

// PositionStore persists positions and their close-attempt audit trail.
type PositionStore interface {
	// CreatePosition inserts a new position. The caller must have checked
	// pair uniqueness via HasOpenPositionForSymbolAndExchanges; backends that
	// support it should serialize the check-then-insert (see OpenPosition).
	CreatePosition(ctx context.Context, p Position) error

	// OpenPosition atomically re-checks that no open position exists for the
	// symbol on either exchange and inserts p. It returns
	// ErrDuplicatePosition when the uniqueness invariant would be violated.
	OpenPosition(ctx context.Context, p Position) error

	GetPosition(ctx context.Context, id string) (Position, error)
	UpdatePosition(ctx context.Context, p Position) error

	// ClosePosition persists a terminal transition. It returns
	// ErrPositionClosed when the stored row is already closed, so a late
	// close can never overwrite a finished position.
	ClosePosition(ctx context.Context, p Position) error

	// GetOpenPositions returns every position in a non-terminal status.
	GetOpenPositions(ctx context.Context) ([]Position, error)
	GetClosedPositions(ctx context.Context, limit int) ([]Position, error)

	// HasOpenPositionForSymbolAndExchanges reports whether any non-terminal
	// position for symbol uses ex1 or ex2 on either leg.
	HasOpenPositionForSymbolAndExchanges(ctx context.Context, symbol, ex1, ex2 string) (bool, error)

	CreateCloseAttempt(ctx context.Context, a CloseAttempt) error
	GetCloseAttempts(ctx context.Context, positionID string, limit int) ([]CloseAttempt, error)

	GetPositionStats(ctx context.Context) (PositionStats, error)
}

// SpecProvider resolves instrument specs fetched at startup. A missing spec
// means the instrument cannot be priced and must be skipped.
type SpecProvider interface {
	// GetSpec returns ErrSpecMissing when no spec is known for the pair.
	GetSpec(exchange, instrumentID string) (InstrumentSpec, error)
}

// QuoteCache mirrors latest quotes to an external cache for dashboards.
// Implementations are best-effort; callers log and ignore errors.
type QuoteCache interface {
	SetQuote(ctx context.Context, q Quote) error
	GetQuote(ctx context.Context, exchange, normalizedID string) (Quote, error)
}

// PositionArchiver exports closed positions and their audit trail to cold
// storage.
type PositionArchiver interface {
	ArchiveClosedPositions(ctx context.Context, before time.Time) (int64, error)
}
