package domain

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicatePosition is returned when opening a position would violate
	// the one-open-position-per-symbol-and-exchange-pair invariant.
	ErrDuplicatePosition = errors.New("open position already exists for symbol and exchanges")
	// ErrPositionClosed is returned by ClosePosition when the stored
	// position is already closed; a finished position is immutable.
	ErrPositionClosed = errors.New("position already closed")
	// ErrSpecMissing means no instrument spec is known for a venue/instrument
	// pair; the opportunity cannot be priced and must be skipped.
	ErrSpecMissing = errors.New("instrument spec missing")
	// ErrNoQuote means the quote store has no quote for the requested key.
	ErrNoQuote = errors.New("no quote available")
	// ErrConnectorClosed is returned by connector operations after the
	// manager has reached its terminal state.
	ErrConnectorClosed = errors.New("connector closed")
	// ErrUnknownExchange is returned by the symbol normalizer for venues it
	// has no rule table for.
	ErrUnknownExchange = errors.New("unknown exchange")
)
