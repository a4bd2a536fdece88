package notify

import (
	"context"
	"fmt"

	"github.com/random-alex/between-exchanges-arbitrage/internal/domain"
)

// Event type names accepted by the Notifier filter.
const (
	EventPositionOpened  = "position_opened"
	EventPositionClosed  = "position_closed"
	EventPositionStuck   = "position_stuck"
	EventConnectorClosed = "connector_closed"
)

// EventRelay translates trading lifecycle events into operator
// notifications. It satisfies the position manager's Events interface; all
// deliveries are best-effort.
type EventRelay struct {
	notifier *Notifier
}

// NewEventRelay creates an EventRelay on top of the given Notifier.
func NewEventRelay(notifier *Notifier) *EventRelay {
	return &EventRelay{notifier: notifier}
}

// PositionOpened announces a newly opened position.
func (r *EventRelay) PositionOpened(ctx context.Context, p *domain.Position) {
	msg := fmt.Sprintf(
		"%s\nlong %s @ %.6g / short %s @ %.6g\nqty %.6g, spread %.4f%%, notional $%.2f",
		p.Symbol,
		p.LongExchange, p.EntryLongPrice,
		p.ShortExchange, p.EntryShortPrice,
		p.Quantity, p.EntrySpreadPct, p.NotionalUSD,
	)
	_ = r.notifier.Notify(ctx, EventPositionOpened, "Position opened", msg)
}

// PositionClosed announces a fully closed position with its realized outcome.
func (r *EventRelay) PositionClosed(ctx context.Context, p *domain.Position) {
	net, roi := 0.0, 0.0
	if p.NetProfitUSD != nil {
		net = *p.NetProfitUSD
	}
	if p.ROIPct != nil {
		roi = *p.ROIPct
	}
	reason := ""
	if p.CloseReason != nil {
		reason = *p.CloseReason
	}

	msg := fmt.Sprintf(
		"%s (%s / %s)\nnet $%.2f, roi %.2f%%\nreason: %s",
		p.Symbol, p.LongExchange, p.ShortExchange,
		net, roi, reason,
	)
	_ = r.notifier.Notify(ctx, EventPositionClosed, "Position closed", msg)
}

// PositionStuck warns about a position that repeatedly fails to close.
func (r *EventRelay) PositionStuck(ctx context.Context, p *domain.Position) {
	msg := fmt.Sprintf(
		"%s (%s / %s)\nremaining qty %.6g after %d close attempts\nmanual intervention may be required",
		p.Symbol, p.LongExchange, p.ShortExchange,
		p.OpenQuantity(), p.CloseAttempts,
	)
	_ = r.notifier.Notify(ctx, EventPositionStuck, "Position stuck", msg)
}

// ConnectorClosed warns that an exchange feed gave up reconnecting.
func (r *EventRelay) ConnectorClosed(ctx context.Context, exchange string, err error) {
	msg := fmt.Sprintf("%s feed stopped: %v", exchange, err)
	_ = r.notifier.Notify(ctx, EventConnectorClosed, "Connector closed", msg)
}
