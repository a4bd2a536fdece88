// Package connector implements the per-exchange connection resilience state
// machine. One Manager owns one exchange adapter and drives it through
// connect, subscribe, receive, failure detection, backoff, and reconnect,
// emitting normalized quotes into the shared quote store. The manager knows
// nothing about any venue's wire format; everything venue-specific lives
// behind the Adapter interface.
package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/random-alex/between-exchanges-arbitrage/internal/domain"
	"github.com/random-alex/between-exchanges-arbitrage/internal/logging"
	"github.com/random-alex/between-exchanges-arbitrage/internal/quotes"
)

const (
	// healthCheckInterval is how often the liveness stamps are inspected,
	// independently of the receive path.
	healthCheckInterval = 5 * time.Second

	// transportTimeout bounds the gap between any two inbound messages
	// before the socket is considered dead even if technically open.
	transportTimeout = 30 * time.Second

	// dataFreshnessMultiplier scales the per-exchange staleness threshold
	// into the data-freshness timeout: the socket may be alive (pongs,
	// acks) while carrying no usable market data.
	dataFreshnessMultiplier = 6

	// pingTimeout bounds a single keep-alive write.
	pingTimeout = 10 * time.Second
)

// errStopped signals a deliberate shutdown from inside the receive loop.
var errStopped = errors.New("connector stopped")

// Adapter is the venue-specific half of a connector. Implementations own the
// underlying WebSocket and must bound ReadMessage with a deadline so that
// cancellation is never indefinitely delayed; a deadline expiry is reported
// as ErrReadTimeout, not a failure.
type Adapter interface {
	Name() string
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	SendPing(ctx context.Context) error
	ReadMessage(ctx context.Context) ([]byte, error)
	// ParseMessage converts one raw message into a quote. ok is false for
	// valid non-data messages (acks, pongs, heartbeats).
	ParseMessage(raw []byte) (domain.Quote, bool, error)
	Close() error
	PingInterval() time.Duration
}

// ErrReadTimeout is returned by Adapter.ReadMessage when the bounded read
// expired with no message. The manager treats it as "keep waiting"; actual
// silence is caught by the health check.
var ErrReadTimeout = errors.New("read timed out")

// Config holds the resilience parameters for one exchange connection.
type Config struct {
	Exchange              string
	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration
	MaxRetries            int
	ConnectTimeout        time.Duration
	SubscribeTimeout      time.Duration
	// StalenessThreshold is the per-exchange bound on the age of usable
	// market data; the health check fires at a multiple of it.
	StalenessThreshold time.Duration
	QueueSize          int
}

// Backoff computes the reconnect delay for a zero-based attempt counter:
// min(initial * 2^attempt, max).
func (c Config) Backoff(attempt int) time.Duration {
	delay := c.InitialReconnectDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= c.MaxReconnectDelay {
			return c.MaxReconnectDelay
		}
	}
	if delay > c.MaxReconnectDelay {
		return c.MaxReconnectDelay
	}
	return delay
}

// Stats is a snapshot of a manager's counters.
type Stats struct {
	ParseErrors      uint64
	QueueDrops       uint64
	ConnectionErrors uint64
	Reconnects       uint64
}

// Manager drives one adapter through the resilience state machine and feeds
// parsed quotes into the quote store through a bounded drop-newest queue.
type Manager struct {
	cfg     Config
	adapter Adapter
	store   *quotes.Store
	logger  *logging.RateLimited

	state atomic.Int32

	queue chan domain.Quote

	// Liveness stamps, unix nanoseconds. lastMessage proves the transport
	// is alive; lastData proves usable market data is arriving.
	lastMessage atomic.Int64
	lastData    atomic.Int64

	parseErrors      atomic.Uint64
	queueDrops       atomic.Uint64
	connectionErrors atomic.Uint64
	reconnects       atomic.Uint64

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewManager creates a Manager for the given adapter. The manager starts in
// StateDisconnected; call RunWithRetry to bring the connection up.
func NewManager(cfg Config, adapter Adapter, store *quotes.Store, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		adapter: adapter,
		store:   store,
		logger: logging.NewRateLimited(
			logger.With(
				slog.String("component", "connector"),
				slog.String("exchange", cfg.Exchange),
			),
		),
		queue:  make(chan domain.Quote, cfg.QueueSize),
		stopCh: make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// IsConnected reports whether the manager is in the Connected phase.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Stats returns a snapshot of the manager's counters.
func (m *Manager) Stats() Stats {
	return Stats{
		ParseErrors:      m.parseErrors.Load(),
		QueueDrops:       m.queueDrops.Load(),
		ConnectionErrors: m.connectionErrors.Load(),
		Reconnects:       m.reconnects.Load(),
	}
}

// FlushLogSummary emits counts for any log lines suppressed since the last
// flush.
func (m *Manager) FlushLogSummary() {
	m.logger.ForceSummary()
}

// Stop requests a graceful shutdown. It is idempotent and forces the
// terminal state from wherever the manager currently is.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.setState(StateClosed)
		m.disconnect()
	})
}

// RunWithRetry blocks, driving the state machine until the context is
// cancelled, Stop is called, or the retry budget is exhausted. Exhaustion
// returns domain.ErrConnectorClosed so the caller can report a terminally
// dead exchange; a deliberate stop returns nil.
func (m *Manager) RunWithRetry(ctx context.Context) error {
	defer m.setState(StateClosed)

	consumerCtx, cancelConsumer := context.WithCancel(ctx)
	defer cancelConsumer()
	go m.consume(consumerCtx)

	retries := 0
	for {
		if m.stopped(ctx) {
			return nil
		}

		m.setState(StateConnecting)
		m.logger.Base().Debug("connecting", slog.Int("attempt", retries+1))

		err := m.connectAndSubscribe(ctx)
		if err == nil {
			m.setState(StateConnected)
			m.logger.Base().Info("connected")
			err = m.receiveLoop(ctx, &retries)
		}

		// Cleanup always runs before a new attempt, best effort.
		m.disconnect()

		if errors.Is(err, errStopped) || m.stopped(ctx) {
			return nil
		}

		m.connectionErrors.Add(1)
		retries++
		if m.cfg.MaxRetries > 0 && retries >= m.cfg.MaxRetries {
			m.logger.Base().Error("retry budget exhausted",
				slog.Int("retries", retries),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("connector %s: %w", m.cfg.Exchange, domain.ErrConnectorClosed)
		}

		m.setState(StateReconnecting)
		m.reconnects.Add(1)
		delay := m.cfg.Backoff(retries - 1)
		m.logger.ConnectionError(err, retries, m.cfg.MaxRetries)
		m.logger.Base().Info("reconnecting",
			slog.Duration("delay", delay),
			slog.Int("attempt", retries),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		case <-m.stopCh:
			return nil
		}
	}
}

// connectAndSubscribe performs the two bounded setup phases.
func (m *Manager) connectAndSubscribe(ctx context.Context) error {
	connectCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	err := m.adapter.Connect(connectCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	subCtx, cancel := context.WithTimeout(ctx, m.cfg.SubscribeTimeout)
	err = m.adapter.Subscribe(subCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

// receiveLoop owns the Connected phase: it reads messages, keeps the
// liveness stamps fresh, sends keep-alive pings, and runs the periodic
// health check. It returns a non-nil error describing the failure that
// should trigger reconnection, or errStopped on deliberate shutdown.
//
// The retry counter resets only after a full connect+subscribe+first
// successful data receive cycle.
func (m *Manager) receiveLoop(ctx context.Context, retries *int) error {
	now := time.Now().UnixNano()
	m.lastMessage.Store(now)
	m.lastData.Store(now)

	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()

	msgs := make(chan []byte, 1)
	readErr := make(chan error, 1)
	go func() {
		for {
			raw, err := m.adapter.ReadMessage(readCtx)
			if err != nil {
				if errors.Is(err, ErrReadTimeout) {
					select {
					case <-readCtx.Done():
						return
					default:
						continue
					}
				}
				select {
				case readErr <- err:
				case <-readCtx.Done():
				}
				return
			}
			select {
			case msgs <- raw:
			case <-readCtx.Done():
				return
			}
		}
	}()

	ping := time.NewTicker(m.adapter.PingInterval())
	defer ping.Stop()
	health := time.NewTicker(healthCheckInterval)
	defer health.Stop()

	firstData := false
	for {
		select {
		case raw := <-msgs:
			// Any inbound message proves the transport is alive, even if
			// it fails to parse.
			m.lastMessage.Store(time.Now().UnixNano())

			q, ok, err := m.adapter.ParseMessage(raw)
			if err != nil {
				m.parseErrors.Add(1)
				m.logger.ParseError(err, raw)
				continue
			}
			if !ok {
				continue
			}

			m.lastData.Store(time.Now().UnixNano())
			if !firstData {
				firstData = true
				*retries = 0
			}

			select {
			case m.queue <- q:
			default:
				// Drop the newest rather than block the receive loop.
				m.queueDrops.Add(1)
				m.logger.QueueFull()
			}

		case err := <-readErr:
			return fmt.Errorf("receive: %w", err)

		case <-ping.C:
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := m.adapter.SendPing(pingCtx)
			cancel()
			if err != nil {
				return fmt.Errorf("ping: %w", err)
			}

		case <-health.C:
			if err := m.checkHealth(); err != nil {
				return err
			}

		case <-ctx.Done():
			return errStopped
		case <-m.stopCh:
			return errStopped
		}
	}
}

// checkHealth raises a recoverable failure when either liveness signal has
// gone stale. Transport silence means the socket is dead; data staleness
// means the socket is alive but carrying nothing usable, which warrants a
// reconnect just the same.
func (m *Manager) checkHealth() error {
	now := time.Now()

	if gap := now.Sub(time.Unix(0, m.lastMessage.Load())); gap > transportTimeout {
		return fmt.Errorf("health: no messages for %s", gap.Round(time.Second))
	}

	dataTimeout := m.cfg.StalenessThreshold * dataFreshnessMultiplier
	if gap := now.Sub(time.Unix(0, m.lastData.Load())); gap > dataTimeout {
		return fmt.Errorf("health: no market data for %s (threshold %s)",
			gap.Round(time.Second), dataTimeout)
	}
	return nil
}

// consume drains the bounded queue into the quote store for the lifetime of
// the manager. It is the sole consumer, decoupling adapter read cadence from
// store writes.
func (m *Manager) consume(ctx context.Context) {
	for {
		select {
		case q := <-m.queue:
			m.store.Put(ctx, q)
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		}
	}
}

// disconnect releases the adapter's connection. Failures during cleanup are
// swallowed: the next connect attempt starts from a fresh object anyway.
func (m *Manager) disconnect() {
	if err := m.adapter.Close(); err != nil {
		m.logger.Base().Debug("disconnect error", slog.String("error", err.Error()))
	}
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
}

func (m *Manager) stopped(ctx context.Context) bool {
	select {
	case <-m.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
