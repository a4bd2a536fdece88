// Package exchange provides the venue-specific WebSocket adapters behind the
// connector.Adapter interface: dialing, subscription payloads, keep-alive
// conventions, and level-1 quote parsing for each supported derivatives venue.
// Instrument identifiers are normalized at parse time so everything downstream
// of the connectors speaks one symbol language.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/random-alex/between-exchanges-arbitrage/internal/connector"
)

const (
	handshakeTimeout = 15 * time.Second

	// writeWait bounds a single outbound frame.
	writeWait = 10 * time.Second

	// readWait bounds a single blocking read so that shutdown is never
	// delayed indefinitely. Expiry surfaces as connector.ErrReadTimeout.
	readWait = 5 * time.Second
)

// socket wraps one gorilla/websocket connection with bounded reads and
// writes. Every adapter tears down and replaces its socket on reconnect: a
// fresh object carries no stale connection state.
type socket struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// dial replaces any previous connection with a fresh one.
func (s *socket) dial(ctx context.Context, url string) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}

	s.mu.Lock()
	old := s.conn
	s.conn = conn
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (s *socket) current() (*websocket.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil, errors.New("not connected")
	}
	return s.conn, nil
}

// read returns the next frame, converting a deadline expiry into
// connector.ErrReadTimeout so the caller can distinguish silence from
// failure.
func (s *socket) read(ctx context.Context) ([]byte, error) {
	conn, err := s.current()
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(readWait)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}

	_, raw, err := conn.ReadMessage()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, connector.ErrReadTimeout
		}
		return nil, fmt.Errorf("read: %w", err)
	}
	return raw, nil
}

// writeText sends one text frame with a write deadline.
func (s *socket) writeText(payload []byte) error {
	conn, err := s.current()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// writeControlPing sends a WebSocket-level ping frame for venues that speak
// protocol pings instead of application pings.
func (s *socket) writeControlPing() error {
	conn, err := s.current()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// close sends a close frame best-effort and releases the connection.
func (s *socket) close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	_ = conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	return conn.Close()
}
