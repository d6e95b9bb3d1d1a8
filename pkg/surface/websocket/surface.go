// Package websocket dispatches structured commands to a remote target
// surface over a WebSocket connection. Responses are correlated to commands
// by the command id echoed back in the result envelope.
package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voyagent/voyagent/pkg/models"
	"github.com/voyagent/voyagent/pkg/protocol"
)

const handshakeTimeout = 10 * time.Second

// commandEnvelope is the wire format for an outbound dispatch.
type commandEnvelope struct {
	ID         string                    `json:"id"`
	SurfaceRef string                    `json:"surface_ref"`
	Command    *models.StructuredCommand `json:"command"`
	TimeoutMs  int64                     `json:"timeout_ms"`
}

// resultEnvelope is the wire format for an inbound result.
type resultEnvelope struct {
	ID     string         `json:"id"`
	Status string         `json:"status"`
	Output map[string]any `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
}

var _ protocol.Surface = &Surface{}

// Surface is a WebSocket client for a remote target-surface executor. It
// connects lazily on the first dispatch and reconnects after a dropped
// connection on the next one.
type Surface struct {
	url    string
	logger *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan resultEnvelope

	writeMu sync.Mutex
}

func NewSurface(url string, logger *slog.Logger) *Surface {
	return &Surface{
		url:     url,
		logger:  logger.With("module", "surface"),
		pending: make(map[string]chan resultEnvelope),
	}
}

// Dispatch sends one command and waits for its correlated result, the
// timeout, or ctx, whichever comes first.
func (s *Surface) Dispatch(ctx context.Context, surfaceRef string, command *models.StructuredCommand, timeout time.Duration) (map[string]any, error) {
	conn, err := s.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to surface: %w", err)
	}

	ch := make(chan resultEnvelope, 1)

	s.mu.Lock()
	s.pending[command.ID] = ch
	s.mu.Unlock()

	envelope := commandEnvelope{
		ID:         command.ID,
		SurfaceRef: surfaceRef,
		Command:    command,
		TimeoutMs:  timeout.Milliseconds(),
	}

	s.writeMu.Lock()
	err = conn.WriteJSON(envelope)
	s.writeMu.Unlock()

	if err != nil {
		s.removePending(command.ID)
		s.dropConn(conn)

		return nil, fmt.Errorf("send command: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("surface connection closed")
		}

		if result.Status != "ok" {
			return nil, fmt.Errorf("surface error: %s", result.Error)
		}

		return result.Output, nil
	case <-timer.C:
		s.removePending(command.ID)

		return nil, fmt.Errorf("dispatch timed out after %s", timeout)
	case <-ctx.Done():
		s.removePending(command.ID)

		return nil, ctx.Err()
	}
}

// Close tears down the connection. Pending dispatches fail with a
// connection-closed error.
func (s *Surface) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	return conn.Close()
}

func (s *Surface) connect(ctx context.Context) (*websocket.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return s.conn, nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, err
	}

	s.conn = conn
	go s.readLoop(conn)

	s.logger.Info("Connected to surface", "url", s.url)

	return conn, nil
}

func (s *Surface) readLoop(conn *websocket.Conn) {
	for {
		var envelope resultEnvelope

		if err := conn.ReadJSON(&envelope); err != nil {
			s.logger.Warn("Surface connection lost", "error", err)
			s.dropConn(conn)

			return
		}

		s.mu.Lock()
		ch, ok := s.pending[envelope.ID]
		delete(s.pending, envelope.ID)
		s.mu.Unlock()

		if ok {
			ch <- envelope
		}
	}
}

// dropConn resets the connection and fails every pending dispatch so a later
// dispatch reconnects cleanly.
func (s *Surface) dropConn(conn *websocket.Conn) {
	conn.Close()

	s.mu.Lock()

	if s.conn == conn {
		s.conn = nil
	}

	orphaned := s.pending
	s.pending = make(map[string]chan resultEnvelope)
	s.mu.Unlock()

	for _, ch := range orphaned {
		close(ch)
	}
}

func (s *Surface) removePending(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}
