/*
Package chat contains the relay core: the connection registry, the broadcast engine,
the protocol dispatcher and the presence notifier, plus the WebSocket session they act on.

This file defines Session, one live WebSocket connection. A Session owns a read pump that
feeds inbound frames to the Dispatcher and a write pump that drains its outbound queue
onto the socket.
*/
package chat

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chatrelay/internal/pkg/logx"
	"chatrelay/internal/pkg/randx"
)

const (
	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// closeGracePeriod bounds the write of the final close frame.
	closeGracePeriod = time.Second
)

var (
	// ErrSessionClosed is returned when delivering to a session that is no longer open.
	ErrSessionClosed = errors.New("session closed")

	// ErrSendQueueFull is returned when a session's outbound queue has no room left.
	ErrSendQueueFull = errors.New("session send queue full")
)

// SessionState is the protocol state of a session.
type SessionState int32

const (
	// StateUnbound is a connected session that has not sent a valid message yet.
	StateUnbound SessionState = iota

	// StateBound is a connected session with a claimed identity.
	StateBound

	// StateClosed is terminal.
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBound:
		return "bound"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionOptions tunes the send path of a session.
type SessionOptions struct {
	// SendBufferSize is the capacity of the outbound queue.
	SendBufferSize int

	// WriteTimeout is the deadline applied to every socket write.
	WriteTimeout time.Duration

	// MaxMessageSize is the largest inbound frame accepted, in bytes.
	MaxMessageSize int64
}

// Session represents one live WebSocket connection.
type Session struct {
	id string

	// underlying WebSocket connection, nil for sessions that are not backed by a socket.
	conn *websocket.Conn

	// outbound queue drained by WritePump; never closed, done signals shutdown instead.
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once

	state atomic.Int32

	opts SessionOptions

	logger zerolog.Logger
}

// NewSession wraps conn in a Session. conn may be nil, in which case frames only
// accumulate in the outbound queue.
func NewSession(conn *websocket.Conn, opts SessionOptions) *Session {
	id := randx.SessionID()

	sessionLogger := logx.Logger().With().
		Str("component", "Session").
		Str("session_id", id).
		Logger()

	return &Session{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, opts.SendBufferSize),
		done:   make(chan struct{}),
		opts:   opts,
		logger: sessionLogger,
	}
}

// ID returns the log identifier of the session.
func (s *Session) ID() string {
	return s.id
}

// State returns the current protocol state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// markBound moves an unbound session to the bound state.
func (s *Session) markBound() bool {
	return s.state.CompareAndSwap(int32(StateUnbound), int32(StateBound))
}

// IsOpen reports whether the session still accepts frames.
func (s *Session) IsOpen() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Deliver queues frame for the write pump without blocking.
func (s *Session) Deliver(frame []byte) error {
	if !s.IsOpen() {
		return ErrSessionClosed
	}

	select {
	case s.send <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close marks the session closed and makes the write pump send a close frame and
// release the socket. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		close(s.done)
	})
}

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// ReadPump reads frames from the socket and hands each to d. It returns when the
// connection fails or is closed, after d has been told the session is gone.
func (s *Session) ReadPump(d *Dispatcher) {
	defer func() {
		d.Close(s)
		s.Close()
	}()

	s.conn.SetReadLimit(s.opts.MaxMessageSize)

	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		s.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Info().Err(err).Msg("Connection closed unexpectedly")
			} else {
				s.logger.Debug().Err(err).Msg("Connection closed")
			}
			return
		}

		if messageType != websocket.TextMessage {
			s.logger.Debug().Int("message_type", messageType).Msg("Ignoring non-text frame")
			continue
		}

		d.Dispatch(s, frame)
	}
}

// WritePump writes queued frames to the socket and keeps the connection alive with pings.
func (s *Session) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := s.conn.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("Connection close error in WritePump")
		}
	}()

	for {
		select {
		case frame := <-s.send:
			if !s.write(websocket.TextMessage, frame) {
				s.Close()
				return
			}

		case <-ticker.C:
			if !s.write(websocket.PingMessage, nil) {
				s.Close()
				return
			}

		case <-s.done:
			s.writeClose()
			return
		}
	}
}

// write performs one deadline-bounded socket write. A failed write is a transport error.
func (s *Session) write(messageType int, data []byte) bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout)); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if err := s.conn.WriteMessage(messageType, data); err != nil {
		s.logger.Warn().Err(err).Int("message_type", messageType).Msg("Error writing to connection")
		return false
	}

	return true
}

func (s *Session) writeClose() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")

	if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod)); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to write close frame")
	}
}
