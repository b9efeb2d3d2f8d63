/*
Package chat contains the relay core.

This file defines the Manager, which owns the process-wide relay state: it wires the
Registry, Broadcaster, Presence notifier and Dispatcher together, attaches upgraded
connections to them, and drains every live session on shutdown.
*/
package chat

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chatrelay/internal/configs"
	"chatrelay/internal/pkg/errs"
	"chatrelay/internal/pkg/logx"
)

// Stats is a point-in-time view of presence.
type Stats struct {
	// Online is the number of sessions with a bound identity.
	Online int `json:"online"`

	// Connections is the number of live sessions, including lurkers.
	Connections int `json:"connections"`
}

// Manager coordinates the relay for the whole process.
type Manager struct {
	registry    *Registry
	broadcaster *Broadcaster
	dispatcher  *Dispatcher

	opts SessionOptions

	// mu guards closed and the wg.Add calls made by Serve.
	mu     sync.Mutex
	closed bool

	// wg tracks the read and write pump of every attached session.
	wg sync.WaitGroup

	logger zerolog.Logger
}

// NewManager constructs a Manager using the relay settings of cfg.
func NewManager(cfg *configs.AppConfig) *Manager {
	registry := NewRegistry()
	broadcaster := NewBroadcaster(registry)
	presence := NewPresence(registry, broadcaster)

	return &Manager{
		registry:    registry,
		broadcaster: broadcaster,
		dispatcher:  NewDispatcher(registry, broadcaster, presence),
		opts: SessionOptions{
			SendBufferSize: cfg.SendBufferSize,
			WriteTimeout:   cfg.WriteTimeout,
			MaxMessageSize: cfg.MaxMessageSize,
		},
		logger: logx.Component("Manager"),
	}
}

// Accepting reports whether new connections may still be attached.
func (m *Manager) Accepting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return !m.closed
}

// Serve attaches an upgraded connection to the relay and blocks until it is gone.
// The write pump runs in its own goroutine; the read pump runs in the caller's.
func (m *Manager) Serve(conn *websocket.Conn) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errs.NewError(errs.ErrServerShuttingDown)
	}
	m.wg.Add(2)
	m.mu.Unlock()

	session := NewSession(conn, m.opts)

	go func() {
		defer m.wg.Done()
		session.WritePump()
	}()

	m.dispatcher.Open(session)

	// Shutdown may have taken its session snapshot before Open registered this one.
	if !m.Accepting() {
		session.Close()
	}

	defer m.wg.Done()
	session.ReadPump(m.dispatcher)

	return nil
}

// Stats returns the current presence counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Online:      m.registry.OnlineCount(),
		Connections: m.registry.Len(),
	}
}

// Shutdown stops accepting connections, closes every live session and waits for their
// pumps to exit or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	sessions := m.registry.Sessions()
	m.logger.Info().Int("sessions", len(sessions)).Msg("Closing all sessions...")

	for _, s := range sessions {
		s.Close()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info().Msg("Manager shutdown complete.")
		return nil
	case <-ctx.Done():
		m.logger.Warn().Msg("Manager shutdown timed out, some sessions may still be draining.")
		return ctx.Err()
	}
}
