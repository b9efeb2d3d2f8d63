package chat

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"chatrelay/internal/pkg/logx"
)

// Broadcaster fans frames out to the sessions of a Registry. Delivery is best-effort:
// a failure on one session is logged and never affects the others or the Registry.
type Broadcaster struct {
	registry *Registry
	logger   zerolog.Logger
}

// NewBroadcaster returns a Broadcaster delivering to the sessions of registry.
func NewBroadcaster(registry *Registry) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		logger:   logx.Component("Broadcaster"),
	}
}

// BroadcastAll delivers env to every live session.
func (b *Broadcaster) BroadcastAll(env Envelope) {
	b.BroadcastExcept(env, nil)
}

// BroadcastExcept delivers env to every live session other than excluded.
func (b *Broadcaster) BroadcastExcept(env Envelope, excluded *Session) {
	frame, err := json.Marshal(env)
	if err != nil {
		b.logger.Error().Err(err).Str("msg_type", string(env.Type)).Msg("Error marshaling message for broadcast.")
		return
	}

	b.BroadcastFrame(frame, excluded)
}

// BroadcastFrame delivers an already encoded frame to every live session other than
// excluded, which may be nil.
func (b *Broadcaster) BroadcastFrame(frame []byte, excluded *Session) {
	targets := lo.Filter(b.registry.Sessions(), func(s *Session, _ int) bool {
		return s != excluded
	})

	delivered := 0
	for _, s := range targets {
		if b.deliver(s, frame) {
			delivered++
		}
	}

	b.logger.Debug().
		Int("targets", len(targets)).
		Int("delivered", delivered).
		Msg("Broadcast finished.")
}

// Unicast delivers env to a single session.
func (b *Broadcaster) Unicast(s *Session, env Envelope) bool {
	frame, err := json.Marshal(env)
	if err != nil {
		b.logger.Error().Err(err).Str("msg_type", string(env.Type)).Msg("Error marshaling message for unicast.")
		return false
	}

	return b.deliver(s, frame)
}

// deliver sends frame to s, absorbing failures. Closed sessions are skipped silently.
func (b *Broadcaster) deliver(s *Session, frame []byte) bool {
	err := s.Deliver(frame)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrSessionClosed):
		return false
	default:
		b.logger.Warn().
			Err(err).
			Str("session_id", s.ID()).
			Msg("Delivery failed, skipping session.")
		return false
	}
}
