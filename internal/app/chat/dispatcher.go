package chat

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"chatrelay/internal/pkg/errs"
	"chatrelay/internal/pkg/logx"
)

// Dispatcher drives the per-session protocol: it greets new sessions, validates and routes
// inbound frames, binds identities lazily on the first valid message, and announces
// departures.
type Dispatcher struct {
	registry    *Registry
	broadcaster *Broadcaster
	presence    *Presence
	logger      zerolog.Logger
}

// NewDispatcher wires a Dispatcher to its collaborators.
func NewDispatcher(registry *Registry, broadcaster *Broadcaster, presence *Presence) *Dispatcher {
	return &Dispatcher{
		registry:    registry,
		broadcaster: broadcaster,
		presence:    presence,
		logger:      logx.Component("Dispatcher"),
	}
}

// Open registers s and sends it the welcome notice and the current online count. The
// greeting is queued before s can receive any broadcast.
func (d *Dispatcher) Open(s *Session) {
	d.registry.Admit(s, func(online int) {
		if !d.broadcaster.Unicast(s, NewSystem(welcomeText)) {
			d.logger.Warn().Str("session_id", s.ID()).Msg("Failed to send welcome message.")
		}

		if !d.broadcaster.Unicast(s, NewOnlineCount(online)) {
			d.logger.Warn().Str("session_id", s.ID()).Msg("Failed to send initial online count.")
		}
	})

	d.logger.Info().
		Str("session_id", s.ID()).
		Int("connections", d.registry.Len()).
		Msg("Session opened.")
}

// Dispatch handles one inbound frame from s.
func (d *Dispatcher) Dispatch(s *Session, frame []byte) {
	var in inboundEnvelope
	if err := json.Unmarshal(frame, &in); err != nil {
		d.logger.Warn().Err(err).Str("session_id", s.ID()).Msg("Session sent invalid JSON.")
		d.broadcaster.Unicast(s, NewError(errs.NewError(errs.ErrMalformedMessage).Message))
		return
	}

	switch msgType := in.messageType(); msgType {
	case TypeChatMessage:
		msg, err := parseChatMessage(in)
		if err != nil {
			d.logger.Debug().Err(err).Str("session_id", s.ID()).Msg("Dropping invalid chat message.")
			return
		}

		d.bind(s, msg.Username)
		d.broadcaster.BroadcastFrame(frame, nil)

	case TypeTyping:
		typing, err := parseTyping(in)
		if err != nil {
			d.logger.Debug().Err(err).Str("session_id", s.ID()).Msg("Dropping invalid typing event.")
			return
		}

		d.bind(s, typing.Username)
		d.broadcaster.BroadcastFrame(frame, s)

	default:
		d.logger.Debug().
			Str("session_id", s.ID()).
			Str("msg_type", string(msgType)).
			Msg("Session sent unsupported message type.")
	}
}

// bind records identity for s. Only the unbound to bound transition is announced; later
// calls silently rename the session.
func (d *Dispatcher) bind(s *Session, identity string) {
	if !d.registry.Bind(s, identity) {
		return
	}

	s.markBound()

	d.logger.Info().
		Str("session_id", s.ID()).
		Str("username", identity).
		Msg("Session bound to identity.")

	d.presence.Joined(identity)
}

// Close removes s from the registry. A leave notice is only emitted for sessions that
// had bound an identity.
func (d *Dispatcher) Close(s *Session) {
	identity, bound := d.registry.Unregister(s)

	d.logger.Info().
		Str("session_id", s.ID()).
		Bool("bound", bound).
		Int("connections", d.registry.Len()).
		Msg("Session closed.")

	if bound {
		d.presence.Left(identity)
	}
}
