package chat

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
)

// MessageType tags every frame exchanged over the relay.
type MessageType string

const (
	// TypeChatMessage is a user chat line, echoed to every session including the sender.
	TypeChatMessage MessageType = "chat-message"

	// TypeTyping is a typing indicator, relayed to every session except the sender.
	TypeTyping MessageType = "typing"

	// TypeSystem carries welcome, join and leave notices.
	TypeSystem MessageType = "system"

	// TypeOnlineCount carries the number of sessions with a bound identity.
	TypeOnlineCount MessageType = "online-count"

	// TypeError acknowledges a malformed inbound frame.
	TypeError MessageType = "error"
)

const (
	welcomeText = "Welcome to the chat!"
	joinedText  = "%s joined the chat"
	leftText    = "%s left the chat"
)

// Envelope is the JSON frame of the wire protocol. Only the fields relevant to Type are
// populated; Timestamp is epoch milliseconds assigned by whoever produced the frame.
type Envelope struct {
	Type      MessageType `json:"type"`
	Username  string      `json:"username,omitempty"`
	Text      string      `json:"text,omitempty"`
	Count     *int        `json:"count,omitempty"`
	IsTyping  *bool       `json:"isTyping,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// inboundEnvelope is what the dispatcher decodes from clients. Fields stay raw so that a
// field of the wrong JSON type is dropped by validation instead of failing the parse.
type inboundEnvelope struct {
	Type     json.RawMessage `json:"type"`
	Username json.RawMessage `json:"username"`
	Text     json.RawMessage `json:"text"`
	IsTyping json.RawMessage `json:"isTyping"`
}

// messageType returns the frame type, or "" when it is missing or not a string.
func (in inboundEnvelope) messageType() MessageType {
	var t MessageType
	if err := decodeField(in.Type, &t); err != nil {
		return ""
	}
	return t
}

// decodeField unmarshals a raw field into dst. An absent field leaves dst untouched.
func decodeField(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

type chatMessageFields struct {
	Username string `validate:"required"`
	Text     string `validate:"required"`
}

type typingFields struct {
	Username string `validate:"required"`
	IsTyping *bool  `validate:"required"`
}

var validate = validator.New()

// parseChatMessage extracts and checks the fields a chat-message must carry.
func parseChatMessage(in inboundEnvelope) (chatMessageFields, error) {
	var f chatMessageFields
	if err := errors.Join(
		decodeField(in.Username, &f.Username),
		decodeField(in.Text, &f.Text),
	); err != nil {
		return f, err
	}
	return f, validate.Struct(f)
}

// parseTyping extracts and checks the fields a typing event must carry.
func parseTyping(in inboundEnvelope) (typingFields, error) {
	var f typingFields
	if err := errors.Join(
		decodeField(in.Username, &f.Username),
		decodeField(in.IsTyping, &f.IsTyping),
	); err != nil {
		return f, err
	}
	return f, validate.Struct(f)
}

// timeNow is swapped in tests.
var timeNow = time.Now

func nowMillis() int64 {
	return timeNow().UnixMilli()
}

// NewSystem builds a system notice.
func NewSystem(text string) Envelope {
	return Envelope{Type: TypeSystem, Text: text, Timestamp: nowMillis()}
}

// NewOnlineCount builds an online-count update.
func NewOnlineCount(count int) Envelope {
	return Envelope{Type: TypeOnlineCount, Count: &count, Timestamp: nowMillis()}
}

// NewError builds an error acknowledgment.
func NewError(text string) Envelope {
	return Envelope{Type: TypeError, Text: text, Timestamp: nowMillis()}
}
