package api

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType discriminates websocket envelopes. Every envelope carries it
// in a required "type" field
type MessageType string

const (
	// Server to client
	MessageTypeWelcome    MessageType = "welcome"
	MessageTypeUserJoined MessageType = "user_joined"
	MessageTypeUserLeft   MessageType = "user_left"
	MessageTypePong       MessageType = "pong"
	MessageTypeError      MessageType = "error"

	// Bidirectional
	MessageTypeCursorMove    MessageType = "cursor_move"
	MessageTypeDiagramUpdate MessageType = "diagram_update"
	MessageTypePing          MessageType = "ping"
)

// Stable error codes surfaced to clients in error envelopes
const (
	ErrorCodeInvalidToken         = "INVALID_TOKEN"
	ErrorCodePermissionDenied     = "PERMISSION_DENIED"
	ErrorCodeInvalidMessageFormat = "INVALID_MESSAGE_FORMAT"
	ErrorCodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	ErrorCodeUnknownMessageType   = "UNKNOWN_MESSAGE_TYPE"
	ErrorCodeInternalError        = "INTERNAL_ERROR"
)

// Message is implemented by every websocket envelope
type Message interface {
	GetType() MessageType
	Validate() error
}

// UnknownMessageTypeError reports an envelope whose type discriminator is
// not one of the client message kinds. Structurally valid JSON with an
// unrecognized type is rejected at dispatch with this distinct error, not
// as a validation failure
type UnknownMessageTypeError struct {
	Type MessageType
}

func (e *UnknownMessageTypeError) Error() string {
	return fmt.Sprintf("unknown message type: %q", string(e.Type))
}

// Participant is the identity attached to a connection, resolved once at
// authentication and reused for every broadcast envelope
type Participant struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Picture string `json:"picture,omitempty"`
}

// CursorPosition holds diagram-space cursor coordinates. Pointer fields so
// that missing and non-numeric values both fail validation
type CursorPosition struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

// CursorMoveMessage carries a participant's cursor position. The server
// rebroadcasts it with User filled in; it is never persisted
type CursorMoveMessage struct {
	Type      MessageType     `json:"type"`
	Position  *CursorPosition `json:"position"`
	User      *Participant    `json:"user,omitempty"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
}

func (m CursorMoveMessage) GetType() MessageType { return MessageTypeCursorMove }

func (m CursorMoveMessage) Validate() error {
	if m.Type != MessageTypeCursorMove {
		return fmt.Errorf("invalid type: expected %s, got %s", MessageTypeCursorMove, m.Type)
	}
	if m.Position == nil {
		return fmt.Errorf("position is required")
	}
	if m.Position.X == nil {
		return fmt.Errorf("position.x must be a number")
	}
	if m.Position.Y == nil {
		return fmt.Errorf("position.y must be a number")
	}
	return nil
}

// DiagramUpdateMessage carries an opaque diagram delta or snapshot. The
// server rebroadcasts it with User filled in and schedules a debounced save
type DiagramUpdateMessage struct {
	Type      MessageType    `json:"type"`
	Data      map[string]any `json:"data"`
	User      *Participant   `json:"user,omitempty"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
}

func (m DiagramUpdateMessage) GetType() MessageType { return MessageTypeDiagramUpdate }

func (m DiagramUpdateMessage) Validate() error {
	if m.Type != MessageTypeDiagramUpdate {
		return fmt.Errorf("invalid type: expected %s, got %s", MessageTypeDiagramUpdate, m.Type)
	}
	if m.Data == nil {
		return fmt.Errorf("data is required")
	}
	return nil
}

// PingMessage is a client heartbeat; the server replies to the sender only
type PingMessage struct {
	Type      MessageType `json:"type"`
	Timestamp *time.Time  `json:"timestamp,omitempty"`
}

func (m PingMessage) GetType() MessageType { return MessageTypePing }

func (m PingMessage) Validate() error {
	if m.Type != MessageTypePing {
		return fmt.Errorf("invalid type: expected %s, got %s", MessageTypePing, m.Type)
	}
	return nil
}

// PongMessage answers a ping
type PongMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

func (m PongMessage) GetType() MessageType { return MessageTypePong }

func (m PongMessage) Validate() error {
	if m.Type != MessageTypePong {
		return fmt.Errorf("invalid type: expected %s, got %s", MessageTypePong, m.Type)
	}
	return nil
}

// PresenceMessage announces a participant joining or leaving a session
type PresenceMessage struct {
	Type      MessageType `json:"type"`
	User      Participant `json:"user"`
	Timestamp time.Time   `json:"timestamp"`
}

func (m PresenceMessage) GetType() MessageType { return m.Type }

func (m PresenceMessage) Validate() error {
	if m.Type != MessageTypeUserJoined && m.Type != MessageTypeUserLeft {
		return fmt.Errorf("invalid presence type: %s", m.Type)
	}
	if m.User.ID == "" {
		return fmt.Errorf("user.id is required")
	}
	return nil
}

// WelcomeMessage is sent to a newly connected participant. It carries the
// current member list, the effective permission level, the owner, the
// latest diagram snapshot, and the configured rate-limit table
type WelcomeMessage struct {
	Type       MessageType               `json:"type"`
	Message    string                    `json:"message"`
	User       Participant               `json:"user"`
	Permission Permission                `json:"permission"`
	Owner      *Participant              `json:"owner,omitempty"`
	Members    []Participant             `json:"members"`
	RateLimits map[MessageType]RateLimit `json:"rate_limits"`
	Diagram    *Diagram                  `json:"diagram,omitempty"`
	Timestamp  time.Time                 `json:"timestamp"`
}

func (m WelcomeMessage) GetType() MessageType { return MessageTypeWelcome }

func (m WelcomeMessage) Validate() error {
	if m.Type != MessageTypeWelcome {
		return fmt.Errorf("invalid type: expected %s, got %s", MessageTypeWelcome, m.Type)
	}
	if m.User.ID == "" {
		return fmt.Errorf("user.id is required")
	}
	return nil
}

// ErrorMessage is the only error surface clients ever see: a stable code
// plus a truncated diagnostic string
type ErrorMessage struct {
	Type      MessageType `json:"type"`
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Timestamp time.Time   `json:"timestamp"`
}

func (m ErrorMessage) GetType() MessageType { return MessageTypeError }

func (m ErrorMessage) Validate() error {
	if m.Type != MessageTypeError {
		return fmt.Errorf("invalid type: expected %s, got %s", MessageTypeError, m.Type)
	}
	if m.Code == "" {
		return fmt.Errorf("code is required")
	}
	if m.Message == "" {
		return fmt.Errorf("message is required")
	}
	return nil
}

// ParseMessage decodes one inbound client envelope. It returns
// *UnknownMessageTypeError for unrecognized discriminators so dispatch can
// surface that as its own error kind; every other failure is a malformed
// envelope
func ParseMessage(data []byte) (Message, error) {
	var base struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	switch base.Type {
	case MessageTypeCursorMove:
		var msg CursorMoveMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("malformed cursor_move message: %w", err)
		}
		return msg, msg.Validate()

	case MessageTypeDiagramUpdate:
		var msg DiagramUpdateMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("malformed diagram_update message: %w", err)
		}
		return msg, msg.Validate()

	case MessageTypePing:
		var msg PingMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("malformed ping message: %w", err)
		}
		return msg, msg.Validate()

	case MessageTypePong:
		var msg PongMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("malformed pong message: %w", err)
		}
		return msg, nil

	default:
		return nil, &UnknownMessageTypeError{Type: base.Type}
	}
}

// MarshalMessage validates and encodes an outbound envelope
func MarshalMessage(msg Message) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("message validation failed: %w", err)
	}
	return json.Marshal(msg)
}
