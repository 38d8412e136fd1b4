package chat

import (
	"encoding/json"
	"fmt"
	"regexp"
	"unicode/utf8"
)

// MaxContentLength bounds a user message, counted in characters.
const MaxContentLength = 4000

var conversationIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidationError reports why an inbound payload was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid payload: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// Inbound is the envelope of every client frame.
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// JoinPayload binds a connection to a conversation.
type JoinPayload struct {
	WidgetID       string `json:"widgetId"`
	VisitorID      string `json:"visitorId"`
	ConversationID string `json:"conversationId,omitempty"`
}

// MessagePayload carries a visitor message.
type MessagePayload struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

// TypingPayload toggles the sender's typing indicator.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

// DecodeInbound parses the outer envelope.
func DecodeInbound(raw []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return Inbound{}, invalid("", "malformed frame")
	}
	if in.Event == "" {
		return Inbound{}, invalid("event", "required")
	}
	return in, nil
}

// ValidConversationID reports whether id can be used as a room key.
func ValidConversationID(id string) bool {
	return conversationIDPattern.MatchString(id)
}

// DecodeJoin validates a join payload. An empty conversationId is allowed and
// means "start a new conversation".
func DecodeJoin(raw json.RawMessage) (JoinPayload, error) {
	var p JoinPayload
	if err := decodeObject(raw, &p); err != nil {
		return JoinPayload{}, err
	}
	if p.WidgetID == "" {
		return JoinPayload{}, invalid("widgetId", "required")
	}
	if p.VisitorID == "" {
		return JoinPayload{}, invalid("visitorId", "required")
	}
	if p.ConversationID != "" && !ValidConversationID(p.ConversationID) {
		return JoinPayload{}, invalid("conversationId", "malformed")
	}
	return p, nil
}

// DecodeMessage validates a message payload.
func DecodeMessage(raw json.RawMessage) (MessagePayload, error) {
	var p MessagePayload
	if err := decodeObject(raw, &p); err != nil {
		return MessagePayload{}, err
	}
	if !ValidConversationID(p.ConversationID) {
		return MessagePayload{}, invalid("conversationId", "required")
	}
	n := utf8.RuneCountInString(p.Content)
	if n < 1 {
		return MessagePayload{}, invalid("content", "must not be empty")
	}
	if n > MaxContentLength {
		return MessagePayload{}, invalid("content", fmt.Sprintf("exceeds %d characters", MaxContentLength))
	}
	return p, nil
}

// DecodeTyping validates a typing payload; isTyping must be present.
func DecodeTyping(raw json.RawMessage) (TypingPayload, error) {
	var p struct {
		ConversationID string `json:"conversationId"`
		IsTyping       *bool  `json:"isTyping"`
	}
	if err := decodeObject(raw, &p); err != nil {
		return TypingPayload{}, err
	}
	if !ValidConversationID(p.ConversationID) {
		return TypingPayload{}, invalid("conversationId", "required")
	}
	if p.IsTyping == nil {
		return TypingPayload{}, invalid("isTyping", "required")
	}
	return TypingPayload{ConversationID: p.ConversationID, IsTyping: *p.IsTyping}, nil
}

func decodeObject(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return invalid("data", "required")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return invalid("data", err.Error())
	}
	return nil
}
