package chat

import (
	"encoding/json"
	"time"
)

// Client → server events.
const (
	EventJoin    = "join"
	EventMessage = "message"
	EventTyping  = "typing"
)

// Server → client events.
const (
	EventJoined          = "joined"
	EventMessageReceived = "message:received"
	EventTypingUpdate    = "typing:update"
	EventAgentStreaming  = "agent:streaming"
	EventAgentComplete   = "agent:complete"
	EventError           = "error"
)

// Error codes sent in error events.
const (
	CodeInvalidData  = "INVALID_DATA"
	CodeNotJoined    = "NOT_JOINED"
	CodeMessageError = "MESSAGE_ERROR"
	CodeAIError      = "AI_ERROR"
	CodeRateLimited  = "RATE_LIMITED"
)

// AssistantVisitorID is the pseudo visitor used for assistant typing updates.
const AssistantVisitorID = "assistant"

// Event is an outbound frame.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// Encode renders the event as a single WebSocket text frame.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// JoinedPayload acknowledges a join to the caller.
type JoinedPayload struct {
	ConversationID string `json:"conversationId"`
}

// TypingUpdatePayload announces a participant's typing state.
type TypingUpdatePayload struct {
	VisitorID string `json:"visitorId"`
	IsTyping  bool   `json:"isTyping"`
}

// StreamingPayload carries one generated chunk.
type StreamingPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Chunk          string `json:"chunk"`
}

// CompletePayload closes a streamed reply.
type CompletePayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// ErrorPayload is sent to the originating connection only.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func Joined(conversationID string) Event {
	return Event{Name: EventJoined, Data: JoinedPayload{ConversationID: conversationID}}
}

func MessageReceived(msg Message) Event {
	return Event{Name: EventMessageReceived, Data: msg}
}

func TypingUpdate(visitorID string, isTyping bool) Event {
	return Event{Name: EventTypingUpdate, Data: TypingUpdatePayload{VisitorID: visitorID, IsTyping: isTyping}}
}

func AgentStreaming(conversationID, messageID, chunk string) Event {
	return Event{Name: EventAgentStreaming, Data: StreamingPayload{ConversationID: conversationID, MessageID: messageID, Chunk: chunk}}
}

func AgentComplete(conversationID, messageID string) Event {
	return Event{Name: EventAgentComplete, Data: CompletePayload{ConversationID: conversationID, MessageID: messageID}}
}

func Error(code, message string) Event {
	return Event{Name: EventError, Data: ErrorPayload{Code: code, Message: message}}
}

// NewMessage stamps a message with a fresh id and the current UTC time.
func NewMessage(conversationID, role, content string) Message {
	return Message{
		ID:             NewMessageID(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
}
