package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
)

var ErrConversationRequired = errors.New("conversation id is required")

const (
	// DefaultRetention caps how many messages are kept per conversation.
	DefaultRetention = 200
	// DefaultMaxConversations caps how many conversations are kept at all;
	// the least recently used one is evicted first.
	DefaultMaxConversations = 10000
)

// Service is an in-memory transcript store. It stands in for the durable
// conversation store and only keeps the recent tail of recently active
// conversations.
type Service struct {
	mu        sync.Mutex
	messages  *lru.Cache[string, []chat.Message]
	retention int
}

// NewService bootstraps the in-memory transcript store.
func NewService() *Service {
	return NewServiceWithLimits(DefaultRetention, DefaultMaxConversations)
}

// NewServiceWithRetention keeps at most retention messages per conversation.
func NewServiceWithRetention(retention int) *Service {
	return NewServiceWithLimits(retention, DefaultMaxConversations)
}

// NewServiceWithLimits keeps at most retention messages for each of at most
// maxConversations conversations.
func NewServiceWithLimits(retention, maxConversations int) *Service {
	if retention < 1 {
		retention = DefaultRetention
	}
	if maxConversations < 1 {
		maxConversations = DefaultMaxConversations
	}
	cache, _ := lru.New[string, []chat.Message](maxConversations)
	return &Service{
		messages:  cache,
		retention: retention,
	}
}

// SaveMessage appends a message to the conversation transcript.
func (s *Service) SaveMessage(_ context.Context, message chat.Message) error {
	if message.ConversationID == "" {
		return ErrConversationRequired
	}

	if message.ID == "" {
		message.ID = chat.NewMessageID()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, _ := s.messages.Get(message.ConversationID)
	msgs = append(msgs, message)
	if len(msgs) > s.retention {
		msgs = append([]chat.Message(nil), msgs[len(msgs)-s.retention:]...)
	}
	s.messages.Add(message.ConversationID, msgs)
	return nil
}

// LoadTranscript returns up to limit of the most recent messages, oldest
// first. A non-positive limit returns everything retained. Unknown or
// evicted conversations have an empty transcript.
func (s *Service) LoadTranscript(_ context.Context, conversationID string, limit int) ([]chat.Message, error) {
	if conversationID == "" {
		return nil, ErrConversationRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	messages, _ := s.messages.Get(conversationID)
	start := 0
	if limit > 0 && len(messages) > limit {
		start = len(messages) - limit
	}

	copied := make([]chat.Message, len(messages)-start)
	copy(copied, messages[start:])
	return copied, nil
}

// Conversations returns how many conversations are currently retained.
func (s *Service) Conversations() int {
	return s.messages.Len()
}
