package ai

import (
	"context"

	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
)

// Request is one incremental generation call.
type Request struct {
	Model     string
	System    string
	History   []chat.Message
	Prompt    string
	MaxTokens int
}

// Stream yields text deltas in generation order. Recv returns io.EOF once
// the generation has finished.
type Stream interface {
	Recv() (string, error)
	Close()
}

// Provider starts incremental generations. Cancelling ctx aborts the
// underlying request.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request) (Stream, error)
}
