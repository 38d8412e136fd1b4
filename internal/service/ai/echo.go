package ai

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/zhouzirui/chat-relay/backend/internal/config"
)

// EchoProvider answers without a model by streaming the prompt back word by
// word. It keeps the relay usable offline and in smoke tests.
type EchoProvider struct {
	Delay time.Duration
}

// NewEchoProvider returns an echo provider pausing delay between chunks.
func NewEchoProvider(delay time.Duration) *EchoProvider {
	return &EchoProvider{Delay: delay}
}

func (p *EchoProvider) Name() string { return config.ProviderEcho }

func (p *EchoProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &echoStream{ctx: ctx, chunks: splitWords("You said: " + req.Prompt), delay: p.Delay}, nil
}

type echoStream struct {
	ctx    context.Context
	chunks []string
	delay  time.Duration
}

func (s *echoStream) Recv() (string, error) {
	if len(s.chunks) == 0 {
		return "", io.EOF
	}
	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		select {
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		case <-timer.C:
		}
	} else if err := s.ctx.Err(); err != nil {
		return "", err
	}
	chunk := s.chunks[0]
	s.chunks = s.chunks[1:]
	return chunk, nil
}

func (s *echoStream) Close() { s.chunks = nil }

// splitWords cuts text after each space so the chunks concatenate back to
// the original.
func splitWords(text string) []string {
	var chunks []string
	for text != "" {
		i := strings.IndexByte(text, ' ')
		if i < 0 {
			chunks = append(chunks, text)
			break
		}
		chunks = append(chunks, text[:i+1])
		text = text[i+1:]
	}
	return chunks
}
