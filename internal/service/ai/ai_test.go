package ai

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/chat-relay/backend/internal/config"
	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
)

// scriptedModel replays fixed chunks and records what it was asked.
type scriptedModel struct {
	mu        sync.Mutex
	chunks    []string
	input     []*schema.Message
	maxTokens int
}

func (m *scriptedModel) Generate(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.record(input, opts)
	return schema.AssistantMessage(strings.Join(m.chunks, ""), nil), nil
}

func (m *scriptedModel) Stream(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.record(input, opts)
	msgs := make([]*schema.Message, 0, len(m.chunks))
	for _, c := range m.chunks {
		msgs = append(msgs, schema.AssistantMessage(c, nil))
	}
	return schema.StreamReaderFromArray(msgs), nil
}

func (m *scriptedModel) record(input []*schema.Message, opts []model.Option) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.input = input
	if o := model.GetCommonOptions(nil, opts...); o.MaxTokens != nil {
		m.maxTokens = *o.MaxTokens
	}
}

func drain(t *testing.T, s Stream) string {
	t.Helper()
	defer s.Close()
	var sb strings.Builder
	for {
		delta, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return sb.String()
		}
		require.NoError(t, err)
		sb.WriteString(delta)
	}
}

func TestServiceStreamsThroughChain(t *testing.T) {
	ctx := context.Background()
	fake := &scriptedModel{chunks: []string{"Hel", "lo", "!"}}
	svc, err := NewServiceWithModel(ctx, fake, config.AIConfig{})
	require.NoError(t, err)
	require.Equal(t, config.ProviderArk, svc.Name())

	stream, err := svc.Stream(ctx, Request{
		System: "be nice",
		History: []chat.Message{
			{Role: chat.RoleUser, Content: "earlier"},
			{Role: chat.RoleSystem, Content: "skipped"},
			{Role: chat.RoleAssistant, Content: "reply"},
		},
		Prompt:    "hi",
		MaxTokens: 500,
	})
	require.NoError(t, err)
	require.Equal(t, "Hello!", drain(t, stream))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.input, 4)
	require.Equal(t, schema.System, fake.input[0].Role)
	require.Equal(t, "be nice", fake.input[0].Content)
	require.Equal(t, "earlier", fake.input[1].Content)
	require.Equal(t, schema.Assistant, fake.input[2].Role)
	require.Equal(t, schema.User, fake.input[3].Role)
	require.Equal(t, "hi", fake.input[3].Content)
	require.Equal(t, 500, fake.maxTokens)
}

func TestEchoProviderStreamsPrompt(t *testing.T) {
	p := NewEchoProvider(0)
	require.Equal(t, config.ProviderEcho, p.Name())

	stream, err := p.Stream(context.Background(), Request{Prompt: "where is my order"})
	require.NoError(t, err)
	require.Equal(t, "You said: where is my order", drain(t, stream))
}

func TestEchoProviderHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewEchoProvider(0)

	stream, err := p.Stream(ctx, Request{Prompt: "a b c"})
	require.NoError(t, err)

	first, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, "You ", first)

	cancel()
	_, err = stream.Recv()
	require.ErrorIs(t, err, context.Canceled)

	_, err = p.Stream(ctx, Request{Prompt: "x"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestSplitWords(t *testing.T) {
	require.Equal(t, []string{"a ", "b ", " ", "c"}, splitWords("a b  c"))
	require.Nil(t, splitWords(""))
}
