package chat_test

import (
	"context"
	"fmt"
	"testing"

	model "github.com/zhouzirui/chat-relay/backend/internal/model/chat"
	chat "github.com/zhouzirui/chat-relay/backend/internal/service/chat"
)

func TestServiceSaveAndLoad(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()

	if err := svc.SaveMessage(ctx, model.Message{ConversationID: "c1", Role: model.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("SaveMessage err: %v", err)
	}
	if err := svc.SaveMessage(ctx, model.Message{ID: "msg_fixed", ConversationID: "c1", Role: model.RoleAssistant, Content: "hello"}); err != nil {
		t.Fatalf("SaveMessage err: %v", err)
	}

	got, err := svc.LoadTranscript(ctx, "c1", 0)
	if err != nil {
		t.Fatalf("LoadTranscript err: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("unexpected transcript length: %d", len(got))
	}
	if got[0].ID == "" || got[0].CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp to be stamped: %+v", got[0])
	}
	if got[1].ID != "msg_fixed" || got[1].Content != "hello" {
		t.Fatalf("unexpected second message: %+v", got[1])
	}
}

func TestServiceLoadLimitReturnsTail(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		_ = svc.SaveMessage(ctx, model.Message{ConversationID: "c1", Role: model.RoleUser, Content: fmt.Sprint(i)})
	}

	got, err := svc.LoadTranscript(ctx, "c1", 10)
	if err != nil {
		t.Fatalf("LoadTranscript err: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("unexpected length: %d", len(got))
	}
	if got[0].Content != "5" || got[9].Content != "14" {
		t.Fatalf("unexpected window: first=%s last=%s", got[0].Content, got[9].Content)
	}
}

func TestServiceRetention(t *testing.T) {
	svc := chat.NewServiceWithRetention(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = svc.SaveMessage(ctx, model.Message{ConversationID: "c1", Content: fmt.Sprint(i)})
	}

	got, _ := svc.LoadTranscript(ctx, "c1", 0)
	if len(got) != 3 || got[0].Content != "2" {
		t.Fatalf("unexpected retained transcript: %+v", got)
	}
}

func TestServiceUnknownConversationIsEmpty(t *testing.T) {
	svc := chat.NewService()

	got, err := svc.LoadTranscript(context.Background(), "missing", 10)
	if err != nil {
		t.Fatalf("LoadTranscript err: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty transcript, got %d", len(got))
	}
}

func TestServiceRequiresConversation(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()

	if err := svc.SaveMessage(ctx, model.Message{Content: "x"}); err != chat.ErrConversationRequired {
		t.Fatalf("expected ErrConversationRequired, got %v", err)
	}
	if _, err := svc.LoadTranscript(ctx, "", 0); err != chat.ErrConversationRequired {
		t.Fatalf("expected ErrConversationRequired, got %v", err)
	}
}

func TestServiceEvictsLeastRecentConversation(t *testing.T) {
	svc := chat.NewServiceWithLimits(10, 2)
	ctx := context.Background()

	_ = svc.SaveMessage(ctx, model.Message{ConversationID: "c1", Content: "one"})
	_ = svc.SaveMessage(ctx, model.Message{ConversationID: "c2", Content: "two"})
	// Reading c1 makes c2 the least recently used.
	if _, err := svc.LoadTranscript(ctx, "c1", 0); err != nil {
		t.Fatalf("LoadTranscript err: %v", err)
	}
	_ = svc.SaveMessage(ctx, model.Message{ConversationID: "c3", Content: "three"})

	if n := svc.Conversations(); n != 2 {
		t.Fatalf("expected 2 retained conversations, got %d", n)
	}
	if got, _ := svc.LoadTranscript(ctx, "c2", 0); len(got) != 0 {
		t.Fatalf("expected c2 to be evicted, got %+v", got)
	}
	if got, _ := svc.LoadTranscript(ctx, "c1", 0); len(got) != 1 || got[0].Content != "one" {
		t.Fatalf("expected c1 to survive, got %+v", got)
	}
}

func TestServiceLoadingUnknownDoesNotRetain(t *testing.T) {
	svc := chat.NewServiceWithLimits(10, 2)

	for i := 0; i < 5; i++ {
		_, _ = svc.LoadTranscript(context.Background(), fmt.Sprint("missing", i), 0)
	}
	if n := svc.Conversations(); n != 0 {
		t.Fatalf("expected no conversations, got %d", n)
	}
}
