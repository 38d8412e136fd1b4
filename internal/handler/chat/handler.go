package chat

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
	"github.com/zhouzirui/chat-relay/backend/pkg/utils"
)

const maxTranscriptLimit = 200

// TranscriptReader loads recent conversation messages.
type TranscriptReader interface {
	LoadTranscript(ctx context.Context, conversationID string, limit int) ([]chat.Message, error)
}

// Handler 会话记录的 HTTP 处理器
type Handler struct {
	transcripts TranscriptReader
}

// New 创建处理器
func New(transcripts TranscriptReader) *Handler {
	return &Handler{transcripts: transcripts}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/conversations/{conversationID}/messages", h.handleListMessages)
}

// handleListMessages 返回会话最近的消息
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if !chat.ValidConversationID(conversationID) {
		utils.RespondError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			utils.RespondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxTranscriptLimit)
	}

	messages, err := h.transcripts.LoadTranscript(r.Context(), conversationID, limit)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to load transcript")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"conversationId": conversationID,
		"messages":       messages,
	})
}
