package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/chat-relay/backend/internal/config"
	"github.com/zhouzirui/chat-relay/backend/internal/handler/ws"
	"github.com/zhouzirui/chat-relay/backend/internal/service/relay"
	chatservice "github.com/zhouzirui/chat-relay/backend/internal/service/chat"
)

type stubStore struct{ err error }

func (s stubStore) Check(context.Context, time.Duration) error { return s.err }

type nopRelay struct{}

func (nopRelay) Connect(relay.Conn) *relay.Session { return nil }

func (nopRelay) HandleFrame(context.Context, *relay.Session, []byte) {}

func (nopRelay) Disconnect(*relay.Session) {}

func newTestRouter(store HealthChecker) http.Handler {
	return NewRouter(Dependencies{
		InstanceID:  "inst-test",
		WebSocket:   ws.New(nopRelay{}, config.ServerConfig{SendBuffer: 8}),
		Transcripts: chatservice.NewService(),
		Store:       store,
	})
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(stubStore{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "inst-test", body["instance"])
	require.Equal(t, "ok", body["store"])
}

func TestHealthReportsStoreOutage(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(stubStore{err: errors.New("down")}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTranscriptRouteMounted(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversations/cnv_1/messages", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
