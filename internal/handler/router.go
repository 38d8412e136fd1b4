package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/chat-relay/backend/internal/handler/chat"
	"github.com/zhouzirui/chat-relay/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/chat-relay/backend/internal/middleware"
	"github.com/zhouzirui/chat-relay/backend/pkg/utils"
)

const healthTimeout = 2 * time.Second

// HealthChecker probes a dependency.
type HealthChecker interface {
	Check(ctx context.Context, timeout time.Duration) error
}

// Dependencies are the pieces the HTTP surface needs.
type Dependencies struct {
	InstanceID     string
	AllowedOrigins []string
	WebSocket      *ws.Handler
	Transcripts    chat.TranscriptReader
	Store          HealthChecker
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger)
	r.Use(middleware.Recoverer)

	deps.WebSocket.RegisterRoutes(r)

	r.Route("/api", func(api chi.Router) {
		api.Use(middlewarePkg.CORS(deps.AllowedOrigins))

		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			status, storeState := http.StatusOK, "ok"
			if deps.Store != nil {
				if err := deps.Store.Check(r.Context(), healthTimeout); err != nil {
					status, storeState = http.StatusServiceUnavailable, "unavailable"
				}
			}
			utils.RespondJSON(w, status, map[string]any{
				"instance":    deps.InstanceID,
				"store":       storeState,
				"connections": deps.WebSocket.Connections(),
			})
		})

		chat.New(deps.Transcripts).RegisterRoutes(api)
	})

	return r
}
