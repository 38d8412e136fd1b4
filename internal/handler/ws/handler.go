// Package ws is the WebSocket transport of the relay.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/chat-relay/backend/internal/config"
	"github.com/zhouzirui/chat-relay/backend/internal/middleware"
	"github.com/zhouzirui/chat-relay/backend/internal/service/relay"
)

// Relay is the connection manager surface used by the transport.
type Relay interface {
	Connect(conn relay.Conn) *relay.Session
	HandleFrame(ctx context.Context, s *relay.Session, raw []byte)
	Disconnect(s *relay.Session)
}

// Handler upgrades HTTP requests and pumps frames between sockets and the
// relay.
type Handler struct {
	relay      Relay
	upgrader   websocket.Upgrader
	sendBuffer int

	mu      sync.Mutex
	clients map[string]*client
}

// New 创建 WebSocket 处理器。
func New(r Relay, cfg config.ServerConfig) *Handler {
	origins := cfg.AllowedOrigins
	return &Handler{
		relay:      r,
		sendBuffer: cfg.SendBuffer,
		clients:    make(map[string]*client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return middleware.OriginAllowed(origins, r.Header.Get("Origin"))
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册 WebSocket 路由。
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

// Connections returns the number of open sockets.
func (h *Handler) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// CloseAll sends a going-away close frame to every socket.
func (h *Handler) CloseAll() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.goAway("server shutting down")
	}
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("component", "ws").Msg("upgrade failed")
		return
	}

	c := newClient("conn_"+uuid.NewString(), conn, h.sendBuffer)
	h.track(c)
	session := h.relay.Connect(c)

	logger := log.With().Str("component", "ws").Str("conn_id", c.id).Logger()
	logger.Debug().Str("remote", r.RemoteAddr).Msg("connection upgraded")

	defer func() {
		h.relay.Disconnect(session)
		c.close()
		h.untrack(c)
	}()

	go c.writeLoop()

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx := r.Context()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.Debug().Err(err).Msg("read error")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if msgType != websocket.TextMessage {
			continue
		}
		h.relay.HandleFrame(ctx, session, data)
	}
}

func (h *Handler) track(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
}

func (h *Handler) untrack(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
}
