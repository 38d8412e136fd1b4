// Package relay implements the connection manager: it decodes client frames,
// binds connections to conversations and starts assistant replies.
package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
	"github.com/zhouzirui/chat-relay/backend/internal/service/responder"
	"github.com/zhouzirui/chat-relay/backend/internal/service/room"
)

// ErrShutdown is returned by Shutdown when generations outlive its context.
var ErrShutdown = errors.New("relay: generations still running at shutdown")

// Router is the room fanout used by the manager.
type Router interface {
	Subscribe(ctx context.Context, conversationID string, m room.Member)
	Unsubscribe(m room.Member)
	Publish(ctx context.Context, conversationID string, event chat.Event, exclude string) error
}

// Presence records typing state.
type Presence interface {
	SetTyping(ctx context.Context, conversationID, visitorID string, isTyping bool) error
}

// Limiter is a fixed-window counter.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Sessions persists visitor context between reconnects.
type Sessions interface {
	SetSession(ctx context.Context, visitorID string, data any) error
	GetSession(ctx context.Context, visitorID string, dst any) (bool, error)
}

// Responder publishes the user message and runs one assistant generation.
type Responder interface {
	Accept(ctx context.Context, job responder.Job) responder.Job
	Run(ctx context.Context, job responder.Job) responder.State
}

// Options holds the message rate limit.
type Options struct {
	MessageLimit  int
	MessageWindow time.Duration
}

// Manager owns every live connection session on this instance.
type Manager struct {
	router    Router
	presence  Presence
	limiter   Limiter
	sessions  Sessions
	responder Responder
	opts      Options

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu    sync.Mutex
	conns map[string]*Session
}

// NewManager wires the manager. Generations run under an internal context
// cancelled by Shutdown.
func NewManager(router Router, presence Presence, limiter Limiter, sessions Sessions, resp Responder, opts Options) *Manager {
	baseCtx, stop := context.WithCancel(context.Background())
	return &Manager{
		router:    router,
		presence:  presence,
		limiter:   limiter,
		sessions:  sessions,
		responder: resp,
		opts:      opts,
		baseCtx:   baseCtx,
		stop:      stop,
		conns:     make(map[string]*Session),
	}
}

// Connect registers a new connection with empty bindings.
func (m *Manager) Connect(conn Conn) *Session {
	s := newSession(conn)
	m.mu.Lock()
	m.conns[conn.ID()] = s
	m.mu.Unlock()

	log.Debug().Str("component", "relay").Str("conn_id", conn.ID()).Msg("connection opened")
	return s
}

// Connections returns the number of live sessions.
func (m *Manager) Connections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// HandleFrame decodes one client frame and dispatches it.
func (m *Manager) HandleFrame(ctx context.Context, s *Session, raw []byte) {
	in, err := chat.DecodeInbound(raw)
	if err != nil {
		m.reply(s, chat.Error(chat.CodeInvalidData, "Invalid frame"))
		return
	}

	switch in.Event {
	case chat.EventJoin:
		p, err := chat.DecodeJoin(in.Data)
		if err != nil {
			log.Debug().Err(err).Str("component", "relay").Str("conn_id", s.ID()).Msg("rejected join")
			m.reply(s, chat.Error(chat.CodeInvalidData, "Invalid join data"))
			return
		}
		m.Join(ctx, s, p)
	case chat.EventMessage:
		p, err := chat.DecodeMessage(in.Data)
		if err != nil {
			log.Debug().Err(err).Str("component", "relay").Str("conn_id", s.ID()).Msg("rejected message")
			m.reply(s, chat.Error(chat.CodeMessageError, "Failed to process message"))
			return
		}
		m.Message(ctx, s, p)
	case chat.EventTyping:
		p, err := chat.DecodeTyping(in.Data)
		if err != nil {
			return
		}
		m.Typing(ctx, s, p)
	default:
		m.reply(s, chat.Error(chat.CodeInvalidData, "Unknown event"))
	}
}

// Join binds the connection to a conversation, generating an id when none
// is given, and acknowledges to the caller only.
func (m *Manager) Join(ctx context.Context, s *Session, p chat.JoinPayload) {
	conversationID := p.ConversationID
	if conversationID == "" {
		conversationID = chat.NewConversationID()
	}

	stale, ok := s.bind(p.WidgetID, p.VisitorID, conversationID)
	if !ok {
		return
	}
	// Move rooms before cancelling so the old room's final typing reset
	// does not reach this connection.
	m.router.Subscribe(ctx, conversationID, s.conn)
	cancelAll(stale)
	m.reply(s, chat.Joined(conversationID))
	m.rememberVisitor(ctx, p.VisitorID, p.WidgetID, conversationID)

	log.Info().Str("component", "relay").Str("conn_id", s.ID()).Str("visitor_id", p.VisitorID).
		Str("conv_id", conversationID).Msg("visitor joined conversation")
}

func (m *Manager) rememberVisitor(ctx context.Context, visitorID, widgetID, conversationID string) {
	now := time.Now().UTC()
	var vs chat.VisitorSession
	found, err := m.sessions.GetSession(ctx, visitorID, &vs)
	if err != nil {
		log.Warn().Err(err).Str("component", "relay").Str("visitor_id", visitorID).Msg("load visitor session failed")
	}
	if !found || err != nil {
		vs = chat.VisitorSession{VisitorID: visitorID, FirstSeen: now}
	}
	vs.WidgetID = widgetID
	vs.ConversationID = conversationID
	vs.LastSeen = now
	vs.Joins++

	if err := m.sessions.SetSession(ctx, visitorID, vs); err != nil {
		log.Warn().Err(err).Str("component", "relay").Str("visitor_id", visitorID).Msg("store visitor session failed")
	}
}

// Message publishes a visitor message to the bound conversation on the
// caller's goroutine, then starts the assistant reply on its own goroutine.
func (m *Manager) Message(ctx context.Context, s *Session, p chat.MessagePayload) {
	visitorID, bound := s.Binding()
	if bound == "" || bound != p.ConversationID {
		m.reply(s, chat.Error(chat.CodeNotJoined, "Must join a conversation first"))
		return
	}

	if m.opts.MessageLimit > 0 {
		allowed, err := m.limiter.Allow(ctx, "msg:"+visitorID, m.opts.MessageLimit, m.opts.MessageWindow)
		if err != nil {
			log.Warn().Err(err).Str("component", "relay").Str("visitor_id", visitorID).Msg("rate limiter unavailable, allowing message")
		} else if !allowed {
			m.reply(s, chat.Error(chat.CodeRateLimited, "Too many messages, please slow down"))
			return
		}
	}

	// Shutdown stops baseCtx under mu, so no Add can race its Wait.
	m.mu.Lock()
	if m.baseCtx.Err() != nil {
		m.mu.Unlock()
		m.reply(s, chat.Error(chat.CodeAIError, "Server is shutting down"))
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	genCtx, cancel := context.WithCancel(m.baseCtx)
	id, ok := s.addGeneration(cancel)
	if !ok {
		cancel()
		m.wg.Done()
		return
	}

	job := m.responder.Accept(ctx, responder.Job{
		ConversationID: p.ConversationID,
		ConnectionID:   s.ID(),
		Content:        p.Content,
		Notify:         func(ev chat.Event) { m.reply(s, ev) },
	})

	go func() {
		defer m.wg.Done()
		defer cancel()
		defer s.removeGeneration(id)

		state := m.responder.Run(genCtx, job)
		log.Debug().Str("component", "relay").Str("conn_id", job.ConnectionID).
			Str("conv_id", job.ConversationID).Stringer("state", state).Msg("generation finished")
	}()
}

// Typing records presence and tells the other room members. Typing from an
// unjoined connection or for another conversation is ignored.
func (m *Manager) Typing(ctx context.Context, s *Session, p chat.TypingPayload) {
	visitorID, bound := s.Binding()
	if bound == "" || bound != p.ConversationID {
		return
	}

	if err := m.presence.SetTyping(ctx, bound, visitorID, p.IsTyping); err != nil {
		log.Warn().Err(err).Str("component", "relay").Str("conv_id", bound).Msg("presence update failed")
	}
	if err := m.router.Publish(ctx, bound, chat.TypingUpdate(visitorID, p.IsTyping), s.ID()); err != nil {
		log.Error().Err(err).Str("component", "relay").Str("conv_id", bound).Msg("publish typing failed")
	}
}

// Disconnect leaves the room and cancels the connection's generations. It is
// idempotent.
func (m *Manager) Disconnect(s *Session) {
	cancels, first := s.close()
	if !first {
		return
	}
	m.router.Unsubscribe(s.conn)
	cancelAll(cancels)

	m.mu.Lock()
	delete(m.conns, s.ID())
	m.mu.Unlock()

	log.Debug().Str("component", "relay").Str("conn_id", s.ID()).Int("cancelled", len(cancels)).Msg("connection closed")
}

// Shutdown cancels every in-flight generation and waits for them to publish
// their final events.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.stop()
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ErrShutdown
	}
}

func (m *Manager) reply(s *Session, ev chat.Event) {
	frame, err := ev.Encode()
	if err != nil {
		log.Error().Err(err).Str("component", "relay").Str("event", ev.Name).Msg("encode frame failed")
		return
	}
	if !s.conn.Send(frame) {
		log.Debug().Str("component", "relay").Str("conn_id", s.ID()).Str("event", ev.Name).Msg("reply dropped")
	}
}
