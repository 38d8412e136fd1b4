package relay

import (
	"context"
	"sync"

	"github.com/zhouzirui/chat-relay/backend/internal/service/room"
)

// Conn is the transport half of a connection as seen by the relay.
type Conn interface {
	room.Member
}

// Session is the per-connection state. A session is bound to at most one
// conversation at a time and owns the cancel functions of the generations it
// started.
type Session struct {
	conn Conn

	mu             sync.Mutex
	widgetID       string
	visitorID      string
	conversationID string
	closed         bool
	nextGen        uint64
	generations    map[uint64]context.CancelFunc
}

func newSession(conn Conn) *Session {
	return &Session{conn: conn, generations: make(map[uint64]context.CancelFunc)}
}

// ID returns the connection id.
func (s *Session) ID() string { return s.conn.ID() }

// Binding returns the visitor and conversation the connection is joined to.
func (s *Session) Binding() (visitorID, conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visitorID, s.conversationID
}

// bind records a join and returns the cancel functions of generations that
// belong to a previous, different conversation. It reports false on a closed
// session.
func (s *Session) bind(widgetID, visitorID, conversationID string) ([]context.CancelFunc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}

	var stale []context.CancelFunc
	if s.conversationID != "" && s.conversationID != conversationID {
		stale = s.takeGenerationsLocked()
	}
	s.widgetID = widgetID
	s.visitorID = visitorID
	s.conversationID = conversationID
	return stale, true
}

// addGeneration registers cancel and returns its handle, or false when the
// session is already closed.
func (s *Session) addGeneration(cancel context.CancelFunc) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, false
	}
	s.nextGen++
	s.generations[s.nextGen] = cancel
	return s.nextGen, true
}

func (s *Session) removeGeneration(id uint64) {
	s.mu.Lock()
	delete(s.generations, id)
	s.mu.Unlock()
}

// close marks the session closed and returns the generations to cancel. The
// second return is false when it was already closed.
func (s *Session) close() ([]context.CancelFunc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	s.closed = true
	s.conversationID = ""
	return s.takeGenerationsLocked(), true
}

func (s *Session) takeGenerationsLocked() []context.CancelFunc {
	cancels := make([]context.CancelFunc, 0, len(s.generations))
	for id, cancel := range s.generations {
		cancels = append(cancels, cancel)
		delete(s.generations, id)
	}
	return cancels
}

// InFlight reports the number of running generations.
func (s *Session) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.generations)
}

func cancelAll(cancels []context.CancelFunc) {
	for _, cancel := range cancels {
		cancel()
	}
}
