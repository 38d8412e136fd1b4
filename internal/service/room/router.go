// Package room keeps per-process conversation membership and replicates room
// events to the other relay instances through the fanout bus.
package room

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/zhouzirui/chat-relay/backend/internal/bus"
	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
)

const subscribeTimeout = 5 * time.Second

// Member is a locally connected participant.
type Member interface {
	ID() string
	// Send enqueues a frame without blocking. It reports false when the
	// frame was dropped.
	Send(frame []byte) bool
}

// envelope is what travels on the bus.
type envelope struct {
	Origin         string          `json:"origin"`
	ConversationID string          `json:"conversationId"`
	Exclude        string          `json:"exclude,omitempty"`
	Frame          json.RawMessage `json:"frame"`
}

type room struct {
	members map[string]Member
	sub     bus.Subscription
}

// Router owns local room membership. Delivery is best effort: local members
// always receive an event, remote instances receive it when the bus is up.
type Router struct {
	instanceID string
	bus        bus.Bus

	mu     sync.Mutex
	rooms  map[string]*room
	joined map[string]string // member id -> conversation id
	closed bool

	published metric.Int64Counter
	busErrors metric.Int64Counter
	members   metric.Int64UpDownCounter
}

// NewRouter returns a router identified on the bus by instanceID.
func NewRouter(instanceID string, b bus.Bus) *Router {
	meter := otel.Meter("relay-room")
	published, _ := meter.Int64Counter("relay_events_published_total",
		metric.WithDescription("Room events published"))
	busErrors, _ := meter.Int64Counter("relay_bus_errors_total",
		metric.WithDescription("Failed bus publish or subscribe calls"))
	members, _ := meter.Int64UpDownCounter("relay_local_members",
		metric.WithDescription("Connections joined to a room on this instance"))

	return &Router{
		instanceID: instanceID,
		bus:        b,
		rooms:      make(map[string]*room),
		joined:     make(map[string]string),
		published:  published,
		busErrors:  busErrors,
		members:    members,
	}
}

// Subscribe adds m to the conversation room. A member already in another
// room leaves it first. The bus subscription is opened with the first local
// member; a bus failure leaves the room local-only until the next Subscribe.
func (r *Router) Subscribe(ctx context.Context, conversationID string, m Member) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	var released bus.Subscription
	if prev, ok := r.joined[m.ID()]; ok && prev != conversationID {
		released = r.removeLocked(prev, m.ID())
	}

	rm, ok := r.rooms[conversationID]
	if !ok {
		rm = &room{members: make(map[string]Member)}
		r.rooms[conversationID] = rm
	}
	if _, exists := rm.members[m.ID()]; !exists {
		r.members.Add(ctx, 1)
	}
	rm.members[m.ID()] = m
	r.joined[m.ID()] = conversationID
	needSub := rm.sub == nil
	r.mu.Unlock()

	closeSub(released)
	if needSub {
		r.attach(ctx, conversationID)
	}
}

// attach opens the bus subscription for a room outside the lock and installs
// it unless another caller won the race or the room emptied meanwhile.
func (r *Router) attach(ctx context.Context, conversationID string) {
	subCtx, cancel := context.WithTimeout(ctx, subscribeTimeout)
	defer cancel()

	sub, err := r.bus.Subscribe(subCtx, bus.Topic(conversationID), r.handleEnvelope)
	if err != nil {
		r.busErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "subscribe")))
		log.Warn().Err(err).Str("component", "room").Str("conv_id", conversationID).
			Msg("bus subscribe failed, room is local-only")
		return
	}

	r.mu.Lock()
	rm, ok := r.rooms[conversationID]
	if r.closed || !ok || rm.sub != nil {
		r.mu.Unlock()
		closeSub(sub)
		return
	}
	rm.sub = sub
	r.mu.Unlock()
}

// Unsubscribe removes m from whichever room it is in. It is idempotent.
func (r *Router) Unsubscribe(m Member) {
	r.mu.Lock()
	conv, ok := r.joined[m.ID()]
	var released bus.Subscription
	if ok {
		released = r.removeLocked(conv, m.ID())
	}
	r.mu.Unlock()

	closeSub(released)
}

// removeLocked drops a member and returns the room's bus subscription when
// the room became empty.
func (r *Router) removeLocked(conversationID, memberID string) bus.Subscription {
	delete(r.joined, memberID)
	rm, ok := r.rooms[conversationID]
	if !ok {
		return nil
	}
	if _, exists := rm.members[memberID]; exists {
		delete(rm.members, memberID)
		r.members.Add(context.Background(), -1)
	}
	if len(rm.members) > 0 {
		return nil
	}
	delete(r.rooms, conversationID)
	return rm.sub
}

// Publish delivers event to every local member of the room except exclude,
// then replicates it on the bus. Only encoding errors are returned; bus
// errors are logged and counted.
func (r *Router) Publish(ctx context.Context, conversationID string, event chat.Event, exclude string) error {
	frame, err := event.Encode()
	if err != nil {
		return errors.Wrapf(err, "encode %s", event.Name)
	}

	r.deliver(conversationID, exclude, frame)
	r.published.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event.Name)))

	payload, err := json.Marshal(envelope{
		Origin:         r.instanceID,
		ConversationID: conversationID,
		Exclude:        exclude,
		Frame:          frame,
	})
	if err != nil {
		return errors.Wrap(err, "encode envelope")
	}
	if err := r.bus.Publish(ctx, bus.Topic(conversationID), payload); err != nil {
		r.busErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "publish")))
		log.Warn().Err(err).Str("component", "room").Str("conv_id", conversationID).
			Str("event", event.Name).Msg("bus publish failed, delivered locally only")
	}
	return nil
}

func (r *Router) handleEnvelope(payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Warn().Err(err).Str("component", "room").Msg("dropping malformed bus envelope")
		return
	}
	if env.Origin == r.instanceID {
		return
	}
	r.deliver(env.ConversationID, env.Exclude, env.Frame)
}

func (r *Router) deliver(conversationID, exclude string, frame []byte) {
	r.mu.Lock()
	rm, ok := r.rooms[conversationID]
	if !ok {
		r.mu.Unlock()
		return
	}
	targets := make([]Member, 0, len(rm.members))
	for id, m := range rm.members {
		if id != exclude {
			targets = append(targets, m)
		}
	}
	r.mu.Unlock()

	for _, m := range targets {
		if !m.Send(frame) {
			log.Debug().Str("component", "room").Str("conv_id", conversationID).
				Str("conn_id", m.ID()).Msg("frame dropped for slow member")
		}
	}
}

// Members returns the number of local members in a room.
func (r *Router) Members(conversationID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[conversationID]; ok {
		return len(rm.members)
	}
	return 0
}

// Close drops all rooms and their bus subscriptions. The bus itself is owned
// by the caller.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	var subs []bus.Subscription
	for _, rm := range r.rooms {
		if rm.sub != nil {
			subs = append(subs, rm.sub)
		}
	}
	r.rooms = make(map[string]*room)
	r.joined = make(map[string]string)
	r.mu.Unlock()

	for _, sub := range subs {
		closeSub(sub)
	}
}

func closeSub(sub bus.Subscription) {
	if sub == nil {
		return
	}
	if err := sub.Close(); err != nil {
		log.Warn().Err(err).Str("component", "room").Msg("closing bus subscription")
	}
}
