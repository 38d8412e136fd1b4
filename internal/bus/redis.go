package bus

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisBus fans out over Redis PUBLISH/SUBSCRIBE. All topics share one
// PubSub connection; a single reader dispatches messages by channel name.
// go-redis re-establishes a dropped connection and resubscribes on its own;
// messages published while an instance is disconnected are not replayed.
type RedisBus struct {
	client redis.UniversalClient

	// ctl keeps SUBSCRIBE and UNSUBSCRIBE in the same order as topic map
	// updates.
	ctl sync.Mutex

	mu         sync.Mutex
	closed     bool
	ps         *redis.PubSub
	topics     map[string]*redisTopic
	nextID     uint64
	done       chan struct{}
	readerDone chan struct{}
}

type redisTopic struct {
	handlers  map[uint64]Handler
	ready     chan struct{}
	confirmed bool
}

// NewRedis returns a bus sharing client with the ephemeral store.
func NewRedis(client redis.UniversalClient) *RedisBus {
	return &RedisBus{
		client: client,
		topics: make(map[string]*redisTopic),
		done:   make(chan struct{}),
	}
}

func (b *RedisBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if b.isClosed() {
		return ErrClosed
	}
	if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
		return errors.Wrapf(err, "redis publish %s", topic)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error) {
	b.ctl.Lock()
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.ctl.Unlock()
		return nil, ErrClosed
	}
	if b.ps == nil {
		b.ps = b.client.Subscribe(context.Background())
		b.readerDone = make(chan struct{})
		go b.read(b.ps.ChannelWithSubscriptions(), b.readerDone)
	}
	ps := b.ps

	t, ok := b.topics[topic]
	if !ok {
		t = &redisTopic{handlers: make(map[uint64]Handler), ready: make(chan struct{})}
		b.topics[topic] = t
	}
	b.nextID++
	id := b.nextID
	t.handlers[id] = h
	b.mu.Unlock()

	if !ok {
		if err := ps.Subscribe(ctx, topic); err != nil {
			b.mu.Lock()
			delete(b.topics, topic)
			b.mu.Unlock()
			b.ctl.Unlock()
			return nil, errors.Wrapf(err, "redis subscribe %s", topic)
		}
	}
	b.ctl.Unlock()

	// Wait for the subscribe confirmation so nothing published after we
	// return is missed.
	select {
	case <-t.ready:
	case <-b.done:
		return nil, ErrClosed
	case <-ctx.Done():
		_ = b.remove(topic, id)
		return nil, errors.Wrapf(ctx.Err(), "redis subscribe %s", topic)
	}

	var once sync.Once
	return subscriptionFunc(func() error {
		var err error
		once.Do(func() { err = b.remove(topic, id) })
		return err
	}), nil
}

// remove drops one handler and unsubscribes the topic once it has none.
func (b *RedisBus) remove(topic string, id uint64) error {
	b.ctl.Lock()
	defer b.ctl.Unlock()

	b.mu.Lock()
	t, ok := b.topics[topic]
	if b.closed || !ok {
		b.mu.Unlock()
		return nil
	}
	delete(t.handlers, id)
	if len(t.handlers) > 0 {
		b.mu.Unlock()
		return nil
	}
	delete(b.topics, topic)
	ps := b.ps
	b.mu.Unlock()

	if err := ps.Unsubscribe(context.Background(), topic); err != nil {
		return errors.Wrapf(err, "redis unsubscribe %s", topic)
	}
	return nil
}

func (b *RedisBus) read(ch <-chan interface{}, done chan struct{}) {
	defer close(done)
	for msg := range ch {
		switch m := msg.(type) {
		case *redis.Subscription:
			if m.Kind == "subscribe" {
				b.confirm(m.Channel)
			}
		case *redis.Message:
			for _, h := range b.handlersFor(m.Channel) {
				h([]byte(m.Payload))
			}
		}
	}
	log.Debug().Str("component", "bus").Msg("redis subscription reader stopped")
}

func (b *RedisBus) confirm(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[topic]; ok && !t.confirmed {
		t.confirmed = true
		close(t.ready)
	}
}

func (b *RedisBus) handlersFor(topic string) []Handler {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[topic]
	if !ok {
		return nil
	}
	out := make([]Handler, 0, len(t.handlers))
	for _, h := range t.handlers {
		out = append(out, h)
	}
	return out
}

// Subscriptions returns the number of topics this bus listens on.
func (b *RedisBus) Subscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}

// Close ends the shared subscription. The client itself is owned by the
// caller.
func (b *RedisBus) Close() error {
	b.ctl.Lock()
	defer b.ctl.Unlock()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	ps, readerDone := b.ps, b.readerDone
	b.topics = make(map[string]*redisTopic)
	b.mu.Unlock()

	if ps == nil {
		return nil
	}
	err := ps.Close()
	<-readerDone
	return errors.Wrap(err, "close redis pubsub")
}

func (b *RedisBus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
