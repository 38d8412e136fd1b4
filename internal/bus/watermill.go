package bus

import (
	"context"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// WatermillBus adapts any watermill publisher/subscriber pair.
type WatermillBus struct {
	pub     message.Publisher
	sub     message.Subscriber
	shared  bool
	prepare func(ctx context.Context, topic string) error

	mu      sync.Mutex
	closed  bool
	nextID  uint64
	cancels map[uint64]context.CancelFunc
}

// NewWatermill wraps a publisher and a subscriber.
func NewWatermill(pub message.Publisher, sub message.Subscriber) *WatermillBus {
	return &WatermillBus{pub: pub, sub: sub, cancels: make(map[uint64]context.CancelFunc)}
}

// NewMemory returns a single-process bus backed by watermill's go channels.
// It is useful for one-instance deployments and tests. Publish waits for
// subscribers to ack so that payloads keep their publish order.
func NewMemory() *WatermillBus {
	gc := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            256,
		BlockPublishUntilSubscriberAck: true,
	}, NewWatermillLogger())
	b := NewWatermill(gc, gc)
	b.shared = true
	return b
}

// NewRedisStream returns a bus on Redis Streams. Each instance reads through
// its own consumer group so that every instance sees every event; groups are
// created at the stream tail to avoid replaying history.
func NewRedisStream(client redis.UniversalClient, instanceID string) (*WatermillBus, error) {
	logger := NewWatermillLogger()
	marshaler := rstream.DefaultMarshallerUnmarshaller{}
	group := "relay-" + instanceID

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "redisstream publisher")
	}

	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: group,
		Consumer:      instanceID,
	}, logger)
	if err != nil {
		_ = pub.Close()
		return nil, errors.Wrap(err, "redisstream subscriber")
	}

	b := NewWatermill(pub, sub)
	b.prepare = func(ctx context.Context, topic string) error {
		return ensureGroupAtTail(ctx, client, topic, group)
	}
	return b, nil
}

func ensureGroupAtTail(ctx context.Context, client redis.UniversalClient, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrapf(err, "create consumer group %s on %s", group, stream)
	}
	log.Debug().Str("component", "bus").Str("stream", stream).Str("group", group).Msg("created consumer group at tail")
	return nil
}

func (b *WatermillBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if b.isClosed() {
		return ErrClosed
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	if err := b.pub.Publish(topic, msg); err != nil {
		return errors.Wrapf(err, "watermill publish %s", topic)
	}
	return nil
}

func (b *WatermillBus) Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error) {
	if b.isClosed() {
		return nil, ErrClosed
	}
	if b.prepare != nil {
		if err := b.prepare(ctx, topic); err != nil {
			return nil, err
		}
	}

	// The subscription outlives ctx; it ends on Close.
	subCtx, cancel := context.WithCancel(context.Background())
	messages, err := b.sub.Subscribe(subCtx, topic)
	if err != nil {
		cancel()
		return nil, errors.Wrapf(err, "watermill subscribe %s", topic)
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.cancels[id] = cancel
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range messages {
			h(msg.Payload)
			msg.Ack()
		}
	}()

	var once sync.Once
	return subscriptionFunc(func() error {
		once.Do(func() {
			b.mu.Lock()
			delete(b.cancels, id)
			b.mu.Unlock()
			cancel()
			<-done
		})
		return nil
	}), nil
}

func (b *WatermillBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	cancels := b.cancels
	b.cancels = nil
	b.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}

	var errs []string
	if err := b.pub.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if !b.shared {
		if err := b.sub.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return errors.New("watermill close: " + strings.Join(errs, "; "))
	}
	return nil
}

func (b *WatermillBus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
