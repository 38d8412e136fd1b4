package bus

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// NATSBus fans out over core NATS subjects (no queue groups, so every
// instance receives every event).
type NATSBus struct {
	nc *nats.Conn
}

// DialNATS connects with unlimited reconnects. While disconnected, the
// client buffers publishes and the relay keeps delivering locally.
func DialNATS(url, name string) (*NATSBus, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Str("component", "bus").Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("component", "bus").Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "nats connect")
	}
	return &NATSBus{nc: nc}, nil
}

func (b *NATSBus) Publish(_ context.Context, topic string, payload []byte) error {
	if b.nc.IsClosed() {
		return ErrClosed
	}
	if err := b.nc.Publish(topic, payload); err != nil {
		return errors.Wrapf(err, "nats publish %s", topic)
	}
	return nil
}

func (b *NATSBus) Subscribe(_ context.Context, topic string, h Handler) (Subscription, error) {
	if b.nc.IsClosed() {
		return nil, ErrClosed
	}
	sub, err := b.nc.Subscribe(topic, func(msg *nats.Msg) {
		h(msg.Data)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "nats subscribe %s", topic)
	}
	return subscriptionFunc(func() error {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
			return errors.Wrap(err, "nats unsubscribe")
		}
		return nil
	}), nil
}

// Close drains pending messages and closes the connection.
func (b *NATSBus) Close() error {
	if b.nc.IsClosed() {
		return nil
	}
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return errors.Wrap(err, "nats drain")
	}
	return nil
}
