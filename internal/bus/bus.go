// Package bus replicates room events between relay instances. Every driver
// delivers each published payload to every subscriber of the topic on every
// instance; there is no queue-group load balancing.
package bus

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus closed")

// Handler consumes one payload. Handlers run on the driver's delivery
// goroutine and must not block for long.
type Handler func(payload []byte)

// Subscription stops delivery to its handler when closed.
type Subscription interface {
	Close() error
}

// Bus is the narrow publish/subscribe surface the room router depends on.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error)
	Close() error
}

// Topic maps a conversation to its bus topic.
func Topic(conversationID string) string {
	return "relay.conversation." + conversationID
}

type subscriptionFunc func() error

func (f subscriptionFunc) Close() error { return f() }
