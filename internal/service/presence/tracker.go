package presence

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// TypingTTL bounds how long a typing indicator survives without a refresh.
const TypingTTL = 5 * time.Second

// Tracker keeps "is typing" flags in the ephemeral store.
type Tracker struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewTracker returns a tracker writing through client.
func NewTracker(client redis.Cmdable) *Tracker {
	return &Tracker{client: client, ttl: TypingTTL}
}

func typingKey(conversationID, visitorID string) string {
	return "typing:" + conversationID + ":" + visitorID
}

// SetTyping marks the visitor as typing with a fresh TTL, or clears the flag.
func (t *Tracker) SetTyping(ctx context.Context, conversationID, visitorID string, isTyping bool) error {
	key := typingKey(conversationID, visitorID)
	if isTyping {
		if err := t.client.Set(ctx, key, "1", t.ttl).Err(); err != nil {
			return errors.Wrap(err, "set typing")
		}
		return nil
	}
	if err := t.client.Del(ctx, key).Err(); err != nil {
		return errors.Wrap(err, "clear typing")
	}
	return nil
}

// IsTyping reports whether a live typing flag exists.
func (t *Tracker) IsTyping(ctx context.Context, conversationID, visitorID string) (bool, error) {
	n, err := t.client.Exists(ctx, typingKey(conversationID, visitorID)).Result()
	if err != nil {
		return false, errors.Wrap(err, "read typing")
	}
	return n == 1, nil
}
