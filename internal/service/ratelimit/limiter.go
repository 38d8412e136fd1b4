// Package ratelimit provides a fixed-window counter shared by every relay
// instance through the ephemeral store.
package ratelimit

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// incrWindow bumps the counter and starts its window in one atomic step. A
// counter found without a TTL gets one as well.
var incrWindow = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 or redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// Limiter counts hits per key in the ephemeral store.
type Limiter struct {
	client redis.Cmdable
	prefix string
}

// NewLimiter creates a limiter whose keys are namespaced under "rate:".
func NewLimiter(client redis.Cmdable) *Limiter {
	return &Limiter{client: client, prefix: "rate:"}
}

// Allow increments the counter for key and reports whether the caller is
// still within limit for the current window. The window starts with the
// first hit, which also sets the key's expiry.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	redisKey := l.prefix + key

	windowMs := window.Milliseconds()
	if windowMs < 1 {
		windowMs = 1
	}

	count, err := incrWindow.Run(ctx, l.client, []string{redisKey}, windowMs).Int64()
	if err != nil {
		return false, errors.Wrap(err, "increment rate counter")
	}

	return count <= int64(limit), nil
}
