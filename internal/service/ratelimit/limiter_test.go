package ratelimit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLimiter(client), mr
}

func TestAllowWithinWindow(t *testing.T) {
	limiter, mr := newLimiter(t)
	ctx := context.Background()
	const limit = 5
	window := time.Minute

	for i := 1; i <= limit; i++ {
		ok, err := limiter.Allow(ctx, "vis_1", limit, window)
		require.NoError(t, err)
		require.Truef(t, ok, "call %d should be allowed", i)
	}

	ok, err := limiter.Allow(ctx, "vis_1", limit, window)
	require.NoError(t, err)
	require.False(t, ok, "call N+1 should be denied")

	mr.FastForward(window)

	ok, err = limiter.Allow(ctx, "vis_1", limit, window)
	require.NoError(t, err)
	require.True(t, ok, "fresh window should allow")
}

func TestAllowSetsExpiryOnFirstHitOnly(t *testing.T) {
	limiter, mr := newLimiter(t)
	ctx := context.Background()

	_, err := limiter.Allow(ctx, "k", 10, 30*time.Second)
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, mr.TTL("rate:k"))

	mr.FastForward(10 * time.Second)
	_, err = limiter.Allow(ctx, "k", 10, 30*time.Second)
	require.NoError(t, err)
	require.Equal(t, 20*time.Second, mr.TTL("rate:k"))
}

func TestAllowKeysAreIndependent(t *testing.T) {
	limiter, _ := newLimiter(t)
	ctx := context.Background()

	ok, err := limiter.Allow(ctx, "a", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, _ = limiter.Allow(ctx, "a", 1, time.Minute)
	require.False(t, ok)

	ok, _ = limiter.Allow(ctx, "b", 1, time.Minute)
	require.True(t, ok)
}

func TestAllowReportsStoreFailure(t *testing.T) {
	limiter, mr := newLimiter(t)
	mr.Close()

	_, err := limiter.Allow(context.Background(), "a", 1, time.Minute)
	require.Error(t, err)
}

// expireFails rejects any standalone EXPIRE sent by the client.
type expireFails struct{}

func (expireFails) DialHook(next redis.DialHook) redis.DialHook { return next }

func (expireFails) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if name := strings.ToLower(cmd.Name()); name == "expire" || name == "pexpire" {
			return errors.New("i/o timeout")
		}
		return next(ctx, cmd)
	}
}

func (expireFails) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestAllowWindowSurvivesExpireFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	client.AddHook(expireFails{})
	limiter := NewLimiter(client)
	ctx := context.Background()

	ok, err := limiter.Allow(ctx, "vis_1", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, time.Minute, mr.TTL("rate:vis_1"))

	ok, err = limiter.Allow(ctx, "vis_1", 1, time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	mr.FastForward(time.Minute)
	ok, err = limiter.Allow(ctx, "vis_1", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAllowRepairsCounterWithoutExpiry(t *testing.T) {
	limiter, mr := newLimiter(t)
	ctx := context.Background()
	require.NoError(t, mr.Set("rate:vis_1", "50"))

	ok, err := limiter.Allow(ctx, "vis_1", 5, time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, time.Minute, mr.TTL("rate:vis_1"))

	mr.FastForward(time.Minute)
	ok, err = limiter.Allow(ctx, "vis_1", 5, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}
