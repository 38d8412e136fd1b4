// Package redis owns the process-wide connection to the ephemeral store that
// backs presence, rate limits, visitor sessions, and the redis fanout bus.
package redis

import (
	"context"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Client wraps a go-redis client with explicit startup and shutdown.
type Client struct {
	goredis.UniversalClient
}

// Open parses url and returns a client. It does not dial; use Check to test
// reachability.
func Open(url string) (*Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse REDIS_URL")
	}
	return &Client{UniversalClient: goredis.NewClient(opts)}, nil
}

// Wrap adopts an existing client, mainly for tests.
func Wrap(c goredis.UniversalClient) *Client {
	return &Client{UniversalClient: c}
}

// Check pings the server within timeout.
func (c *Client) Check(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := c.UniversalClient.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "redis ping")
	}
	return nil
}

// Close releases the underlying pool.
func (c *Client) Close() error {
	if c == nil || c.UniversalClient == nil {
		return nil
	}
	if err := c.UniversalClient.Close(); err != nil {
		return errors.Wrap(err, "redis close")
	}
	log.Info().Str("component", "redis").Msg("connection closed")
	return nil
}
