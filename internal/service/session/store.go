package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long visitor metadata outlives its last write.
const DefaultTTL = time.Hour

// Store keeps arbitrary visitor metadata keyed by visitor id.
type Store struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewStore returns a store that expires entries after ttl (DefaultTTL if zero).
func NewStore(client redis.Cmdable, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: client, ttl: ttl}
}

func sessionKey(visitorID string) string {
	return "session:" + visitorID
}

// SetSession writes data as JSON under the visitor key with the store TTL.
func (s *Store) SetSession(ctx context.Context, visitorID string, data any) error {
	return s.SetSessionTTL(ctx, visitorID, data, s.ttl)
}

// SetSessionTTL is SetSession with an explicit expiry.
func (s *Store) SetSessionTTL(ctx context.Context, visitorID string, data any, ttl time.Duration) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "encode session")
	}
	if err := s.client.Set(ctx, sessionKey(visitorID), raw, ttl).Err(); err != nil {
		return errors.Wrap(err, "write session")
	}
	return nil
}

// GetSession decodes the stored session into dst. It returns false when no
// session exists.
func (s *Store) GetSession(ctx context.Context, visitorID string, dst any) (bool, error) {
	raw, err := s.client.Get(ctx, sessionKey(visitorID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "read session")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, errors.Wrap(err, "decode session")
	}
	return true, nil
}
