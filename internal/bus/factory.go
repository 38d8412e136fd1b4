package bus

import (
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/zhouzirui/chat-relay/backend/internal/config"
)

// Options selects and configures a driver.
type Options struct {
	Driver     string
	NATSURL    string
	InstanceID string
	// Redis is required by the redis and redisstream drivers.
	Redis redis.UniversalClient
}

// New builds the configured bus.
func New(opts Options) (Bus, error) {
	switch opts.Driver {
	case config.BusDriverRedis:
		if opts.Redis == nil {
			return nil, errors.New("redis bus requires a redis client")
		}
		return NewRedis(opts.Redis), nil
	case config.BusDriverRedisStream:
		if opts.Redis == nil {
			return nil, errors.New("redisstream bus requires a redis client")
		}
		return NewRedisStream(opts.Redis, opts.InstanceID)
	case config.BusDriverNATS:
		return DialNATS(opts.NATSURL, "chat-relay-"+opts.InstanceID)
	case config.BusDriverMemory:
		return NewMemory(), nil
	default:
		return nil, errors.Errorf("unknown bus driver %q", opts.Driver)
	}
}
