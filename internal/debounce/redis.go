package debounce

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

const redisKeyPrefix = "factbase:debounce:"

// setNXer is the slice of the redis client the marker needs.
type setNXer interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

// RedisMarker shares claims across instances with SET NX EX.
type RedisMarker struct {
	client setNXer
	closer func() error
}

// NewRedisMarker connects to the Redis server at url and verifies it with PING.
func NewRedisMarker(ctx context.Context, url string) (*RedisMarker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "debounce: parse redis url")
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, eris.Wrap(err, "debounce: ping redis")
	}
	return &RedisMarker{client: client, closer: client.Close}, nil
}

func (m *RedisMarker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := m.client.SetNX(ctx, redisKeyPrefix+key, "1", ttl).Result()
	if err != nil {
		return false, eris.Wrapf(err, "debounce: setnx %s", key)
	}
	return ok, nil
}

// Close releases the underlying connection pool.
func (m *RedisMarker) Close() error {
	if m.closer == nil {
		return nil
	}
	return m.closer()
}
