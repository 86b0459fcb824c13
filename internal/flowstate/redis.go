package flowstate

import (
	"context"
	"strconv"
	"time"

	"github.com/edgecomet/imposter/internal/common/redis"
)

// RedisStore is the Redis-backed flowstate.Store, used when flow_state.backend
// is "redis" so flow counters survive a proxy restart and can be shared by a
// pool of proxy instances.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps client with a key prefix to namespace flow-state keys
// from any other use of the same Redis database (e.g. the recording store).
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "flowstate:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(k string) string { return s.prefix + k }

func (s *RedisStore) Incr(ctx context.Context, key string, delta int64, ttlSeconds int64) (int64, error) {
	return s.client.IncrBy(ctx, s.key(key), delta, ttlDuration(ttlSeconds))
}

func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	v, ok, err := s.client.Get(ctx, s.key(key))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value int64, ttlSeconds int64) error {
	return s.client.Set(ctx, s.key(key), strconv.FormatInt(value, 10), ttlDuration(ttlSeconds))
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key))
}

func ttlDuration(ttlSeconds int64) time.Duration {
	if ttlSeconds <= 0 {
		return 0
	}
	return time.Duration(ttlSeconds) * time.Second
}
