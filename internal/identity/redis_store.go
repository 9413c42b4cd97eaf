package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisTimeout bounds each Redis round trip.
const redisTimeout = 2 * time.Second

// RedisStore keeps identity keys in Redis so several editor processes on
// one installation share a single user id.
type RedisStore struct {
	client    redis.Cmdable
	namespace string
}

// NewRedisStore creates a RedisStore. Keys are stored as
// "presence:<namespace>:<key>".
func NewRedisStore(client redis.Cmdable, namespace string) *RedisStore {
	return &RedisStore{
		client:    client,
		namespace: namespace,
	}
}

func (s *RedisStore) redisKey(key string) string {
	return "presence:" + s.namespace + ":" + key
}

// Get returns the value for key, or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	v, err := s.client.Get(ctx, s.redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("identity: redis get %s: %w", key, err)
	}
	return v, nil
}

// Set stores value under key with no expiry.
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	if err := s.client.Set(ctx, s.redisKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("identity: redis set %s: %w", key, err)
	}
	return nil
}

// SetIfAbsent stores value under key with SETNX. It reports whether value
// was stored.
func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	ok, err := s.client.SetNX(ctx, s.redisKey(key), value, 0).Result()
	if err != nil {
		return false, fmt.Errorf("identity: redis setnx %s: %w", key, err)
	}
	return ok, nil
}
