package kv

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by a shared Redis instance, for deployments
// running more than one process.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Store over the given client. All keys are
// namespaced with the prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

// SetNX stores value under key only if the key is absent.
func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.key(key), value, ttl).Result()
}

// Incr atomically increments the counter at key. The TTL is attached only
// when the increment created the key, so a window keeps its original expiry.
func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	full := s.key(key)
	n, err := s.client.Incr(ctx, full).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 && ttl > 0 {
		if err := s.client.Expire(ctx, full, ttl).Err(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Get returns the value at key, or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return val, err
}

// GetDel returns the value at key and removes it atomically.
func (s *RedisStore) GetDel(ctx context.Context, key string) (string, error) {
	val, err := s.client.GetDel(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return val, err
}

// Delete removes a key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

// TTL returns the remaining lifetime of key.
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, s.key(key)).Result()
	if err != nil {
		return 0, err
	}
	if d < 0 {
		// go-redis reports TTL -2 for a missing key, -1 for no expiry.
		if d == -2 {
			return 0, ErrNotFound
		}
		return 0, nil
	}
	return d, nil
}
