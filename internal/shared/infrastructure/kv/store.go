// Package kv provides a small key-value capability with TTL expiry and
// atomic increments. Replay tracking, rate limiting, and re-authentication
// tokens all sit on top of it, so a single-process deployment can use the
// in-memory store while multi-instance deployments share a Redis backend.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or has expired.
var ErrNotFound = errors.New("kv: key not found")

// Store is a key-value store with per-key TTL and atomic operations.
type Store interface {
	// SetNX stores value under key only if the key is absent.
	// Reports whether the value was stored.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Incr atomically increments the counter at key and returns the new
	// value. The TTL is applied when the increment creates the key.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Get returns the value at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// GetDel returns the value at key and removes it atomically, or
	// ErrNotFound. Used for single-use tokens.
	GetDel(ctx context.Context, key string) (string, error)

	// Delete removes a key. Removing an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// TTL returns the remaining lifetime of key, or ErrNotFound.
	TTL(ctx context.Context, key string) (time.Duration, error)
}
