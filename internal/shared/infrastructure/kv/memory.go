package kv

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	counter   int64
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is an in-process Store implementation. All operations are
// atomic under a single mutex; expired entries are dropped lazily on access
// and in bulk by PurgeExpired.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	nowFunc func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		nowFunc: time.Now,
	}
}

// SetNX stores value under key only if the key is absent.
func (m *MemoryStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFunc()
	if entry, ok := m.entries[key]; ok && !entry.expired(now) {
		return false, nil
	}
	m.entries[key] = memoryEntry{value: value, expiresAt: expiry(now, ttl)}
	return true, nil
}

// Incr atomically increments the counter at key.
func (m *MemoryStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFunc()
	entry, ok := m.entries[key]
	if !ok || entry.expired(now) {
		entry = memoryEntry{expiresAt: expiry(now, ttl)}
	}
	entry.counter++
	entry.value = strconv.FormatInt(entry.counter, 10)
	m.entries[key] = entry
	return entry.counter, nil
}

// Get returns the value at key, or ErrNotFound.
func (m *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok || entry.expired(m.nowFunc()) {
		delete(m.entries, key)
		return "", ErrNotFound
	}
	return entry.value, nil
}

// GetDel returns the value at key and removes it atomically.
func (m *MemoryStore) GetDel(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	delete(m.entries, key)
	if !ok || entry.expired(m.nowFunc()) {
		return "", ErrNotFound
	}
	return entry.value, nil
}

// Delete removes a key.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// TTL returns the remaining lifetime of key.
func (m *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFunc()
	entry, ok := m.entries[key]
	if !ok || entry.expired(now) {
		return 0, ErrNotFound
	}
	if entry.expiresAt.IsZero() {
		return 0, nil
	}
	return entry.expiresAt.Sub(now), nil
}

// PurgeExpired removes all expired entries and returns how many were dropped.
// Keeps the store bounded over time when keys are written but never re-read.
func (m *MemoryStore) PurgeExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFunc()
	purged := 0
	for key, entry := range m.entries {
		if entry.expired(now) {
			delete(m.entries, key)
			purged++
		}
	}
	return purged
}

// Len reports the number of live entries.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// StartJanitor purges expired entries on the given interval until the
// context is cancelled.
func (m *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.PurgeExpired()
			}
		}
	}()
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
