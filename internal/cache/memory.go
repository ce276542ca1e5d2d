package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// memoryJanitorInterval is how often expired in-process entries are evicted.
const memoryJanitorInterval = 10 * time.Minute

// MemoryStore implements Store in process memory.
// This is suitable for single-instance deployments and tests.
type MemoryStore struct {
	items *gocache.Cache
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: gocache.New(DefaultStoreTTL, memoryJanitorInterval),
	}
}

// Get retrieves an encoded entry.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := s.items.Get(key)
	if !ok {
		return nil, nil
	}
	data := v.([]byte)
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Set stores an encoded entry.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, meta Meta) error {
	data := make([]byte, len(value))
	copy(data, value)
	ttl := meta.TTL
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	s.items.Set(key, data, ttl)
	return nil
}

// Ping always succeeds for the in-process store.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Len returns the number of stored entries, including expired ones not yet evicted.
func (s *MemoryStore) Len() int {
	return s.items.ItemCount()
}

// Close drops all entries.
func (s *MemoryStore) Close() error {
	s.items.Flush()
	return nil
}

// DisabledStore implements Store as a permanent miss.
type DisabledStore struct{}

// Get always misses.
func (DisabledStore) Get(context.Context, string) ([]byte, error) { return nil, nil }

// Set discards the value.
func (DisabledStore) Set(context.Context, string, []byte, Meta) error { return nil }

// Ping always succeeds.
func (DisabledStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (DisabledStore) Close() error { return nil }
