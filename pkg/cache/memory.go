package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultTTL is how long a lookup stays cached
	DefaultTTL = 30 * time.Second

	// DefaultMemorySize is the number of lookups kept in process
	DefaultMemorySize = 4096
)

// MemoryStore is an in-process lookup cache layer with LRU eviction.
type MemoryStore struct {
	// mu serialises writers so the entries gauge sees one Inc per insert.
	mu  sync.Mutex
	lru *expirable.LRU[string, *Entry]
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store holding at most size entries, each for at
// most ttl. Entries with an earlier Expires are dropped on read.
func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	if size <= 0 {
		size = DefaultMemorySize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		lru: expirable.NewLRU[string, *Entry](size, func(string, *Entry) {
			CacheEntries.WithLabelValues("memory").Dec()
		}, ttl),
	}
}

// Get retrieves a cache entry by key.
func (m *MemoryStore) Get(_ context.Context, key Key) (*Entry, error) {
	entry, ok := m.lru.Get(key.String())
	if !ok {
		return nil, ErrCacheMiss
	}
	if entry.IsExpired() {
		m.lru.Remove(key.String())
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues("memory").Inc()
	copied := *entry
	return &copied, nil
}

// Set stores a copy of entry.
func (m *MemoryStore) Set(_ context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	if entry.TTL() <= 0 {
		return nil
	}

	copied := *entry
	m.mu.Lock()
	defer m.mu.Unlock()

	// Remove fires the evict callback for a present key, so every Add below
	// is a fresh insert.
	m.lru.Remove(key.String())
	m.lru.Add(key.String(), &copied)
	CacheEntries.WithLabelValues("memory").Inc()
	return nil
}

// Delete removes a cache entry.
func (m *MemoryStore) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Remove(key.String())
	return nil
}

// Len returns the number of cached entries, expired ones included.
func (m *MemoryStore) Len() int {
	return m.lru.Len()
}
