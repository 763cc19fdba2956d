// Package cache defines the read-through cache contract used by the service
// read paths, plus the in-process implementation backing it.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache holds role-scoped, already-filtered read results under TTL. Entries
// are a derived, disposable view over the store: losing one costs a re-read,
// serving a mis-keyed one leaks another actor's view.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
	InvalidatePrefix(ctx context.Context, prefix string) error
}

// DefaultTTL bounds staleness when explicit invalidation is lost.
const DefaultTTL = 300 * time.Second

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an LRU-bounded in-process cache with per-entry TTL.
type Memory struct {
	mu    sync.Mutex
	lru   *lru.Cache[string, entry]
	nowFn func() time.Time
}

// NewMemory constructs a cache retaining at most size entries.
func NewMemory(size int) (*Memory, error) {
	l, err := lru.New[string, entry](size)
	if err != nil {
		return nil, err
	}
	return &Memory{lru: l, nowFn: func() time.Time { return time.Now().UTC() }}, nil
}

// SetNowFunc overrides the time provider, primarily for tests.
func (m *Memory) SetNowFunc(fn func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nowFn = fn
}

// Get returns the cached value for key when present and unexpired.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && m.nowFn().After(e.expiresAt) {
		m.lru.Remove(key)
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

// Set stores value under key. A non-positive ttl stores the entry without
// expiry; eviction then relies on LRU pressure and explicit invalidation.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	e := entry{value: stored}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ttl > 0 {
		e.expiresAt = m.nowFn().Add(ttl)
	}
	m.lru.Add(key, e)
	return nil
}

// Invalidate removes a single entry.
func (m *Memory) Invalidate(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Remove(key)
	return nil
}

// InvalidatePrefix removes every entry whose key starts with prefix.
func (m *Memory) InvalidatePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range m.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			m.lru.Remove(key)
		}
	}
	return nil
}

// Len reports the number of live entries, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len()
}
