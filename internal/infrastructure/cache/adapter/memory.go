package adapter

import (
	"context"
	"sync"
	"time"

	"go-leadchat/internal/infrastructure/cache/port"
)

// MemoryCache is a process-local port.Cache used when no Redis is configured.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]memoryItem
	nowFn func() time.Time
}

type memoryItem struct {
	value     string
	expiresAt time.Time
}

var _ port.Cache = (*MemoryCache)(nil)

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]memoryItem), nowFn: time.Now}
}

func (m *MemoryCache) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok {
		return "", port.ErrMiss
	}
	if !it.expiresAt.IsZero() && !m.nowFn().Before(it.expiresAt) {
		delete(m.items, key)
		return "", port.ErrMiss
	}
	return it.value, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := memoryItem{value: value}
	if ttl > 0 {
		it.expiresAt = m.nowFn().Add(ttl)
	}
	m.items[key] = it
	return nil
}

func (m *MemoryCache) Del(_ context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := m.items[k]; ok {
			delete(m.items, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryCache) Ping(context.Context) error { return nil }

func (m *MemoryCache) Close() error { return nil }
