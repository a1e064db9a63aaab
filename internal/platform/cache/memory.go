package cache

import (
	"context"
	"sync"
	"time"
)

type MemoryCache struct {
	mu   sync.RWMutex
	data map[string]memoryItem
	now  func() time.Time
	done chan struct{}
	once sync.Once
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryCache starts a janitor that evicts expired entries every sweep
// interval until Close.
func NewMemoryCache(sweep time.Duration) *MemoryCache {
	m := &MemoryCache{
		data: make(map[string]memoryItem),
		now:  time.Now,
		done: make(chan struct{}),
	}
	if sweep > 0 {
		go m.janitor(sweep)
	}
	return m
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	item, ok := m.data[key]
	m.mu.RUnlock()
	if !ok || !m.now().Before(item.expiresAt) {
		return nil, ErrCacheMiss
	}
	return item.value, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	buf := make([]byte, len(value))
	copy(buf, value)

	m.mu.Lock()
	m.data[key] = memoryItem{value: buf, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *MemoryCache) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryCache) janitor(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.evictExpired()
		case <-m.done:
			return
		}
	}
}

func (m *MemoryCache) evictExpired() {
	now := m.now()
	m.mu.Lock()
	for k, item := range m.data {
		if !now.Before(item.expiresAt) {
			delete(m.data, k)
		}
	}
	m.mu.Unlock()
}
