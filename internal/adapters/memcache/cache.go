// Package memcache is the in-process cache used when no Redis is configured.
package memcache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"broker_reviews/internal/adapters/observability"
)

type Cache struct {
	c *gocache.Cache
	// mu makes Incr's create-or-increment atomic.
	mu sync.Mutex
}

func New(defaultTTL time.Duration) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = 15 * time.Minute
	}
	return &Cache{c: gocache.New(defaultTTL, 2*defaultTTL)}
}

// Values are stored JSON-encoded so callers get copies, matching Redis semantics.
func (m *Cache) Get(_ context.Context, key string, dst any) (bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		observability.ObserveCache("memory", "miss")
		return false, nil
	}
	b, ok := v.([]byte)
	if !ok {
		return false, nil
	}
	observability.ObserveCache("memory", "hit")
	return true, json.Unmarshal(b, dst)
}

func (m *Cache) Set(_ context.Context, key string, v any, ttlSec int) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	observability.ObserveCache("memory", "set")
	m.c.Set(key, b, time.Duration(ttlSec)*time.Second)
	return nil
}

func (m *Cache) Del(_ context.Context, key string) error {
	observability.ObserveCache("memory", "del")
	m.c.Delete(key)
	return nil
}

// Counters never expire.
func (m *Cache) Incr(_ context.Context, key string) (int64, error) {
	observability.ObserveCache("memory", "incr")
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.c.IncrementInt64(key, 1)
	if err != nil {
		m.c.Set(key, int64(1), gocache.NoExpiration)
		return 1, nil
	}
	return n, nil
}

func (m *Cache) SeedCounter(_ context.Context, key string, v int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.c.Get(key); ok {
		n, _ := cur.(int64)
		return n, nil
	}
	m.c.Set(key, v, gocache.NoExpiration)
	return v, nil
}

func (m *Cache) Counter(_ context.Context, key string) (int64, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return 0, nil
	}
	n, _ := v.(int64)
	return n, nil
}

func (m *Cache) Flush() { m.c.Flush() }
