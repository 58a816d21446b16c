package pack

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL bounds how long a fetched package stays fresh
const DefaultCacheTTL = 60 * time.Second

type cacheEntry struct {
	pkg     map[string]interface{}
	expires time.Time
}

// Cache is a read-mostly package cache keyed by URL. Lookups within the
// TTL are served from memory; concurrent misses for the same key collapse
// into a single fetch.
type Cache struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry
	group   singleflight.Group
}

// NewCache creates a cache with the given TTL; zero means DefaultCacheTTL
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{ttl: ttl, entries: make(map[string]cacheEntry)}
}

// Get returns the cached package for key, calling fetch on a miss. Only
// one fetch per key runs at a time; waiters share its result.
func (c *Cache) Get(ctx context.Context, key string, fetch func(context.Context) (map[string]interface{}, error)) (map[string]interface{}, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expires) {
		return entry.pkg, nil
	}

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		c.mu.RLock()
		entry, ok := c.entries[key]
		c.mu.RUnlock()
		if ok && time.Now().Before(entry.expires) {
			return entry.pkg, nil
		}

		pkg, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = cacheEntry{pkg: pkg, expires: time.Now().Add(c.ttl)}
		c.mu.Unlock()
		return pkg, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]interface{}), nil
}

// Invalidate drops every cached entry. Exposed for tests.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}
