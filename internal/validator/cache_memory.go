package validator

import (
	"context"
	"sync"
	"time"

	"wxpass/pkg/domain"
)

type memoryEntry struct {
	grant     *Grant
	expiresAt time.Time
}

// MemoryCache is a process-local grant cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[domain.Address]memoryEntry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[domain.Address]memoryEntry)}
}

func (c *MemoryCache) Get(_ context.Context, identity domain.Address) (*Grant, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[identity]
	c.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if !time.Now().Before(entry.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; a Set may have raced the expiry.
		if current, ok := c.entries[identity]; ok && !time.Now().Before(current.expiresAt) {
			delete(c.entries, identity)
		}
		c.mu.Unlock()
		return nil, false, nil
	}
	g := *entry.grant
	return &g, true, nil
}

func (c *MemoryCache) Set(_ context.Context, identity domain.Address, grant *Grant, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	g := *grant
	c.mu.Lock()
	c.entries[identity] = memoryEntry{grant: &g, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, identity domain.Address) error {
	c.mu.Lock()
	delete(c.entries, identity)
	c.mu.Unlock()
	return nil
}
