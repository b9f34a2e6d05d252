package cache

import (
	"bytes"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache is the process-local layer. Values are copied on the way in
// and out, so a caller that edits a returned slice cannot change the entry.
type MemoryCache struct {
	items *gocache.Cache
}

// NewMemoryCache creates a MemoryCache whose entries live for ttl. Expired
// entries are swept at half the ttl, but at most once a minute.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	sweep := ttl / 2
	if sweep < time.Minute {
		sweep = time.Minute
	}
	return &MemoryCache{items: gocache.New(ttl, sweep)}
}

func (c *MemoryCache) Get(key string) ([]byte, bool) {
	v, found := c.items.Get(key)
	if !found {
		return nil, false
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, false
	}
	return bytes.Clone(b), true
}

// Set stores value. ttl 0 keeps the cache-wide ttl.
func (c *MemoryCache) Set(key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = gocache.DefaultExpiration
	}
	c.items.Set(key, bytes.Clone(value), ttl)
	return nil
}

func (c *MemoryCache) Delete(key string) error {
	c.items.Delete(key)
	return nil
}

func (c *MemoryCache) Clear() error {
	c.items.Flush()
	return nil
}

// Prune drops expired entries now instead of waiting for the sweep
func (c *MemoryCache) Prune() (int, error) {
	before := c.items.ItemCount()
	c.items.DeleteExpired()
	return before - c.items.ItemCount(), nil
}

// Len counts entries, including expired ones the sweep has not reached
func (c *MemoryCache) Len() int {
	return c.items.ItemCount()
}
