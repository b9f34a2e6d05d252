package cache

import (
	"errors"
	"time"
)

// LayeredCache reads memory first and falls back to disk. Disk hits are
// copied into memory.
type LayeredCache struct {
	memory    *MemoryCache
	disk      *DiskCache
	memoryTTL time.Duration
}

// NewLayeredCache creates a memory layer with memoryTTL over a disk layer in
// diskDir with diskTTL
func NewLayeredCache(memoryTTL time.Duration, diskDir string, diskTTL time.Duration) *LayeredCache {
	return &LayeredCache{
		memory:    NewMemoryCache(memoryTTL),
		disk:      NewDiskCache(diskDir, diskTTL),
		memoryTTL: memoryTTL,
	}
}

func (c *LayeredCache) Get(key string) ([]byte, bool) {
	if val, found := c.memory.Get(key); found {
		return val, true
	}
	val, found := c.disk.Get(key)
	if !found {
		return nil, false
	}
	_ = c.memory.Set(key, val, c.memoryTTL)
	return val, true
}

// Set writes both layers. ttl applies to disk; memory keeps its own ttl.
func (c *LayeredCache) Set(key string, value []byte, ttl time.Duration) error {
	_ = c.memory.Set(key, value, c.memoryTTL)
	return c.disk.Set(key, value, ttl)
}

func (c *LayeredCache) Delete(key string) error {
	return errors.Join(c.memory.Delete(key), c.disk.Delete(key))
}

func (c *LayeredCache) Clear() error {
	return errors.Join(c.memory.Clear(), c.disk.Clear())
}

// Prune drops expired entries from both layers. The count is the disk
// layer's, since memory entries are copies of disk ones.
func (c *LayeredCache) Prune() (int, error) {
	_, _ = c.memory.Prune()
	return c.disk.Prune()
}
