package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const entryExt = ".json"

// DiskCache keeps entries as one JSON file each, sharded into
// subdirectories by the first two characters of the key digest. Only files
// it wrote are ever removed, so the directory may be shared.
type DiskCache struct {
	dir string
	ttl time.Duration
	now func() time.Time
}

// NewDiskCache creates a DiskCache under dir with a default ttl
func NewDiskCache(dir string, ttl time.Duration) *DiskCache {
	return &DiskCache{dir: dir, ttl: ttl, now: time.Now}
}

type diskEntry struct {
	Key       string    `json:"key"`
	Data      []byte    `json:"data"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (c *DiskCache) Get(key string) ([]byte, bool) {
	path := c.path(key)
	entry, err := readEntry(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			_ = os.Remove(path)
		}
		return nil, false
	}
	// A different key that maps to the same file name is a miss.
	if entry.Key != key {
		return nil, false
	}
	if c.now().After(entry.ExpiresAt) {
		_ = os.Remove(path)
		return nil, false
	}
	return entry.Data, true
}

// Set writes the entry to a temp file in the shard and renames it into
// place, so readers see either the old entry or the new one.
func (c *DiskCache) Set(key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.ttl
	}
	data, err := json.Marshal(diskEntry{Key: key, Data: value, ExpiresAt: c.now().Add(ttl)})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	path := c.path(key)
	shard := filepath.Dir(path)
	if err := os.MkdirAll(shard, 0o755); err != nil {
		return fmt.Errorf("create cache shard: %w", err)
	}

	tmp, err := os.CreateTemp(shard, ".partial-*")
	if err != nil {
		return fmt.Errorf("create cache entry: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

func (c *DiskCache) Delete(key string) error {
	err := os.Remove(c.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Clear removes every entry file but leaves the directory itself
func (c *DiskCache) Clear() error {
	return c.walkEntries(func(path string) error {
		return os.Remove(path)
	})
}

// Prune removes expired and unreadable entries and reports how many went
func (c *DiskCache) Prune() (int, error) {
	removed := 0
	now := c.now()
	err := c.walkEntries(func(path string) error {
		entry, err := readEntry(path)
		if err == nil && !now.After(entry.ExpiresAt) {
			return nil
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		removed++
		return nil
	})
	return removed, err
}

func (c *DiskCache) walkEntries(fn func(path string) error) error {
	err := filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != entryExt {
			return nil
		}
		return fn(path)
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// path maps a key to dir/<shard>/<name>.json. Keys are prefixed digests;
// the prefix is dropped and anything not safe in a file name is replaced.
func (c *DiskCache) path(key string) string {
	name := key
	if i := strings.LastIndexByte(name, ':'); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, name)
	if name == "" {
		name = "_"
	}
	shard := name
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return filepath.Join(c.dir, shard, name+entryExt)
}

func readEntry(path string) (diskEntry, error) {
	var entry diskEntry
	data, err := os.ReadFile(path)
	if err != nil {
		return entry, err
	}
	if err := json.Unmarshal(data, &entry); err != nil {
		return entry, fmt.Errorf("decode cache entry: %w", err)
	}
	return entry, nil
}
