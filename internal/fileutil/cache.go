package fileutil

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// entry holds cached data alongside file metadata for staleness detection.
type entry[T any] struct {
	data         T
	size         int64
	lastModified int64
}

// Cache is a generic file-backed cache built on an LRU with TTL expiration.
// Entries record the file's size and modification time so cached data is
// reloaded when the file changes on disk.
type Cache[T any] struct {
	name string
	lru  *expirable.LRU[string, entry[T]]
}

// NewCache creates a cache with the given capacity and time-to-live.
// A capacity of 0 means unlimited size.
func NewCache[T any](name string, capacity int, ttl time.Duration) *Cache[T] {
	return &Cache[T]{
		name: name,
		lru:  expirable.NewLRU[string, entry[T]](capacity, nil, ttl),
	}
}

// Name returns the cache name, used in log lines.
func (c *Cache[T]) Name() string { return c.name }

// Size returns the current number of entries.
func (c *Cache[T]) Size() int { return c.lru.Len() }

// Purge drops all entries.
func (c *Cache[T]) Purge() { c.lru.Purge() }

// Store adds or updates an item keyed by file path with metadata from fi.
func (c *Cache[T]) Store(filePath string, data T, fi os.FileInfo) {
	c.lru.Add(filePath, entry[T]{
		data:         data,
		size:         fi.Size(),
		lastModified: fi.ModTime().Unix(),
	})
}

// Invalidate removes the entry for filePath, if present.
func (c *Cache[T]) Invalidate(filePath string) {
	c.lru.Remove(filePath)
}

// Load retrieves the cached item for filePath without checking staleness.
func (c *Cache[T]) Load(filePath string) (T, bool) {
	e, ok := c.lru.Get(filePath)
	if !ok {
		var zero T
		return zero, false
	}
	return e.data, true
}

// LoadLatest returns the cached item for filePath when it is still current,
// otherwise invokes loader and caches its result.
func (c *Cache[T]) LoadLatest(filePath string, loader func() (T, error)) (T, error) {
	stale, fi, err := c.isStale(filePath)
	if err != nil {
		var zero T
		return zero, err
	}
	if !stale {
		if e, ok := c.lru.Get(filePath); ok {
			return e.data, nil
		}
	}
	data, err := loader()
	if err != nil {
		var zero T
		return zero, err
	}
	c.Store(filePath, data, fi)
	return data, nil
}

func (c *Cache[T]) isStale(filePath string) (bool, os.FileInfo, error) {
	fi, err := os.Stat(filePath)
	if err != nil {
		return true, fi, fmt.Errorf("failed to stat file %s: %w", filePath, err)
	}
	e, ok := c.lru.Peek(filePath)
	if !ok {
		return true, fi, nil
	}
	return e.lastModified < fi.ModTime().Unix() || e.size != fi.Size(), fi, nil
}
