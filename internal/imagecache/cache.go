package imagecache

import (
	"container/list"
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Default memory-tier bounds. When the cache grows past the limit it is
// trimmed down to the target, so a burst of artwork loads doesn't cause an
// eviction per insert.
const (
	DefaultMemoryLimit = 100 << 20 // 100 MiB
	DefaultTrimTarget  = 60 << 20  // 60 MiB
)

// Fetcher is the network collaborator for cache misses. Implementations may
// consult a disk tier through standard HTTP caching semantics; the memory
// cache neither knows nor cares. Fetch errors are returned as-is, never
// retried and never logged here.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// entry is one cached image keyed by its exact source URL string.
type entry struct {
	key  string
	data []byte
}

// Cache is the in-memory tier of the image cache: an LRU bounded by total
// byte size. Concurrent Load calls for the same URL may each trigger their
// own fetch; that is an accepted inefficiency since the final write is
// idempotent (same bytes, last writer wins).
type Cache struct {
	mutex      sync.Mutex
	entries    map[string]*list.Element
	lru        *list.List // front = most recently used
	totalBytes int64
	limitBytes int64
	trimBytes  int64

	fetcher       Fetcher
	prefetchLimit int
}

// NewCache creates a memory tier in front of fetcher. Non-positive bounds
// fall back to the defaults; the trim target is clamped to the limit.
func NewCache(fetcher Fetcher, limitBytes, trimBytes int64, prefetchLimit int) *Cache {
	if limitBytes <= 0 {
		limitBytes = DefaultMemoryLimit
	}
	if trimBytes <= 0 || trimBytes > limitBytes {
		trimBytes = DefaultTrimTarget
		if trimBytes > limitBytes {
			trimBytes = limitBytes
		}
	}
	if prefetchLimit < 1 {
		prefetchLimit = 4
	}

	return &Cache{
		entries:       make(map[string]*list.Element),
		lru:           list.New(),
		limitBytes:    limitBytes,
		trimBytes:     trimBytes,
		fetcher:       fetcher,
		prefetchLimit: prefetchLimit,
	}
}

// Load returns the image for url, from memory when possible, otherwise via
// the fetcher. Fetch failures propagate to this caller only.
func (c *Cache) Load(ctx context.Context, url string) ([]byte, error) {
	if data, ok := c.Get(url); ok {
		return data, nil
	}

	data, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	c.Set(url, data)
	return data, nil
}

// Get checks the memory tier by exact URL string key.
func (c *Cache) Get(url string) ([]byte, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	el, ok := c.entries[url]
	if !ok {
		return nil, false
	}
	c.lru.MoveToFront(el)
	return el.Value.(*entry).data, true
}

// Set stores the image bytes, replacing any prior entry for the key and
// trimming the tier when the byte bound is crossed.
func (c *Cache) Set(url string, data []byte) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if el, ok := c.entries[url]; ok {
		old := el.Value.(*entry)
		c.totalBytes += int64(len(data)) - int64(len(old.data))
		old.data = data
		c.lru.MoveToFront(el)
	} else {
		el := c.lru.PushFront(&entry{key: url, data: data})
		c.entries[url] = el
		c.totalBytes += int64(len(data))
	}

	if c.totalBytes > c.limitBytes {
		c.trimToLocked(c.trimBytes)
	}
}

// Prefetch warms the memory tier for a batch of URLs in the background.
// Already-cached URLs are skipped and failures are swallowed; prefetching is
// best-effort by contract.
func (c *Cache) Prefetch(ctx context.Context, urls []string) {
	var g errgroup.Group
	g.SetLimit(c.prefetchLimit)

	for _, url := range urls {
		url := url
		if _, ok := c.Get(url); ok {
			continue
		}
		g.Go(func() error {
			c.Load(ctx, url)
			return nil
		})
	}

	go g.Wait()
}

// Clear empties the memory tier only. The disk tier's lifecycle belongs to
// the underlying HTTP cache and is untouched.
func (c *Cache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries = make(map[string]*list.Element)
	c.lru = list.New()
	c.totalBytes = 0
}

// HandleMemoryPressure evicts the entire memory tier, not just down to the
// trim target. Simplicity over optimality: under real pressure, survival
// beats keeping sixty megabytes of thumbnails warm.
func (c *Cache) HandleMemoryPressure() {
	c.Clear()
}

// Contains reports whether url is currently memory-cached, without touching
// recency.
func (c *Cache) Contains(url string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, ok := c.entries[url]
	return ok
}

// Size returns the number of cached entries.
func (c *Cache) Size() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return len(c.entries)
}

// Bytes returns the total cached payload size.
func (c *Cache) Bytes() int64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.totalBytes
}

// trimToLocked evicts least-recently-used entries until the tier fits in
// target bytes. Must be called with the lock held.
func (c *Cache) trimToLocked(target int64) {
	for c.totalBytes > target {
		back := c.lru.Back()
		if back == nil {
			return
		}
		ev := back.Value.(*entry)
		c.lru.Remove(back)
		delete(c.entries, ev.key)
		c.totalBytes -= int64(len(ev.data))
	}
}
