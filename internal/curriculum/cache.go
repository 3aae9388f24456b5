package curriculum

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const defaultTTL = time.Hour

// CacheOption is a functional option for Cache.
type CacheOption func(*Cache)

// WithTTL overrides the default one-hour entry lifetime.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		c.ttl = ttl
	}
}

// WithLookupHook installs a callback invoked once per Get with whether the
// chapter was served from memory. Used to feed cache hit/miss metrics.
func WithLookupHook(hook func(hit bool)) CacheOption {
	return func(c *Cache) {
		c.onLookup = hook
	}
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

// cacheEntry is one cached chapter with its capture time.
type cacheEntry struct {
	chapter    *Chapter
	capturedAt time.Time
}

// Cache is an in-memory TTL cache of chapters fronting a Store.
//
// Within the TTL window a chapter is fetched from the store at most once no
// matter how many concurrent Gets arrive; concurrent misses for the same id
// are collapsed into a single store read. Staleness up to the TTL after an
// external chapter edit is accepted.
//
// All methods are safe for concurrent use.
type Cache struct {
	store    Store
	ttl      time.Duration
	now      func() time.Time
	onLookup func(hit bool)

	mu      sync.RWMutex
	entries map[string]cacheEntry

	group singleflight.Group
}

// NewCache creates a Cache fronting store.
func NewCache(store Store, opts ...CacheOption) *Cache {
	c := &Cache{
		store:   store,
		ttl:     defaultTTL,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the chapter for chapterID, serving from memory when a fresh
// entry exists and refreshing from the store otherwise. A store failure or
// unknown id propagates; failed fetches are not cached.
func (c *Cache) Get(ctx context.Context, chapterID string) (*Chapter, error) {
	c.mu.RLock()
	entry, ok := c.entries[chapterID]
	c.mu.RUnlock()

	fresh := ok && c.now().Sub(entry.capturedAt) < c.ttl
	if c.onLookup != nil {
		c.onLookup(fresh)
	}
	if fresh {
		return entry.chapter, nil
	}

	v, err, _ := c.group.Do(chapterID, func() (any, error) {
		// Re-check under the flight: another caller may have refreshed the
		// entry while this one waited.
		c.mu.RLock()
		entry, ok := c.entries[chapterID]
		c.mu.RUnlock()
		if ok && c.now().Sub(entry.capturedAt) < c.ttl {
			return entry.chapter, nil
		}

		ch, err := c.store.GetChapter(ctx, chapterID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[chapterID] = cacheEntry{chapter: ch, capturedAt: c.now()}
		c.mu.Unlock()
		return ch, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Chapter), nil
}

// Clear empties the cache unconditionally.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// Len returns the number of cached entries, fresh or stale.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
