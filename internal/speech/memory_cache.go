package speech

import (
	"context"
	"sync"
	"time"

	"github.com/brightpath-ai/tutor/pkg/provider/tts"
)

// Compile-time interface check.
var _ Cache = (*MemoryCache)(nil)

// MemoryCache is an in-process Cache. Suitable for tests and single-node
// deployments without a database; entries do not survive restarts.
//
// Safe for concurrent use.
type MemoryCache struct {
	expiry time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[memoryKey]*CacheEntry
}

type memoryKey struct {
	hash    string
	voice   string
	quality tts.Quality
}

// MemoryCacheOption is a functional option for MemoryCache.
type MemoryCacheOption func(*MemoryCache)

// WithMemoryExpiry overrides the default 30-day entry lifetime.
func WithMemoryExpiry(d time.Duration) MemoryCacheOption {
	return func(c *MemoryCache) {
		c.expiry = d
	}
}

// WithMemoryClock overrides the time source. Tests only.
func WithMemoryClock(now func() time.Time) MemoryCacheOption {
	return func(c *MemoryCache) {
		c.now = now
	}
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache(opts ...MemoryCacheOption) *MemoryCache {
	c := &MemoryCache{
		expiry:  DefaultExpiry,
		now:     time.Now,
		entries: make(map[memoryKey]*CacheEntry),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Lookup implements Cache. Expired entries are misses; they are left in
// place for Sweep to collect.
func (c *MemoryCache) Lookup(_ context.Context, text, voice string, quality tts.Quality) (*CacheEntry, error) {
	key := memoryKey{hash: CacheKey(text), voice: voice, quality: quality}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || !c.now().Before(entry.ExpiresAt) {
		return nil, nil
	}

	entry.HitCount++
	entry.LastUsed = c.now()

	cp := *entry
	cp.Audio = append([]byte(nil), entry.Audio...)
	return &cp, nil
}

// Store implements Cache.
func (c *MemoryCache) Store(_ context.Context, text, voice string, quality tts.Quality, audio []byte, format string, characters int) error {
	key := memoryKey{hash: CacheKey(text), voice: voice, quality: quality}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &CacheEntry{
		Audio:      append([]byte(nil), audio...),
		Format:     format,
		Characters: characters,
		LastUsed:   now,
		CreatedAt:  now,
		ExpiresAt:  now.Add(c.expiry),
	}
	return nil
}

// Sweep removes expired entries and returns how many were deleted.
func (c *MemoryCache) Sweep(context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if !c.now().Before(entry.ExpiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed, nil
}
