package curriculum

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// countingStore is a Store backed by a map that counts GetChapter reads.
type countingStore struct {
	mu       sync.Mutex
	chapters map[string]*Chapter
	reads    atomic.Int64
}

func newCountingStore(chapters ...*Chapter) *countingStore {
	s := &countingStore{chapters: make(map[string]*Chapter)}
	for _, ch := range chapters {
		s.chapters[ch.ID] = ch
	}
	return s
}

func (s *countingStore) GetChapter(_ context.Context, id string) (*Chapter, error) {
	s.reads.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.chapters[id]
	if !ok {
		return nil, ErrChapterNotFound
	}
	return ch, nil
}

func (s *countingStore) ListChapters(context.Context, string, int) ([]Chapter, error) {
	return nil, nil
}

func (s *countingStore) UpsertChapter(_ context.Context, ch *Chapter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chapters[ch.ID] = ch
	return nil
}

func testChapter(id string) *Chapter {
	return &Chapter{
		ID:      id,
		Subject: "english",
		Grade:   6,
		Title:   "Grammar Basics: Parts of Speech",
		Order:   1,
		Content: Content{Keywords: []string{"noun", "verb", "adjective"}},
	}
}

func TestCacheGetSingleReadWithinTTL(t *testing.T) {
	t.Parallel()

	store := newCountingStore(testChapter("english-grammar-basics"))
	cache := NewCache(store)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		ch, err := cache.Get(ctx, "english-grammar-basics")
		if err != nil {
			t.Fatalf("Get #%d: %v", i, err)
		}
		if ch.Title != "Grammar Basics: Parts of Speech" {
			t.Fatalf("Get #%d: unexpected title %q", i, ch.Title)
		}
	}

	if got := store.reads.Load(); got != 1 {
		t.Errorf("store reads = %d, want 1", got)
	}
}

func TestCacheGetRefreshesAfterTTL(t *testing.T) {
	t.Parallel()

	store := newCountingStore(testChapter("ch-1"))

	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	cache := NewCache(store, WithTTL(time.Hour), WithClock(clock))
	ctx := context.Background()

	if _, err := cache.Get(ctx, "ch-1"); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	now = now.Add(time.Hour + time.Minute)
	mu.Unlock()

	if _, err := cache.Get(ctx, "ch-1"); err != nil {
		t.Fatal(err)
	}
	if got := store.reads.Load(); got != 2 {
		t.Errorf("store reads = %d, want 2 (refresh after TTL)", got)
	}
}

func TestCacheGetNotFound(t *testing.T) {
	t.Parallel()

	cache := NewCache(newCountingStore())
	_, err := cache.Get(context.Background(), "missing")
	if !errors.Is(err, ErrChapterNotFound) {
		t.Fatalf("err = %v, want ErrChapterNotFound", err)
	}
}

func TestCacheNotFoundIsNotCached(t *testing.T) {
	t.Parallel()

	store := newCountingStore()
	cache := NewCache(store)
	ctx := context.Background()

	if _, err := cache.Get(ctx, "late"); !errors.Is(err, ErrChapterNotFound) {
		t.Fatalf("err = %v, want ErrChapterNotFound", err)
	}

	// The chapter appears afterwards; the next Get must hit the store again.
	if err := store.UpsertChapter(ctx, testChapter("late")); err != nil {
		t.Fatal(err)
	}
	ch, err := cache.Get(ctx, "late")
	if err != nil {
		t.Fatalf("Get after upsert: %v", err)
	}
	if ch.ID != "late" {
		t.Errorf("chapter ID = %q, want %q", ch.ID, "late")
	}
}

func TestCacheClear(t *testing.T) {
	t.Parallel()

	store := newCountingStore(testChapter("ch-1"))
	cache := NewCache(store)
	ctx := context.Background()

	if _, err := cache.Get(ctx, "ch-1"); err != nil {
		t.Fatal(err)
	}
	cache.Clear()
	if cache.Len() != 0 {
		t.Fatalf("Len after Clear = %d, want 0", cache.Len())
	}
	if _, err := cache.Get(ctx, "ch-1"); err != nil {
		t.Fatal(err)
	}
	if got := store.reads.Load(); got != 2 {
		t.Errorf("store reads = %d, want 2 after Clear", got)
	}
}

func TestCacheConcurrentGetsCollapse(t *testing.T) {
	t.Parallel()

	store := newCountingStore(testChapter("ch-1"))
	cache := NewCache(store)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.Get(ctx, "ch-1"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if got := store.reads.Load(); got != 1 {
		t.Errorf("store reads = %d, want 1 (singleflight)", got)
	}
}

func TestCacheLookupHook(t *testing.T) {
	t.Parallel()

	store := newCountingStore(testChapter("ch-1"))

	var hits, misses atomic.Int64
	cache := NewCache(store, WithLookupHook(func(hit bool) {
		if hit {
			hits.Add(1)
		} else {
			misses.Add(1)
		}
	}))
	ctx := context.Background()

	cache.Get(ctx, "ch-1")
	cache.Get(ctx, "ch-1")

	if misses.Load() != 1 || hits.Load() != 1 {
		t.Errorf("hits=%d misses=%d, want 1 and 1", hits.Load(), misses.Load())
	}
}
