package curriculum

import (
	"context"
	"sort"
	"sync"
	"time"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory chapter Store. Used in tests and for running
// without a database; nothing survives a restart.
//
// Safe for concurrent use.
type MemStore struct {
	mu       sync.RWMutex
	chapters map[string]*Chapter
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{chapters: make(map[string]*Chapter)}
}

// GetChapter implements Store.
func (s *MemStore) GetChapter(_ context.Context, chapterID string) (*Chapter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.chapters[chapterID]
	if !ok {
		return nil, ErrChapterNotFound
	}
	cp := *ch
	return &cp, nil
}

// ListChapters implements Store.
func (s *MemStore) ListChapters(_ context.Context, subject string, grade int) ([]Chapter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Chapter
	for _, ch := range s.chapters {
		if ch.Subject == subject && ch.Grade == grade {
			out = append(out, *ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

// UpsertChapter implements Store.
func (s *MemStore) UpsertChapter(_ context.Context, ch *Chapter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *ch
	now := time.Now()
	if existing, ok := s.chapters[cp.ID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.chapters[cp.ID] = &cp
	return nil
}
