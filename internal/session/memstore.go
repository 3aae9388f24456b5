package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time interface checks.
var (
	_ Store         = (*MemStore)(nil)
	_ ProgressStore = (*MemStore)(nil)
)

// MemStore is an in-memory Store and ProgressStore. Used in tests and for
// running without a database; nothing survives a restart.
//
// Safe for concurrent use.
type MemStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	messages map[string][]Message
	progress map[string]map[string]progressRow
}

type progressRow struct {
	questionsAsked   int
	offTopicAttempts int
	lastAccessedAt   time.Time
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		sessions: make(map[string]*Session),
		messages: make(map[string][]Message),
		progress: make(map[string]map[string]progressRow),
	}
}

// GetOrCreate implements Store.
func (s *MemStore) GetOrCreate(_ context.Context, id, userID, chapterID, subject string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
	}
	if sess, ok := s.sessions[id]; ok {
		sess.UpdatedAt = time.Now()
		cp := *sess
		return &cp, nil
	}

	now := time.Now()
	sess := &Session{
		ID:        id,
		UserID:    userID,
		ChapterID: chapterID,
		Subject:   subject,
		StartedAt: now,
		UpdatedAt: now,
	}
	s.sessions[id] = sess
	cp := *sess
	return &cp, nil
}

// AppendMessages implements Store.
func (s *MemStore) AppendMessages(_ context.Context, sessionID string, msgs ...Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	for _, m := range msgs {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now()
		}
		s.messages[sessionID] = append(s.messages[sessionID], m)
	}
	return nil
}

// History implements Store.
func (s *MemStore) History(_ context.Context, sessionID string, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// ApplyTurn implements Store.
func (s *MemStore) ApplyTurn(_ context.Context, sessionID string, delta TurnDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	sess.Costs.Add(delta.Costs)
	sess.Tokens.Add(delta.Tokens)
	sess.Speech.Add(delta.Speech)
	if delta.OffTopic {
		sess.OffTopicAttempts++
	} else {
		sess.OffTopicAttempts = 0
	}
	sess.UpdatedAt = time.Now()
	return nil
}

// RecordQuestion implements ProgressStore.
func (s *MemStore) RecordQuestion(_ context.Context, userID, chapterID string, inScope bool) error {
	if userID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byChapter, ok := s.progress[userID]
	if !ok {
		byChapter = make(map[string]progressRow)
		s.progress[userID] = byChapter
	}
	row := byChapter[chapterID]
	if inScope {
		row.questionsAsked++
	} else {
		row.offTopicAttempts++
	}
	row.lastAccessedAt = time.Now()
	byChapter[chapterID] = row
	return nil
}

// Sessions returns copies of all stored sessions in unspecified order.
// Test helper.
func (s *MemStore) Sessions() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		cp := *sess
		out = append(out, &cp)
	}
	return out
}

// Get returns a copy of the session, or ErrSessionNotFound. Test helper.
func (s *MemStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}
