// Package session persists tutoring conversations and their running cost
// aggregates.
//
// A Session accumulates per-turn costs, token usage, and speech statistics
// additively; its ordered message log carries scope annotations for every
// turn. Session lifecycle beyond creation (expiry, deletion) is owned by an
// external session-management collaborator.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned when no session exists for the given id.
var ErrSessionNotFound = errors.New("session: not found")

// Costs is the running USD spend of a session, by backend.
type Costs struct {
	Transcription float64 `json:"whisper"`
	Generation    float64 `json:"claude"`
	Synthesis     float64 `json:"tts"`
	Total         float64 `json:"total"`
}

// Add accumulates other into c and keeps Total consistent.
func (c *Costs) Add(other Costs) {
	c.Transcription += other.Transcription
	c.Generation += other.Generation
	c.Synthesis += other.Synthesis
	c.Total = c.Transcription + c.Generation + c.Synthesis
}

// TokenUsage is the running token consumption of a session.
type TokenUsage struct {
	InputTokens       int `json:"inputTokens"`
	OutputTokens      int `json:"outputTokens"`
	CachedInputTokens int `json:"cachedInputTokens"`
}

// Add accumulates other into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CachedInputTokens += other.CachedInputTokens
}

// SpeechStats is the running synthesis accounting of a session.
type SpeechStats struct {
	Characters  int `json:"characters"`
	CacheHits   int `json:"cacheHits"`
	CacheMisses int `json:"cacheMisses"`
}

// Add accumulates other into s.
func (s *SpeechStats) Add(other SpeechStats) {
	s.Characters += other.Characters
	s.CacheHits += other.CacheHits
	s.CacheMisses += other.CacheMisses
}

// Message is one entry of a session's ordered conversation log. Role is
// "user" or "assistant". Scope fields are only meaningful on user messages;
// generation accounting only on assistant messages.
type Message struct {
	Role    string
	Content string

	InScope         bool
	ScopeConfidence float64
	ScopeReason     string

	TokensUsed       int
	CachedTokens     int
	LatencyMs        int64
	AudioDurationMs  int64
	SpeechCharacters int
	SpeechCached     bool

	CreatedAt time.Time
}

// Session is one tutoring conversation with its additive aggregates.
type Session struct {
	ID        string
	UserID    string
	ChapterID string
	Subject   string

	// OffTopicAttempts is the learner's consecutive off-topic streak. Reset
	// to zero by every in-scope turn.
	OffTopicAttempts int

	Costs  Costs
	Tokens TokenUsage
	Speech SpeechStats

	StartedAt time.Time
	UpdatedAt time.Time
}

// TurnDelta is the additive outcome of one completed turn.
type TurnDelta struct {
	Costs  Costs
	Tokens TokenUsage
	Speech SpeechStats

	// OffTopic marks the turn as filtered; it increments the session's
	// off-topic streak instead of resetting it.
	OffTopic bool
}

// Store persists sessions and their messages.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// GetOrCreate returns the session with the given id, creating it first
	// if absent. A blank id mints a fresh session id.
	GetOrCreate(ctx context.Context, id, userID, chapterID, subject string) (*Session, error)

	// AppendMessages appends msgs to the session log in order.
	AppendMessages(ctx context.Context, sessionID string, msgs ...Message) error

	// History returns up to limit most recent messages of the session in
	// chronological order. limit <= 0 means no limit.
	History(ctx context.Context, sessionID string, limit int) ([]Message, error)

	// ApplyTurn adds delta to the session aggregates and advances the
	// off-topic streak.
	ApplyTurn(ctx context.Context, sessionID string, delta TurnDelta) error
}

// ProgressStore tracks per-learner chapter progress, updated when a turn was
// in scope.
type ProgressStore interface {
	// RecordQuestion bumps the learner's counters for the chapter. inScope
	// selects which counter advances.
	RecordQuestion(ctx context.Context, userID, chapterID string, inScope bool) error
}
