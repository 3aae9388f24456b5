package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time interface checks.
var (
	_ Store         = (*PostgresStore)(nil)
	_ ProgressStore = (*PostgresStore)(nil)
)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id                 TEXT         PRIMARY KEY,
    user_id            TEXT         NOT NULL DEFAULT '',
    chapter_id         TEXT         NOT NULL,
    subject            TEXT         NOT NULL DEFAULT '',
    off_topic_attempts INT          NOT NULL DEFAULT 0,
    costs              JSONB        NOT NULL DEFAULT '{}',
    tokens             JSONB        NOT NULL DEFAULT '{}',
    speech             JSONB        NOT NULL DEFAULT '{}',
    started_at         TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at         TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions (user_id);

CREATE TABLE IF NOT EXISTS session_messages (
    session_id         TEXT         NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
    seq                BIGSERIAL,
    role               TEXT         NOT NULL,
    content            TEXT         NOT NULL,
    in_scope           BOOLEAN      NOT NULL DEFAULT false,
    scope_confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
    scope_reason       TEXT         NOT NULL DEFAULT '',
    tokens_used        INT          NOT NULL DEFAULT 0,
    cached_tokens      INT          NOT NULL DEFAULT 0,
    latency_ms         BIGINT       NOT NULL DEFAULT 0,
    audio_duration_ms  BIGINT       NOT NULL DEFAULT 0,
    speech_characters  INT          NOT NULL DEFAULT 0,
    speech_cached      BOOLEAN      NOT NULL DEFAULT false,
    created_at         TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (session_id, seq)
);

CREATE TABLE IF NOT EXISTS chapter_progress (
    user_id             TEXT         NOT NULL,
    chapter_id          TEXT         NOT NULL,
    questions_asked     INT          NOT NULL DEFAULT 0,
    off_topic_attempts  INT          NOT NULL DEFAULT 0,
    last_accessed_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (user_id, chapter_id)
);
`

// PostgresStore persists sessions, their message logs, and chapter progress.
// All methods are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore on an existing pool and ensures
// the session tables exist.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, ddlSessions); err != nil {
		return nil, fmt.Errorf("session store: migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// GetOrCreate implements Store.
func (s *PostgresStore) GetOrCreate(ctx context.Context, id, userID, chapterID, subject string) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}

	const q = `
		INSERT INTO sessions (id, user_id, chapter_id, subject)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET updated_at = now()
		RETURNING id, user_id, chapter_id, subject, off_topic_attempts,
		          costs, tokens, speech, started_at, updated_at`

	rows, err := s.pool.Query(ctx, q, id, userID, chapterID, subject)
	if err != nil {
		return nil, fmt.Errorf("session store: get or create: %w", err)
	}
	sess, err := pgx.CollectOneRow(rows, scanSession)
	if err != nil {
		return nil, fmt.Errorf("session store: get or create: %w", err)
	}
	return &sess, nil
}

// AppendMessages implements Store.
func (s *PostgresStore) AppendMessages(ctx context.Context, sessionID string, msgs ...Message) error {
	const q = `
		INSERT INTO session_messages
		    (session_id, role, content, in_scope, scope_confidence, scope_reason,
		     tokens_used, cached_tokens, latency_ms, audio_duration_ms,
		     speech_characters, speech_cached)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	for _, m := range msgs {
		_, err := s.pool.Exec(ctx, q,
			sessionID, m.Role, m.Content, m.InScope, m.ScopeConfidence, m.ScopeReason,
			m.TokensUsed, m.CachedTokens, m.LatencyMs, m.AudioDurationMs,
			m.SpeechCharacters, m.SpeechCached,
		)
		if err != nil {
			return fmt.Errorf("session store: append message: %w", err)
		}
	}
	return nil
}

// History implements Store.
func (s *PostgresStore) History(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	q := `
		SELECT role, content, in_scope, scope_confidence, scope_reason,
		       tokens_used, cached_tokens, latency_ms, audio_duration_ms,
		       speech_characters, speech_cached, created_at
		FROM   session_messages
		WHERE  session_id = $1
		ORDER  BY seq`
	args := []any{sessionID}

	if limit > 0 {
		// Take the newest rows, then restore chronological order.
		q = `
			SELECT role, content, in_scope, scope_confidence, scope_reason,
			       tokens_used, cached_tokens, latency_ms, audio_duration_ms,
			       speech_characters, speech_cached, created_at
			FROM (
			    SELECT *
			    FROM   session_messages
			    WHERE  session_id = $1
			    ORDER  BY seq DESC
			    LIMIT  $2
			) latest
			ORDER BY seq`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("session store: history: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Message, error) {
		var m Message
		err := row.Scan(&m.Role, &m.Content, &m.InScope, &m.ScopeConfidence, &m.ScopeReason,
			&m.TokensUsed, &m.CachedTokens, &m.LatencyMs, &m.AudioDurationMs,
			&m.SpeechCharacters, &m.SpeechCached, &m.CreatedAt)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("session store: history: %w", err)
	}
	return msgs, nil
}

// ApplyTurn implements Store. The aggregate row is read, merged, and written
// back under a transaction with FOR UPDATE so concurrent turns on the same
// session never lose increments.
func (s *PostgresStore) ApplyTurn(ctx context.Context, sessionID string, delta TurnDelta) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("session store: apply turn: %w", err)
	}
	defer tx.Rollback(ctx)

	const sel = `
		SELECT costs, tokens, speech, off_topic_attempts
		FROM   sessions
		WHERE  id = $1
		FOR UPDATE`

	var (
		costsRaw, tokensRaw, speechRaw []byte
		offTopic                       int
	)
	if err := tx.QueryRow(ctx, sel, sessionID).Scan(&costsRaw, &tokensRaw, &speechRaw, &offTopic); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("session store: apply turn: %w", err)
	}

	var (
		costs  Costs
		tokens TokenUsage
		speech SpeechStats
	)
	if err := json.Unmarshal(costsRaw, &costs); err != nil {
		return fmt.Errorf("session store: decode costs: %w", err)
	}
	if err := json.Unmarshal(tokensRaw, &tokens); err != nil {
		return fmt.Errorf("session store: decode tokens: %w", err)
	}
	if err := json.Unmarshal(speechRaw, &speech); err != nil {
		return fmt.Errorf("session store: decode speech: %w", err)
	}

	costs.Add(delta.Costs)
	tokens.Add(delta.Tokens)
	speech.Add(delta.Speech)
	if delta.OffTopic {
		offTopic++
	} else {
		offTopic = 0
	}

	newCosts, _ := json.Marshal(costs)
	newTokens, _ := json.Marshal(tokens)
	newSpeech, _ := json.Marshal(speech)

	const upd = `
		UPDATE sessions
		SET    costs = $2, tokens = $3, speech = $4,
		       off_topic_attempts = $5, updated_at = now()
		WHERE  id = $1`

	if _, err := tx.Exec(ctx, upd, sessionID, newCosts, newTokens, newSpeech, offTopic); err != nil {
		return fmt.Errorf("session store: apply turn: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("session store: apply turn: %w", err)
	}
	return nil
}

// RecordQuestion implements ProgressStore.
func (s *PostgresStore) RecordQuestion(ctx context.Context, userID, chapterID string, inScope bool) error {
	if userID == "" {
		return nil
	}

	inc := 0
	offInc := 1
	if inScope {
		inc, offInc = 1, 0
	}

	const q = `
		INSERT INTO chapter_progress (user_id, chapter_id, questions_asked, off_topic_attempts)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, chapter_id) DO UPDATE SET
		    questions_asked    = chapter_progress.questions_asked + EXCLUDED.questions_asked,
		    off_topic_attempts = chapter_progress.off_topic_attempts + EXCLUDED.off_topic_attempts,
		    last_accessed_at   = now()`

	if _, err := s.pool.Exec(ctx, q, userID, chapterID, inc, offInc); err != nil {
		return fmt.Errorf("session store: record question: %w", err)
	}
	return nil
}

// scanSession scans one sessions row, decoding aggregate JSONB columns.
func scanSession(row pgx.CollectableRow) (Session, error) {
	var (
		sess                           Session
		costsRaw, tokensRaw, speechRaw []byte
	)
	if err := row.Scan(
		&sess.ID, &sess.UserID, &sess.ChapterID, &sess.Subject, &sess.OffTopicAttempts,
		&costsRaw, &tokensRaw, &speechRaw, &sess.StartedAt, &sess.UpdatedAt,
	); err != nil {
		return Session{}, err
	}
	if err := json.Unmarshal(costsRaw, &sess.Costs); err != nil {
		return Session{}, fmt.Errorf("decode costs: %w", err)
	}
	if err := json.Unmarshal(tokensRaw, &sess.Tokens); err != nil {
		return Session{}, fmt.Errorf("decode tokens: %w", err)
	}
	if err := json.Unmarshal(speechRaw, &sess.Speech); err != nil {
		return Session{}, fmt.Errorf("decode speech: %w", err)
	}
	return sess, nil
}
