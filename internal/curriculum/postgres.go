package curriculum

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

const ddlChapters = `
CREATE TABLE IF NOT EXISTS chapters (
    chapter_id   TEXT         PRIMARY KEY,
    subject      TEXT         NOT NULL,
    grade        INT          NOT NULL,
    title        TEXT         NOT NULL,
    ord          INT          NOT NULL,
    content      JSONB        NOT NULL DEFAULT '{}',
    metadata     JSONB        NOT NULL DEFAULT '{}',
    cache_key    TEXT         NOT NULL DEFAULT '',
    token_count  INT          NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (subject, grade, ord)
);

CREATE INDEX IF NOT EXISTS idx_chapters_subject_grade
    ON chapters (subject, grade, ord);
`

// PostgresStore is the chapter source of truth backed by a chapters table.
// All methods are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore on an existing pool and ensures
// the chapters table exists.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, ddlChapters); err != nil {
		return nil, fmt.Errorf("curriculum store: migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// GetChapter implements Store.
func (s *PostgresStore) GetChapter(ctx context.Context, chapterID string) (*Chapter, error) {
	const q = `
		SELECT chapter_id, subject, grade, title, ord, content, metadata,
		       cache_key, token_count, created_at, updated_at
		FROM   chapters
		WHERE  chapter_id = $1`

	rows, err := s.pool.Query(ctx, q, chapterID)
	if err != nil {
		return nil, fmt.Errorf("curriculum store: get chapter: %w", err)
	}
	ch, err := pgx.CollectOneRow(rows, scanChapter)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrChapterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("curriculum store: get chapter: %w", err)
	}
	return &ch, nil
}

// ListChapters implements Store.
func (s *PostgresStore) ListChapters(ctx context.Context, subject string, grade int) ([]Chapter, error) {
	const q = `
		SELECT chapter_id, subject, grade, title, ord, content, metadata,
		       cache_key, token_count, created_at, updated_at
		FROM   chapters
		WHERE  subject = $1 AND grade = $2
		ORDER  BY ord`

	rows, err := s.pool.Query(ctx, q, subject, grade)
	if err != nil {
		return nil, fmt.Errorf("curriculum store: list chapters: %w", err)
	}
	chapters, err := pgx.CollectRows(rows, scanChapter)
	if err != nil {
		return nil, fmt.Errorf("curriculum store: list chapters: %w", err)
	}
	return chapters, nil
}

// UpsertChapter implements Store.
func (s *PostgresStore) UpsertChapter(ctx context.Context, ch *Chapter) error {
	content, err := json.Marshal(ch.Content)
	if err != nil {
		return fmt.Errorf("curriculum store: marshal content: %w", err)
	}
	meta, err := json.Marshal(ch.Metadata)
	if err != nil {
		return fmt.Errorf("curriculum store: marshal metadata: %w", err)
	}

	const q = `
		INSERT INTO chapters
		    (chapter_id, subject, grade, title, ord, content, metadata, cache_key, token_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (chapter_id) DO UPDATE SET
		    subject     = EXCLUDED.subject,
		    grade       = EXCLUDED.grade,
		    title       = EXCLUDED.title,
		    ord         = EXCLUDED.ord,
		    content     = EXCLUDED.content,
		    metadata    = EXCLUDED.metadata,
		    cache_key   = EXCLUDED.cache_key,
		    token_count = EXCLUDED.token_count,
		    updated_at  = now()`

	_, err = s.pool.Exec(ctx, q,
		ch.ID, ch.Subject, ch.Grade, ch.Title, ch.Order,
		content, meta, ch.CacheKey, ch.TokenCount,
	)
	if err != nil {
		return fmt.Errorf("curriculum store: upsert chapter: %w", err)
	}
	return nil
}

// scanChapter scans one chapters row, decoding the JSONB columns.
func scanChapter(row pgx.CollectableRow) (Chapter, error) {
	var (
		ch            Chapter
		content, meta []byte
	)
	if err := row.Scan(
		&ch.ID, &ch.Subject, &ch.Grade, &ch.Title, &ch.Order,
		&content, &meta, &ch.CacheKey, &ch.TokenCount,
		&ch.CreatedAt, &ch.UpdatedAt,
	); err != nil {
		return Chapter{}, err
	}
	if err := json.Unmarshal(content, &ch.Content); err != nil {
		return Chapter{}, fmt.Errorf("decode content: %w", err)
	}
	if err := json.Unmarshal(meta, &ch.Metadata); err != nil {
		return Chapter{}, fmt.Errorf("decode metadata: %w", err)
	}
	return ch, nil
}
