package speech

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brightpath-ai/tutor/pkg/provider/tts"
)

// Compile-time interface check.
var _ Cache = (*PostgresCache)(nil)

const ddlSpeechCache = `
CREATE TABLE IF NOT EXISTS speech_cache (
    text_hash   TEXT         NOT NULL,
    voice_id    TEXT         NOT NULL,
    quality     TEXT         NOT NULL,
    audio       BYTEA        NOT NULL,
    format      TEXT         NOT NULL DEFAULT 'mp3',
    characters  INT          NOT NULL DEFAULT 0,
    hit_count   INT          NOT NULL DEFAULT 0,
    last_used   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    expires_at  TIMESTAMPTZ  NOT NULL,
    PRIMARY KEY (text_hash, voice_id, quality)
);

CREATE INDEX IF NOT EXISTS idx_speech_cache_expires_at
    ON speech_cache (expires_at);
`

// PostgresCache is a Cache backed by a speech_cache table. Audio is stored
// inline as BYTEA; synthesized sentences are small (tens of kilobytes), so
// external blob storage is not warranted.
//
// All methods are safe for concurrent use.
type PostgresCache struct {
	pool   *pgxpool.Pool
	expiry time.Duration
}

// PostgresCacheOption is a functional option for PostgresCache.
type PostgresCacheOption func(*PostgresCache)

// WithExpiry overrides the default 30-day entry lifetime for new entries.
func WithExpiry(d time.Duration) PostgresCacheOption {
	return func(c *PostgresCache) {
		c.expiry = d
	}
}

// NewPostgresCache creates a PostgresCache on an existing pool and ensures
// the speech_cache table exists.
func NewPostgresCache(ctx context.Context, pool *pgxpool.Pool, opts ...PostgresCacheOption) (*PostgresCache, error) {
	c := &PostgresCache{pool: pool, expiry: DefaultExpiry}
	for _, o := range opts {
		o(c)
	}
	if _, err := pool.Exec(ctx, ddlSpeechCache); err != nil {
		return nil, fmt.Errorf("speech cache: migrate: %w", err)
	}
	return c, nil
}

// Lookup implements Cache. The hit-count increment and last-used refresh
// happen in the same statement as the read, so concurrent hits never lose
// updates. Expired rows are filtered out, not deleted; Sweep collects them.
func (c *PostgresCache) Lookup(ctx context.Context, text, voice string, quality tts.Quality) (*CacheEntry, error) {
	const q = `
		UPDATE speech_cache
		SET    hit_count = hit_count + 1,
		       last_used = now()
		WHERE  text_hash = $1 AND voice_id = $2 AND quality = $3
		  AND  expires_at > now()
		RETURNING audio, format, characters, hit_count, last_used, created_at, expires_at`

	rows, err := c.pool.Query(ctx, q, CacheKey(text), voice, string(quality))
	if err != nil {
		return nil, fmt.Errorf("speech cache: lookup: %w", err)
	}
	entry, err := pgx.CollectOneRow(rows, func(row pgx.CollectableRow) (CacheEntry, error) {
		var e CacheEntry
		err := row.Scan(&e.Audio, &e.Format, &e.Characters, &e.HitCount,
			&e.LastUsed, &e.CreatedAt, &e.ExpiresAt)
		return e, err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("speech cache: lookup: %w", err)
	}
	return &entry, nil
}

// Store implements Cache. Re-storing the same key refreshes the audio and
// pushes the expiry forward.
func (c *PostgresCache) Store(ctx context.Context, text, voice string, quality tts.Quality, audio []byte, format string, characters int) error {
	const q = `
		INSERT INTO speech_cache
		    (text_hash, voice_id, quality, audio, format, characters, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, now() + $7::interval)
		ON CONFLICT (text_hash, voice_id, quality) DO UPDATE SET
		    audio      = EXCLUDED.audio,
		    format     = EXCLUDED.format,
		    characters = EXCLUDED.characters,
		    expires_at = EXCLUDED.expires_at`

	interval := fmt.Sprintf("%d seconds", int(c.expiry.Seconds()))
	_, err := c.pool.Exec(ctx, q, CacheKey(text), voice, string(quality), audio, format, characters, interval)
	if err != nil {
		return fmt.Errorf("speech cache: store: %w", err)
	}
	return nil
}

// Sweep deletes expired rows and returns how many were removed. Lazy-expiry
// reads stay authoritative; this only reclaims space.
func (c *PostgresCache) Sweep(ctx context.Context) (int, error) {
	tag, err := c.pool.Exec(ctx, `DELETE FROM speech_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("speech cache: sweep: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
