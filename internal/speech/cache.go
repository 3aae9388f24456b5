// Package speech turns reply text into audio while keeping paid synthesis
// calls behind a content-addressed cache.
//
// The cache key is a hash of the normalized text plus the voice and quality
// tier, so the same sentence spoken by the same voice is only ever paid for
// once within the expiry window. Cache failures never fail a request; the
// service degrades to treating the operation as a miss.
package speech

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/brightpath-ai/tutor/pkg/provider/tts"
)

// DefaultExpiry is how long a cached audio entry stays servable.
const DefaultExpiry = 30 * 24 * time.Hour

// CacheEntry is one cached synthesis result.
type CacheEntry struct {
	// Audio is the encoded audio payload.
	Audio []byte

	// Format is the audio container/codec (e.g., "mp3").
	Format string

	// Characters is the length of the source text.
	Characters int

	// HitCount is how many lookups have served this entry, including the
	// one that returned it.
	HitCount int

	// LastUsed is when the entry last served a lookup.
	LastUsed time.Time

	// CreatedAt is when the entry was stored.
	CreatedAt time.Time

	// ExpiresAt bounds the entry's lifetime. Lookups past this instant
	// behave as misses even if the record still exists.
	ExpiresAt time.Time
}

// Cache stores synthesized audio keyed by (text, voice, quality).
//
// Lookup returns (nil, nil) on a miss. A hit increments the entry's hit count
// and refreshes its last-used timestamp as an observable side effect. Expired
// entries are misses regardless of physical deletion.
//
// Implementations must be safe for concurrent use. Errors indicate the cache
// itself is unavailable; callers are expected to degrade rather than fail.
type Cache interface {
	Lookup(ctx context.Context, text, voice string, quality tts.Quality) (*CacheEntry, error)
	Store(ctx context.Context, text, voice string, quality tts.Quality, audio []byte, format string, characters int) error
}

// CacheKey derives the content address for (text, voice, quality): a sha256
// of the normalized text, hex-encoded. Voice and quality are kept as separate
// key columns by implementations so the same text under different voices
// never collides.
func CacheKey(text string) string {
	normalized := strings.ToLower(strings.TrimSpace(text))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
