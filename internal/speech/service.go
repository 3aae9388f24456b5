package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brightpath-ai/tutor/pkg/provider/tts"
)

// ErrSynthesisFailed marks backend failures during synthesis. Cache problems
// never produce it; they degrade to a miss.
var ErrSynthesisFailed = errors.New("speech: synthesis failed")

// Synthesis pricing in USD per thousand characters, per quality tier.
const (
	standardUSDPerKChars = 0.015
	hdUSDPerKChars       = 0.030
)

// SynthesisCost returns the USD cost of synthesizing the given number of
// characters at the given quality tier.
func SynthesisCost(characters int, quality tts.Quality) float64 {
	rate := standardUSDPerKChars
	if quality == tts.QualityHD {
		rate = hdUSDPerKChars
	}
	return float64(characters) / 1000 * rate
}

// Result is the outcome of synthesizing one piece of text.
type Result struct {
	// Audio is the encoded audio payload.
	Audio []byte

	// Format is the audio container/codec (e.g., "mp3").
	Format string

	// Characters is the length of the source text.
	Characters int

	// Cost is the USD cost of the backend call; zero when Cached.
	Cost float64

	// Cached reports the audio was served from the speech cache.
	Cached bool
}

// SentenceAudio is one element of a streaming synthesis sequence.
type SentenceAudio struct {
	// Text is the source sentence.
	Text string

	// Result is the synthesis outcome; nil when Err is set.
	Result *Result

	// Err is set when synthesis of this sentence failed. Later sentences
	// are still attempted.
	Err error
}

// ServiceOption is a functional option for Service.
type ServiceOption func(*Service)

// WithLogger replaces the default slog logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithDefaultVoice sets the voice used when a request leaves the voice empty.
func WithDefaultVoice(voice string) ServiceOption {
	return func(s *Service) {
		s.voice = voice
	}
}

// WithCacheLookupHook installs a callback invoked once per synthesis with
// whether the cache served it. Used to feed cache hit/miss metrics.
func WithCacheLookupHook(hook func(hit bool)) ServiceOption {
	return func(s *Service) {
		s.onLookup = hook
	}
}

// Service synthesizes speech cache-first: every request consults the speech
// cache before paying for a backend call, and every paid result is written
// back best-effort.
//
// Safe for concurrent use.
type Service struct {
	synth    tts.Synthesizer
	cache    Cache
	voice    string
	logger   *slog.Logger
	onLookup func(hit bool)
}

// NewService creates a Service over synth and cache. cache may not be nil;
// use NewMemoryCache for cache-less deployments.
func NewService(synth tts.Synthesizer, cache Cache, opts ...ServiceOption) *Service {
	s := &Service{
		synth:  synth,
		cache:  cache,
		voice:  "nova",
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Synthesize produces audio for text, serving from cache when possible.
// Cache read or write failures are logged and absorbed; only a backend
// failure returns an error (wrapped in ErrSynthesisFailed).
func (s *Service) Synthesize(ctx context.Context, text, voice string, quality tts.Quality) (*Result, error) {
	if voice == "" {
		voice = s.voice
	}
	if quality == "" {
		quality = tts.QualityStandard
	}

	entry, err := s.cache.Lookup(ctx, text, voice, quality)
	if err != nil {
		s.logger.Warn("speech cache lookup failed, treating as miss", "error", err)
		entry = nil
	}
	if s.onLookup != nil {
		s.onLookup(entry != nil)
	}
	if entry != nil {
		return &Result{
			Audio:      entry.Audio,
			Format:     entry.Format,
			Characters: entry.Characters,
			Cached:     true,
		}, nil
	}

	audio, err := s.synth.Synthesize(ctx, tts.Request{
		Text:    text,
		Voice:   voice,
		Quality: quality,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}

	characters := len(text)
	if err := s.cache.Store(ctx, text, voice, quality, audio.Data, audio.Format, characters); err != nil {
		s.logger.Warn("speech cache store failed", "error", err)
	}

	return &Result{
		Audio:      audio.Data,
		Format:     audio.Format,
		Characters: characters,
		Cost:       SynthesisCost(characters, quality),
	}, nil
}

// SynthesizeStream consumes incremental text fragments, segments them into
// sentences, and synthesizes each completed sentence in order as it appears.
// Dispatch is sequential so delivery order trivially follows text order; the
// latency cost of not parallelising sentence synthesis is accepted.
//
// A per-sentence failure is reported on the element and does not stop the
// stream. The returned channel closes after the final sentence (including
// any unterminated trailing fragment) is handled or ctx is cancelled.
func (s *Service) SynthesizeStream(ctx context.Context, fragments <-chan string, voice string, quality tts.Quality) <-chan SentenceAudio {
	out := make(chan SentenceAudio, 8)
	sentences := StreamSentences(ctx.Done(), fragments)

	go func() {
		defer close(out)
		for sentence := range sentences {
			res, err := s.Synthesize(ctx, sentence, voice, quality)
			elem := SentenceAudio{Text: sentence, Result: res, Err: err}
			if err != nil {
				elem.Result = nil
			}
			select {
			case out <- elem:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Precache synthesizes a list of common phrases so their audio is already
// cached before the first learner asks. Failures are logged and skipped.
func (s *Service) Precache(ctx context.Context, phrases []string, voice string, quality tts.Quality) {
	for _, phrase := range phrases {
		if _, err := s.Synthesize(ctx, phrase, voice, quality); err != nil {
			s.logger.Warn("precache phrase failed", "error", err)
		}
	}
}

// sweeper is implemented by caches that can reclaim expired entries.
type sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// RunSweeper periodically deletes expired cache entries until ctx is
// cancelled. No-op when the cache cannot sweep.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	sw, ok := s.cache.(sweeper)
	if !ok {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := sw.Sweep(ctx)
			if err != nil {
				s.logger.Warn("speech cache sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				s.logger.Info("speech cache sweep", "removed", removed)
			}
		}
	}
}
