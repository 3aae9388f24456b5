// Package app wires all tutoring subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject fakes via functional options (WithSessionStore,
// WithChapterStore, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brightpath-ai/tutor/internal/config"
	"github.com/brightpath-ai/tutor/internal/curriculum"
	"github.com/brightpath-ai/tutor/internal/health"
	"github.com/brightpath-ai/tutor/internal/observe"
	"github.com/brightpath-ai/tutor/internal/server"
	"github.com/brightpath-ai/tutor/internal/session"
	"github.com/brightpath-ai/tutor/internal/speech"
	"github.com/brightpath-ai/tutor/internal/transcript"
	"github.com/brightpath-ai/tutor/internal/transcript/phonetic"
	"github.com/brightpath-ai/tutor/internal/turn"
	"github.com/brightpath-ai/tutor/internal/tutor"
	"github.com/brightpath-ai/tutor/pkg/provider/llm"
	"github.com/brightpath-ai/tutor/pkg/provider/stt"
	"github.com/brightpath-ai/tutor/pkg/provider/tts"
)

const shutdownTimeout = 10 * time.Second

// Providers holds one interface value per provider slot. LLM is required;
// nil STT or TTS disables voice input or audio replies respectively.
// Populated by main via the config registry.
type Providers struct {
	LLM llm.Provider
	STT stt.Transcriber
	TTS tts.Synthesizer
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	logger    *slog.Logger
	metrics   *observe.Metrics

	pool     *pgxpool.Pool
	chapters curriculum.Store
	sessions session.Store
	progress session.ProgressStore
	cache    speech.Cache

	speechSvc    *speech.Service
	orchestrator *turn.Orchestrator
	srv          *server.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// disabledSynthesizer stands in when no TTS provider is configured. Turns
// still succeed as text-only because per-sentence synthesis failures degrade
// rather than abort.
type disabledSynthesizer struct{}

func (disabledSynthesizer) Synthesize(context.Context, tts.Request) (*tts.Audio, error) {
	return nil, fmt.Errorf("app: no tts provider configured")
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithChapterStore injects a chapter store instead of creating one from config.
func WithChapterStore(s curriculum.Store) Option {
	return func(a *App) { a.chapters = s }
}

// WithSessionStore injects a session store instead of creating one from config.
func WithSessionStore(s session.Store) Option {
	return func(a *App) { a.sessions = s }
}

// WithProgressStore injects a progress store instead of creating one from config.
func WithProgressStore(p session.ProgressStore) Option {
	return func(a *App) { a.progress = p }
}

// WithSpeechCache injects a speech cache instead of creating one from config.
func WithSpeechCache(c speech.Cache) Option {
	return func(a *App) { a.cache = c }
}

// WithLogger replaces the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithMetrics replaces the process-wide default metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New builds the application from config and providers. providers.LLM must
// not be nil.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil {
		return nil, fmt.Errorf("app: an LLM provider is required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStores(ctx); err != nil {
		a.closeAll()
		return nil, err
	}
	a.initPipeline()
	a.initServer()
	return a, nil
}

// initStores connects Postgres when a DSN is configured and falls back to
// in-memory stores otherwise. Injected stores always win.
func (a *App) initStores(ctx context.Context) error {
	dsn := a.cfg.Database.PostgresDSN
	needsDB := dsn != "" && (a.chapters == nil || a.sessions == nil || a.cache == nil)

	if needsDB {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return fmt.Errorf("app: connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return fmt.Errorf("app: ping postgres: %w", err)
		}
		a.pool = pool
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})
	}

	if a.chapters == nil {
		if a.pool != nil {
			store, err := curriculum.NewPostgresStore(ctx, a.pool)
			if err != nil {
				return fmt.Errorf("app: chapter store: %w", err)
			}
			a.chapters = store
		} else {
			a.chapters = curriculum.NewMemStore()
		}
	}

	if a.sessions == nil {
		if a.pool != nil {
			store, err := session.NewPostgresStore(ctx, a.pool)
			if err != nil {
				return fmt.Errorf("app: session store: %w", err)
			}
			a.sessions = store
			if a.progress == nil {
				a.progress = store
			}
		} else {
			store := session.NewMemStore()
			a.sessions = store
			if a.progress == nil {
				a.progress = store
			}
		}
	}

	if a.cache == nil {
		if a.pool != nil {
			var cacheOpts []speech.PostgresCacheOption
			if a.cfg.Speech.CacheExpiry > 0 {
				cacheOpts = append(cacheOpts, speech.WithExpiry(a.cfg.Speech.CacheExpiry.Std()))
			}
			cache, err := speech.NewPostgresCache(ctx, a.pool, cacheOpts...)
			if err != nil {
				return fmt.Errorf("app: speech cache: %w", err)
			}
			a.cache = cache
		} else {
			var cacheOpts []speech.MemoryCacheOption
			if a.cfg.Speech.CacheExpiry > 0 {
				cacheOpts = append(cacheOpts, speech.WithMemoryExpiry(a.cfg.Speech.CacheExpiry.Std()))
			}
			a.cache = speech.NewMemoryCache(cacheOpts...)
		}
	}

	return nil
}

func (a *App) initPipeline() {
	cacheOpts := []curriculum.CacheOption{
		curriculum.WithLookupHook(func(hit bool) {
			observe.RecordCacheLookup(context.Background(), a.metrics.ChapterCacheLookups, hit)
		}),
	}
	if a.cfg.Tutor.ChapterCacheTTL > 0 {
		cacheOpts = append(cacheOpts, curriculum.WithTTL(a.cfg.Tutor.ChapterCacheTTL.Std()))
	}
	chapterCache := curriculum.NewCache(a.chapters, cacheOpts...)

	var genOpts []tutor.Option
	if a.cfg.Tutor.MaxTokens > 0 {
		genOpts = append(genOpts, tutor.WithMaxTokens(a.cfg.Tutor.MaxTokens))
	}
	if a.cfg.Tutor.Temperature > 0 {
		genOpts = append(genOpts, tutor.WithTemperature(a.cfg.Tutor.Temperature))
	}
	generator := tutor.NewGenerator(a.providers.LLM, genOpts...)

	synth := a.providers.TTS
	if synth == nil {
		synth = disabledSynthesizer{}
	}
	svcOpts := []speech.ServiceOption{
		speech.WithLogger(a.logger),
		speech.WithCacheLookupHook(func(hit bool) {
			observe.RecordCacheLookup(context.Background(), a.metrics.SpeechCacheLookups, hit)
		}),
	}
	if a.cfg.Speech.Voice != "" {
		svcOpts = append(svcOpts, speech.WithDefaultVoice(a.cfg.Speech.Voice))
	}
	a.speechSvc = speech.NewService(synth, a.cache, svcOpts...)

	orchOpts := []turn.Option{
		turn.WithLogger(a.logger),
		turn.WithMetrics(a.metrics),
		turn.WithProgress(a.progress),
	}
	if a.providers.STT != nil {
		orchOpts = append(orchOpts,
			turn.WithTranscriber(a.providers.STT),
			turn.WithCorrector(transcript.NewCorrector(phonetic.New())),
		)
	}
	if a.cfg.Tutor.HistoryLimit > 0 {
		orchOpts = append(orchOpts, turn.WithHistoryLimit(a.cfg.Tutor.HistoryLimit))
	}
	a.orchestrator = turn.New(chapterCache, generator, a.speechSvc, a.sessions, orchOpts...)
}

func (a *App) initServer() {
	var checkers []health.Checker
	if a.pool != nil {
		pool := a.pool
		checkers = append(checkers, health.Checker{
			Name:  "database",
			Check: func(ctx context.Context) error { return pool.Ping(ctx) },
		})
	}

	a.srv = server.New(a.orchestrator,
		server.WithHealth(health.New(checkers...)),
		server.WithMetrics(a.metrics),
		server.WithLogger(a.logger),
	)
}

// Orchestrator exposes the turn pipeline, mainly for tests.
func (a *App) Orchestrator() *turn.Orchestrator {
	return a.orchestrator
}

// Run serves HTTP until ctx is cancelled, then shuts everything down. The
// speech cache sweeper and phrase precache run in the background.
func (a *App) Run(ctx context.Context) error {
	defer a.Shutdown()

	if len(a.cfg.Speech.PrecachePhrases) > 0 && a.providers.TTS != nil {
		go a.speechSvc.Precache(ctx, a.cfg.Speech.PrecachePhrases, a.cfg.Speech.Voice, tts.Quality(a.cfg.Speech.Quality))
	}
	if a.cfg.Speech.SweepInterval > 0 {
		go a.speechSvc.RunSweeper(ctx, a.cfg.Speech.SweepInterval.Std())
	}

	var certFile, keyFile string
	if tlsCfg := a.cfg.Server.TLS; tlsCfg != nil {
		certFile, keyFile = tlsCfg.CertFile, tlsCfg.KeyFile
	}

	a.logger.Info("listening", "addr", a.cfg.Server.ListenAddr, "tls", certFile != "")
	return a.srv.ListenAndServe(ctx, a.cfg.Server.ListenAddr, certFile, keyFile, shutdownTimeout)
}

// Shutdown releases all resources. Safe to call more than once.
func (a *App) Shutdown() {
	a.stopOnce.Do(a.closeAll)
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("shutdown step failed", "error", err)
		}
	}
	a.closers = nil
}
