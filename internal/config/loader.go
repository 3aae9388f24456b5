package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"whisperapi"},
	"tts": {"openaispeech"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Provider name validation; warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for kind, entry := range map[string]ProviderEntry{
		"llm": cfg.Providers.LLM,
		"stt": cfg.Providers.STT,
		"tts": cfg.Providers.TTS,
	} {
		for _, fb := range entry.Fallbacks {
			validateProviderName(kind, fb.Name)
			if len(fb.Fallbacks) > 0 {
				errs = append(errs, fmt.Errorf("providers.%s: fallbacks may not nest", kind))
			}
		}
	}

	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("no TTS provider configured; replies will be text only")
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; audio input will be rejected")
	}

	// Database availability
	if cfg.Database.PostgresDSN == "" {
		slog.Warn("database.postgres_dsn is empty; sessions, chapters, and the speech cache will be held in memory only")
	}

	// Tutor
	if cfg.Tutor.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("tutor.history_limit %d must not be negative", cfg.Tutor.HistoryLimit))
	}
	if cfg.Tutor.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("tutor.max_tokens %d must not be negative", cfg.Tutor.MaxTokens))
	}
	if cfg.Tutor.Temperature < 0 || cfg.Tutor.Temperature > 2 {
		errs = append(errs, fmt.Errorf("tutor.temperature %.2f is out of range [0, 2]", cfg.Tutor.Temperature))
	}
	if cfg.Tutor.ChapterCacheTTL < 0 {
		errs = append(errs, errors.New("tutor.chapter_cache_ttl must not be negative"))
	}

	// Speech
	if cfg.Speech.Quality != "" && !cfg.Speech.Quality.IsValid() {
		errs = append(errs, fmt.Errorf("speech.quality %q is invalid; valid values: standard, hd", cfg.Speech.Quality))
	}
	if cfg.Speech.CacheExpiry < 0 {
		errs = append(errs, errors.New("speech.cache_expiry must not be negative"))
	}
	if cfg.Speech.SweepInterval < 0 {
		errs = append(errs, errors.New("speech.sweep_interval must not be negative"))
	}
	if len(cfg.Speech.PrecachePhrases) > 0 && cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("speech.precache_phrases requires a TTS provider"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
