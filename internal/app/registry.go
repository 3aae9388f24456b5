package app

import (
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/brightpath-ai/tutor/internal/config"
	"github.com/brightpath-ai/tutor/internal/resilience"
	"github.com/brightpath-ai/tutor/pkg/provider/llm"
	"github.com/brightpath-ai/tutor/pkg/provider/llm/anyllm"
	oaillm "github.com/brightpath-ai/tutor/pkg/provider/llm/openai"
	"github.com/brightpath-ai/tutor/pkg/provider/stt"
	"github.com/brightpath-ai/tutor/pkg/provider/stt/whisperapi"
	"github.com/brightpath-ai/tutor/pkg/provider/tts"
	"github.com/brightpath-ai/tutor/pkg/provider/tts/openaispeech"
)

// anyLLMNames are the backends served through the any-llm-go adapter. The
// "openai" name is excluded: it uses the native client, which surfaces cached
// prompt token counts that any-llm-go drops.
var anyLLMNames = []string{
	"anthropic", "ollama", "gemini", "deepseek",
	"mistral", "groq", "llamacpp", "llamafile",
}

// DefaultRegistry returns a registry with every built-in provider factory
// registered. main passes the config's provider entries through it.
func DefaultRegistry() *config.Registry {
	r := config.NewRegistry()

	r.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if e.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(e.BaseURL))
		}
		return oaillm.New(e.APIKey, e.Model, opts...)
	})

	for _, name := range anyLLMNames {
		r.RegisterLLM(name, func(e config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if e.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
			}
			if e.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
			}
			return anyllm.New(name, e.Model, opts...)
		})
	}

	r.RegisterSTT("whisperapi", func(e config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisperapi.Option
		if e.BaseURL != "" {
			opts = append(opts, whisperapi.WithBaseURL(e.BaseURL))
		}
		if e.Model != "" {
			opts = append(opts, whisperapi.WithModel(e.Model))
		}
		return whisperapi.New(e.APIKey, opts...)
	})

	r.RegisterTTS("openaispeech", func(e config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []openaispeech.Option
		if e.BaseURL != "" {
			opts = append(opts, openaispeech.WithBaseURL(e.BaseURL))
		}
		if voice, ok := e.Options["voice"].(string); ok && voice != "" {
			opts = append(opts, openaispeech.WithVoice(voice))
		}
		if format, ok := e.Options["format"].(string); ok && format != "" {
			opts = append(opts, openaispeech.WithFormat(format))
		}
		return openaispeech.New(e.APIKey, opts...)
	})

	return r
}

// BuildProviders creates the provider set from config via the registry. STT
// and TTS are optional; a blank entry leaves the slot nil. An entry with
// fallbacks is wrapped in a failover group with per-backend circuit breakers.
func BuildProviders(reg *config.Registry, cfg *config.Config) (*Providers, error) {
	p := &Providers{}

	lp, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, err
	}
	p.LLM = lp
	if entry := cfg.Providers.LLM; len(entry.Fallbacks) > 0 {
		fb := resilience.NewLLMFallback(lp, entry.Name, resilience.FallbackConfig{})
		for _, fe := range entry.Fallbacks {
			alt, err := reg.CreateLLM(fe)
			if err != nil {
				return nil, err
			}
			fb.AddFallback(fe.Name, alt)
		}
		p.LLM = fb
	}

	if entry := cfg.Providers.STT; entry.Name != "" {
		tp, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, err
		}
		p.STT = tp
		if len(entry.Fallbacks) > 0 {
			fb := resilience.NewSTTFallback(tp, entry.Name, resilience.FallbackConfig{})
			for _, fe := range entry.Fallbacks {
				alt, err := reg.CreateSTT(fe)
				if err != nil {
					return nil, err
				}
				fb.AddFallback(fe.Name, alt)
			}
			p.STT = fb
		}
	}

	if entry := cfg.Providers.TTS; entry.Name != "" {
		sp, err := reg.CreateTTS(entry)
		if err != nil {
			return nil, err
		}
		p.TTS = sp
		if len(entry.Fallbacks) > 0 {
			fb := resilience.NewTTSFallback(sp, entry.Name, resilience.FallbackConfig{})
			for _, fe := range entry.Fallbacks {
				alt, err := reg.CreateTTS(fe)
				if err != nil {
					return nil, err
				}
				fb.AddFallback(fe.Name, alt)
			}
			p.TTS = fb
		}
	}
	return p, nil
}
