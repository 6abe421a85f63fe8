// Package builtin registers the provider implementations that ship with
// Persona and builds the configured providers for both binaries.
package builtin

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/persona/internal/config"
	"github.com/MrWong99/persona/internal/observe"
	"github.com/MrWong99/persona/internal/resilience"
	"github.com/MrWong99/persona/pkg/provider/llm"
	"github.com/MrWong99/persona/pkg/provider/llm/anyllm"
	"github.com/MrWong99/persona/pkg/provider/llm/openai"
	"github.com/MrWong99/persona/pkg/provider/stt"
	"github.com/MrWong99/persona/pkg/provider/stt/deepgram"
	"github.com/MrWong99/persona/pkg/provider/tts"
	"github.com/MrWong99/persona/pkg/provider/tts/elevenlabs"
)

// Environment variables consulted for speech provider keys the config leaves
// empty.
const (
	DeepgramKeyEnv   = "DEEPGRAM_API_KEY"
	ElevenLabsKeyEnv = "ELEVENLABS_API_KEY"
)

// Register wires every built-in provider factory into reg.
func Register(reg *config.Registry) {
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, openai.WithTimeout(d))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	// The remaining backends go through any-llm-go: optional APIKey and
	// optional BaseURL.
	for _, name := range anyllm.SupportedProviders {
		if name == "openai" {
			continue
		}
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})
}

// LLM builds the primary language model and its fallbacks behind a
// [resilience.LLMFallback]. A credential problem with the primary is
// returned as a typed error (see [config.CheckLLMKey]) so the chat server
// can report it per request. Fallbacks that cannot be built are skipped with
// a warning.
func LLM(cfg config.ProvidersConfig, reg *config.Registry, getenv func(string) string, m *observe.Metrics) (llm.Provider, error) {
	primary, err := buildLLM(cfg.LLM, reg, getenv)
	if err != nil {
		return nil, err
	}
	fb := resilience.NewLLMFallback(primary, cfg.LLM.Name, resilience.FallbackConfig{}, m)
	for _, entry := range cfg.LLMFallbacks {
		p, err := buildLLM(entry, reg, getenv)
		if err != nil {
			slog.Warn("skipping llm fallback", "name", entry.Name, "err", err)
			continue
		}
		fb.AddFallback(entry.Name, p)
	}
	slog.Info("llm providers ready", "backends", fb.Backends())
	return fb, nil
}

func buildLLM(entry config.ProviderEntry, reg *config.Registry, getenv func(string) string) (llm.Provider, error) {
	entry.APIKey = config.ResolveLLMKey(entry, getenv)
	if err := config.CheckLLMKey(entry.Name, entry.APIKey); err != nil {
		return nil, err
	}
	p, err := reg.CreateLLM(entry)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
	}
	return p, nil
}

// Speech builds the configured speech-to-text and text-to-speech providers.
// An unconfigured or unregistered slot yields nil, which the voice client
// reports as an unsupported capability.
func Speech(cfg config.ProvidersConfig, reg *config.Registry, getenv func(string) string) (stt.Provider, tts.Provider, error) {
	var (
		s   stt.Provider
		t   tts.Provider
		err error
	)
	if entry := cfg.STT; entry.Name != "" {
		if entry.APIKey == "" && entry.Name == "deepgram" {
			entry.APIKey = strings.TrimSpace(getenv(DeepgramKeyEnv))
		}
		s, err = reg.CreateSTT(entry)
		if err = skipUnregistered("stt", entry.Name, err); err != nil {
			return nil, nil, err
		}
	}
	if entry := cfg.TTS; entry.Name != "" {
		if entry.APIKey == "" && entry.Name == "elevenlabs" {
			entry.APIKey = strings.TrimSpace(getenv(ElevenLabsKeyEnv))
		}
		t, err = reg.CreateTTS(entry)
		if err = skipUnregistered("tts", entry.Name, err); err != nil {
			return nil, nil, err
		}
	}
	return s, t, nil
}

func skipUnregistered(kind, name string, err error) error {
	switch {
	case errors.Is(err, config.ErrProviderNotRegistered):
		slog.Warn("provider not available, skipping", "kind", kind, "name", name)
		return nil
	case err != nil:
		return fmt.Errorf("create %s provider %q: %w", kind, name, err)
	}
	slog.Info("provider created", "kind", kind, "name", name)
	return nil
}

// optString extracts a string value from a provider Options map.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optDuration parses a duration string from a provider Options map.
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}
