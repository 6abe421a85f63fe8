package builtin_test

import (
	"errors"
	"slices"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/persona/internal/builtin"
	"github.com/MrWong99/persona/internal/config"
	"github.com/MrWong99/persona/internal/observe"
	"github.com/MrWong99/persona/internal/resilience"
	"github.com/MrWong99/persona/pkg/types"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func registry() *config.Registry {
	reg := config.NewRegistry()
	builtin.Register(reg)
	return reg
}

func metrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestLLM(t *testing.T) {
	t.Parallel()

	cfg := config.ProvidersConfig{
		LLM: config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini"},
		LLMFallbacks: []config.ProviderEntry{
			{Name: "anthropic", Model: "claude-3-5-haiku-latest"},
			{Name: "openai", Model: "gpt-4o", APIKey: "sk-second"},
		},
	}

	p, err := builtin.LLM(cfg, registry(), env(map[string]string{"OPENAI_API_KEY": "sk-test"}), metrics(t))
	if err != nil {
		t.Fatalf("LLM: %v", err)
	}
	fb, ok := p.(*resilience.LLMFallback)
	if !ok {
		t.Fatalf("LLM returned %T", p)
	}
	// anthropic has no key in the environment and is skipped.
	if got := fb.Backends(); !slices.Equal(got, []string{"openai", "openai"}) {
		t.Errorf("Backends() = %v", got)
	}
}

func TestLLM_CredentialErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		env  map[string]string
		want types.ErrorKind
	}{
		{"missing", nil, types.KindCredentialMissing},
		{"malformed", map[string]string{"OPENAI_KEY": "not-a-key"}, types.KindCredentialInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.ProvidersConfig{LLM: config.ProviderEntry{Name: "openai"}}
			_, err := builtin.LLM(cfg, registry(), env(tt.env), metrics(t))
			if got := types.KindOf(err, ""); got != tt.want {
				t.Errorf("kind = %q, want %q (err %v)", got, tt.want, err)
			}
		})
	}
}

func TestLLM_Unregistered(t *testing.T) {
	t.Parallel()
	cfg := config.ProvidersConfig{LLM: config.ProviderEntry{Name: "nope", APIKey: "k"}}
	_, err := builtin.LLM(cfg, config.NewRegistry(), env(nil), metrics(t))
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestSpeech(t *testing.T) {
	t.Parallel()

	t.Run("unconfigured", func(t *testing.T) {
		t.Parallel()
		s, tt, err := builtin.Speech(config.ProvidersConfig{}, registry(), env(nil))
		if err != nil || s != nil || tt != nil {
			t.Errorf("Speech = %v, %v, %v", s, tt, err)
		}
	})

	t.Run("keys from env", func(t *testing.T) {
		t.Parallel()
		cfg := config.ProvidersConfig{
			STT: config.ProviderEntry{Name: "deepgram"},
			TTS: config.ProviderEntry{Name: "elevenlabs", Options: map[string]any{"output_format": "pcm_16000"}},
		}
		s, tt, err := builtin.Speech(cfg, registry(), env(map[string]string{
			builtin.DeepgramKeyEnv:   "dg",
			builtin.ElevenLabsKeyEnv: "el",
		}))
		if err != nil {
			t.Fatalf("Speech: %v", err)
		}
		if s == nil || tt == nil {
			t.Errorf("Speech = %v, %v", s, tt)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		t.Parallel()
		cfg := config.ProvidersConfig{STT: config.ProviderEntry{Name: "deepgram"}}
		if _, _, err := builtin.Speech(cfg, registry(), env(nil)); err == nil {
			t.Error("expected error for deepgram without key")
		}
	})

	t.Run("unregistered is skipped", func(t *testing.T) {
		t.Parallel()
		cfg := config.ProvidersConfig{TTS: config.ProviderEntry{Name: "coqui"}}
		_, tt, err := builtin.Speech(cfg, registry(), env(nil))
		if err != nil || tt != nil {
			t.Errorf("Speech = %v, %v", tt, err)
		}
	})
}
