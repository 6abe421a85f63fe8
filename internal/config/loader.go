package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"deepgram"},
	"tts": {"elevenlabs"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. A relative persona.system_prompt_file is
// resolved against the directory of path.
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
	resolvePromptFile(cfg, path)
	return cfg, nil
}

func resolvePromptFile(cfg *Config, configPath string) {
	if p := cfg.Persona.SystemPromptFile; p != "" && !filepath.IsAbs(p) {
		cfg.Persona.SystemPromptFile = filepath.Join(filepath.Dir(configPath), p)
	}
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields with their documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Providers.LLM.Name == "" {
		cfg.Providers.LLM.Name = "openai"
	}
	if cfg.Persona.Temperature == 0 {
		cfg.Persona.Temperature = DefaultTemperature
	}
	if cfg.Persona.MaxTokens == 0 {
		cfg.Persona.MaxTokens = DefaultMaxTokens
	}

	c := &cfg.Client
	if c.BackendURL == "" {
		c.BackendURL = DefaultBackendURL
	}
	if c.ThinkTimeout == 0 {
		c.ThinkTimeout = DefaultThinkTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = DefaultSampleRate
	}
	if c.Audio.Channels == 0 {
		c.Audio.Channels = 1
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
			continue
		}
		if fb.Model == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].model is required", i))
		}
		validateProviderName("llm", fb.Name)
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)

	p := cfg.Persona
	if p.SystemPrompt != "" && p.SystemPromptFile != "" {
		errs = append(errs, errors.New("persona: system_prompt and system_prompt_file are mutually exclusive"))
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		errs = append(errs, fmt.Errorf("persona.temperature %.2f is out of range [0, 2]", p.Temperature))
	}
	if p.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("persona.max_tokens %d must not be negative", p.MaxTokens))
	}

	c := cfg.Client
	if c.BackendURL != "" {
		if u, err := url.Parse(c.BackendURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("client.backend_url %q is not an absolute URL", c.BackendURL))
		}
	}
	if c.ThinkTimeout < 0 {
		errs = append(errs, fmt.Errorf("client.think_timeout %s must not be negative", c.ThinkTimeout))
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("client.request_timeout %s must not be negative", c.RequestTimeout))
	}
	if c.ThinkTimeout > 0 && c.RequestTimeout > c.ThinkTimeout {
		slog.Warn("client.request_timeout exceeds client.think_timeout; the think timeout will fire first",
			"request_timeout", c.RequestTimeout,
			"think_timeout", c.ThinkTimeout,
		)
	}
	if c.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("client.audio.sample_rate %d must not be negative", c.Audio.SampleRate))
	}
	if c.Audio.Channels < 0 || c.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("client.audio.channels %d is out of range [1, 2]", c.Audio.Channels))
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
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
