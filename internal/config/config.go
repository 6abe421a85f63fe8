// Package config provides the configuration schema, loader, provider
// registry and hot-reload watcher shared by the Persona chat server and the
// voice client.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to a slog level. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr     = ":8080"
	DefaultBackendURL     = "http://localhost:8080"
	DefaultLanguage       = "en-US"
	DefaultTemperature    = 0.7
	DefaultMaxTokens      = 300
	DefaultThinkTimeout   = 30 * time.Second
	DefaultRequestTimeout = 25 * time.Second
	DefaultSampleRate     = 16000
)

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Persona   PersonaConfig   `yaml:"persona"`
	Client    ClientConfig    `yaml:"client"`
}

// ServerConfig holds network and logging settings for the chat server.
type ServerConfig struct {
	// ListenAddr is the TCP address the chat server listens on.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity of both binaries.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig selects the provider implementation for each backend.
// Each entry names a provider registered in the [Registry].
type ProvidersConfig struct {
	// LLM is the primary language model used by the chat server.
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallbacks are tried in order when the primary fails.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	// STT is the speech recognizer used by the voice client.
	STT ProviderEntry `yaml:"stt"`

	// TTS is the speech synthesizer used by the voice client.
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any. For
	// the openai LLM provider an empty key is resolved from the environment
	// by [ResolveLLMKey].
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// PersonaConfig describes who the language model speaks as.
type PersonaConfig struct {
	// Name is the persona's display name.
	Name string `yaml:"name"`

	// SystemPrompt is the inline system prompt. Mutually exclusive with
	// SystemPromptFile.
	SystemPrompt string `yaml:"system_prompt"`

	// SystemPromptFile is a path to a file holding the system prompt.
	// Relative paths are resolved against the config file's directory.
	SystemPromptFile string `yaml:"system_prompt_file"`

	// Temperature is passed to the model. Default 0.7.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps the reply length. Default 300, which keeps spoken
	// replies short.
	MaxTokens int `yaml:"max_tokens"`
}

// ClientConfig configures the voice client.
type ClientConfig struct {
	// BackendURL is the base URL of the chat server.
	BackendURL string `yaml:"backend_url"`

	// ThinkTimeout bounds the wait for a reply. Default 30s.
	ThinkTimeout time.Duration `yaml:"think_timeout"`

	// RequestTimeout is the HTTP timeout of a single chat request.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Language is the recognition language and the preferred voice locale.
	Language string `yaml:"language"`

	// PreferredVoice is matched against voice names before the locale.
	PreferredVoice string `yaml:"preferred_voice"`

	// VoiceID pins a provider voice and skips voice listing.
	VoiceID string `yaml:"voice_id"`

	// SingleUtterance ends listening after the first final result. Default true.
	SingleUtterance *bool `yaml:"single_utterance"`

	// Audio configures the raw PCM input and output.
	Audio AudioConfig `yaml:"audio"`
}

// AudioConfig locates the raw 16-bit little-endian PCM streams of the voice
// client. Paths may be regular files or named pipes.
type AudioConfig struct {
	// Input is read as microphone audio for every turn.
	Input string `yaml:"input"`

	// Output receives synthesized speech. Empty discards it.
	Output string `yaml:"output"`

	// SampleRate of both streams. Default 16000.
	SampleRate int `yaml:"sample_rate"`

	// Channels of both streams. Default 1.
	Channels int `yaml:"channels"`

	// Realtime paces file input and output at playback speed.
	Realtime bool `yaml:"realtime"`
}

// SingleUtteranceEnabled reports the effective single_utterance setting.
func (c ClientConfig) SingleUtteranceEnabled() bool {
	return c.SingleUtterance == nil || *c.SingleUtterance
}
