// Package persona holds who the language model speaks as: the system
// prompt and the sampling settings of every reply.
//
// The chat server reads the current [Persona] from a [Store] on every
// request, so a reloaded config takes effect on the next turn.
package persona

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/MrWong99/persona/internal/config"
)

// DefaultName is used when the config names no persona.
const DefaultName = "Persona"

// DefaultSystemPrompt is used when the config sets no prompt.
const DefaultSystemPrompt = `You are a friendly conversational partner speaking through a voice interface.
Answer in the first person, in plain spoken language.
Keep every answer to one to three short sentences.
Do not use lists, markdown, emoji or anything that cannot be read aloud.
If you do not know something, say so briefly.`

// Persona is an immutable snapshot of persona settings.
type Persona struct {
	Name         string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// FromConfig builds a Persona from cfg. The prompt comes from
// cfg.SystemPrompt, else the file at cfg.SystemPromptFile, else
// [DefaultSystemPrompt].
func FromConfig(cfg config.PersonaConfig) (*Persona, error) {
	p := &Persona{
		Name:         strings.TrimSpace(cfg.Name),
		SystemPrompt: strings.TrimSpace(cfg.SystemPrompt),
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
	}
	if p.Name == "" {
		p.Name = DefaultName
	}

	if p.SystemPrompt == "" && cfg.SystemPromptFile != "" {
		data, err := os.ReadFile(cfg.SystemPromptFile)
		if err != nil {
			return nil, fmt.Errorf("persona: read system prompt: %w", err)
		}
		p.SystemPrompt = strings.TrimSpace(string(data))
		if p.SystemPrompt == "" {
			return nil, fmt.Errorf("persona: system prompt file %q is empty", cfg.SystemPromptFile)
		}
	}
	if p.SystemPrompt == "" {
		p.SystemPrompt = DefaultSystemPrompt
	}
	return p, nil
}

// ErrNoPersona is returned by [Store.Load] before anything was stored.
var ErrNoPersona = errors.New("persona: none loaded")

// Store holds the current Persona. It is safe for concurrent use.
type Store struct {
	current atomic.Pointer[Persona]
}

// NewStore returns a Store holding p.
func NewStore(p *Persona) *Store {
	s := &Store{}
	s.current.Store(p)
	return s
}

// Load returns the current Persona.
func (s *Store) Load() (*Persona, error) {
	p := s.current.Load()
	if p == nil {
		return nil, ErrNoPersona
	}
	return p, nil
}

// Swap replaces the current Persona and returns the previous one.
func (s *Store) Swap(p *Persona) *Persona {
	return s.current.Swap(p)
}

// Reload rebuilds the Persona from cfg and stores it. On error the current
// Persona is kept.
func (s *Store) Reload(cfg config.PersonaConfig) error {
	p, err := FromConfig(cfg)
	if err != nil {
		return err
	}
	s.Swap(p)
	return nil
}
