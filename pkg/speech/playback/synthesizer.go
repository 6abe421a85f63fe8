package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/persona/pkg/audio"
	"github.com/MrWong99/persona/pkg/provider/tts"
)

// ErrNoAudio is reported when the synthesizer produced no audio for a
// non-empty utterance.
var ErrNoAudio = errors.New("playback: synthesizer returned no audio")

// ErrNoVoice is reported when no voice could be selected.
var ErrNoVoice = errors.New("playback: no voice available")

// Speaker is an audio sink. Play consumes audio until the channel is closed
// or ctx is cancelled; on cancellation it must stop output promptly.
type Speaker interface {
	Play(ctx context.Context, audio <-chan []byte) error
}

// SynthesizerOption is a functional option for [NewSynthesizer].
type SynthesizerOption func(*Synthesizer)

// WithPreferredVoice sets the voice name searched first (default
// [DefaultPreferredVoice]).
func WithPreferredVoice(name string) SynthesizerOption {
	return func(s *Synthesizer) {
		if name != "" {
			s.preferred = name
		}
	}
}

// WithLocale sets the locale used when the preferred voice is missing
// (default "en-US").
func WithLocale(locale string) SynthesizerOption {
	return func(s *Synthesizer) {
		if locale != "" {
			s.locale = locale
		}
	}
}

// WithVoiceID pins the voice and skips voice listing entirely.
func WithVoiceID(id string) SynthesizerOption {
	return func(s *Synthesizer) {
		if id != "" {
			s.voice = &tts.VoiceProfile{ID: id}
		}
	}
}

// Synthesizer is an [Adapter] that streams text into a TTS provider and plays
// the resulting audio on a [Speaker].
//
// Handlers registered with OnEvent are invoked synchronously and must not
// call back into the Synthesizer.
type Synthesizer struct {
	provider  tts.Provider
	speaker   Speaker
	preferred string
	locale    string

	voiceMu sync.Mutex
	voice   *tts.VoiceProfile

	mu      sync.Mutex
	handler func(Event)
	gen     uint64
	cancel  context.CancelFunc
	done    chan struct{}
}

var _ Adapter = (*Synthesizer)(nil)

// NewSynthesizer returns a Synthesizer. A nil provider or speaker yields an
// unsupported adapter.
func NewSynthesizer(provider tts.Provider, speaker Speaker, opts ...SynthesizerOption) *Synthesizer {
	s := &Synthesizer{
		provider:  provider,
		speaker:   speaker,
		preferred: DefaultPreferredVoice,
		locale:    "en-US",
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Supported reports whether both a provider and a speaker are present.
func (s *Synthesizer) Supported() bool {
	return s.provider != nil && s.speaker != nil
}

// OnEvent implements [Adapter].
func (s *Synthesizer) OnEvent(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = fn
}

// Speak implements [Adapter]. The new utterance does not begin until the
// cancelled one has released the speaker.
func (s *Synthesizer) Speak(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	if !s.Supported() {
		gen := s.gen
		go s.emit(gen, Event{Type: EventError, Reason: "synthesis unsupported"})
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	prev, done := s.done, make(chan struct{})
	s.cancel, s.done = cancel, done
	go s.run(ctx, s.gen, text, prev, done)
}

// Stop implements [Adapter].
func (s *Synthesizer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Wait blocks until the latest utterance has released the speaker.
func (s *Synthesizer) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (s *Synthesizer) emit(gen uint64, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.handler == nil {
		return
	}
	s.handler(ev)
}

// run synthesizes and plays one utterance.
func (s *Synthesizer) run(ctx context.Context, gen uint64, text string, prev, done chan struct{}) {
	defer close(done)
	if prev != nil {
		<-prev
	}
	if ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if strings.TrimSpace(text) == "" {
		s.emit(gen, Event{Type: EventEnded})
		return
	}

	fail := func(err error) {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("playback: utterance failed", "err", err)
		s.emit(gen, Event{Type: EventError, Reason: err.Error()})
	}

	voice, err := s.selectVoice(ctx)
	if err != nil {
		fail(err)
		return
	}

	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	chunks, err := s.provider.SynthesizeStream(ctx, textCh, voice)
	if err != nil {
		fail(fmt.Errorf("playback: synthesize: %w", err))
		return
	}
	defer func() {
		cancel()
		audio.Drain(chunks)
	}()

	var first []byte
	select {
	case c, ok := <-chunks:
		if !ok {
			fail(ErrNoAudio)
			return
		}
		first = c
	case <-ctx.Done():
		return
	}

	s.emit(gen, Event{Type: EventStarted})

	feed := make(chan []byte, 1)
	feed <- first
	go func() {
		defer close(feed)
		for c := range chunks {
			select {
			case feed <- c:
			case <-ctx.Done():
				return
			}
		}
	}()

	err = s.speaker.Play(ctx, feed)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		fail(fmt.Errorf("playback: speaker: %w", err))
		return
	}
	s.emit(gen, Event{Type: EventEnded})
}

// selectVoice returns the pinned or cached voice, listing voices on first
// use. A failed listing is retried on the next utterance.
func (s *Synthesizer) selectVoice(ctx context.Context) (tts.VoiceProfile, error) {
	s.voiceMu.Lock()
	defer s.voiceMu.Unlock()
	if s.voice != nil {
		return *s.voice, nil
	}
	voices, err := s.provider.ListVoices(ctx)
	v, ok := SelectVoice(voices, s.preferred, s.locale)
	if err != nil || !ok {
		dv, hasDefault := s.provider.(tts.DefaultVoicer)
		switch {
		case hasDefault && dv.DefaultVoice().ID != "":
			v = dv.DefaultVoice()
			slog.Warn("playback: no voice listed, using provider default", "id", v.ID, "err", err)
		case err != nil:
			return tts.VoiceProfile{}, fmt.Errorf("playback: list voices: %w", err)
		default:
			return tts.VoiceProfile{}, ErrNoVoice
		}
	}
	slog.Debug("playback: selected voice", "id", v.ID, "name", v.Name, "locale", v.Locale)
	s.voice = &v
	return v, nil
}
