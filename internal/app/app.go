// Package app wires the voice client: speech capture, the chat backend
// client, speech playback and the conversation orchestrator, driven from a
// keyboard console.
//
// New builds every subsystem from the config, Run drives the conversation
// until the user quits or ctx ends, and Shutdown silences any audio still in
// flight. Tests inject doubles through the With* options.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/persona/internal/config"
	"github.com/MrWong99/persona/internal/conversation"
	"github.com/MrWong99/persona/internal/observe"
	"github.com/MrWong99/persona/pkg/audio"
	"github.com/MrWong99/persona/pkg/chat"
	"github.com/MrWong99/persona/pkg/provider/stt"
	"github.com/MrWong99/persona/pkg/provider/tts"
	"github.com/MrWong99/persona/pkg/speech/capture"
	"github.com/MrWong99/persona/pkg/speech/playback"
)

// Providers holds the speech backends built by main.go through the config
// registry. Nil means the slot is not configured and the matching capability
// is reported unsupported.
type Providers struct {
	STT stt.Provider
	TTS tts.Provider
}

// App owns the voice client's subsystems.
type App struct {
	cfg       *config.Config
	providers *Providers

	capture   capture.Adapter
	playback  playback.Adapter
	responder conversation.Responder
	metrics   *observe.Metrics

	in  io.Reader
	out io.Writer

	orch    *conversation.Orchestrator
	console *Console

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCapture injects a capture adapter instead of building a Recognizer.
func WithCapture(c capture.Adapter) Option {
	return func(a *App) { a.capture = c }
}

// WithPlayback injects a playback adapter instead of building a Synthesizer.
func WithPlayback(p playback.Adapter) Option {
	return func(a *App) { a.playback = p }
}

// WithResponder injects the reply source instead of a chat.Client.
func WithResponder(r conversation.Responder) Option {
	return func(a *App) { a.responder = r }
}

// WithConsole sets the console input and output. Defaults: stdin, stdout.
func WithConsole(in io.Reader, out io.Writer) Option {
	return func(a *App) { a.in, a.out = in, out }
}

// WithMetrics records turn metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App from cfg and providers. providers may be nil.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: config must not be nil")
	}
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		in:        os.Stdin,
		out:       os.Stdout,
	}
	for _, o := range opts {
		o(a)
	}

	if a.capture == nil {
		a.capture = a.buildRecognizer()
	}
	if a.playback == nil {
		a.playback = a.buildSynthesizer()
	}
	if a.responder == nil {
		a.responder = chat.New(cfg.Client.BackendURL, chat.WithTimeout(cfg.Client.RequestTimeout))
	}

	orchOpts := []conversation.Option{conversation.WithThinkTimeout(cfg.Client.ThinkTimeout)}
	if a.metrics != nil {
		orchOpts = append(orchOpts, conversation.WithMetrics(a.metrics))
	}
	a.orch = conversation.New(a.capture, a.playback, a.responder, orchOpts...)
	a.console = NewConsole(a.in, a.out, a.orch)
	a.orch.OnChange(a.console.Render)

	snap := a.orch.Snapshot()
	a.console.Render(snap)
	slog.Info("voice client ready",
		"backend", cfg.Client.BackendURL,
		"recognition", snap.RecognitionSupported,
		"synthesis", snap.SynthesisSupported)
	return a, nil
}

func (a *App) format() audio.Format {
	return audio.Format{SampleRate: a.cfg.Client.Audio.SampleRate, Channels: a.cfg.Client.Audio.Channels}
}

func (a *App) buildRecognizer() *capture.Recognizer {
	c := a.cfg.Client
	var mic capture.Microphone
	if c.Audio.Input != "" {
		mic = &capture.FileMicrophone{
			Path:     c.Audio.Input,
			Source:   a.format(),
			Target:   audio.Format{SampleRate: c.Audio.SampleRate, Channels: 1},
			Realtime: c.Audio.Realtime,
		}
	}
	return capture.NewRecognizer(a.providers.STT, mic,
		capture.WithLanguage(c.Language),
		capture.WithSampleRate(c.Audio.SampleRate),
		capture.WithSingleUtterance(c.SingleUtteranceEnabled()),
	)
}

func (a *App) buildSynthesizer() *playback.Synthesizer {
	c := a.cfg.Client
	var speaker playback.Speaker
	switch {
	case a.providers.TTS == nil:
	case c.Audio.Output == "":
		speaker = &playback.WriterSpeaker{W: io.Discard, Source: audio.Mono16k, Realtime: true}
	default:
		speaker = &playback.FileSpeaker{
			Path:     c.Audio.Output,
			Source:   audio.Mono16k,
			Target:   a.format(),
			Realtime: c.Audio.Realtime,
		}
	}
	return playback.NewSynthesizer(a.providers.TTS, speaker,
		playback.WithPreferredVoice(c.PreferredVoice),
		playback.WithVoiceID(c.VoiceID),
		playback.WithLocale(c.Language),
	)
}

// Orchestrator returns the conversation orchestrator.
func (a *App) Orchestrator() *conversation.Orchestrator {
	return a.orch
}

// Run drives the conversation until the console quits or ctx is done. It
// returns nil on a normal exit.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.orch.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return a.console.Run(gctx)
	})
	return g.Wait()
}

// Shutdown silences capture and playback and waits, bounded by ctx, for the
// synthesizer to release the speaker.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		a.capture.Abort()
		a.playback.Stop()

		w, ok := a.playback.(interface{ Wait() })
		if !ok {
			return
		}
		done := make(chan struct{})
		go func() {
			w.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded waiting for playback")
			err = ctx.Err()
		}
	})
	return err
}
