package capture

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/persona/pkg/provider/stt"
)

// Microphone is a source of raw PCM audio. Open starts capturing and returns
// a channel of audio chunks in the format the recognizer was configured for.
// The channel is closed when the source is exhausted or ctx is cancelled.
type Microphone interface {
	Open(ctx context.Context) (<-chan []byte, error)
}

// RecognizerOption is a functional option for [NewRecognizer].
type RecognizerOption func(*Recognizer)

// WithLanguage sets the BCP-47 recognition language (default "en-US").
func WithLanguage(lang string) RecognizerOption {
	return func(r *Recognizer) {
		if lang != "" {
			r.cfg.Language = lang
		}
	}
}

// WithSampleRate sets the sample rate of the microphone audio (default 16000).
func WithSampleRate(rate int) RecognizerOption {
	return func(r *Recognizer) {
		if rate > 0 {
			r.cfg.SampleRate = rate
		}
	}
}

// WithSingleUtterance ends the session after the first non-empty final
// result when enabled (the default). When disabled, the session runs until
// Stop, Abort or the end of the microphone stream.
func WithSingleUtterance(single bool) RecognizerOption {
	return func(r *Recognizer) {
		r.singleUtterance = single
	}
}

// Recognizer is an [Adapter] that streams microphone audio into an STT
// provider and folds the provider's partial and final results into one
// cumulative transcript per session.
//
// Handlers registered with OnEvent are invoked synchronously and must not
// call back into the Recognizer.
type Recognizer struct {
	provider        stt.Provider
	mic             Microphone
	cfg             stt.StreamConfig
	singleUtterance bool

	mu      sync.Mutex
	handler func(Event)
	gen     uint64
	active  *recognition
}

var _ Adapter = (*Recognizer)(nil)

// recognition is the bookkeeping of one session.
type recognition struct {
	gen      uint64
	cancel   context.CancelFunc
	stop     chan struct{}
	stopOnce sync.Once
}

func (r *recognition) requestStop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// NewRecognizer returns a Recognizer. A nil provider or microphone yields an
// unsupported adapter.
func NewRecognizer(provider stt.Provider, mic Microphone, opts ...RecognizerOption) *Recognizer {
	r := &Recognizer{
		provider: provider,
		mic:      mic,
		cfg: stt.StreamConfig{
			SampleRate:     16000,
			Channels:       1,
			Language:       "en-US",
			InterimResults: true,
		},
		singleUtterance: true,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Supported reports whether both a provider and a microphone are present.
func (r *Recognizer) Supported() bool {
	return r.provider != nil && r.mic != nil
}

// OnEvent implements [Adapter].
func (r *Recognizer) OnEvent(fn func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = fn
}

// Start implements [Adapter].
func (r *Recognizer) Start() {
	if !r.Supported() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return
	}
	r.gen++
	ctx, cancel := context.WithCancel(context.Background())
	rec := &recognition{gen: r.gen, cancel: cancel, stop: make(chan struct{})}
	r.active = rec
	go r.run(ctx, rec)
}

// Stop implements [Adapter].
func (r *Recognizer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		r.active.requestStop()
	}
}

// Abort implements [Adapter].
func (r *Recognizer) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return
	}
	r.gen++
	r.active.cancel()
	r.active = nil
}

// emit delivers ev unless rec has been aborted or superseded.
func (r *Recognizer) emit(rec *recognition, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != rec.gen || r.handler == nil {
		return
	}
	r.handler(ev)
}

func (r *Recognizer) finish(rec *recognition) {
	rec.cancel()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == rec {
		r.active = nil
	}
}

// run owns one session from dial to the terminal event.
func (r *Recognizer) run(ctx context.Context, rec *recognition) {
	defer r.finish(rec)

	sess, err := r.provider.StartStream(ctx, r.cfg)
	if err != nil {
		r.emit(rec, Event{Type: EventError, Reason: err.Error()})
		return
	}
	audio, err := r.mic.Open(ctx)
	if err != nil {
		_ = sess.Close()
		r.emit(rec, Event{Type: EventError, Reason: err.Error()})
		return
	}
	r.emit(rec, Event{Type: EventStarted})

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		pump(ctx, sess, audio, rec.stop)
		_ = sess.Close()
	}()

	var text transcript
	partials, finals := sess.Partials(), sess.Finals()
	for partials != nil || finals != nil {
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			if text.setPartial(t.Text) {
				r.emit(rec, Event{Type: EventTranscript, Text: text.String()})
			}
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			changed := text.commit(t.Text)
			if changed {
				r.emit(rec, Event{Type: EventTranscript, Text: text.String()})
			}
			if r.singleUtterance && strings.TrimSpace(t.Text) != "" {
				rec.requestStop()
			}
		case <-ctx.Done():
			return
		}
	}

	rec.requestStop()
	<-pumpDone

	if err := sess.Err(); err != nil {
		slog.Warn("capture: recognition failed", "err", err)
		r.emit(rec, Event{Type: EventError, Reason: err.Error()})
		return
	}
	r.emit(rec, Event{Type: EventTranscript, Text: text.String()})
	r.emit(rec, Event{Type: EventEnded})
}

// pump forwards microphone audio to the session until stop is closed, the
// microphone is exhausted, the session stops accepting audio or ctx is
// cancelled. A session that rejects audio has ended; its Err reports why.
func pump(ctx context.Context, sess stt.SessionHandle, audio <-chan []byte, stop <-chan struct{}) {
	for {
		select {
		case chunk, ok := <-audio:
			if !ok {
				return
			}
			if err := sess.SendAudio(chunk); err != nil {
				slog.Debug("capture: audio rejected", "err", err)
				return
			}
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// transcript accumulates committed final segments plus the current partial.
type transcript struct {
	committed []string
	partial   string
	last      string
}

// setPartial replaces the in-flight segment and reports whether the full
// text changed.
func (t *transcript) setPartial(s string) bool {
	t.partial = strings.TrimSpace(s)
	return t.changed()
}

// commit appends a final segment, clears the partial and reports whether the
// full text changed.
func (t *transcript) commit(s string) bool {
	if s = strings.TrimSpace(s); s != "" {
		t.committed = append(t.committed, s)
	}
	t.partial = ""
	return t.changed()
}

func (t *transcript) changed() bool {
	cur := t.String()
	if cur == t.last {
		return false
	}
	t.last = cur
	return true
}

func (t *transcript) String() string {
	parts := t.committed
	if t.partial != "" {
		parts = append(parts[:len(parts):len(parts)], t.partial)
	}
	return strings.Join(parts, " ")
}
