// Package conversation sequences one spoken turn at a time: listen to the
// user, ask for a reply, speak it, return to idle.
//
// The [Orchestrator] owns the [State]. Every input (the Start, Stop and
// Cancel commands, capture and playback events, reply results) is a message
// in a single mailbox processed by [Orchestrator.Run] in arrival order. Each
// turn has its own ID; events produced for any other turn are dropped, so a
// cancelled or superseded turn can never move the state machine.
//
// Failures never retry. They are recorded on the snapshot as a
// [types.ErrorKind] and the orchestrator returns to [StateIdle].
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/persona/internal/observe"
	"github.com/MrWong99/persona/pkg/speech/capture"
	"github.com/MrWong99/persona/pkg/speech/playback"
	"github.com/MrWong99/persona/pkg/types"
)

// DefaultThinkTimeout bounds the wait for a reply.
const DefaultThinkTimeout = 30 * time.Second

// ErrAlreadyRunning is returned by a second call to [Orchestrator.Run].
var ErrAlreadyRunning = errors.New("conversation: already running")

// Responder turns a transcript into the persona's reply. *chat.Client
// implements it.
type Responder interface {
	Reply(ctx context.Context, message string) (string, error)
}

// Option configures an [Orchestrator] during construction.
type Option func(*Orchestrator)

// WithThinkTimeout sets how long the orchestrator waits for a reply before
// failing the turn with [types.KindNetworkError], whether or not the
// [Responder] honors its context. Non-positive values keep the default of 30
// seconds.
func WithThinkTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.thinkTimeout = d
		}
	}
}

// WithMetrics sets the instruments turns are recorded on. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// Orchestrator drives a conversation through capture, reply and playback.
//
// Start, Stop and Cancel are safe for concurrent use. They block until the
// loop started by [Orchestrator.Run] has applied them, and return
// immediately once Run has exited. Issued before Run starts, they wait for
// it and are applied in order once it does. Observers registered with
// [Orchestrator.OnChange] run on the loop goroutine and must not call
// Start, Stop or Cancel synchronously.
type Orchestrator struct {
	capture      capture.Adapter
	playback     playback.Adapter
	responder    Responder
	thinkTimeout time.Duration
	metrics      *observe.Metrics

	box     *mailbox
	running atomic.Bool
	done    chan struct{}

	// Owned by the loop goroutine.
	snap       Snapshot
	live       string
	turnCtx    context.Context
	turnCancel context.CancelFunc
	span       trace.Span
	stageStart time.Time
	thinkTimer *time.Timer

	mu        sync.RWMutex
	published Snapshot
	observer  func(Snapshot)
}

// New creates an Orchestrator in [StateIdle]. Adapter capabilities are
// probed once here: an unsupported recognizer makes Start a permanent
// no-op, an unsupported synthesizer ends every turn after the reply is
// shown.
func New(capt capture.Adapter, play playback.Adapter, responder Responder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		capture:      capt,
		playback:     play,
		responder:    responder,
		thinkTimeout: DefaultThinkTimeout,
		box:          newMailbox(),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}

	o.snap = Snapshot{
		State:                StateIdle,
		RecognitionSupported: capt.Supported(),
		SynthesisSupported:   play.Supported(),
	}
	switch {
	case !o.snap.RecognitionSupported:
		o.snap.Err = types.KindRecognitionUnsupported
	case !o.snap.SynthesisSupported:
		o.snap.Err = types.KindSynthesisUnsupported
	}
	o.published = o.snap
	return o
}

// Run processes the mailbox until ctx is cancelled. An active turn is
// cancelled on the way out. Run may be called once.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(o.done)

	for {
		select {
		case <-ctx.Done():
			o.cancel()
			o.capture.OnEvent(nil)
			o.playback.OnEvent(nil)
			o.publish()
			return nil
		case <-o.box.wake:
		}

		for _, m := range o.box.take() {
			o.handle(ctx, m)
			o.publish()
			if m.ack != nil {
				close(m.ack)
			}
		}
	}
}

// Start begins a new turn. It does nothing unless the conversation is idle
// and speech recognition is supported.
func (o *Orchestrator) Start() { o.command(cmdStart) }

// Stop asks the recognizer to finish listening. It does nothing outside
// [StateListening] and does not change the state itself; the recognizer's
// final events do.
func (o *Orchestrator) Stop() { o.command(cmdStop) }

// Cancel abandons the current turn from any state: recognition is aborted,
// playback is silenced, a pending reply is cancelled, and the state is
// [StateIdle] when Cancel returns. Events still in flight for the turn are
// ignored.
func (o *Orchestrator) Cancel() { o.command(cmdCancel) }

// Snapshot returns the state as of the last processed message.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.published
}

// OnChange registers fn to receive every changed snapshot, replacing any
// previous observer. Passing nil removes it.
func (o *Orchestrator) OnChange(fn func(Snapshot)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observer = fn
}

func (o *Orchestrator) command(kind messageKind) {
	ack := make(chan struct{})
	o.box.post(message{kind: kind, ack: ack})
	select {
	case <-ack:
	case <-o.done:
	}
}

func (o *Orchestrator) publish() {
	o.mu.Lock()
	if o.published == o.snap {
		o.mu.Unlock()
		return
	}
	o.published = o.snap
	fn := o.observer
	o.mu.Unlock()

	if fn != nil {
		fn(o.snap)
	}
}

func (o *Orchestrator) handle(ctx context.Context, m message) {
	switch m.kind {
	case cmdStart:
		o.start(ctx)
	case cmdStop:
		if o.snap.State == StateListening {
			o.capture.Stop()
		}
	case cmdCancel:
		o.cancel()
	case cmdSync:
	default:
		if m.turn == "" || m.turn != o.live {
			slog.Debug("conversation: dropped stale event", "kind", m.kind, "turn_id", m.turn)
			return
		}
		switch m.kind {
		case evCapture:
			o.onCapture(m.capture)
		case evPlayback:
			o.onPlayback(m.playback)
		case evReply:
			o.onReply(m.reply, m.err)
		}
	}
}

func (o *Orchestrator) start(ctx context.Context) {
	if o.snap.State != StateIdle {
		slog.Debug("conversation: start ignored", "state", o.snap.State)
		return
	}
	if !o.snap.RecognitionSupported {
		slog.Debug("conversation: start ignored, recognition unsupported")
		return
	}

	id := uuid.NewString()
	turnCtx, span := observe.StartSpan(observe.WithTurn(ctx, id), "conversation.turn",
		trace.WithAttributes(attribute.String("turn.id", id)),
	)
	turnCtx, cancel := context.WithCancel(turnCtx)
	o.live, o.turnCtx, o.turnCancel, o.span = id, turnCtx, cancel, span

	o.snap.TurnID = id
	o.snap.Transcript = ""
	o.snap.Reply = ""
	o.snap.Err = ""
	o.snap.ErrDetail = ""

	o.capture.OnEvent(func(ev capture.Event) {
		o.box.post(message{kind: evCapture, turn: id, capture: ev})
	})
	o.playback.OnEvent(func(ev playback.Event) {
		o.box.post(message{kind: evPlayback, turn: id, playback: ev})
	})

	o.metrics.ActiveTurns.Add(turnCtx, 1)
	o.transition(StateListening)
	o.capture.Start()
}

func (o *Orchestrator) cancel() {
	o.capture.Abort()
	o.playback.Stop()
	if o.live == "" {
		return
	}
	observe.Logger(o.turnCtx).Debug("conversation: turn cancelled", "state", o.snap.State)
	o.finish(observe.OutcomeCancelled, nil)
}

func (o *Orchestrator) onCapture(ev capture.Event) {
	if o.snap.State != StateListening {
		observe.Logger(o.turnCtx).Debug("conversation: late capture event", "event", ev.Type)
		return
	}
	switch ev.Type {
	case capture.EventStarted:
		observe.Logger(o.turnCtx).Debug("conversation: recognition started")
	case capture.EventTranscript:
		o.snap.Transcript = ev.Text
	case capture.EventEnded:
		text := strings.TrimSpace(o.snap.Transcript)
		if text == "" {
			o.finish(observe.OutcomeEmpty, nil)
			return
		}
		o.think(text)
	case capture.EventError:
		o.fail(types.KindRecognitionError, ev.Reason, nil)
	}
}

func (o *Orchestrator) think(text string) {
	o.transition(StateThinking)

	id, timeout := o.live, o.thinkTimeout
	ctx, cancel := context.WithTimeout(o.turnCtx, timeout)
	o.thinkTimer = time.AfterFunc(timeout, func() {
		err := types.WrapError(types.KindNetworkError, fmt.Errorf("no reply within %s", timeout))
		o.box.post(message{kind: evReply, turn: id, err: err})
	})
	go func() {
		defer cancel()
		reply, err := o.responder.Reply(ctx, text)
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = types.WrapError(types.KindNetworkError, fmt.Errorf("no reply within %s: %w", timeout, err))
		}
		o.box.post(message{kind: evReply, turn: id, reply: reply, err: err})
	}()
}

func (o *Orchestrator) onReply(reply string, err error) {
	if o.snap.State != StateThinking {
		return
	}
	o.stopThinkTimer()
	if err != nil {
		o.fail(types.KindOf(err, types.KindNetworkError), reason(err), err)
		return
	}

	o.snap.Reply = reply
	switch {
	case strings.TrimSpace(reply) == "":
		o.finish(observe.OutcomeEmpty, nil)
	case !o.snap.SynthesisSupported:
		o.fail(types.KindSynthesisUnsupported, "no speech synthesizer available", nil)
	default:
		o.transition(StateSpeaking)
		o.playback.Speak(reply)
	}
}

func (o *Orchestrator) stopThinkTimer() {
	if o.thinkTimer != nil {
		o.thinkTimer.Stop()
		o.thinkTimer = nil
	}
}

func (o *Orchestrator) onPlayback(ev playback.Event) {
	if o.snap.State != StateSpeaking {
		return
	}
	switch ev.Type {
	case playback.EventStarted:
		observe.Logger(o.turnCtx).Debug("conversation: playback started")
	case playback.EventEnded:
		o.finish(observe.OutcomeReplied, nil)
	case playback.EventError:
		o.fail(types.KindSynthesisError, ev.Reason, nil)
	}
}

func (o *Orchestrator) fail(kind types.ErrorKind, detail string, err error) {
	o.snap.Err = kind
	o.snap.ErrDetail = detail
	observe.Logger(o.turnCtx).Warn("conversation: turn failed",
		"kind", kind, "detail", detail, "state", o.snap.State)
	if err == nil {
		err = types.NewError(kind, detail)
	}
	o.finish(string(kind), err)
}

// finish returns to idle and closes the live turn.
func (o *Orchestrator) finish(outcome string, err error) {
	o.transition(StateIdle)
	o.stopThinkTimer()

	ctx := o.turnCtx
	o.metrics.RecordTurn(ctx, outcome)
	o.metrics.ActiveTurns.Add(ctx, -1)
	observe.EndSpan(o.span, err)
	o.turnCancel()

	o.live, o.turnCtx, o.turnCancel, o.span = "", nil, nil, nil
}

func (o *Orchestrator) transition(to State) {
	from := o.snap.State
	if from == to {
		return
	}
	now := time.Now()
	if stage := stageOf(from); stage != "" {
		o.metrics.RecordStage(o.turnCtx, stage, now.Sub(o.stageStart))
	}
	o.stageStart = now
	o.snap.State = to
	observe.Logger(o.turnCtx).Debug("conversation: state changed", "from", from, "to", to)
}

func stageOf(s State) string {
	switch s {
	case StateListening:
		return observe.StageListening
	case StateThinking:
		return observe.StageThinking
	case StateSpeaking:
		return observe.StageSpeaking
	default:
		return ""
	}
}

// reason returns the boundary detail of err without the kind prefix.
func reason(err error) string {
	var te *types.Error
	if errors.As(err, &te) && te.Reason != "" {
		return te.Reason
	}
	return err.Error()
}
