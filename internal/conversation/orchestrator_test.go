package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/persona/internal/observe"
	chatmock "github.com/MrWong99/persona/pkg/chat/mock"
	"github.com/MrWong99/persona/pkg/speech/capture"
	capturemock "github.com/MrWong99/persona/pkg/speech/capture/mock"
	"github.com/MrWong99/persona/pkg/speech/playback"
	playbackmock "github.com/MrWong99/persona/pkg/speech/playback/mock"
	"github.com/MrWong99/persona/pkg/types"
)

const (
	question = "What is your superpower?"
	answer   = "Consistency and rapid learning."
)

type harness struct {
	o      *Orchestrator
	capt   *capturemock.Adapter
	play   *playbackmock.Adapter
	client *chatmock.Client

	mu     sync.Mutex
	states []State
}

func newHarness(t *testing.T, capt *capturemock.Adapter, play *playbackmock.Adapter, client *chatmock.Client, opts ...Option) *harness {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return newHarnessWithMetrics(t, capt, play, client, m, opts...)
}

func newHarnessWithMetrics(t *testing.T, capt *capturemock.Adapter, play *playbackmock.Adapter, client *chatmock.Client, m *observe.Metrics, opts ...Option) *harness {
	t.Helper()
	h := &harness{capt: capt, play: play, client: client}
	h.o = New(capt, play, client, append([]Option{WithMetrics(m)}, opts...)...)
	h.o.OnChange(func(s Snapshot) {
		h.mu.Lock()
		defer h.mu.Unlock()
		if n := len(h.states); n == 0 || h.states[n-1] != s.State {
			h.states = append(h.states, s.State)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.o.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-errc; err != nil {
			t.Errorf("Run: %v", err)
		}
	})
	return h
}

// sync waits until every message posted so far has been processed.
func (h *harness) sync() { h.o.command(cmdSync) }

func (h *harness) emitCapture(ev capture.Event) {
	h.capt.Emit(ev)
	h.sync()
}

func (h *harness) emitPlayback(ev playback.Event) {
	h.play.Emit(ev)
	h.sync()
}

func (h *harness) observed() []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]State(nil), h.states...)
}

func (h *harness) waitState(t *testing.T, want State) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s := h.o.Snapshot()
		if s.State == want {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want %s", s.State, want)
		}
		time.Sleep(time.Millisecond)
	}
}

// listenAndEnd runs the listening phase of a turn with the given transcript.
func (h *harness) listenAndEnd(t *testing.T, transcript string) {
	t.Helper()
	h.o.Start()
	if got := h.o.Snapshot().State; got != StateListening {
		t.Fatalf("after Start state = %s, want listening", got)
	}
	h.emitCapture(capture.Event{Type: capture.EventStarted})
	h.emitCapture(capture.Event{Type: capture.EventTranscript, Text: transcript})
	h.emitCapture(capture.Event{Type: capture.EventEnded})
}

func equalStates(a, b []State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestOrchestrator_RoundTrip(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &capturemock.Adapter{}, &playbackmock.Adapter{}, &chatmock.Client{ReplyText: answer})
	h.listenAndEnd(t, question)

	s := h.waitState(t, StateSpeaking)
	if s.Reply != answer {
		t.Errorf("Reply = %q, want %q", s.Reply, answer)
	}
	if calls := h.client.Calls(); len(calls) != 1 || calls[0] != question {
		t.Errorf("client calls = %q", calls)
	}
	if spoken := h.play.Spoken(); len(spoken) != 1 || spoken[0] != answer {
		t.Errorf("spoken = %q", spoken)
	}

	h.emitPlayback(playback.Event{Type: playback.EventStarted})
	h.emitPlayback(playback.Event{Type: playback.EventEnded})

	s = h.o.Snapshot()
	if s.State != StateIdle {
		t.Fatalf("state = %s, want idle", s.State)
	}
	if s.Reply != answer || s.Transcript != question {
		t.Errorf("snapshot lost turn text: %+v", s)
	}
	if s.Err != "" {
		t.Errorf("Err = %q, want none", s.Err)
	}
	want := []State{StateListening, StateThinking, StateSpeaking, StateIdle}
	if got := h.observed(); !equalStates(got, want) {
		t.Errorf("observed states = %v, want %v", got, want)
	}
}

func TestOrchestrator_ReplyFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantKind   types.ErrorKind
		wantDetail string
	}{
		{
			name:       "credential missing",
			err:        types.NewError(types.KindCredentialMissing, "OpenAI API Key not configured"),
			wantKind:   types.KindCredentialMissing,
			wantDetail: "OpenAI API Key not configured",
		},
		{
			name:     "quota",
			err:      types.NewError(types.KindQuotaExceeded, "insufficient_quota"),
			wantKind: types.KindQuotaExceeded,
		},
		{
			name:       "unclassified",
			err:        errors.New("connection reset"),
			wantKind:   types.KindNetworkError,
			wantDetail: "connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, &capturemock.Adapter{}, &playbackmock.Adapter{}, &chatmock.Client{ReplyErr: tt.err})
			h.listenAndEnd(t, question)

			s := h.waitState(t, StateIdle)
			if s.Err != tt.wantKind {
				t.Errorf("Err = %q, want %q", s.Err, tt.wantKind)
			}
			if tt.wantDetail != "" && s.ErrDetail != tt.wantDetail {
				t.Errorf("ErrDetail = %q, want %q", s.ErrDetail, tt.wantDetail)
			}
			if s.Reply != "" {
				t.Errorf("Reply = %q, want empty", s.Reply)
			}
			if len(h.play.Spoken()) != 0 {
				t.Error("nothing should be spoken after a failed reply")
			}
			want := []State{StateListening, StateThinking, StateIdle}
			if got := h.observed(); !equalStates(got, want) {
				t.Errorf("observed states = %v, want %v", got, want)
			}
		})
	}
}

func TestOrchestrator_BlankTranscriptSkipsBackend(t *testing.T) {
	t.Parallel()

	for _, transcript := range []string{"", "   \t"} {
		h := newHarness(t, &capturemock.Adapter{}, &playbackmock.Adapter{}, &chatmock.Client{ReplyText: answer})
		h.listenAndEnd(t, transcript)

		s := h.o.Snapshot()
		if s.State != StateIdle || s.Err != "" {
			t.Errorf("transcript %q: snapshot = %+v, want idle without error", transcript, s)
		}
		if n := len(h.client.Calls()); n != 0 {
			t.Errorf("transcript %q: %d backend calls, want 0", transcript, n)
		}
	}
}

func TestOrchestrator_StartWhileBusyIsNoop(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	h := newHarness(t, &capturemock.Adapter{}, &playbackmock.Adapter{}, &chatmock.Client{Block: block, ReplyText: answer})

	h.o.Start()
	first := h.o.Snapshot().TurnID
	h.o.Start()
	if h.capt.Starts() != 1 {
		t.Errorf("capture started %d times, want 1", h.capt.Starts())
	}
	if got := h.o.Snapshot().TurnID; got != first {
		t.Errorf("turn changed from %s to %s", first, got)
	}

	h.emitCapture(capture.Event{Type: capture.EventTranscript, Text: question})
	h.emitCapture(capture.Event{Type: capture.EventEnded})
	h.o.Start()
	if s := h.o.Snapshot(); s.State != StateThinking || h.capt.Starts() != 1 {
		t.Errorf("Start while thinking: state %s, starts %d", s.State, h.capt.Starts())
	}

	close(block)
	h.waitState(t, StateSpeaking)
	h.o.Start()
	if s := h.o.Snapshot(); s.State != StateSpeaking || h.capt.Starts() != 1 {
		t.Errorf("Start while speaking: state %s, starts %d", s.State, h.capt.Starts())
	}
}

func TestOrchestrator_StopOnlyWhileListening(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &capturemock.Adapter{}, &playbackmock.Adapter{}, &chatmock.Client{ReplyText: answer})

	h.o.Stop()
	if h.capt.Stops() != 0 {
		t.Error("Stop while idle reached the recognizer")
	}

	h.o.Start()
	h.o.Stop()
	if h.capt.Stops() != 1 {
		t.Errorf("recognizer stopped %d times, want 1", h.capt.Stops())
	}
	if got := h.o.Snapshot().State; got != StateListening {
		t.Errorf("Stop changed state to %s", got)
	}

	h.emitCapture(capture.Event{Type: capture.EventTranscript, Text: question})
	h.emitCapture(capture.Event{Type: capture.EventEnded})
	h.waitState(t, StateSpeaking)
	h.o.Stop()
	if h.capt.Stops() != 1 {
		t.Error("Stop while speaking reached the recognizer")
	}
}

func TestOrchestrator_CancelFromEveryState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		blocked bool
		setup   func(t *testing.T, h *harness)
	}{
		{name: "idle", setup: func(*testing.T, *harness) {}},
		{name: "listening", setup: func(t *testing.T, h *harness) {
			h.o.Start()
			h.emitCapture(capture.Event{Type: capture.EventTranscript, Text: "What is"})
		}},
		{name: "thinking", blocked: true, setup: func(t *testing.T, h *harness) {
			h.listenAndEnd(t, question)
			h.waitState(t, StateThinking)
		}},
		{name: "speaking", setup: func(t *testing.T, h *harness) {
			h.listenAndEnd(t, question)
			h.waitState(t, StateSpeaking)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := &chatmock.Client{ReplyText: answer}
			if tt.blocked {
				client.Block = make(chan struct{})
			}
			h := newHarness(t, &capturemock.Adapter{}, &playbackmock.Adapter{}, client)
			tt.setup(t, h)

			h.o.Cancel()
			after := h.o.Snapshot()
			if after.State != StateIdle {
				t.Fatalf("state after Cancel = %s, want idle", after.State)
			}
			if h.capt.Aborts() != 1 || h.play.Stops() != 1 {
				t.Errorf("aborts %d, playback stops %d, want 1 each", h.capt.Aborts(), h.play.Stops())
			}

			// Everything the old turn may still produce must be ignored.
			h.emitCapture(capture.Event{Type: capture.EventTranscript, Text: "late words"})
			h.emitCapture(capture.Event{Type: capture.EventEnded})
			h.emitPlayback(playback.Event{Type: playback.EventStarted})
			h.emitPlayback(playback.Event{Type: playback.EventError, Reason: "interrupted"})
			time.Sleep(10 * time.Millisecond)
			h.sync()

			if got := h.o.Snapshot(); got != after {
				t.Errorf("late events changed snapshot:\n got %+v\nwant %+v", got, after)
			}
			if n := len(h.client.Calls()); n > 1 {
				t.Errorf("backend called %d times", n)
			}
		})
	}
}

func TestOrchestrator_StaleTurnEventsIgnored(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &capturemock.Adapter{}, &playbackmock.Adapter{}, &chatmock.Client{ReplyText: answer})

	h.o.Start()
	oldHandler := h.capt.Handler()
	h.o.Cancel()
	h.o.Start()
	second := h.o.Snapshot().TurnID

	oldHandler(capture.Event{Type: capture.EventTranscript, Text: "from the old turn"})
	oldHandler(capture.Event{Type: capture.EventEnded})
	h.sync()

	s := h.o.Snapshot()
	if s.TurnID != second || s.State != StateListening || s.Transcript != "" {
		t.Errorf("old turn events leaked into the new one: %+v", s)
	}
	if len(h.client.Calls()) != 0 {
		t.Error("old turn triggered a backend call")
	}
	if h.capt.OnEventCallCount != 2 {
		t.Errorf("capture handler bound %d times, want once per turn", h.capt.OnEventCallCount)
	}
}

func TestOrchestrator_LateTranscriptDiscarded(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &capturemock.Adapter{}, &playbackmock.Adapter{}, &chatmock.Client{Block: make(chan struct{})})
	h.listenAndEnd(t, question)

	h.emitCapture(capture.Event{Type: capture.EventTranscript, Text: "an afterthought"})
	if got := h.o.Snapshot().Transcript; got != question {
		t.Errorf("Transcript = %q, want %q", got, question)
	}
}

func TestOrchestrator_RecognitionUnsupported(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &capturemock.Adapter{Unsupported: true}, &playbackmock.Adapter{}, &chatmock.Client{ReplyText: answer})

	s := h.o.Snapshot()
	if s.RecognitionSupported || s.Err != types.KindRecognitionUnsupported {
		t.Fatalf("initial snapshot = %+v", s)
	}

	h.o.Start()
	h.o.Start()
	s = h.o.Snapshot()
	if s.State != StateIdle || s.Err != types.KindRecognitionUnsupported {
		t.Errorf("snapshot after Start = %+v", s)
	}
	if h.capt.Starts() != 0 {
		t.Errorf("recognizer started %d times", h.capt.Starts())
	}
}

func TestOrchestrator_SynthesisUnsupported(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &capturemock.Adapter{}, &playbackmock.Adapter{Unsupported: true}, &chatmock.Client{ReplyText: answer})
	if s := h.o.Snapshot(); s.SynthesisSupported || s.Err != types.KindSynthesisUnsupported {
		t.Fatalf("initial snapshot = %+v", s)
	}

	h.listenAndEnd(t, question)

	want := []State{StateListening, StateThinking, StateIdle}
	deadline := time.Now().Add(2 * time.Second)
	for !equalStates(h.observed(), want) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	s := h.o.Snapshot()
	if s.State != StateIdle || s.Reply != answer || s.Err != types.KindSynthesisUnsupported {
		t.Errorf("snapshot = %+v", s)
	}
	if len(h.play.Spoken()) != 0 {
		t.Error("unsupported synthesizer was asked to speak")
	}
}

func TestOrchestrator_AdapterErrors(t *testing.T) {
	t.Parallel()

	t.Run("recognition", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, &capturemock.Adapter{}, &playbackmock.Adapter{}, &chatmock.Client{ReplyText: answer})
		h.o.Start()
		h.emitCapture(capture.Event{Type: capture.EventTranscript, Text: "What"})
		h.emitCapture(capture.Event{Type: capture.EventError, Reason: "no-speech"})

		s := h.o.Snapshot()
		if s.State != StateIdle || s.Err != types.KindRecognitionError || s.ErrDetail != "no-speech" {
			t.Errorf("snapshot = %+v", s)
		}
		if len(h.client.Calls()) != 0 {
			t.Error("failed recognition reached the backend")
		}
	})

	t.Run("synthesis", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, &capturemock.Adapter{}, &playbackmock.Adapter{}, &chatmock.Client{ReplyText: answer})
		h.listenAndEnd(t, question)
		h.waitState(t, StateSpeaking)
		h.emitPlayback(playback.Event{Type: playback.EventError, Reason: "device lost"})

		s := h.o.Snapshot()
		if s.State != StateIdle || s.Err != types.KindSynthesisError || s.ErrDetail != "device lost" {
			t.Errorf("snapshot = %+v", s)
		}
		if s.Reply != answer {
			t.Errorf("Reply = %q, want it kept", s.Reply)
		}
	})
}

func TestOrchestrator_ThinkTimeout(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &capturemock.Adapter{}, &playbackmock.Adapter{}, &chatmock.Client{Block: make(chan struct{})},
		WithThinkTimeout(20*time.Millisecond))
	h.listenAndEnd(t, question)

	s := h.waitState(t, StateIdle)
	if s.Err != types.KindNetworkError {
		t.Errorf("Err = %q, want %q", s.Err, types.KindNetworkError)
	}
}

func TestOrchestrator_ThinkTimeoutIgnoringContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	returned := make(chan struct{})
	client := &chatmock.Client{ReplyFunc: func(context.Context, string) (string, error) {
		defer close(returned)
		<-release
		return answer, nil
	}}
	play := &playbackmock.Adapter{}
	h := newHarness(t, &capturemock.Adapter{}, play, client, WithThinkTimeout(20*time.Millisecond))
	h.listenAndEnd(t, question)

	s := h.waitState(t, StateIdle)
	if s.Err != types.KindNetworkError {
		t.Errorf("Err = %q, want %q", s.Err, types.KindNetworkError)
	}

	// The reply that arrives after the deadline belongs to a finished turn.
	close(release)
	<-returned
	time.Sleep(20 * time.Millisecond)
	h.sync()
	s = h.o.Snapshot()
	if s.State != StateIdle || s.Reply != "" || s.Err != types.KindNetworkError {
		t.Errorf("late reply changed the snapshot: %+v", s)
	}
	if got := play.Spoken(); len(got) != 0 {
		t.Errorf("late reply was spoken: %v", got)
	}
}

func TestOrchestrator_CommandBeforeRunWaits(t *testing.T) {
	t.Parallel()

	capt := &capturemock.Adapter{}
	o := New(capt, &playbackmock.Adapter{}, &chatmock.Client{}, WithMetrics(observe.DefaultMetrics()))

	started := make(chan struct{})
	go func() {
		o.Start()
		close(started)
	}()

	select {
	case <-started:
		t.Fatal("Start returned before Run")
	case <-time.After(20 * time.Millisecond):
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- o.Run(ctx) }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("Start not applied after Run started")
	}
	if s := o.Snapshot(); s.State != StateListening || capt.Starts() != 1 {
		t.Errorf("snapshot = %+v, capture starts = %d", s, capt.Starts())
	}

	cancel()
	if err := <-errc; err != nil {
		t.Errorf("Run: %v", err)
	}
}

func TestOrchestrator_NewTurnResetsText(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &capturemock.Adapter{}, &playbackmock.Adapter{}, &chatmock.Client{ReplyText: answer})
	h.listenAndEnd(t, question)
	h.waitState(t, StateSpeaking)
	h.emitPlayback(playback.Event{Type: playback.EventEnded})

	h.o.Start()
	s := h.o.Snapshot()
	if s.Transcript != "" || s.Reply != "" || s.Err != "" {
		t.Errorf("new turn kept old text: %+v", s)
	}
}

func TestOrchestrator_RunLifecycle(t *testing.T) {
	t.Parallel()

	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	capt, play := &capturemock.Adapter{}, &playbackmock.Adapter{}
	o := New(capt, play, &chatmock.Client{}, WithMetrics(m))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- o.Run(ctx) }()

	o.Start()
	if err := o.Run(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run = %v, want ErrAlreadyRunning", err)
	}

	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run = %v", err)
	}
	if s := o.Snapshot(); s.State != StateIdle {
		t.Errorf("state after shutdown = %s, want idle", s.State)
	}
	if capt.Aborts() == 0 {
		t.Error("shutdown did not abort the active recognition")
	}

	done := make(chan struct{})
	go func() {
		o.Start()
		o.Cancel()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("commands block after Run has exited")
	}
}

func TestOrchestrator_RecordsTurnOutcomes(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	h := newHarnessWithMetrics(t, &capturemock.Adapter{}, &playbackmock.Adapter{}, &chatmock.Client{ReplyText: answer}, m)
	h.listenAndEnd(t, question)
	h.waitState(t, StateSpeaking)
	h.emitPlayback(playback.Event{Type: playback.EventEnded})
	h.o.Start()
	h.o.Cancel()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	outcomes := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "persona.turns" {
				continue
			}
			for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
				v, _ := dp.Attributes.Value(attribute.Key("outcome"))
				outcomes[v.AsString()] = dp.Value
			}
		}
	}
	if outcomes[observe.OutcomeReplied] != 1 || outcomes[observe.OutcomeCancelled] != 1 {
		t.Errorf("turn outcomes = %v", outcomes)
	}
}
