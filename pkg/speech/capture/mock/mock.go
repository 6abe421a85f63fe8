// Package mock provides a test double for the capture.Adapter interface.
//
// Adapter records Start, Stop and Abort calls and lets tests emit any event
// sequence through the registered handler.
//
// Example:
//
//	a := &mock.Adapter{}
//	orch := conversation.New(a, playbackAdapter, client)
//	orch.Start()
//	a.Emit(capture.Event{Type: capture.EventTranscript, Text: "hello"})
//	a.Emit(capture.Event{Type: capture.EventEnded})
package mock

import (
	"sync"

	"github.com/MrWong99/persona/pkg/speech/capture"
)

// Adapter is a mock implementation of capture.Adapter.
type Adapter struct {
	mu sync.Mutex

	// Unsupported makes Supported return false.
	Unsupported bool

	// StartCallCount, StopCallCount and AbortCallCount count the calls to the
	// respective methods.
	StartCallCount int
	StopCallCount  int
	AbortCallCount int

	// OnEventCallCount counts handler registrations.
	OnEventCallCount int

	handler func(capture.Event)
}

// Supported returns !Unsupported.
func (a *Adapter) Supported() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.Unsupported
}

// OnEvent stores fn, replacing the previous handler.
func (a *Adapter) OnEvent(fn func(capture.Event)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.OnEventCallCount++
	a.handler = fn
}

// Start records the call.
func (a *Adapter) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.StartCallCount++
}

// Stop records the call.
func (a *Adapter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.StopCallCount++
}

// Abort records the call.
func (a *Adapter) Abort() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.AbortCallCount++
}

// Handler returns the currently registered handler, or nil.
func (a *Adapter) Handler() func(capture.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.handler
}

// Emit delivers ev to the current handler. It does nothing when no handler
// is registered.
func (a *Adapter) Emit(ev capture.Event) {
	if h := a.Handler(); h != nil {
		h(ev)
	}
}

// Starts returns the number of Start calls. Thread-safe.
func (a *Adapter) Starts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.StartCallCount
}

// Stops returns the number of Stop calls. Thread-safe.
func (a *Adapter) Stops() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.StopCallCount
}

// Aborts returns the number of Abort calls. Thread-safe.
func (a *Adapter) Aborts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.AbortCallCount
}

// Ensure Adapter implements capture.Adapter at compile time.
var _ capture.Adapter = (*Adapter)(nil)
