// Package mock provides a test double for the playback.Adapter interface.
//
// Adapter records the text of every Speak call and lets tests emit any event
// sequence through the registered handler.
package mock

import (
	"sync"

	"github.com/MrWong99/persona/pkg/speech/playback"
)

// Adapter is a mock implementation of playback.Adapter.
type Adapter struct {
	mu sync.Mutex

	// Unsupported makes Supported return false.
	Unsupported bool

	// SpeakCalls records the text of every Speak call in order.
	SpeakCalls []string

	// StopCallCount counts Stop calls.
	StopCallCount int

	// OnSpeak, if set, is called after a Speak call has been recorded.
	OnSpeak func(text string)

	handler func(playback.Event)
}

// Supported returns !Unsupported.
func (a *Adapter) Supported() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.Unsupported
}

// OnEvent stores fn, replacing the previous handler.
func (a *Adapter) OnEvent(fn func(playback.Event)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handler = fn
}

// Speak records text and calls OnSpeak.
func (a *Adapter) Speak(text string) {
	a.mu.Lock()
	a.SpeakCalls = append(a.SpeakCalls, text)
	hook := a.OnSpeak
	a.mu.Unlock()
	if hook != nil {
		hook(text)
	}
}

// Stop records the call.
func (a *Adapter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.StopCallCount++
}

// Handler returns the currently registered handler, or nil.
func (a *Adapter) Handler() func(playback.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.handler
}

// Emit delivers ev to the current handler.
func (a *Adapter) Emit(ev playback.Event) {
	if h := a.Handler(); h != nil {
		h(ev)
	}
}

// Spoken returns a copy of SpeakCalls. Thread-safe.
func (a *Adapter) Spoken() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.SpeakCalls))
	copy(out, a.SpeakCalls)
	return out
}

// Stops returns the number of Stop calls. Thread-safe.
func (a *Adapter) Stops() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.StopCallCount
}

// Ensure Adapter implements playback.Adapter at compile time.
var _ playback.Adapter = (*Adapter)(nil)
