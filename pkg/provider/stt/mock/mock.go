// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that the caller starts sessions with the expected
// StreamConfig. Use Session to feed controlled Transcript values and inspect
// which audio chunks were delivered.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.StartStream(ctx, cfg)
//	sess.EmitPartial(stt.Transcript{Text: "hel"})
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/persona/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Cfg is the StreamConfig passed to StartStream.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by StartStream. If nil,
	// StartStream returns a new Session from [NewSession].
	Session stt.SessionHandle

	// NewSessionFunc, if set, is called on every StartStream and takes
	// precedence over Session.
	NewSessionFunc func() stt.SessionHandle

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall
}

// StartStream records the call and returns Session, StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.NewSessionFunc != nil {
		return p.NewSessionFunc(), nil
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Calls returns a copy of the recorded StartStream calls. Thread-safe.
func (p *Provider) Calls() []StartStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]StartStreamCall, len(p.StartStreamCalls))
	copy(out, p.StartStreamCalls)
	return out
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// ErrClosed is returned by Session.SendAudio after Close.
var ErrClosed = errors.New("mock: session closed")

// Session is a mock implementation of stt.SessionHandle.
//
// Tests push transcripts with [Session.EmitPartial] and [Session.EmitFinal],
// which are safe to call concurrently with Close. Close closes both channels
// after PendingFinals have been delivered, mimicking a provider that flushes
// on close. [Session.End] closes the channels without a Close
// call, mimicking a provider that hangs up on its own.
type Session struct {
	mu sync.Mutex

	// PartialsCh is the channel returned by Partials().
	PartialsCh chan stt.Transcript

	// FinalsCh is the channel returned by Finals().
	FinalsCh chan stt.Transcript

	// PendingFinals are sent on FinalsCh during Close, before it is closed.
	PendingFinals []stt.Transcript

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// EndErr is returned by Err once the session has ended.
	EndErr error

	// Audio records a copy of every chunk passed to SendAudio.
	Audio [][]byte

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	ended bool
}

// NewSession returns a Session with buffered channels.
func NewSession() *Session {
	return &Session{
		PartialsCh: make(chan stt.Transcript, 16),
		FinalsCh:   make(chan stt.Transcript, 16),
	}
}

// SendAudio records the chunk and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return ErrClosed
	}
	c := make([]byte, len(chunk))
	copy(c, chunk)
	s.Audio = append(s.Audio, c)
	return s.SendAudioErr
}

// Partials returns PartialsCh.
func (s *Session) Partials() <-chan stt.Transcript { return s.PartialsCh }

// Finals returns FinalsCh.
func (s *Session) Finals() <-chan stt.Transcript { return s.FinalsCh }

// EmitPartial delivers t on PartialsCh unless the session has ended. It
// reports whether t was delivered.
func (s *Session) EmitPartial(t stt.Transcript) bool {
	return s.emit(s.PartialsCh, t)
}

// EmitFinal delivers t on FinalsCh unless the session has ended. It reports
// whether t was delivered.
func (s *Session) EmitFinal(t stt.Transcript) bool {
	return s.emit(s.FinalsCh, t)
}

func (s *Session) emit(ch chan stt.Transcript, t stt.Transcript) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	ch <- t
	return true
}

// Err returns EndErr.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.EndErr
}

// Close delivers PendingFinals, closes both channels and records the call.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if s.ended {
		return nil
	}
	for _, t := range s.PendingFinals {
		s.FinalsCh <- t
	}
	s.end()
	return nil
}

// End closes both channels with err as the session error, as if the
// provider had hung up.
func (s *Session) End(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.EndErr = err
	s.end()
}

func (s *Session) end() {
	s.ended = true
	close(s.PartialsCh)
	close(s.FinalsCh)
}

// Closes returns the number of Close calls. Thread-safe.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

// Ensure Session implements stt.SessionHandle at compile time.
var _ stt.SessionHandle = (*Session)(nil)
