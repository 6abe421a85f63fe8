// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram)
// and exposes a uniform streaming interface. The central abstraction is
// SessionHandle: once opened, a session accepts raw PCM audio frames and
// emits two streams of Transcript values: low-latency partials and
// authoritative finals.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"time"
)

// StreamConfig describes the audio format and recognition hints for a new STT
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz (e.g., 16000).
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string selects the provider default.
	Language string

	// InterimResults requests partial transcripts while the user speaks.
	InterimResults bool
}

// Transcript is a speech-to-text result. Both partial and final transcripts
// use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal reports whether the provider has committed to this text.
	IsFinal bool

	// SpeechFinal reports that the provider detected the end of an utterance.
	SpeechFinal bool

	// Confidence is the overall confidence score (0.0–1.0), or zero when the
	// provider does not report one.
	Confidence float64

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// SessionHandle represents an open STT streaming session.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio bytes. Calling SendAudio
	// after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials returns a channel of interim transcripts. It is closed when the
	// session ends.
	Partials() <-chan Transcript

	// Finals returns a channel of final transcripts. It is closed when the
	// session ends, after every result of the flushed audio has been sent.
	Finals() <-chan Transcript

	// Err returns the error that ended the session, or nil when it ended
	// normally. Only meaningful after Finals is closed.
	Err() error

	// Close stops accepting audio, asks the provider to flush pending results
	// and waits for the session to end. Calling Close more than once is safe.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new streaming transcription session. The returned
	// SessionHandle is ready to accept audio immediately. Cancelling ctx tears
	// the session down without a flush.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
