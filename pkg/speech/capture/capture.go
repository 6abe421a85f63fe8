// Package capture defines the speech capture adapter: the boundary between a
// speech recognizer and the conversation orchestrator.
//
// An [Adapter] is driven with Start, Stop and Abort and reports what happens
// through a single event handler registered with OnEvent. Events are
// point-in-time messages; the adapter never touches caller state.
//
// Event contract for one session:
//
//	Started  Transcript*  (Ended | Error)
//
// Stop always delivers one Transcript carrying the final cumulative text
// before Ended. Abort delivers nothing further for the aborted session.
package capture

// EventType identifies the kind of capture [Event].
type EventType int

const (
	// EventStarted is emitted once the recognizer is receiving audio.
	EventStarted EventType = iota + 1

	// EventTranscript carries the cumulative transcript of the session so far.
	EventTranscript

	// EventEnded is emitted once when the session ends normally.
	EventEnded

	// EventError is emitted once when the session ends because of a failure.
	EventError
)

// String returns a human-readable representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventTranscript:
		return "transcript"
	case EventEnded:
		return "ended"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a single notification from a capture [Adapter].
type Event struct {
	Type EventType

	// Text is the full transcript so far. Set for EventTranscript.
	Text string

	// Reason describes the failure. Set for EventError.
	Reason string
}

// Adapter wraps a speech recognizer.
//
// Implementations must be safe for concurrent use.
type Adapter interface {
	// Supported reports whether a recognizer is available. When it returns
	// false, Start is a permanent no-op.
	Supported() bool

	// OnEvent registers the handler that receives all events, replacing any
	// previously registered handler. Passing nil removes the handler.
	OnEvent(fn func(Event))

	// Start begins a recognition session. Calling Start while a session is
	// active does nothing.
	Start()

	// Stop asks the active session to finish: audio intake ends, pending
	// results are flushed, then Transcript and Ended are emitted.
	Stop()

	// Abort ends the active session immediately. No further events are
	// delivered for it.
	Abort()
}
