package conversation

import "github.com/MrWong99/persona/pkg/types"

// State is the phase of the conversation. Exactly one state is active at a
// time.
type State int

const (
	// StateIdle waits for the user to start a turn.
	StateIdle State = iota

	// StateListening has a recognition session running.
	StateListening

	// StateThinking waits for the reply to the transcript.
	StateThinking

	// StateSpeaking has the reply being spoken.
	StateSpeaking
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateThinking:
		return "thinking"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time view of the conversation for presentation.
type Snapshot struct {
	State State

	// TurnID identifies the current or most recent turn. Empty before the
	// first turn.
	TurnID string

	// Transcript is what the user said in the turn. It only changes while
	// listening.
	Transcript string

	// Reply is the persona's answer. It stays visible after speaking ends.
	Reply string

	// Err is the failure that ended the turn, or a capability failure
	// reported at construction. Empty when none.
	Err types.ErrorKind

	// ErrDetail is the boundary-specific reason for Err.
	ErrDetail string

	RecognitionSupported bool
	SynthesisSupported   bool
}
