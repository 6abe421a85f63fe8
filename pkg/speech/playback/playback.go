// Package playback defines the speech playback adapter: the boundary between
// a speech synthesizer and the conversation orchestrator.
//
// Event contract for one Speak call:
//
//	Started (Ended | Error)  or  Error
//
// An utterance replaced by a later Speak or silenced by Stop delivers no
// further events.
package playback

import (
	"strings"

	"github.com/MrWong99/persona/pkg/provider/tts"
)

// EventType identifies the kind of playback [Event].
type EventType int

const (
	// EventStarted is emitted once audio for the utterance begins.
	EventStarted EventType = iota + 1

	// EventEnded is emitted once when the utterance completes naturally.
	EventEnded

	// EventError is emitted once when the utterance fails.
	EventError
)

// String returns a human-readable representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventEnded:
		return "ended"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a single notification from a playback [Adapter].
type Event struct {
	Type EventType

	// Reason describes the failure. Set for EventError.
	Reason string
}

// Adapter wraps a speech synthesizer.
//
// Implementations must be safe for concurrent use.
type Adapter interface {
	// Supported reports whether a synthesizer is available.
	Supported() bool

	// OnEvent registers the handler that receives all events, replacing any
	// previously registered handler. Passing nil removes the handler.
	OnEvent(fn func(Event))

	// Speak cancels the utterance in progress, if any, and speaks text.
	Speak(text string)

	// Stop silences the current utterance. No further events are delivered
	// for it.
	Stop()
}

// DefaultPreferredVoice is the voice name picked when available.
const DefaultPreferredVoice = "Google US English"

// SelectVoice picks the voice for an utterance: the first voice whose name
// contains preferred (case-insensitive), else the first voice whose locale
// matches locale, else the first voice listed. ok is false when voices is
// empty.
func SelectVoice(voices []tts.VoiceProfile, preferred, locale string) (voice tts.VoiceProfile, ok bool) {
	if len(voices) == 0 {
		return tts.VoiceProfile{}, false
	}
	if p := strings.ToLower(strings.TrimSpace(preferred)); p != "" {
		for _, v := range voices {
			if strings.Contains(strings.ToLower(v.Name), p) {
				return v, true
			}
		}
	}
	if l := normalizeLocale(locale); l != "" {
		for _, v := range voices {
			if normalizeLocale(v.Locale) == l {
				return v, true
			}
		}
	}
	return voices[0], true
}

func normalizeLocale(l string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(l), "_", "-"))
}
