// Package types defines the shared types used across all Persona packages.
//
// The central type is [ErrorKind], the failure taxonomy that the speech
// adapters, the chat client, the chat backend and the conversation
// orchestrator agree on. Each package defines its own domain types, but the
// taxonomy lives here to avoid circular imports.
package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a failure that ended a conversation turn. All kinds
// are non-fatal: the orchestrator records the kind on the turn and returns
// to idle.
type ErrorKind string

const (
	// KindRecognitionUnsupported means no speech recognizer is available.
	// It is permanent for the lifetime of the process.
	KindRecognitionUnsupported ErrorKind = "recognition_unsupported"

	// KindRecognitionError is a runtime failure of the recognizer.
	KindRecognitionError ErrorKind = "recognition_error"

	// KindSynthesisUnsupported means no speech synthesizer is available.
	// It is permanent for the lifetime of the process.
	KindSynthesisUnsupported ErrorKind = "synthesis_unsupported"

	// KindSynthesisError is a runtime failure of the synthesizer.
	KindSynthesisError ErrorKind = "synthesis_error"

	// KindCredentialMissing means the chat backend has no language model
	// credential configured.
	KindCredentialMissing ErrorKind = "credential_missing"

	// KindCredentialInvalid means the credential was rejected or is malformed.
	KindCredentialInvalid ErrorKind = "credential_invalid"

	// KindQuotaExceeded means the language model provider refused the request
	// because of billing or rate limits.
	KindQuotaExceeded ErrorKind = "quota_exceeded"

	// KindModelUnavailable means the configured model does not exist or the
	// credential has no access to it.
	KindModelUnavailable ErrorKind = "model_unavailable"

	// KindNetworkError is the catch-all for transport failures, timeouts and
	// unclassified backend errors.
	KindNetworkError ErrorKind = "network_error"
)

// Kinds lists every [ErrorKind] in a stable order.
var Kinds = []ErrorKind{
	KindRecognitionUnsupported,
	KindRecognitionError,
	KindSynthesisUnsupported,
	KindSynthesisError,
	KindCredentialMissing,
	KindCredentialInvalid,
	KindQuotaExceeded,
	KindModelUnavailable,
	KindNetworkError,
}

// IsValid reports whether k is a recognised kind.
func (k ErrorKind) IsValid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Unsupported reports whether k is a permanent capability failure rather
// than a per-turn error.
func (k ErrorKind) Unsupported() bool {
	return k == KindRecognitionUnsupported || k == KindSynthesisUnsupported
}

// Message returns the user-facing description of k.
func (k ErrorKind) Message() string {
	switch k {
	case KindRecognitionUnsupported:
		return "Speech recognition is not supported on this device."
	case KindRecognitionError:
		return "Speech recognition failed. Please try again."
	case KindSynthesisUnsupported:
		return "Text-to-speech is not supported on this device."
	case KindSynthesisError:
		return "Speech playback failed."
	case KindCredentialMissing:
		return "OpenAI API key not configured. Set OPENAI_API_KEY for the chat backend."
	case KindCredentialInvalid:
		return "The language model provider rejected the API key."
	case KindQuotaExceeded:
		return "The language model quota has been exceeded."
	case KindModelUnavailable:
		return "The configured language model is not available."
	case KindNetworkError:
		return "Could not get a reply from the chat backend."
	default:
		return ""
	}
}

// Error is a failure tagged with an [ErrorKind]. Reason carries the
// boundary-specific detail (recognizer reason string, backend message).
type Error struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

// NewError returns an *Error of the given kind.
func NewError(kind ErrorKind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// WrapError returns an *Error of the given kind wrapping err.
func WrapError(kind ErrorKind, err error) *Error {
	e := &Error{Kind: kind, Err: err}
	if err != nil {
		e.Reason = err.Error()
	}
	return e
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the first *Error in err's chain, or fallback
// when there is none.
func KindOf(err error, fallback ErrorKind) ErrorKind {
	var te *Error
	if errors.As(err, &te) && te.Kind.IsValid() {
		return te.Kind
	}
	return fallback
}

// KindFromMessage guesses a backend failure kind from well-known phrases in
// an error message. ok is false when nothing matched.
func KindFromMessage(message string) (kind ErrorKind, ok bool) {
	msg := strings.ToLower(message)
	hasKey := strings.Contains(msg, "api key") || strings.Contains(msg, "api_key")
	switch {
	case hasKey && (strings.Contains(msg, "not configured") || strings.Contains(msg, "missing")):
		return KindCredentialMissing, true
	case hasKey, strings.Contains(msg, "unauthorized"), strings.Contains(msg, "401"):
		return KindCredentialInvalid, true
	case strings.Contains(msg, "quota"), strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "billing"), strings.Contains(msg, "429"):
		return KindQuotaExceeded, true
	case strings.Contains(msg, "model") && (strings.Contains(msg, "not found") ||
		strings.Contains(msg, "does not exist") || strings.Contains(msg, "404")):
		return KindModelUnavailable, true
	}
	return "", false
}
