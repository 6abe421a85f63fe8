// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI, Anthropic,
// or a local Ollama instance) and exposes a uniform single-shot completion
// call to the chat backend without coupling it to any specific SDK.
//
// Provider failures that the chat backend must report precisely (rejected
// credentials, exhausted quota, unknown model) are returned as *[Error] with a
// [types.ErrorKind]. Everything else is a plain error.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MrWong99/persona/pkg/types"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single message in a completion request.
type Message struct {
	// Role is one of [RoleSystem], [RoleUser] or [RoleAssistant].
	Role string

	// Content is the text content of the message.
	Content string
}

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is an optional high-priority instruction. Providers send it
	// as a leading "system"-role message.
	SystemPrompt string

	// Messages is the ordered conversation. The last message is from the
	// "user" role and drives the response.
	Messages []Message

	// Temperature controls output randomness in the range [0.0, 2.0]. Zero
	// means use the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means use the
	// provider default.
	MaxTokens int
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Model is the model that produced the reply, as reported by the backend.
	Model string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	//
	// Returns an error if the request fails or if ctx is cancelled before the
	// completion arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// ErrEmptyResponse is returned when the backend answers without any choice.
var ErrEmptyResponse = errors.New("llm: empty choices in response")

// Error is a classified provider failure.
type Error struct {
	// Provider is the backend name (e.g., "openai", "anthropic").
	Provider string

	// Kind is the classification. It is one of the credential, quota or model
	// kinds, or [types.KindNetworkError] for unclassified failures.
	Kind types.ErrorKind

	// StatusCode is the HTTP status returned by the backend, or 0.
	StatusCode int

	// Err is the underlying SDK error.
	Err error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Classify maps an HTTP status code, a provider error code and a message to
// an [types.ErrorKind]. The code is consulted first, then the status, then
// well-known phrases in the message.
func Classify(status int, code, message string) types.ErrorKind {
	switch strings.ToLower(code) {
	case "invalid_api_key", "authentication_error", "invalid_authentication":
		return types.KindCredentialInvalid
	case "insufficient_quota", "billing_hard_limit_reached", "rate_limit_exceeded":
		return types.KindQuotaExceeded
	case "model_not_found", "not_found_error":
		return types.KindModelUnavailable
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return types.KindCredentialInvalid
	case http.StatusPaymentRequired, http.StatusTooManyRequests:
		return types.KindQuotaExceeded
	case http.StatusNotFound:
		return types.KindModelUnavailable
	}

	if kind, ok := types.KindFromMessage(message); ok {
		return kind
	}
	return types.KindNetworkError
}

// KindOf returns the classification carried by err: the Kind of an *[Error]
// or a *[types.Error] in its chain, or [types.KindNetworkError].
func KindOf(err error) types.ErrorKind {
	var le *Error
	if errors.As(err, &le) && le.Kind.IsValid() {
		return le.Kind
	}
	return types.KindOf(err, types.KindNetworkError)
}

// IsConfigError reports whether err is a credential failure. Such failures
// are not a sign of backend health and should not trip circuit breakers.
func IsConfigError(err error) bool {
	if err == nil {
		return false
	}
	k := KindOf(err)
	return k == types.KindCredentialMissing || k == types.KindCredentialInvalid
}
