// Package chat holds the wire contract of the chat backend and a client for
// it.
//
// The backend answers POST /chat with a JSON body {"message": "..."}. On
// success it returns 200 with {"reply": "..."}. Failures carry
// {"error": "...", "code": "..."} with status 400 for malformed requests and
// 500 for backend failures.
package chat

import "github.com/MrWong99/persona/pkg/types"

// Path is the endpoint served by the backend.
const Path = "/chat"

// Request is the body of POST /chat.
type Request struct {
	Message string `json:"message"`
}

// Response is the body of a successful reply.
type Response struct {
	Reply string `json:"reply"`
}

// ErrorResponse is the body of a failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Failure codes that are not an [types.ErrorKind] value.
const (
	CodeInvalidRequest = "invalid_request"
	CodeProviderError  = "provider_error"
)

// CodeFor returns the wire code reported for a backend failure of the given
// kind. Credential, quota and model kinds use their own value; everything
// else is reported as [CodeProviderError].
func CodeFor(kind types.ErrorKind) string {
	switch kind {
	case types.KindCredentialMissing, types.KindCredentialInvalid,
		types.KindQuotaExceeded, types.KindModelUnavailable:
		return string(kind)
	default:
		return CodeProviderError
	}
}

// KindForCode is the inverse of [CodeFor]. ok is false for codes that do not
// name a specific kind.
func KindForCode(code string) (kind types.ErrorKind, ok bool) {
	switch k := types.ErrorKind(code); k {
	case types.KindCredentialMissing, types.KindCredentialInvalid,
		types.KindQuotaExceeded, types.KindModelUnavailable:
		return k, true
	}
	return "", false
}
