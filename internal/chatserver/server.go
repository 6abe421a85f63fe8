// Package chatserver serves the chat backend: POST /chat turns a user
// message into one language model reply spoken in the current persona.
package chatserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrWong99/persona/internal/observe"
	"github.com/MrWong99/persona/internal/persona"
	"github.com/MrWong99/persona/pkg/chat"
	"github.com/MrWong99/persona/pkg/provider/llm"
	"github.com/MrWong99/persona/pkg/types"
)

// DefaultMaxBodyBytes bounds the size of a /chat request body.
const DefaultMaxBodyBytes = 64 << 10

// DefaultTimeout bounds one language model call.
const DefaultTimeout = 25 * time.Second

const msgRequired = "Message is required"

// Server handles /chat requests. It is safe for concurrent use.
type Server struct {
	llm      llm.Provider
	personas *persona.Store
	metrics  *observe.Metrics

	timeout      time.Duration
	maxBodyBytes int64

	unavailable atomic.Pointer[error]
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics records request outcomes on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithTimeout bounds each language model call. Values <= 0 are ignored.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMaxBodyBytes limits the request body size. Values <= 0 are ignored.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithUnavailable starts the server with err as its unavailability reason.
// See [Server.SetUnavailable].
func WithUnavailable(err error) Option {
	return func(s *Server) { s.SetUnavailable(err) }
}

// New creates a Server that answers with provider in the persona held by
// personas. provider may be nil only when the server is marked unavailable.
func New(provider llm.Provider, personas *persona.Store, opts ...Option) *Server {
	s := &Server{
		llm:          provider,
		personas:     personas,
		timeout:      DefaultTimeout,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.llm == nil && s.unavailable.Load() == nil {
		s.SetUnavailable(types.NewError(types.KindModelUnavailable, "no language model configured"))
	}
	return s
}

// SetUnavailable makes every request fail with err, classified by
// [llm.KindOf]. It is used when the backend cannot be built, most often for
// a missing or malformed credential. A nil err clears the state.
func (s *Server) SetUnavailable(err error) {
	if err == nil {
		s.unavailable.Store(nil)
		return
	}
	s.unavailable.Store(&err)
}

// Ready reports whether requests can currently be answered. It is meant for
// a readiness checker.
func (s *Server) Ready(context.Context) error {
	if p := s.unavailable.Load(); p != nil {
		return *p
	}
	if _, err := s.personas.Load(); err != nil {
		return err
	}
	return nil
}

// Register adds the chat route to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.Handle("POST "+chat.Path, s)
}

// ServeHTTP implements http.Handler for POST /chat.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req chat.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		msg := "request body must be a JSON object"
		if errors.Is(err, io.EOF) {
			msg = msgRequired
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			msg = "request body too large"
		}
		s.writeError(ctx, w, http.StatusBadRequest, chat.CodeInvalidRequest, msg)
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		s.writeError(ctx, w, http.StatusBadRequest, chat.CodeInvalidRequest, msgRequired)
		return
	}

	reply, err := s.reply(ctx, message)
	if err != nil {
		kind := llm.KindOf(err)
		log.Warn("chat request failed", "kind", kind, "err", err)
		s.writeError(ctx, w, http.StatusInternalServerError, chat.CodeFor(kind), errorText(err, kind))
		return
	}

	s.metrics.RecordChatRequest(ctx, "ok")
	writeJSON(w, http.StatusOK, chat.Response{Reply: reply})
}

func (s *Server) reply(ctx context.Context, message string) (string, error) {
	if p := s.unavailable.Load(); p != nil {
		return "", *p
	}
	p, err := s.personas.Load()
	if err != nil {
		return "", types.WrapError(types.KindModelUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ctx, span := observe.StartSpan(ctx, "chat.reply")

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: p.SystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: message}},
		Temperature:  p.Temperature,
		MaxTokens:    p.MaxTokens,
	})
	observe.EndSpan(span, err)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", nil
	}
	return strings.TrimSpace(resp.Content), nil
}

// errorText picks the message shown to the caller: a typed reason, the
// provider's own message, or the generic text of kind.
func errorText(err error, kind types.ErrorKind) string {
	var te *types.Error
	if errors.As(err, &te) && te.Reason != "" {
		return te.Reason
	}
	var le *llm.Error
	if errors.As(err, &le) && le.Err != nil {
		return le.Err.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "language model request timed out"
	}
	return kind.Message()
}

func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, status int, code, msg string) {
	s.metrics.RecordChatRequest(ctx, code)
	writeJSON(w, status, chat.ErrorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
