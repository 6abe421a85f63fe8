package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/persona/pkg/types"
)

// DefaultBaseURL is used when New is given an empty base URL.
const DefaultBaseURL = "http://localhost:8080"

// maxErrorBody bounds how much of a failed response is read.
const maxErrorBody = 64 << 10

// ErrEmptyMessage is returned by Reply for a blank message.
var ErrEmptyMessage = errors.New("chat: message must not be empty")

// Option is a functional option for [New].
type Option func(*Client)

// WithTimeout bounds every request. Zero means no client-side timeout; the
// caller's context still applies.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// WithHTTPClient replaces the HTTP client. Its transport is used as is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// Client talks to the chat backend. It is stateless between calls, never
// retries and is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a Client for the backend at baseURL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return "chat " + r.Method + " " + r.URL.Path
				}),
			),
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Reply sends message to the backend and returns the persona's reply.
//
// Every failure is a *[types.Error]. Backend failures carry the kind named by
// the response code, or guessed from the message; transport failures,
// timeouts and unreadable responses are [types.KindNetworkError].
func (c *Client) Reply(ctx context.Context, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", types.WrapError(types.KindNetworkError, ErrEmptyMessage)
	}

	body, err := json.Marshal(Request{Message: message})
	if err != nil {
		return "", types.WrapError(types.KindNetworkError, fmt.Errorf("chat: encode request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+Path, bytes.NewReader(body))
	if err != nil {
		return "", types.WrapError(types.KindNetworkError, fmt.Errorf("chat: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", types.WrapError(types.KindNetworkError, fmt.Errorf("chat: request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", failure(resp)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", types.WrapError(types.KindNetworkError, fmt.Errorf("chat: decode reply: %w", err))
	}
	return out.Reply, nil
}

// failure maps a non-200 response to a *types.Error.
func failure(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var eb ErrorResponse
	if err := json.Unmarshal(raw, &eb); err != nil || eb.Error == "" {
		eb.Error = strings.TrimSpace(string(raw))
		if eb.Error == "" {
			eb.Error = resp.Status
		}
	}
	return &types.Error{
		Kind:   classify(resp.StatusCode, eb.Code, eb.Error),
		Reason: eb.Error,
		Err:    fmt.Errorf("chat: backend returned status %d", resp.StatusCode),
	}
}

// classify consults the response code, then the message, then the status.
func classify(status int, code, message string) types.ErrorKind {
	if kind, ok := KindForCode(code); ok {
		return kind
	}
	if kind, ok := types.KindFromMessage(message); ok {
		return kind
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return types.KindCredentialInvalid
	case http.StatusPaymentRequired, http.StatusTooManyRequests:
		return types.KindQuotaExceeded
	}
	return types.KindNetworkError
}
