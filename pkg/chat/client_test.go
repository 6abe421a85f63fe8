package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/persona/pkg/types"
)

func TestClient_Reply(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chat" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Message != "What is your superpower?" {
			t.Errorf("message = %q", req.Message)
		}
		_ = json.NewEncoder(w).Encode(Response{Reply: "Consistency and rapid learning."})
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	got, err := c.Reply(context.Background(), "What is your superpower?")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if got != "Consistency and rapid learning." {
		t.Errorf("reply = %q", got)
	}
}

func TestClient_FailureMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		want   types.ErrorKind
	}{
		{"code credential missing", 500, `{"error":"no key","code":"credential_missing"}`, types.KindCredentialMissing},
		{"code credential invalid", 500, `{"error":"bad","code":"credential_invalid"}`, types.KindCredentialInvalid},
		{"code quota", 500, `{"error":"x","code":"quota_exceeded"}`, types.KindQuotaExceeded},
		{"code model", 500, `{"error":"x","code":"model_unavailable"}`, types.KindModelUnavailable},
		{"message without code", 500, `{"error":"OpenAI API Key not configured. Please add OPENAI_API_KEY to .env.local"}`, types.KindCredentialMissing},
		{"message quota", 500, `{"error":"You exceeded your current quota"}`, types.KindQuotaExceeded},
		{"provider error", 500, `{"error":"upstream exploded","code":"provider_error"}`, types.KindNetworkError},
		{"invalid request", 400, `{"error":"Message is required","code":"invalid_request"}`, types.KindNetworkError},
		{"status only", 401, ``, types.KindCredentialInvalid},
		{"html body", 502, `<html>bad gateway</html>`, types.KindNetworkError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(srv.URL).Reply(context.Background(), "hi")
			var te *types.Error
			if !errors.As(err, &te) {
				t.Fatalf("error %v is not *types.Error", err)
			}
			if te.Kind != tt.want {
				t.Errorf("kind = %q, want %q", te.Kind, tt.want)
			}
			if te.Reason == "" {
				t.Error("reason should not be empty")
			}
		})
	}
}

func TestClient_NetworkFailures(t *testing.T) {
	t.Parallel()

	t.Run("connection refused", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := New(url).Reply(context.Background(), "hi")
		if got := types.KindOf(err, ""); got != types.KindNetworkError {
			t.Errorf("kind = %q, want network_error", got)
		}
	})

	t.Run("undecodable reply", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("not json"))
		}))
		defer srv.Close()

		_, err := New(srv.URL).Reply(context.Background(), "hi")
		if got := types.KindOf(err, ""); got != types.KindNetworkError {
			t.Errorf("kind = %q, want network_error", got)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		_, err := New(srv.URL, WithTimeout(20*time.Millisecond)).Reply(context.Background(), "hi")
		if got := types.KindOf(err, ""); got != types.KindNetworkError {
			t.Errorf("kind = %q, want network_error", got)
		}
	})

	t.Run("blank message never sent", func(t *testing.T) {
		t.Parallel()
		calls := 0
		srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { calls++ }))
		defer srv.Close()

		_, err := New(srv.URL).Reply(context.Background(), "   ")
		if !errors.Is(err, ErrEmptyMessage) {
			t.Errorf("err = %v, want ErrEmptyMessage", err)
		}
		if calls != 0 {
			t.Errorf("server called %d times", calls)
		}
	})
}

func TestCodeFor(t *testing.T) {
	t.Parallel()

	for _, k := range []types.ErrorKind{types.KindCredentialMissing, types.KindCredentialInvalid, types.KindQuotaExceeded, types.KindModelUnavailable} {
		code := CodeFor(k)
		back, ok := KindForCode(code)
		if !ok || back != k {
			t.Errorf("KindForCode(CodeFor(%q)) = (%q, %v)", k, back, ok)
		}
	}
	if got := CodeFor(types.KindNetworkError); got != CodeProviderError {
		t.Errorf("CodeFor(network) = %q", got)
	}
	if _, ok := KindForCode(CodeInvalidRequest); ok {
		t.Error("invalid_request must not map to a kind")
	}
}
