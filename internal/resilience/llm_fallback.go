package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/persona/internal/observe"
	"github.com/MrWong99/persona/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with failover across several
// language model backends, each behind its own circuit breaker.
//
// Credential failures are passed through without tripping a breaker: they
// say nothing about backend health.
type LLMFallback struct {
	group   *FallbackGroup[llm.Provider]
	metrics *observe.Metrics
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred
// backend. Latency and errors are recorded on m; nil uses
// [observe.DefaultMetrics].
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig, m *observe.Metrics) *LLMFallback {
	if cfg.CircuitBreaker.IsFailure == nil {
		cfg.CircuitBreaker.IsFailure = isBackendFailure
	}
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &LLMFallback{
		group:   NewFallbackGroup(primary, primaryName, cfg),
		metrics: m,
	}
}

// AddFallback registers an additional backend.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Backends returns the backend names in failover order.
func (f *LLMFallback) Backends() []string {
	return f.group.Names()
}

// Complete sends req to the first healthy backend that answers. When all
// fail, the returned error wraps [ErrAllFailed] and the last backend's error,
// so [llm.KindOf] still sees its classification.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, _, err := ExecuteWithResult(ctx, f.group, func(ctx context.Context, name string, p llm.Provider) (*llm.CompletionResponse, error) {
		start := time.Now()
		resp, err := p.Complete(ctx, req)
		status := "ok"
		if err != nil {
			status = "error"
			f.metrics.RecordProviderError(ctx, name, string(llm.KindOf(err)))
		}
		f.metrics.RecordLLM(ctx, name, status, time.Since(start))
		return resp, err
	})
	return resp, err
}

func isBackendFailure(err error) bool {
	return !errors.Is(err, context.Canceled) && !llm.IsConfigError(err)
}
