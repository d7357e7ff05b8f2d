package embed

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/grantdraft/grantdraft/engine/domain"
	"github.com/grantdraft/grantdraft/pkg/fn"
	"github.com/grantdraft/grantdraft/pkg/metrics"
	"github.com/grantdraft/grantdraft/pkg/resilience"
)

var fastRetry = fn.RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond}

func vector(n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = float32(i + 1)
	}
	return v
}

func TestGuard_TruncatesToDimension(t *testing.T) {
	p := ProviderFunc(func(context.Context, string) ([]float32, error) { return vector(1536), nil })
	g := Guard(p, GuardOptions{Name: "test", Dimension: 1024, Retry: fastRetry})
	vec, err := g.Embed(context.Background(), "text")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 1024 || vec[1023] != 1024 {
		t.Fatalf("expected first 1024 elements, got len=%d", len(vec))
	}
}

func TestGuard_ShortVectorIsEmbeddingError(t *testing.T) {
	var calls atomic.Int32
	p := ProviderFunc(func(context.Context, string) ([]float32, error) {
		calls.Add(1)
		return vector(10), nil
	})
	g := Guard(p, GuardOptions{Name: "test", Dimension: 1024, Retry: fastRetry})
	_, err := g.Embed(context.Background(), "text")
	var ee *domain.EmbeddingError
	if !errors.As(err, &ee) || ee.Provider != "test" {
		t.Fatalf("expected EmbeddingError from test, got %v", err)
	}
	if !errors.Is(err, domain.ErrMalformedVector) {
		t.Fatalf("expected ErrMalformedVector, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("malformed output should not be retried, got %d calls", calls.Load())
	}
}

func TestGuard_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	p := ProviderFunc(func(context.Context, string) ([]float32, error) {
		if calls.Add(1) < 3 {
			return nil, &HTTPError{Status: 503}
		}
		return vector(4), nil
	})
	g := Guard(p, GuardOptions{Dimension: 4, Retry: fastRetry})
	if _, err := g.Embed(context.Background(), "text"); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestGuard_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	p := ProviderFunc(func(context.Context, string) ([]float32, error) {
		calls.Add(1)
		return nil, &HTTPError{Status: 401, Body: "bad key"}
	})
	g := Guard(p, GuardOptions{Name: "openai", Retry: fastRetry})
	_, err := g.Embed(context.Background(), "text")
	var he *HTTPError
	if !errors.As(err, &he) || he.Status != 401 {
		t.Fatalf("expected wrapped 401, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", calls.Load())
	}
}

func TestGuard_EmptyInput(t *testing.T) {
	called := false
	p := ProviderFunc(func(context.Context, string) ([]float32, error) { called = true; return vector(4), nil })
	_, err := Guard(p, GuardOptions{}).Embed(context.Background(), "  \n ")
	var ee *domain.EmbeddingError
	if !errors.As(err, &ee) {
		t.Fatalf("expected EmbeddingError, got %v", err)
	}
	if called {
		t.Fatal("provider should not be called for blank input")
	}
}

func TestGuard_BreakerOpensAndShortCircuits(t *testing.T) {
	var calls atomic.Int32
	p := ProviderFunc(func(context.Context, string) ([]float32, error) {
		calls.Add(1)
		return nil, errors.New("connection refused")
	})
	g := Guard(p, GuardOptions{
		Retry:   fn.RetryOpts{MaxAttempts: 1},
		Breaker: resilience.BreakerOpts{FailThreshold: 2, Timeout: time.Minute},
	})
	ctx := context.Background()
	_, _ = g.Embed(ctx, "a")
	_, _ = g.Embed(ctx, "b")
	_, err := g.Embed(ctx, "c")
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected provider to be skipped while open, got %d calls", calls.Load())
	}
}

func TestGuard_RateLimitDeadlineIsTimeout(t *testing.T) {
	p := ProviderFunc(func(context.Context, string) ([]float32, error) { return vector(2), nil })
	g := Guard(p, GuardOptions{RatePerSecond: 0.1, Burst: 1, Retry: fn.RetryOpts{MaxAttempts: 1}})

	if _, err := g.Embed(context.Background(), "first"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := g.Embed(ctx, "second")
	if !domain.IsTimeout(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if domain.Kind(err) != domain.KindTimeout {
		t.Fatalf("expected timeout kind, got %s", domain.Kind(err))
	}
}

func TestGuard_Metrics(t *testing.T) {
	reg := metrics.New()
	p := ProviderFunc(func(_ context.Context, text string) ([]float32, error) {
		if text == "bad" {
			return nil, &HTTPError{Status: 400}
		}
		return vector(2), nil
	})
	g := Guard(p, GuardOptions{Retry: fastRetry, Metrics: reg})
	_, _ = g.Embed(context.Background(), "good")
	_, _ = g.Embed(context.Background(), "bad")

	out := reg.Render()
	for _, want := range []string{
		`grantdraft_embed_requests_total{outcome="ok"} 1`,
		`grantdraft_embed_requests_total{outcome="error"} 1`,
		"grantdraft_embed_duration_seconds_count 2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics missing %q\n%s", want, out)
		}
	}
}
