package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/grantdraft/grantdraft/engine/domain"
	"github.com/grantdraft/grantdraft/pkg/fn"
	"github.com/grantdraft/grantdraft/pkg/metrics"
	"github.com/grantdraft/grantdraft/pkg/resilience"
)

// GuardOptions configures Guard.
type GuardOptions struct {
	// Name labels errors and log lines, e.g. "openai".
	Name string
	// Dimension is the enforced vector length; <= 0 disables truncation.
	Dimension int
	// RatePerSecond throttles calls to the provider; <= 0 disables it.
	RatePerSecond float64
	Burst         int
	Retry         fn.RetryOpts
	Breaker       resilience.BreakerOpts
	Metrics       *metrics.Registry
	Logger        *slog.Logger
}

// Guarded wraps a Provider so that every call is throttled, retried on
// transient failures, protected by a circuit breaker and checked against
// the configured dimension. Every error it returns is a
// *domain.EmbeddingError.
type Guarded struct {
	next    Provider
	name    string
	dim     int
	limiter *rate.Limiter
	breaker *resilience.Breaker
	retry   fn.RetryOpts

	requests func(outcome string) *metrics.Counter
	duration *metrics.Histogram
}

// Guard wraps p.
func Guard(p Provider, opts GuardOptions) *Guarded {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	name := opts.Name
	if name == "" {
		name = "embedder"
	}

	retry := opts.Retry
	if retry.MaxAttempts == 0 {
		retry = fn.DefaultRetry
	}
	if retry.Retryable == nil {
		retry.Retryable = func(err error) bool { return !permanent(err) }
	}

	bopts := opts.Breaker
	if bopts.IsFailure == nil {
		bopts.IsFailure = isFailure
	}
	if bopts.OnStateChange == nil {
		bopts.OnStateChange = func(from, to resilience.State) {
			log.Warn("embed: circuit breaker", "provider", name, "from", from.String(), "to", to.String())
		}
	}

	g := &Guarded{
		next:    p,
		name:    name,
		dim:     opts.Dimension,
		breaker: resilience.NewBreaker(bopts),
		retry:   retry,
	}
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	if m := opts.Metrics; m != nil {
		g.requests = func(outcome string) *metrics.Counter {
			return m.Counter(metrics.WithLabels("grantdraft_embed_requests_total", "outcome", outcome), "Embedding calls by outcome")
		}
		g.duration = m.Histogram("grantdraft_embed_duration_seconds", "Embedding call time including retries", nil)
	}
	return g
}

// Embed implements Provider.
func (g *Guarded) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, g.fail(fmt.Errorf("%w: empty input", domain.ErrMalformedVector))
	}

	start := time.Now()
	r := fn.Retry(ctx, g.retry, func(ctx context.Context) fn.Result[[]float32] {
		if err := g.wait(ctx); err != nil {
			return fn.Err[[]float32](err)
		}
		return resilience.CallResult(g.breaker, ctx, func(ctx context.Context) fn.Result[[]float32] {
			vec, err := g.next.Embed(ctx, text)
			if err == nil {
				vec, err = Truncate(vec, g.dim)
			}
			return fn.FromPair(vec, err)
		})
	})
	vec, err := r.Unwrap()
	g.observe(start, err)
	if err != nil {
		return nil, g.fail(err)
	}
	return vec, nil
}

// wait blocks on the rate limiter. A wait that would outlive the context
// deadline reports context.DeadlineExceeded.
func (g *Guarded) wait(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	if err := g.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("rate limit: %w", context.DeadlineExceeded)
	}
	return nil
}

func (g *Guarded) observe(start time.Time, err error) {
	if g.requests == nil {
		return
	}
	g.duration.Since(start)
	if err != nil {
		g.requests("error").Inc()
		return
	}
	g.requests("ok").Inc()
}

func (g *Guarded) fail(err error) error {
	var ee *domain.EmbeddingError
	if errors.As(err, &ee) {
		return err
	}
	return &domain.EmbeddingError{Provider: g.name, Err: err}
}
