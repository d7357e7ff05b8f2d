// Package embed turns text into fixed-length vectors. Concrete providers
// talk to an embedding model; Guard adds throttling, retries, a circuit
// breaker and the dimension contract on top of any of them.
package embed

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/grantdraft/grantdraft/engine/domain"
	"github.com/grantdraft/grantdraft/pkg/resilience"
)

// DefaultDimension is the stored vector length.
const DefaultDimension = 1024

// Provider embeds a single text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, text string) ([]float32, error)

func (f ProviderFunc) Embed(ctx context.Context, text string) ([]float32, error) { return f(ctx, text) }

// HTTPError is a non-2xx response from an embedding API.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.Status)
	}
	return fmt.Sprintf("status %d: %s", e.Status, e.Body)
}

// Truncate enforces the stored dimension: longer vectors are cut to dim
// keeping their leading elements, shorter or empty ones are rejected.
// dim <= 0 disables the check.
func Truncate(vec []float32, dim int) ([]float32, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: empty vector", domain.ErrMalformedVector)
	}
	if dim <= 0 || len(vec) == dim {
		return vec, nil
	}
	if len(vec) < dim {
		return nil, fmt.Errorf("%w: got %d dimensions, want %d", domain.ErrMalformedVector, len(vec), dim)
	}
	out := make([]float32, dim)
	copy(out, vec)
	return out, nil
}

// permanent reports errors that another attempt cannot fix.
func permanent(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, resilience.ErrCircuitOpen) ||
		errors.Is(err, domain.ErrMalformedVector) {
		return true
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status >= 400 && he.Status < 500 && he.Status != http.StatusTooManyRequests
	}
	return false
}

// isFailure reports errors that say something about the provider's health.
func isFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status >= 500 || he.Status == http.StatusTooManyRequests
	}
	return true
}
