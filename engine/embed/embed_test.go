package embed

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/grantdraft/grantdraft/engine/domain"
	"github.com/grantdraft/grantdraft/pkg/resilience"
)

func TestTruncate(t *testing.T) {
	long := make([]float32, 1536)
	for i := range long {
		long[i] = float32(i)
	}
	got, err := Truncate(long, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1024 || got[0] != 0 || got[1023] != 1023 {
		t.Fatalf("expected leading 1024 elements, got len=%d last=%v", len(got), got[len(got)-1])
	}
	long[0] = 99
	if got[0] != 0 {
		t.Fatal("truncated vector must not alias the input")
	}
}

func TestTruncate_ExactLength(t *testing.T) {
	v := []float32{1, 2, 3}
	got, err := Truncate(v, 3)
	if err != nil || len(got) != 3 {
		t.Fatalf("expected unchanged vector, got %v %v", got, err)
	}
}

func TestTruncate_NeverPads(t *testing.T) {
	_, err := Truncate([]float32{1, 2}, 4)
	if !errors.Is(err, domain.ErrMalformedVector) {
		t.Fatalf("expected ErrMalformedVector, got %v", err)
	}
	_, err = Truncate(nil, 4)
	if !errors.Is(err, domain.ErrMalformedVector) {
		t.Fatalf("expected ErrMalformedVector for empty vector, got %v", err)
	}
}

func TestTruncate_Disabled(t *testing.T) {
	got, err := Truncate([]float32{1, 2, 3}, 0)
	if err != nil || len(got) != 3 {
		t.Fatalf("dim 0 should pass vectors through, got %v %v", got, err)
	}
}

func TestPermanent(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&HTTPError{Status: 400}, true},
		{&HTTPError{Status: 401}, true},
		{fmt.Errorf("wrap: %w", &HTTPError{Status: 429}), false},
		{&HTTPError{Status: 503}, false},
		{context.Canceled, true},
		{resilience.ErrCircuitOpen, true},
		{domain.ErrMalformedVector, true},
		{errors.New("connection reset"), false},
	}
	for _, c := range cases {
		if got := permanent(c.err); got != c.want {
			t.Errorf("permanent(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestIsFailure(t *testing.T) {
	if isFailure(&HTTPError{Status: 400}) {
		t.Error("client errors should not trip the breaker")
	}
	if !isFailure(&HTTPError{Status: 500}) || !isFailure(&HTTPError{Status: 429}) {
		t.Error("server errors and throttling should trip the breaker")
	}
	if isFailure(context.Canceled) {
		t.Error("cancellation is not a provider failure")
	}
}

func TestHashing_DeterministicAndNormalised(t *testing.T) {
	h := NewHashing(64)
	a, err := h.Embed(context.Background(), "Regional innovation hub for SMEs")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := h.Embed(context.Background(), "regional INNOVATION hub, for smes!")
	if len(a) != 64 {
		t.Fatalf("expected 64 dims, got %d", len(a))
	}
	var norm float64
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("tokenisation should ignore case and punctuation (dim %d)", i)
		}
		norm += float64(a[i]) * float64(a[i])
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Fatalf("expected unit vector, norm=%f", norm)
	}
}

func TestHashing_SimilarTextsScoreHigher(t *testing.T) {
	h := NewHashing(DefaultDimension)
	ctx := context.Background()
	q, _ := h.Embed(ctx, "risk analysis for the project")
	near, _ := h.Embed(ctx, "a risk analysis of project delays")
	far, _ := h.Embed(ctx, "communication plan with newsletters")
	if dot(q, near) <= dot(q, far) {
		t.Fatalf("expected overlapping vocabulary to score higher: near=%f far=%f", dot(q, near), dot(q, far))
	}
}

func TestHashing_NoTokens(t *testing.T) {
	_, err := NewHashing(8).Embed(context.Background(), " ... !!! ")
	if !errors.Is(err, domain.ErrMalformedVector) {
		t.Fatalf("expected ErrMalformedVector, got %v", err)
	}
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
