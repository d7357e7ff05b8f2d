package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTimeout(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"context", fmt.Errorf("wrap: %w", context.DeadlineExceeded), true},
		{"net", &EmbeddingError{Provider: "openai", Err: timeoutErr{}}, true},
		{"grpc", &StoreError{Op: "query", Err: status.Error(codes.DeadlineExceeded, "slow")}, true},
		{"grpc other", status.Error(codes.Unavailable, "down"), false},
		{"canceled", context.Canceled, false},
	}
	for _, c := range cases {
		if got := IsTimeout(c.err); got != c.want {
			t.Errorf("%s: IsTimeout = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{NewValidationError("query", "", ErrEmptyQuery), KindValidation},
		{&ExtractionError{Document: "a.docx", Err: ErrNoText}, KindExtraction},
		{fmt.Errorf("rag: %w", &EmbeddingError{Provider: "x", Err: errors.New("quota")}), KindEmbedding},
		{&StoreError{Op: "upsert", Err: errors.New("refused")}, KindStore},
		{&ConfigurationError{Field: "qdrant.addr", Reason: "required"}, KindConfiguration},
		{fmt.Errorf("ingest: %w", ErrNamespaceCollision), KindCollision},
		{&StoreError{Op: "query", Err: context.DeadlineExceeded}, KindTimeout},
		{errors.New("other"), KindInternal},
	}
	for _, c := range cases {
		if got := Kind(c.err); got != c.want {
			t.Errorf("Kind(%v) = %s, want %s", c.err, got, c.want)
		}
	}
}

func TestStoreErrorMessage(t *testing.T) {
	err := &StoreError{Op: "upsert", Namespace: "example_report", Records: 3, Err: errors.New("quota")}
	want := "store upsert namespace=example_report records=3: quota"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
}

func TestConfigurationErrorIsInvalidConfig(t *testing.T) {
	err := &ConfigurationError{Field: "embedder.api_key", Reason: "required"}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatal("expected errors.Is ErrInvalidConfig")
	}
}
