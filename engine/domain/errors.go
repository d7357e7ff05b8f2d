package domain

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Sentinel errors.
var (
	ErrEmptyQuery         = errors.New("query is empty")
	ErrQueryTooLong       = errors.New("query too long")
	ErrInvalidNamespace   = errors.New("invalid namespace")
	ErrInvalidChunking    = errors.New("invalid chunking parameters")
	ErrNoText             = errors.New("no text extracted")
	ErrNoValidChunks      = errors.New("no valid chunks to upsert")
	ErrNamespaceCollision = errors.New("namespace already owned by another document")
	ErrMalformedVector    = errors.New("malformed embedding vector")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

// ValidationError wraps a sentinel with the offending field.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// ExtractionError reports that no text could be obtained from a document.
type ExtractionError struct {
	Document string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Document, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// EmbeddingError reports a failed or malformed embedding call.
type EmbeddingError struct {
	Provider string
	Err      error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding %s: %v", e.Provider, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// StoreError reports a failed vector index operation. Records is the size
// of the batch the failure belongs to, zero for non-write operations.
type StoreError struct {
	Op        string
	Namespace string
	Records   int
	Err       error
}

func (e *StoreError) Error() string {
	msg := "store " + e.Op
	if e.Namespace != "" {
		msg += " namespace=" + e.Namespace
	}
	if e.Records > 0 {
		msg += fmt.Sprintf(" records=%d", e.Records)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ConfigurationError reports missing or inconsistent startup configuration.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrInvalidConfig }

// IsTimeout reports whether err stems from a deadline, whichever layer
// produced it: context, network client or gRPC.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	if s, ok := status.FromError(err); ok && s.Code() == codes.DeadlineExceeded {
		return true
	}
	return false
}

// Error kinds reported by Kind.
const (
	KindValidation    = "validation"
	KindExtraction    = "extraction"
	KindEmbedding     = "embedding"
	KindStore         = "store"
	KindConfiguration = "configuration"
	KindCollision     = "collision"
	KindTimeout       = "timeout"
	KindInternal      = "internal"
)

// Kind classifies err for callers that render errors to users.
// Timeouts win over the layer that reported them.
func Kind(err error) string {
	if IsTimeout(err) {
		return KindTimeout
	}
	var (
		ve *ValidationError
		xe *ExtractionError
		ee *EmbeddingError
		se *StoreError
		ce *ConfigurationError
	)
	switch {
	case errors.Is(err, ErrNamespaceCollision):
		return KindCollision
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &xe):
		return KindExtraction
	case errors.As(err, &ee):
		return KindEmbedding
	case errors.As(err, &se):
		return KindStore
	case errors.As(err, &ce):
		return KindConfiguration
	}
	return KindInternal
}
