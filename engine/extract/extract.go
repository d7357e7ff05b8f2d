// Package extract pulls plain text out of source documents.
package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/grantdraft/grantdraft/engine/domain"
)

// Extractor returns the plain text of the document at path.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// Registry maps lower-case file extensions (with dot) to extractors.
type Registry map[string]Extractor

// Default returns the extractors for the supported formats.
func Default() Registry {
	return Registry{
		".docx": DOCX{},
		".txt":  Text{},
		".md":   Text{},
	}
}

// For returns the extractor handling path's extension.
func (r Registry) For(path string) (Extractor, bool) {
	e, ok := r[strings.ToLower(filepath.Ext(path))]
	return e, ok
}

// Extract dispatches on path's extension.
func (r Registry) Extract(ctx context.Context, path string) (string, error) {
	e, ok := r.For(path)
	if !ok {
		return "", &domain.ExtractionError{
			Document: filepath.Base(path),
			Err:      fmt.Errorf("unsupported format %q", filepath.Ext(path)),
		}
	}
	return e.Extract(ctx, path)
}

// Text reads UTF-8 text files as-is.
type Text struct{}

// Extract implements Extractor.
func (Text) Extract(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &domain.ExtractionError{Document: filepath.Base(path), Err: err}
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", &domain.ExtractionError{Document: filepath.Base(path), Err: domain.ErrNoText}
	}
	return text, nil
}
