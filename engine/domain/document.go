package domain

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// Namespace derives the index partition key for a document filename:
// directory and extension dropped, lower-cased, whitespace and hyphens
// replaced by underscores.
func Namespace(filename string) string {
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' {
			return '_'
		}
		return unicode.ToLower(r)
	}, base)
}

// DocumentName returns the name a document is recorded under.
func DocumentName(path string) string {
	return filepath.Base(path)
}

// ChunkID returns the deterministic point id for a chunk of a document.
// The same (document, index) pair always yields the same id.
func ChunkID(document string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s-%d", document, index))).String()
}
