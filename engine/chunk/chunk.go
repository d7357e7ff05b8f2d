// Package chunk splits extracted document text into overlapping,
// sentence-aware segments sized for embedding.
package chunk

import (
	"fmt"
	"strings"

	"github.com/grantdraft/grantdraft/engine/domain"
)

const (
	DefaultSize    = 1000
	DefaultOverlap = 200

	// boundaryWindow is how far back from a raw window end the splitter
	// looks for a sentence terminator.
	boundaryWindow = 100
)

// Splitter cuts text into chunks of at most Size characters, each sharing
// up to Overlap characters with its predecessor. Lengths are counted in
// runes. A Splitter is stateless and safe for concurrent use.
type Splitter struct {
	Size    int
	Overlap int
}

// New returns a validated Splitter.
func New(size, overlap int) (Splitter, error) {
	s := Splitter{Size: size, Overlap: overlap}
	if err := s.Validate(); err != nil {
		return Splitter{}, err
	}
	return s, nil
}

// Default returns a Splitter with the reference parameters (1000/200).
func Default() Splitter {
	return Splitter{Size: DefaultSize, Overlap: DefaultOverlap}
}

// Validate checks that the parameters guarantee forward progress.
func (s Splitter) Validate() error {
	if s.Size <= 0 {
		return domain.NewValidationError("chunk_size", fmt.Sprint(s.Size), domain.ErrInvalidChunking)
	}
	if s.Overlap < 0 || s.Overlap >= s.Size {
		return domain.NewValidationError("chunk_overlap", fmt.Sprint(s.Overlap), domain.ErrInvalidChunking)
	}
	return nil
}

// Split returns the ordered chunks of text. Text no longer than Size comes
// back as a single chunk, unchanged. Whitespace-only text and
// whitespace-only chunks are dropped.
func (s Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	n := len(runes)
	if n <= s.Size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < n {
		end := start + s.Size
		if end >= n {
			end = n
		} else {
			end = sentenceBreak(runes, start, end)
		}

		if c := strings.TrimSpace(string(runes[start:end])); c != "" {
			chunks = append(chunks, c)
		}
		if end == n {
			break
		}

		next := end - s.Overlap
		if next <= start {
			// Snapping pulled the break too far back to keep any overlap.
			next = end
		}
		start = next
	}
	return chunks
}

// Split is a convenience wrapper validating size and overlap before
// splitting.
func Split(text string, size, overlap int) ([]string, error) {
	s, err := New(size, overlap)
	if err != nil {
		return nil, err
	}
	return s.Split(text), nil
}

// sentenceBreak returns the position just after the sentence terminator
// closest to end, searching back at most boundaryWindow runes and never
// before start. Breaks past end would exceed the chunk size and are not
// considered. Without a terminator the raw end is returned.
func sentenceBreak(runes []rune, start, end int) int {
	lo := end - boundaryWindow
	if lo < start {
		lo = start
	}
	for i := end - 1; i >= lo; i-- {
		switch runes[i] {
		case '.', '!', '?', '\n':
			return i + 1
		}
	}
	return end
}
