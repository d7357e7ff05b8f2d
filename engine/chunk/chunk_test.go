package chunk

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/grantdraft/grantdraft/engine/domain"
)

// sharedOverlap returns the longest k <= max such that a ends with the
// first k bytes of b.
func sharedOverlap(a, b string, max int) int {
	for k := max; k > 0; k-- {
		if k <= len(a) && k <= len(b) && strings.HasSuffix(a, b[:k]) {
			return k
		}
	}
	return 0
}

func sentences(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "Sentence %03d is here. ", i)
	}
	return b.String()
}

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	cases := []string{"a", "Hello world.", " padded text ", strings.Repeat("x", DefaultSize)}
	for _, text := range cases {
		got := Default().Split(text)
		if len(got) != 1 || got[0] != text {
			t.Errorf("Split(%q) = %q, want exactly the input", text, got)
		}
	}
}

func TestSplit_EmptyAndBlank(t *testing.T) {
	for _, text := range []string{"", "   ", strings.Repeat(" \n\t", 800)} {
		if got := Default().Split(text); len(got) != 0 {
			t.Errorf("expected no chunks for blank input, got %d", len(got))
		}
	}
}

func TestSplit_2500CharsGivesThreeChunks(t *testing.T) {
	text := strings.Repeat("abcdefghij", 250)
	chunks, err := Split(text, 1000, 200)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 1000 {
			t.Errorf("chunk %d has %d chars", i, len(c))
		}
	}
	for i := 0; i+1 < len(chunks); i++ {
		if ov := sharedOverlap(chunks[i], chunks[i+1], 200); ov != 200 {
			t.Errorf("chunks %d/%d overlap %d, want 200", i, i+1, ov)
		}
	}
	if !strings.HasSuffix(text, chunks[2]) {
		t.Error("last chunk should end at the end of the text")
	}
}

func TestSplit_SnapsToSentenceBoundary(t *testing.T) {
	text := sentences(200)
	chunks := Default().Split(text)
	if len(chunks) < 4 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n > DefaultSize {
			t.Errorf("chunk %d has %d chars", i, n)
		}
		if i < len(chunks)-1 && !strings.HasSuffix(c, ".") {
			t.Errorf("chunk %d does not end on a sentence: %q", i, c[len(c)-20:])
		}
	}
}

func TestSplit_ConsecutiveChunksOverlap(t *testing.T) {
	texts := []string{
		sentences(300),
		strings.Repeat("word ", 900),
		strings.Repeat("Line without stop\n", 250),
	}
	for ti, text := range texts {
		chunks := Default().Split(text)
		for i := 0; i+1 < len(chunks); i++ {
			ov := sharedOverlap(chunks[i], chunks[i+1], DefaultOverlap)
			if ov == 0 || ov > DefaultOverlap {
				t.Errorf("text %d chunks %d/%d: overlap %d", ti, i, i+1, ov)
			}
		}
	}
}

func TestSplit_Deterministic(t *testing.T) {
	text := sentences(150)
	a := Default().Split(text)
	b := Default().Split(text)
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("chunk %d differs", i)
		}
	}
}

func TestSplit_CountsRunes(t *testing.T) {
	text := strings.Repeat("åäö", 500)
	chunks, err := Split(text, 1000, 200)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d is not valid UTF-8", i)
		}
		if n := utf8.RuneCountInString(c); n > 1000 {
			t.Errorf("chunk %d has %d runes", i, n)
		}
	}
}

func TestSplit_NoProgressWhenSnapFallsBehindOverlap(t *testing.T) {
	text := strings.Repeat("x", 50) + "." + strings.Repeat("y", 1000)
	chunks, err := Split(text, 150, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) == 0 || chunks[0] != strings.Repeat("x", 50)+"." {
		t.Fatalf("expected first chunk to end at the terminator, got %q", chunks[0])
	}
	for i, c := range chunks {
		if len(c) > 150 {
			t.Errorf("chunk %d has %d chars", i, len(c))
		}
	}
	if !strings.HasSuffix(text, chunks[len(chunks)-1]) {
		t.Error("splitting did not reach the end of the text")
	}
}

func TestNew_InvalidParameters(t *testing.T) {
	cases := []struct{ size, overlap int }{
		{0, 0},
		{-1, 0},
		{100, 100},
		{100, 150},
		{100, -1},
	}
	for _, c := range cases {
		_, err := New(c.size, c.overlap)
		if !errors.Is(err, domain.ErrInvalidChunking) {
			t.Errorf("New(%d, %d): expected ErrInvalidChunking, got %v", c.size, c.overlap, err)
		}
	}
	if _, err := Split("text", 10, 10); err == nil {
		t.Error("Split should validate parameters")
	}
}
