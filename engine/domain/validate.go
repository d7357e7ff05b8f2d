package domain

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxQueryLength bounds search queries, in characters.
const MaxQueryLength = 2000

const maxNamespaceLength = 255

// ValidateQuery checks a search query and returns it trimmed.
func ValidateQuery(q string) (string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return "", NewValidationError("query", q, ErrEmptyQuery)
	}
	if utf8.RuneCountInString(q) > MaxQueryLength {
		return "", NewValidationError("query", truncate(q, 40), ErrQueryTooLong)
	}
	return q, nil
}

// ValidateNamespace rejects namespaces that cannot have been derived from a
// filename.
func ValidateNamespace(ns string) error {
	if ns == "" || len(ns) > maxNamespaceLength || strings.ContainsAny(ns, `/\`) {
		return NewValidationError("namespace", ns, ErrInvalidNamespace)
	}
	for _, r := range ns {
		if unicode.IsControl(r) || unicode.IsSpace(r) || unicode.IsUpper(r) {
			return NewValidationError("namespace", ns, ErrInvalidNamespace)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
