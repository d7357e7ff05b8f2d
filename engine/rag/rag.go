// Package rag answers similarity queries over the ingested reference
// documents and assembles grounding context for text generation.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/grantdraft/grantdraft/engine/domain"
	"github.com/grantdraft/grantdraft/engine/embed"
	"github.com/grantdraft/grantdraft/engine/semantic"
	"github.com/grantdraft/grantdraft/pkg/fn"
	"github.com/grantdraft/grantdraft/pkg/metrics"
)

const (
	DefaultTopK       = 5
	MaxTopK           = 100
	DefaultMaxChunks  = 3
	SectionTopK       = 3
	defaultSearchWait = 10 * time.Second
)

// Sections are the application sections with a reference document each.
var Sections = []string{
	"Project Summary",
	"Challenges and Needs",
	"Target Group",
	"Organisation Structure",
	"Risk Analysis",
	"Communication Plan",
	"Internal Policies",
}

// Service is the retrieval service.
type Service struct {
	embed embed.Provider
	store semantic.Store
	opts  Options
	log   *slog.Logger

	searches func(outcome string) *metrics.Counter
	latency  *metrics.Histogram
}

// Options configures retrieval.
type Options struct {
	TopK          int
	SearchTimeout time.Duration
	// DocumentsDir and Extension drive the degraded namespace listing used
	// while the index is still empty.
	DocumentsDir string
	Extension    string
	Metrics      *metrics.Registry
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		TopK:          DefaultTopK,
		SearchTimeout: defaultSearchWait,
		Extension:     ".docx",
	}
}

// New creates a retrieval Service.
func New(p embed.Provider, store semantic.Store, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.Extension == "" {
		opts.Extension = ".docx"
	}
	s := &Service{embed: p, store: store, opts: opts, log: logger}
	if m := opts.Metrics; m != nil {
		s.searches = func(outcome string) *metrics.Counter {
			return m.Counter(metrics.WithLabels("grantdraft_search_total", "outcome", outcome), "Searches by outcome")
		}
		s.latency = m.Histogram("grantdraft_search_duration_seconds", "Search latency including the query embedding", nil)
	}
	return s
}

// SearchResult is one ranked hit. Absent metadata is left at its zero value.
type SearchResult struct {
	ID           string  `json:"id"`
	Score        float32 `json:"score"`
	Text         string  `json:"text"`
	DocumentName string  `json:"document_name"`
	ChunkIndex   int     `json:"chunk_index"`
	Namespace    string  `json:"namespace"`
}

// Search embeds query and returns up to topK hits by descending score. An
// empty namespace searches every namespace. topK <= 0 uses the configured
// default. Embedding and store failures are returned, never an empty list.
func (s *Service) Search(ctx context.Context, query, namespace string, topK int) ([]SearchResult, error) {
	start := time.Now()
	results, err := s.search(ctx, query, namespace, topK)
	s.observe(start, len(results), err)
	return results, err
}

func (s *Service) search(ctx context.Context, query, namespace string, topK int) ([]SearchResult, error) {
	q, err := domain.ValidateQuery(query)
	if err != nil {
		return nil, err
	}
	namespace = strings.TrimSpace(namespace)
	if namespace != "" {
		if err := domain.ValidateNamespace(namespace); err != nil {
			return nil, err
		}
	}
	if topK <= 0 {
		topK = s.opts.TopK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}

	if s.opts.SearchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.SearchTimeout)
		defer cancel()
	}

	vec, err := s.embed.Embed(ctx, q)
	if err != nil {
		return nil, err
	}
	matches, err := s.store.Query(ctx, vec, topK, namespace)
	if err != nil {
		return nil, err
	}

	results := fn.Map(matches, func(m semantic.Match) SearchResult {
		r := SearchResult{
			ID:           m.ID,
			Score:        m.Score,
			Text:         m.Metadata.ChunkText,
			DocumentName: m.Metadata.DocumentName,
			ChunkIndex:   m.Metadata.ChunkIndex,
			Namespace:    m.Metadata.Namespace,
		}
		if r.Namespace == "" {
			r.Namespace = namespace
		}
		return r
	})
	s.log.Debug("rag: search", "namespace", namespace, "top_k", topK, "results", len(results))
	return results, nil
}

func (s *Service) observe(start time.Time, n int, err error) {
	if s.searches == nil {
		return
	}
	s.latency.Since(start)
	switch {
	case err != nil:
		s.searches("error").Inc()
	case n == 0:
		s.searches("empty").Inc()
	default:
		s.searches("ok").Inc()
	}
}

// DocumentContent returns the maxChunks most relevant chunks of one
// reference document, each under a "[Chunk N]" marker.
func (s *Service) DocumentContent(ctx context.Context, documentName, query string, maxChunks int) (string, error) {
	if maxChunks <= 0 {
		maxChunks = DefaultMaxChunks
	}
	results, err := s.Search(ctx, query, domain.Namespace(documentName), maxChunks)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "[Chunk %d]\n%s\n\n", i+1, r.Text)
	}
	return strings.TrimRightFunc(b.String(), unicode.IsSpace), nil
}

// SectionNamespace maps an application section name to the namespace of
// its reference document.
func SectionNamespace(section string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' {
			return '_'
		}
		return unicode.ToLower(r)
	}, strings.TrimSpace(section))
}

// SectionContext returns the texts of the best SectionTopK chunks from a
// section's reference document, separated by blank lines.
func (s *Service) SectionContext(ctx context.Context, query, section string) (string, error) {
	ns := SectionNamespace(section)
	if ns == "" {
		return "", domain.NewValidationError("section", section, domain.ErrInvalidNamespace)
	}
	results, err := s.Search(ctx, query, ns, SectionTopK)
	if err != nil {
		return "", err
	}
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Text
	}
	return strings.TrimSpace(strings.Join(texts, "\n\n")), nil
}

// NamespaceList is the outcome of namespace enumeration. Degraded is set
// when the names were derived from files on disk because the index holds
// none.
type NamespaceList struct {
	Names    []string `json:"namespaces"`
	Degraded bool     `json:"degraded"`
}

// Namespaces lists the indexed namespaces. The store is the source of
// truth; its errors are returned. Only an empty index falls back to the
// documents folder.
func (s *Service) Namespaces(ctx context.Context) (NamespaceList, error) {
	names, err := s.store.ListNamespaces(ctx)
	if err != nil {
		return NamespaceList{}, err
	}
	if len(names) > 0 || s.opts.DocumentsDir == "" {
		if names == nil {
			names = []string{}
		}
		return NamespaceList{Names: names}, nil
	}

	fallback, err := s.diskNamespaces()
	if err != nil {
		s.log.Warn("rag: namespace fallback failed", "mode", "degraded", "dir", s.opts.DocumentsDir, "err", err)
		return NamespaceList{Names: []string{}}, nil
	}
	s.log.Warn("rag: index has no namespaces, listing documents on disk",
		"mode", "degraded", "dir", s.opts.DocumentsDir, "namespaces", len(fallback))
	return NamespaceList{Names: fallback, Degraded: true}, nil
}

func (s *Service) diskNamespaces() ([]string, error) {
	entries, err := os.ReadDir(s.opts.DocumentsDir)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	names := []string{}
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), s.opts.Extension) || strings.HasPrefix(e.Name(), "~$") {
			continue
		}
		ns := domain.Namespace(e.Name())
		if !seen[ns] {
			seen[ns] = true
			names = append(names, ns)
		}
	}
	sort.Strings(names)
	return names, nil
}

// DeleteNamespace removes a namespace from the index. Unknown namespaces
// are not an error.
func (s *Service) DeleteNamespace(ctx context.Context, namespace string) error {
	if err := domain.ValidateNamespace(namespace); err != nil {
		return err
	}
	return s.store.DeleteNamespace(ctx, namespace)
}

// Stats describes the index.
func (s *Service) Stats(ctx context.Context) (semantic.IndexStats, error) {
	return s.store.Describe(ctx)
}
