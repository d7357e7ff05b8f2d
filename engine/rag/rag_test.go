package rag

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grantdraft/grantdraft/engine/domain"
	"github.com/grantdraft/grantdraft/engine/embed"
	"github.com/grantdraft/grantdraft/engine/semantic"
	"github.com/grantdraft/grantdraft/pkg/metrics"
)

const testDim = 64

// --- Mocks ---

type mockStore struct {
	semantic.Store
	queryErr error
	listErr  error
	names    []string
	lastNS   string
	lastTopK int
}

func (m *mockStore) Query(_ context.Context, _ []float32, topK int, ns string) ([]semantic.Match, error) {
	m.lastNS, m.lastTopK = ns, topK
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	return []semantic.Match{{ID: "x", Score: 0.5}}, nil
}

func (m *mockStore) ListNamespaces(context.Context) ([]string, error) {
	return m.names, m.listErr
}

func seeded(t *testing.T) (*Service, *semantic.Memory, *metrics.Registry) {
	t.Helper()
	ctx := context.Background()
	h := embed.NewHashing(testDim)
	store := semantic.NewMemory(testDim)

	docs := map[string][]string{
		"budget":       {"The budget covers staff costs and travel.", "Indirect costs are a flat rate of fifteen percent."},
		"target_group": {"The target group is unemployed youth in the region."},
		"risk_analysis": {
			"Key risks include low recruitment of participants.",
			"Mitigation relies on partner outreach.",
			"Budget overruns are monitored monthly.",
		},
	}
	for ns, texts := range docs {
		var recs []semantic.VectorRecord
		for i, text := range texts {
			vec, err := h.Embed(ctx, text)
			if err != nil {
				t.Fatal(err)
			}
			recs = append(recs, semantic.VectorRecord{
				ID:        domain.ChunkID(ns+".docx", i),
				Embedding: vec,
				Metadata: semantic.Metadata{
					DocumentName: ns + ".docx", ChunkIndex: i, ChunkText: text, TotalChunks: len(texts),
				},
			})
		}
		if err := store.Upsert(ctx, ns, recs); err != nil {
			t.Fatal(err)
		}
	}

	reg := metrics.New()
	opts := DefaultOptions()
	opts.Metrics = reg
	return New(h, store, opts, nil), store, reg
}

// --- Tests ---

func TestSearch_ScopedToNamespace(t *testing.T) {
	s, _, _ := seeded(t)
	results, err := s.Search(context.Background(), "budget costs", "risk_analysis", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("expected the 3 risk chunks, got %d", len(results))
	}
	for _, r := range results {
		if r.Namespace != "risk_analysis" {
			t.Errorf("result from namespace %q", r.Namespace)
		}
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not sorted: %v > %v", results[i].Score, results[i-1].Score)
		}
	}
}

func TestSearch_AllNamespaces(t *testing.T) {
	s, _, _ := seeded(t)
	for _, ns := range []string{"", "   "} {
		results, err := s.Search(context.Background(), "budget costs", ns, 6)
		if err != nil {
			t.Fatal(err)
		}
		seen := map[string]bool{}
		for _, r := range results {
			seen[r.Namespace] = true
		}
		if len(results) != 6 || len(seen) < 2 {
			t.Errorf("namespace %q: %d results from %d namespaces", ns, len(results), len(seen))
		}
		for i := 1; i < len(results); i++ {
			if results[i].Score > results[i-1].Score {
				t.Errorf("results not ranked globally at %d", i)
			}
		}
	}
}

func TestSearch_TopKDefaultsAndCap(t *testing.T) {
	store := &mockStore{}
	s := New(embed.NewHashing(8), store, Options{}, nil)
	if _, err := s.Search(context.Background(), "q", "", 0); err != nil {
		t.Fatal(err)
	}
	if store.lastTopK != DefaultTopK {
		t.Errorf("default top_k = %d", store.lastTopK)
	}
	_, _ = s.Search(context.Background(), "q", "", 10_000)
	if store.lastTopK != MaxTopK {
		t.Errorf("capped top_k = %d", store.lastTopK)
	}
}

func TestSearch_MissingMetadataDefaults(t *testing.T) {
	s := New(embed.NewHashing(8), &mockStore{}, Options{}, nil)
	results, err := s.Search(context.Background(), "q", "budget", 1)
	if err != nil {
		t.Fatal(err)
	}
	r := results[0]
	if r.Text != "" || r.DocumentName != "" || r.ChunkIndex != 0 || r.Namespace != "budget" {
		t.Errorf("result = %+v", r)
	}
}

func TestSearch_Validation(t *testing.T) {
	s, _, _ := seeded(t)
	cases := map[string]struct {
		query, ns string
		want      error
	}{
		"empty":     {"  ", "", domain.ErrEmptyQuery},
		"too long":  {strings.Repeat("a", domain.MaxQueryLength+1), "", domain.ErrQueryTooLong},
		"namespace": {"q", "../x", domain.ErrInvalidNamespace},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := s.Search(context.Background(), c.query, c.ns, 5)
			if !errors.Is(err, c.want) {
				t.Errorf("got %v, want %v", err, c.want)
			}
		})
	}
}

func TestSearch_FailuresAreNotEmptyResults(t *testing.T) {
	broken := embed.ProviderFunc(func(context.Context, string) ([]float32, error) {
		return nil, &domain.EmbeddingError{Provider: "test", Err: errors.New("quota")}
	})
	reg := metrics.New()
	s := New(broken, &mockStore{}, Options{Metrics: reg}, nil)
	results, err := s.Search(context.Background(), "q", "", 5)
	var ee *domain.EmbeddingError
	if !errors.As(err, &ee) || results != nil {
		t.Fatalf("expected EmbeddingError, got %v, %v", results, err)
	}

	store := &mockStore{queryErr: &domain.StoreError{Op: "query", Err: errors.New("down")}}
	s = New(embed.NewHashing(8), store, Options{Metrics: reg}, nil)
	_, err = s.Search(context.Background(), "q", "", 5)
	var se *domain.StoreError
	if !errors.As(err, &se) {
		t.Fatalf("expected StoreError, got %v", err)
	}
	if !strings.Contains(reg.Render(), `grantdraft_search_total{outcome="error"} 2`) {
		t.Errorf("metrics:\n%s", reg.Render())
	}
}

func TestDocumentContent(t *testing.T) {
	s, _, _ := seeded(t)
	content, err := s.DocumentContent(context.Background(), "Risk Analysis.docx", "recruitment risks", 2)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(content, "[Chunk 1]\n") || !strings.Contains(content, "\n\n[Chunk 2]\n") {
		t.Errorf("content = %q", content)
	}
	if strings.Contains(content, "[Chunk 3]") || strings.HasSuffix(content, "\n") {
		t.Errorf("content = %q", content)
	}

	empty, err := s.DocumentContent(context.Background(), "Unknown.docx", "anything", 3)
	if err != nil || empty != "" {
		t.Errorf("unknown document: %q, %v", empty, err)
	}
}

func TestSectionContext(t *testing.T) {
	s, _, _ := seeded(t)
	if got := SectionNamespace(" Target Group "); got != "target_group" {
		t.Errorf("SectionNamespace = %q", got)
	}
	ctx, err := s.SectionContext(context.Background(), "who benefits", "Target Group")
	if err != nil {
		t.Fatal(err)
	}
	if ctx != "The target group is unemployed youth in the region." {
		t.Errorf("context = %q", ctx)
	}

	ctx, _ = s.SectionContext(context.Background(), "risks", "Risk Analysis")
	if n := strings.Count(ctx, "\n\n"); n != SectionTopK-1 {
		t.Errorf("expected %d chunks, got %q", SectionTopK, ctx)
	}
	if _, err := s.SectionContext(context.Background(), "q", "  "); err == nil {
		t.Error("expected error for blank section")
	}
}

func TestNamespaces(t *testing.T) {
	s, _, _ := seeded(t)
	list, err := s.Namespaces(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if list.Degraded || strings.Join(list.Names, ",") != "budget,risk_analysis,target_group" {
		t.Errorf("list = %+v", list)
	}
}

func TestNamespaces_DegradedFallback(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"Project Summary.docx", "Internal-Policies.docx", "notes.txt", "~$Project Summary.docx"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	s := New(embed.NewHashing(8), &mockStore{}, Options{DocumentsDir: dir}, nil)
	list, err := s.Namespaces(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !list.Degraded || strings.Join(list.Names, ",") != "internal_policies,project_summary" {
		t.Errorf("list = %+v", list)
	}

	s = New(embed.NewHashing(8), &mockStore{}, Options{DocumentsDir: filepath.Join(dir, "missing")}, nil)
	list, err = s.Namespaces(context.Background())
	if err != nil || len(list.Names) != 0 {
		t.Errorf("missing folder: %+v, %v", list, err)
	}
}

func TestNamespaces_StoreErrorPropagates(t *testing.T) {
	store := &mockStore{listErr: &domain.StoreError{Op: "list namespaces", Err: errors.New("down")}}
	s := New(embed.NewHashing(8), store, Options{DocumentsDir: t.TempDir()}, nil)
	if _, err := s.Namespaces(context.Background()); err == nil {
		t.Fatal("store failure must not be masked by the disk fallback")
	}
}

func TestDeleteNamespaceAndStats(t *testing.T) {
	s, _, _ := seeded(t)
	ctx := context.Background()
	if err := s.DeleteNamespace(ctx, "budget"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteNamespace(ctx, "budget"); err != nil {
		t.Errorf("second delete: %v", err)
	}
	if err := s.DeleteNamespace(ctx, "Bad Name"); !errors.Is(err, domain.ErrInvalidNamespace) {
		t.Errorf("expected ErrInvalidNamespace, got %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalVectorCount != 4 || stats.Dimension != testDim || stats.Namespaces["budget"] != 0 {
		t.Errorf("stats = %+v", stats)
	}
}
