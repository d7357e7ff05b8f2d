//go:build integration

package semantic

import (
	"context"
	"os"
	"testing"

	"github.com/grantdraft/grantdraft/engine/domain"
)

func qdrantAddr() string {
	if v := os.Getenv("QDRANT_URL"); v != "" {
		return v
	}
	return "localhost:6334"
}

func testStore(t *testing.T, collection string) *Qdrant {
	t.Helper()
	q, err := NewQdrant(qdrantAddr(), collection, os.Getenv("QDRANT_API_KEY"))
	if err != nil {
		t.Fatalf("connect qdrant: %v", err)
	}
	t.Cleanup(func() {
		q.DeleteCollection(context.Background())
		q.Close()
	})
	return q
}

func TestQdrant_RoundTrip(t *testing.T) {
	q := testStore(t, "grantdraft_test_roundtrip")
	ctx := context.Background()

	if err := q.EnsureCollection(ctx, 4); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if err := q.EnsureCollection(ctx, 4); err != nil {
		t.Fatalf("EnsureCollection (again): %v", err)
	}

	records := []VectorRecord{
		{ID: domain.ChunkID("a.docx", 0), Embedding: []float32{1, 0, 0, 0}, Metadata: Metadata{DocumentName: "a.docx", ChunkIndex: 0, TotalChunks: 2}},
		{ID: domain.ChunkID("a.docx", 1), Embedding: []float32{0, 1, 0, 0}, Metadata: Metadata{DocumentName: "a.docx", ChunkIndex: 1, TotalChunks: 2}},
	}
	if err := q.Upsert(ctx, "a", records); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	matches, err := q.Query(ctx, []float32{1, 0, 0, 0}, 1, "a")
	if err != nil || len(matches) != 1 || matches[0].Metadata.ChunkIndex != 0 {
		t.Fatalf("Query = %+v, %v", matches, err)
	}

	if err := q.Prune(ctx, "a", []string{domain.ChunkID("a.docx", 0)}); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n, _ := q.Count(ctx, "a"); n != 1 {
		t.Errorf("count after prune = %d", n)
	}

	if err := q.DeleteNamespace(ctx, "a"); err != nil {
		t.Fatalf("DeleteNamespace: %v", err)
	}
	names, _ := q.ListNamespaces(ctx)
	if len(names) != 0 {
		t.Errorf("namespaces after delete = %v", names)
	}
}
