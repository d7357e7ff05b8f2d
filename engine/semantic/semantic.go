// Package semantic stores chunk vectors partitioned by namespace and answers
// cosine similarity queries, scoped to one namespace or across all of them.
package semantic

import "context"

// Store is the vector index contract.
//
// Upsert replaces records with an existing id. Query returns at most topK
// matches by descending cosine similarity, ties ordered by id; an empty
// namespace searches every namespace and ranks globally. DeleteNamespace
// is idempotent. ListNamespaces omits namespaces without vectors and is
// sorted. Prune removes a namespace's records whose id is not in keep. All
// failures are *domain.StoreError.
type Store interface {
	Upsert(ctx context.Context, namespace string, records []VectorRecord) error
	Query(ctx context.Context, vector []float32, topK int, namespace string) ([]Match, error)
	Describe(ctx context.Context) (IndexStats, error)
	DeleteNamespace(ctx context.Context, namespace string) error
	ListNamespaces(ctx context.Context) ([]string, error)
	Prune(ctx context.Context, namespace string, keep []string) error
}
