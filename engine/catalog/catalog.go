// Package catalog records which document owns each namespace so that two
// files mapping to the same namespace are caught across ingestion runs.
package catalog

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/grantdraft/grantdraft/pkg/repo"
)

// Entry is one ingested document.
type Entry struct {
	Namespace  string    `json:"namespace"`
	Document   string    `json:"document"`
	Chunks     int       `json:"chunks"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Catalog maps namespaces to their owning documents. Owner returns "" for
// an unclaimed namespace.
type Catalog interface {
	Owner(ctx context.Context, namespace string) (string, error)
	Record(ctx context.Context, e Entry) error
	Forget(ctx context.Context, namespace string) error
	List(ctx context.Context) ([]Entry, error)
}

// Memory is a process-local Catalog.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemory returns an empty in-memory catalog.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

func (m *Memory) Owner(_ context.Context, namespace string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries[namespace].Document, nil
}

func (m *Memory) Record(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.Namespace] = e
	return nil
}

func (m *Memory) Forget(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, namespace)
	return nil
}

func (m *Memory) List(context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Namespace < out[j].Namespace })
	return out, nil
}

// Neo4j stores entries as (:Document) nodes keyed by namespace.
type Neo4j struct {
	repo *repo.Neo4jRepo[Entry, string]
}

// NewNeo4j builds a catalog on driver. database may be empty.
func NewNeo4j(driver neo4j.DriverWithContext, database string) *Neo4j {
	return &Neo4j{repo: repo.NewNeo4jRepo[Entry, string](
		driver, "Document", toProps, fromRecord,
		repo.WithIDKey[Entry, string]("namespace"),
		repo.WithDatabase[Entry, string](database),
	)}
}

// EnsureSchema creates the namespace uniqueness constraint.
func (c *Neo4j) EnsureSchema(ctx context.Context) error {
	return c.repo.EnsureConstraint(ctx)
}

func (c *Neo4j) Owner(ctx context.Context, namespace string) (string, error) {
	e, err := c.repo.Get(ctx, namespace)
	if errors.Is(err, repo.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return e.Document, nil
}

func (c *Neo4j) Record(ctx context.Context, e Entry) error {
	return c.repo.Put(ctx, e)
}

func (c *Neo4j) Forget(ctx context.Context, namespace string) error {
	return c.repo.Delete(ctx, namespace)
}

func (c *Neo4j) List(ctx context.Context) ([]Entry, error) {
	return c.repo.List(ctx, repo.ListOpts{Limit: 10_000})
}

func toProps(e Entry) map[string]any {
	return map[string]any{
		"namespace":   e.Namespace,
		"document":    e.Document,
		"chunks":      int64(e.Chunks),
		"ingested_at": e.IngestedAt.UTC(),
	}
}

func fromRecord(rec *neo4j.Record) (Entry, error) {
	raw, ok := rec.Get("n")
	if !ok {
		return Entry{}, errors.New("catalog: record has no n column")
	}
	props, ok := raw.(map[string]any)
	if !ok {
		return Entry{}, errors.New("catalog: n is not a property map")
	}
	e := Entry{}
	e.Namespace, _ = props["namespace"].(string)
	e.Document, _ = props["document"].(string)
	if n, ok := props["chunks"].(int64); ok {
		e.Chunks = int(n)
	}
	if t, ok := props["ingested_at"].(time.Time); ok {
		e.IngestedAt = t
	}
	return e, nil
}
