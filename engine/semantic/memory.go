package semantic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/grantdraft/grantdraft/engine/domain"
)

// Memory is an in-process Store. With a path set, every mutation is
// written to a JSON snapshot before it becomes visible, and the snapshot is
// loaded on open.
type Memory struct {
	mu   sync.RWMutex
	dim  int
	path string
	data map[string]map[string]VectorRecord // namespace -> id -> record
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store. A dimension of 0 is fixed by
// the first upsert.
func NewMemory(dim int) *Memory {
	return &Memory{dim: dim, data: make(map[string]map[string]VectorRecord)}
}

// OpenMemory returns a Memory persisted at path, loading it if present.
func OpenMemory(path string, dim int) (*Memory, error) {
	m := NewMemory(dim)
	m.path = path
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, &domain.StoreError{Op: "open", Err: err}
	}
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, &domain.StoreError{Op: "open", Err: fmt.Errorf("decode %s: %w", path, err)}
	}
	if m.dim == 0 {
		m.dim = snap.Dimension
	} else if snap.Dimension != 0 && snap.Dimension != m.dim {
		return nil, &domain.StoreError{Op: "open", Err: fmt.Errorf("snapshot dimension %d, want %d", snap.Dimension, m.dim)}
	}
	for _, r := range snap.Records {
		ns := r.Metadata.Namespace
		if m.data[ns] == nil {
			m.data[ns] = make(map[string]VectorRecord)
		}
		m.data[ns][r.ID] = r
	}
	return m, nil
}

type snapshot struct {
	Dimension int            `json:"dimension"`
	Records   []VectorRecord `json:"records"`
}

func (m *Memory) Upsert(_ context.Context, namespace string, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	dim := m.dim
	for _, r := range records {
		if dim == 0 {
			dim = len(r.Embedding)
		}
		if len(r.Embedding) != dim || dim == 0 {
			return &domain.StoreError{
				Op: "upsert", Namespace: namespace, Records: len(records),
				Err: fmt.Errorf("record %s has dimension %d, want %d: %w", r.ID, len(r.Embedding), dim, domain.ErrMalformedVector),
			}
		}
	}

	next := make(map[string]VectorRecord, len(m.data[namespace])+len(records))
	maps.Copy(next, m.data[namespace])
	for _, r := range records {
		r.Metadata.Namespace = namespace
		r.Embedding = append([]float32(nil), r.Embedding...)
		next[r.ID] = r
	}
	if err := m.commit(namespace, next, dim); err != nil {
		return &domain.StoreError{Op: "upsert", Namespace: namespace, Records: len(records), Err: err}
	}
	return nil
}

func (m *Memory) Query(_ context.Context, vector []float32, topK int, namespace string) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.dim != 0 && len(vector) != m.dim {
		return nil, &domain.StoreError{
			Op: "query", Namespace: namespace,
			Err: fmt.Errorf("query dimension %d, want %d: %w", len(vector), m.dim, domain.ErrMalformedVector),
		}
	}

	var matches []Match
	scan := func(bucket map[string]VectorRecord) {
		for id, r := range bucket {
			matches = append(matches, Match{ID: id, Score: cosine(vector, r.Embedding), Metadata: r.Metadata})
		}
	}
	if namespace != "" {
		scan(m.data[namespace])
	} else {
		for _, bucket := range m.data {
			scan(bucket)
		}
	}

	sortMatches(matches)
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (m *Memory) Describe(context.Context) (IndexStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := IndexStats{Dimension: m.dim, Namespaces: make(map[string]int, len(m.data))}
	for ns, bucket := range m.data {
		if len(bucket) == 0 {
			continue
		}
		stats.Namespaces[ns] = len(bucket)
		stats.TotalVectorCount += len(bucket)
	}
	return stats, nil
}

func (m *Memory) DeleteNamespace(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[namespace]; !ok {
		return nil
	}
	if err := m.commit(namespace, nil, m.dim); err != nil {
		return &domain.StoreError{Op: "delete namespace", Namespace: namespace, Err: err}
	}
	return nil
}

func (m *Memory) ListNamespaces(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.data))
	for ns, bucket := range m.data {
		if len(bucket) > 0 {
			names = append(names, ns)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) Prune(_ context.Context, namespace string, keep []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := m.data[namespace]
	kept := make(map[string]bool, len(keep))
	for _, id := range keep {
		kept[id] = true
	}
	next := make(map[string]VectorRecord, len(keep))
	for id, r := range bucket {
		if kept[id] {
			next[id] = r
		}
	}
	if len(next) == len(bucket) {
		return nil
	}
	if err := m.commit(namespace, next, m.dim); err != nil {
		return &domain.StoreError{Op: "prune", Namespace: namespace, Err: err}
	}
	return nil
}

// commit replaces namespace's records with next, writing the snapshot
// first so that a failed write leaves the store unchanged. An empty next
// drops the namespace. Callers hold the write lock.
func (m *Memory) commit(namespace string, next map[string]VectorRecord, dim int) error {
	if err := m.persist(namespace, next, dim); err != nil {
		return err
	}
	m.dim = dim
	if len(next) == 0 {
		delete(m.data, namespace)
	} else {
		m.data[namespace] = next
	}
	return nil
}

// persist atomically writes the snapshot the store would have with
// namespace's records replaced by next.
func (m *Memory) persist(namespace string, next map[string]VectorRecord, dim int) error {
	if m.path == "" {
		return nil
	}
	snap := snapshot{Dimension: dim}
	for ns, bucket := range m.data {
		if ns == namespace {
			continue
		}
		for _, r := range bucket {
			snap.Records = append(snap.Records, r)
		}
	}
	for _, r := range next {
		snap.Records = append(snap.Records, r)
	}
	sort.Slice(snap.Records, func(i, j int) bool { return snap.Records[i].ID < snap.Records[j].ID })

	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, m.path)
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
