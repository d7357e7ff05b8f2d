package semantic

import "sort"

// Metadata is stored alongside every vector; it is enough to render a
// search result without a second lookup.
type Metadata struct {
	DocumentName string `json:"document_name"`
	ChunkIndex   int    `json:"chunk_index"`
	ChunkText    string `json:"chunk_text"`
	TotalChunks  int    `json:"total_chunks"`
	Namespace    string `json:"namespace"`
}

// VectorRecord is one stored chunk.
type VectorRecord struct {
	ID        string    `json:"id"`
	Embedding []float32 `json:"embedding"`
	Metadata  Metadata  `json:"metadata"`
}

// Match is a single similarity search hit. Fields absent from the stored
// payload are left at their zero value.
type Match struct {
	ID       string   `json:"id"`
	Score    float32  `json:"score"`
	Metadata Metadata `json:"metadata"`
}

// IndexStats describes the index contents.
type IndexStats struct {
	TotalVectorCount int            `json:"total_vector_count"`
	Dimension        int            `json:"dimension"`
	Namespaces       map[string]int `json:"namespaces"`
}

// sortMatches orders by descending score, then ascending id so that equal
// scores rank deterministically.
func sortMatches(ms []Match) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].Score != ms[j].Score {
			return ms[i].Score > ms[j].Score
		}
		return ms[i].ID < ms[j].ID
	})
}
