package ingest

import (
	"github.com/grantdraft/grantdraft/engine/semantic"
)

// State is a document's position in the ingestion state machine.
type State string

const (
	StateExtracting State = "extracting"
	StateChunking   State = "chunking"
	StateEmbedding  State = "embedding"
	StateUpserting  State = "upserting"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Status is the outcome recorded for one document.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Result summarises the processing of one document.
type Result struct {
	Status          Status `json:"status"`
	Filename        string `json:"filename"`
	Namespace       string `json:"namespace"`
	ChunksProcessed int    `json:"chunks_processed"`
	TotalChunks     int    `json:"total_chunks"`
	Reason          string `json:"reason,omitempty"`
	FailedAt        State  `json:"failed_at,omitempty"`

	// Err is the underlying failure, kept for error classification.
	Err error `json:"-"`
}

// OK reports whether the document was ingested.
func (r Result) OK() bool { return r.Status == StatusSuccess }

// document is a source file entering the pipeline.
type document struct {
	Path      string
	Name      string
	Namespace string
}

// extracted carries the document's plain text.
type extracted struct {
	document
	Text string
}

// chunked carries the document's chunks in order.
type chunked struct {
	document
	Chunks []string
}

// embedded carries one record per successfully embedded chunk.
type embedded struct {
	chunked
	Records []semantic.VectorRecord
	Skipped int
}

// stageError tags a failure with the state it happened in.
type stageError struct {
	State State
	Err   error
}

func (e *stageError) Error() string { return string(e.State) + ": " + e.Err.Error() }
func (e *stageError) Unwrap() error { return e.Err }
