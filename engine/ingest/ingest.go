// Package ingest runs source documents through extraction, chunking,
// embedding and upsert into the vector store, one namespace per document.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/grantdraft/grantdraft/engine/catalog"
	"github.com/grantdraft/grantdraft/engine/chunk"
	"github.com/grantdraft/grantdraft/engine/domain"
	"github.com/grantdraft/grantdraft/engine/embed"
	"github.com/grantdraft/grantdraft/engine/extract"
	"github.com/grantdraft/grantdraft/engine/semantic"
	"github.com/grantdraft/grantdraft/pkg/fn"
	"github.com/grantdraft/grantdraft/pkg/metrics"
)

// DefaultExtension selects the documents a batch run picks up.
const DefaultExtension = ".docx"

// Deps holds the external dependencies for the ingestion pipeline.
type Deps struct {
	Extractor extract.Extractor
	Embedder  embed.Provider
	Store     semantic.Store
	Catalog   catalog.Catalog   // optional
	Metrics   *metrics.Registry // optional
	Logger    *slog.Logger
}

// Options tunes the pipeline. Zero values take the defaults.
type Options struct {
	ChunkSize int
	Overlap   int
	Extension string
	// Workers bounds concurrent embedding calls per document. 1 embeds
	// chunks sequentially.
	Workers int
}

// Pipeline ingests documents. It is safe for concurrent use.
type Pipeline struct {
	deps     Deps
	log      *slog.Logger
	splitter chunk.Splitter
	ext      string
	workers  int
	now      func() time.Time

	docs          func(status string) *metrics.Counter
	chunksOK      *metrics.Counter
	chunksSkipped *metrics.Counter
	duration      *metrics.Histogram
}

// New validates opts and builds a Pipeline.
func New(deps Deps, opts Options) (*Pipeline, error) {
	if deps.Extractor == nil || deps.Embedder == nil || deps.Store == nil {
		return nil, errors.New("ingest: extractor, embedder and store are required")
	}
	size, overlap := opts.ChunkSize, opts.Overlap
	if size == 0 {
		size, overlap = chunk.DefaultSize, chunk.DefaultOverlap
	}
	splitter, err := chunk.New(size, overlap)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	ext := strings.ToLower(opts.Extension)
	if ext == "" {
		ext = DefaultExtension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	p := &Pipeline{
		deps:     deps,
		log:      log,
		splitter: splitter,
		ext:      ext,
		workers:  workers,
		now:      time.Now,
	}
	if m := deps.Metrics; m != nil {
		p.docs = func(status string) *metrics.Counter {
			return m.Counter(metrics.WithLabels("grantdraft_documents_total", "status", status), "Documents processed by outcome")
		}
		p.chunksOK = m.Counter("grantdraft_chunks_embedded_total", "Chunks embedded")
		p.chunksSkipped = m.Counter("grantdraft_chunks_skipped_total", "Chunks skipped after an embedding failure")
		p.duration = m.Histogram("grantdraft_ingest_duration_seconds", "Time to process one document", nil)
	}
	return p, nil
}

// Extension returns the file extension batch runs pick up.
func (p *Pipeline) Extension() string { return p.ext }

// ProcessDocument runs one document through the state machine. Failures
// are reported in the Result, never as a panic or a separate error.
func (p *Pipeline) ProcessDocument(ctx context.Context, path string) Result {
	return p.process(ctx, path, nil)
}

// ProcessAll processes every document with the configured extension found
// directly under folder, in name order. A failing document never stops
// the batch. Inside one batch the first document to reach a namespace owns
// it; later documents normalising to the same namespace fail with
// ErrNamespaceCollision.
func (p *Pipeline) ProcessAll(ctx context.Context, folder string) ([]Result, error) {
	paths, err := p.List(folder)
	if err != nil {
		return nil, err
	}
	p.log.Info("ingest: batch start", "folder", folder, "documents", len(paths))

	claimed := make(map[string]string)
	results := make([]Result, 0, len(paths))
	var failed int
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		r := p.process(ctx, path, claimed)
		if !r.OK() {
			failed++
		}
		results = append(results, r)
	}
	p.log.Info("ingest: batch done", "folder", folder, "documents", len(results), "failed", failed)
	return results, nil
}

// List returns the documents a batch over folder would process.
func (p *Pipeline) List(folder string) ([]string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("ingest: read folder %s: %w", folder, err)
	}
	docs := fn.Filter(entries, func(e os.DirEntry) bool { return !e.IsDir() && p.Accepts(e.Name()) })
	return fn.Map(docs, func(e os.DirEntry) string { return filepath.Join(folder, e.Name()) }), nil
}

// Accepts reports whether name has the configured extension. Office lock
// files ("~$...") are ignored.
func (p *Pipeline) Accepts(name string) bool {
	base := filepath.Base(name)
	return strings.EqualFold(filepath.Ext(base), p.ext) && !strings.HasPrefix(base, "~$")
}

// DeleteDocument removes a document's namespace from the store and the
// catalog. Deleting an unknown document is not an error.
func (p *Pipeline) DeleteDocument(ctx context.Context, filename string) (string, error) {
	ns := domain.Namespace(filename)
	if err := domain.ValidateNamespace(ns); err != nil {
		return ns, err
	}
	if err := p.deps.Store.DeleteNamespace(ctx, ns); err != nil {
		return ns, err
	}
	if p.deps.Catalog != nil {
		if err := p.deps.Catalog.Forget(ctx, ns); err != nil {
			return ns, fmt.Errorf("ingest: forget %s: %w", ns, err)
		}
	}
	p.log.Info("ingest: document deleted", "document", domain.DocumentName(filename), "namespace", ns)
	return ns, nil
}

func (p *Pipeline) process(ctx context.Context, path string, claimed map[string]string) Result {
	start := time.Now()
	doc := document{
		Path:      path,
		Name:      domain.DocumentName(path),
		Namespace: domain.Namespace(path),
	}
	log := p.log.With("document", doc.Name, "namespace", doc.Namespace)

	prepare := fn.Then(stage(log, StateExtracting, p.extract), stage(log, StateChunking, p.chunk))
	vectors := fn.Then(stage(log, StateEmbedding, p.embed), fn.TapStage(p.countChunks))
	run := fn.Then(fn.Then(prepare, vectors), stage(log, StateUpserting, p.upserter(claimed)))

	res := run(ctx, doc)
	out, err := res.Unwrap()
	if p.duration != nil {
		p.duration.Since(start)
	}
	if err != nil {
		r := failure(doc, err)
		log.Error("ingest: document failed", "state", r.FailedAt, "err", err, "duration", time.Since(start))
		p.count(string(StatusFailed))
		return r
	}

	log.Info("ingest: document done",
		"chunks", len(out.Records), "total_chunks", len(out.Chunks),
		"skipped", out.Skipped, "duration", time.Since(start))
	p.count(string(StatusSuccess))
	return Result{
		Status:          StatusSuccess,
		Filename:        doc.Name,
		Namespace:       doc.Namespace,
		ChunksProcessed: len(out.Records),
		TotalChunks:     len(out.Chunks),
	}
}

// stage traces a step, logs its entry and exit, and tags its error with
// the state it failed in.
func stage[In, Out any](log *slog.Logger, state State, f fn.Stage[In, Out]) fn.Stage[In, Out] {
	return fn.TracedStage("ingest."+string(state), func(ctx context.Context, in In) fn.Result[Out] {
		log.Debug("stage.enter", "stage", state)
		start := time.Now()
		r := f(ctx, in)
		if _, err := r.Unwrap(); err != nil {
			return fn.Err[Out](&stageError{State: state, Err: err})
		}
		log.Debug("stage.exit", "stage", state, "duration", time.Since(start))
		return r
	})
}

func (p *Pipeline) extract(ctx context.Context, doc document) fn.Result[extracted] {
	// A name like ".docx" derives an empty namespace, which would read as
	// "every namespace" at query time.
	if err := domain.ValidateNamespace(doc.Namespace); err != nil {
		return fn.Err[extracted](&domain.ExtractionError{Document: doc.Name, Err: err})
	}
	text, err := p.deps.Extractor.Extract(ctx, doc.Path)
	if err == nil && strings.TrimSpace(text) == "" {
		err = &domain.ExtractionError{Document: doc.Name, Err: domain.ErrNoText}
	}
	if err != nil {
		return fn.Err[extracted](err)
	}
	return fn.Ok(extracted{document: doc, Text: text})
}

func (p *Pipeline) chunk(_ context.Context, in extracted) fn.Result[chunked] {
	chunks := p.splitter.Split(in.Text)
	if len(chunks) == 0 {
		return fn.Err[chunked](domain.ErrNoValidChunks)
	}
	return fn.Ok(chunked{document: in.document, Chunks: chunks})
}

// embed calls the provider for every chunk. A failed chunk is logged and
// skipped; ids come from the chunk's position, never from completion order.
func (p *Pipeline) embed(ctx context.Context, in chunked) fn.Result[embedded] {
	vecs := fn.ParMapResult(in.Chunks, p.workers, func(_ int, text string) fn.Result[[]float32] {
		return fn.FromPair(p.deps.Embedder.Embed(ctx, text))
	})

	out := embedded{chunked: in}
	for i, r := range vecs {
		vec, err := r.Unwrap()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fn.Err[embedded](ctxErr)
			}
			out.Skipped++
			p.log.Warn("ingest: chunk skipped", "document", in.Name, "chunk", i, "err", err)
			continue
		}
		out.Records = append(out.Records, semantic.VectorRecord{
			ID:        domain.ChunkID(in.Name, i),
			Embedding: vec,
			Metadata: semantic.Metadata{
				DocumentName: in.Name,
				ChunkIndex:   i,
				ChunkText:    in.Chunks[i],
				TotalChunks:  len(in.Chunks),
				Namespace:    in.Namespace,
			},
		})
	}
	return fn.Ok(out)
}

func (p *Pipeline) countChunks(_ context.Context, in embedded) {
	if p.chunksOK != nil {
		p.chunksOK.Add(int64(len(in.Records)))
		p.chunksSkipped.Add(int64(in.Skipped))
	}
}

// upserter writes a document's records in one batch after checking that
// no other document owns the namespace, then drops every other record in
// the namespace: the tail of a longer earlier version and the previous
// version of any chunk skipped this time.
func (p *Pipeline) upserter(claimed map[string]string) fn.Stage[embedded, embedded] {
	return func(ctx context.Context, in embedded) fn.Result[embedded] {
		if len(in.Records) == 0 {
			return fn.Err[embedded](domain.ErrNoValidChunks)
		}
		if err := p.checkOwner(ctx, in.document, claimed); err != nil {
			return fn.Err[embedded](err)
		}
		if err := p.deps.Store.Upsert(ctx, in.Namespace, in.Records); err != nil {
			return fn.Err[embedded](err)
		}
		if claimed != nil {
			claimed[in.Namespace] = in.Name
		}

		keep := fn.Map(in.Records, func(r semantic.VectorRecord) string { return r.ID })
		if err := p.deps.Store.Prune(ctx, in.Namespace, keep); err != nil {
			p.log.Warn("ingest: prune failed", "namespace", in.Namespace, "err", err)
		}
		if p.deps.Catalog != nil {
			entry := catalog.Entry{
				Namespace:  in.Namespace,
				Document:   in.Name,
				Chunks:     len(in.Records),
				IngestedAt: p.now(),
			}
			if err := p.deps.Catalog.Record(ctx, entry); err != nil {
				p.log.Warn("ingest: catalog record failed", "namespace", in.Namespace, "err", err)
			}
		}
		return fn.Ok(in)
	}
}

func (p *Pipeline) checkOwner(ctx context.Context, doc document, claimed map[string]string) error {
	owner := claimed[doc.Namespace]
	if owner == "" && p.deps.Catalog != nil {
		var err error
		owner, err = p.deps.Catalog.Owner(ctx, doc.Namespace)
		if err != nil {
			return fmt.Errorf("ingest: catalog lookup: %w", err)
		}
	}
	if owner != "" && owner != doc.Name {
		return fmt.Errorf("%w: %s is owned by %s", domain.ErrNamespaceCollision, doc.Namespace, owner)
	}
	return nil
}

func (p *Pipeline) count(status string) {
	if p.docs != nil {
		p.docs(status).Inc()
	}
}

func failure(doc document, err error) Result {
	r := Result{
		Status:    StatusFailed,
		Filename:  doc.Name,
		Namespace: doc.Namespace,
		FailedAt:  StateFailed,
		Reason:    err.Error(),
		Err:       err,
	}
	var se *stageError
	if errors.As(err, &se) {
		r.FailedAt = se.State
		r.Err = se.Err
		r.Reason = se.Err.Error()
	}
	switch {
	case errors.Is(err, domain.ErrNoText):
		r.Reason = domain.ErrNoText.Error()
	case errors.Is(err, domain.ErrNoValidChunks):
		r.Reason = domain.ErrNoValidChunks.Error()
	}
	return r
}
