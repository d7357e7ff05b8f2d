package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/grantdraft/grantdraft/engine/catalog"
	"github.com/grantdraft/grantdraft/engine/domain"
	"github.com/grantdraft/grantdraft/engine/ingest"
	"github.com/grantdraft/grantdraft/engine/rag"
	"github.com/grantdraft/grantdraft/pkg/metrics"
)

type server struct {
	rag     *rag.Service
	ingest  *ingest.Pipeline
	catalog catalog.Catalog
	folder  string
	timeout time.Duration
	log     *slog.Logger
}

func (s *server) routes(reg *metrics.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handleHealth)
	mux.Handle("GET /metrics", reg.Handler())
	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/namespaces", s.handleNamespaces)
	mux.HandleFunc("DELETE /api/namespaces/{namespace}", s.handleDeleteNamespace)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/documents/{name}/content", s.handleDocumentContent)
	mux.HandleFunc("GET /api/sections/{section}/context", s.handleSectionContext)
	mux.HandleFunc("POST /api/ingest", s.handleIngest)
	return mux
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func statusFor(kind string) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindCollision:
		return http.StatusConflict
	case domain.KindExtraction:
		return http.StatusUnprocessableEntity
	case domain.KindEmbedding, domain.KindStore:
		return http.StatusBadGateway
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.Kind(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "path", r.URL.Path, "kind", kind, "err", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind})
}

func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, domain.NewValidationError(name, v, errors.New("must be a non-negative integer"))
	}
	return n, nil
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type searchResponse struct {
	Query     string             `json:"query"`
	Namespace string             `json:"namespace,omitempty"`
	Results   []rag.SearchResult `json:"results"`
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	topK, err := intParam(r, "top_k")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q, ns := r.URL.Query().Get("q"), r.URL.Query().Get("namespace")
	results, err := s.rag.Search(r.Context(), q, ns, topK)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if results == nil {
		results = []rag.SearchResult{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Query: q, Namespace: ns, Results: results})
}

func (s *server) handleNamespaces(w http.ResponseWriter, r *http.Request) {
	list, err := s.rag.Namespaces(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *server) handleDeleteNamespace(w http.ResponseWriter, r *http.Request) {
	ns := r.PathValue("namespace")
	if err := s.rag.DeleteNamespace(r.Context(), ns); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.catalog != nil {
		if err := s.catalog.Forget(r.Context(), ns); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": ns})
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.rag.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *server) handleDocumentContent(w http.ResponseWriter, r *http.Request) {
	maxChunks, err := intParam(r, "max_chunks")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	name := r.PathValue("name")
	content, err := s.rag.DocumentContent(r.Context(), name, r.URL.Query().Get("q"), maxChunks)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"document":  name,
		"namespace": domain.Namespace(name),
		"content":   content,
	})
}

func (s *server) handleSectionContext(w http.ResponseWriter, r *http.Request) {
	section := r.PathValue("section")
	text, err := s.rag.SectionContext(r.Context(), r.URL.Query().Get("q"), section)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"section":   section,
		"namespace": rag.SectionNamespace(section),
		"context":   text,
	})
}

type batchResponse struct {
	Results   []ingest.Result `json:"results"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
}

// handleIngest ingests one document ({"path": "..."}, relative to the
// documents folder) or, for an empty body, the whole folder.
func (s *server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingest.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, r, domain.NewValidationError("body", "", err))
		return
	}

	ctx := r.Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if req.Path == "" && !req.Delete {
		results, err := s.ingest.ProcessAll(ctx, s.folder)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp := batchResponse{Results: results}
		for _, res := range results {
			if res.OK() {
				resp.Succeeded++
			} else {
				resp.Failed++
			}
		}
		if resp.Results == nil {
			resp.Results = []ingest.Result{}
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	res := s.ingest.Handle(ctx, s.folder, req)
	status := http.StatusOK
	if !res.OK() {
		status = statusFor(domain.Kind(res.Err))
	}
	writeJSON(w, status, res)
}
