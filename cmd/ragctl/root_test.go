package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grantdraft/grantdraft/engine/extract/extracttest"
	"github.com/grantdraft/grantdraft/engine/rag"
	"github.com/grantdraft/grantdraft/internal/app"
	"github.com/grantdraft/grantdraft/pkg/config"
)

// seededConfig returns a config whose persisted memory index already holds
// two reference documents.
func seededConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	extracttest.Write(t, dir, "Target Group.docx", "The target group is rural manufacturers who need logistics support.")
	extracttest.Write(t, dir, "Risk Analysis.docx", "Key risks include low participation and budget overruns.")
	cfg := &config.Config{
		Log:     config.LogConfig{Level: "error"},
		Embed:   config.EmbedConfig{Provider: config.ProviderHashing, Dimension: 64},
		Store:   config.StoreConfig{Backend: config.BackendMemory, MemoryPath: filepath.Join(dir, "index.json")},
		Catalog: config.CatalogConfig{Backend: config.BackendMemory},
		Ingest:  config.IngestConfig{Folder: dir, Extension: ".docx", ChunkSize: 200, Overlap: 20, Workers: 1},
		Search:  config.SearchConfig{TopK: 5, TimeoutSecs: 5},
	}

	ctx := context.Background()
	a, err := app.Build(ctx, cfg, cfg.NewLogger(&bytes.Buffer{}))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close(ctx)
	if _, err := a.Pipeline.ProcessAll(ctx, dir); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func execute(t *testing.T, cfg *config.Config, args ...string) (string, error) {
	t.Helper()
	c := &cli{load: func(string) (*config.Config, error) { return cfg, nil }}
	root := c.root()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := c.execute(context.Background(), root)
	if c.app != nil {
		t.Error("app left open after command")
	}
	return out.String(), err
}

func TestSearchCommand(t *testing.T) {
	cfg := seededConfig(t)

	out, err := execute(t, cfg, "search", "rural manufacturers", "-n", "target_group")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Target Group.docx #0 (target_group)") || !strings.Contains(out, "rural manufacturers") {
		t.Errorf("output:\n%s", out)
	}

	out, err = execute(t, cfg, "search", "anything", "--namespace", "unknown", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var results []rag.SearchResult
	if err := json.Unmarshal([]byte(out), &results); err != nil || len(results) != 0 {
		t.Errorf("json output %q: %v", out, err)
	}

	if _, err := execute(t, cfg, "search", " "); err == nil {
		t.Error("expected validation error for blank query")
	}
}

func TestNamespacesStatsDelete(t *testing.T) {
	cfg := seededConfig(t)

	out, err := execute(t, cfg, "namespaces")
	if err != nil || out != "risk_analysis\ntarget_group\n" {
		t.Fatalf("namespaces = %q, %v", out, err)
	}

	out, err = execute(t, cfg, "stats")
	if err != nil || !strings.Contains(out, "vectors:   2") || !strings.Contains(out, "dimension: 64") {
		t.Errorf("stats = %q, %v", out, err)
	}

	out, err = execute(t, cfg, "delete", "risk_analysis")
	if err != nil || out != "deleted risk_analysis\n" {
		t.Errorf("delete = %q, %v", out, err)
	}
	out, _ = execute(t, cfg, "namespaces", "--json")
	var list rag.NamespaceList
	if err := json.Unmarshal([]byte(out), &list); err != nil || strings.Join(list.Names, ",") != "target_group" {
		t.Errorf("namespaces after delete = %q", out)
	}

	if _, err := execute(t, cfg, "delete", "Not Valid"); err == nil {
		t.Error("expected validation error for bad namespace")
	}
}

func TestContentAndSection(t *testing.T) {
	cfg := seededConfig(t)

	out, err := execute(t, cfg, "content", "Risk Analysis.docx", "-q", "risks")
	if err != nil || !strings.HasPrefix(out, "[Chunk 1]\nKey risks") {
		t.Errorf("content = %q, %v", out, err)
	}

	out, err = execute(t, cfg, "section", "Target Group", "--query", "who benefits", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(out), &body); err != nil {
		t.Fatal(err)
	}
	if body["namespace"] != "target_group" || !strings.Contains(body["context"], "rural manufacturers") {
		t.Errorf("section = %+v", body)
	}

	if _, err := execute(t, cfg, "section", "Target Group"); err == nil {
		t.Error("expected error without --query")
	}
}

func TestOwners_EmptyCatalog(t *testing.T) {
	cfg := seededConfig(t)
	out, err := execute(t, cfg, "owners", "--json")
	if err != nil || strings.TrimSpace(out) != "[]" {
		t.Errorf("owners = %q, %v", out, err)
	}
}

func TestConfigError(t *testing.T) {
	c := &cli{load: func(string) (*config.Config, error) { return nil, errors.New("bad config") }}
	root := c.root()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"stats"})
	if err := root.Execute(); err == nil || err.Error() != "bad config" {
		t.Errorf("err = %v", err)
	}
}
