package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	owner, err := c.Owner(ctx, "budget")
	if err != nil || owner != "" {
		t.Fatalf("Owner on empty catalog = %q, %v", owner, err)
	}

	_ = c.Record(ctx, Entry{Namespace: "budget", Document: "Budget.docx", Chunks: 3})
	_ = c.Record(ctx, Entry{Namespace: "agenda", Document: "Agenda.docx", Chunks: 1})

	if owner, _ := c.Owner(ctx, "budget"); owner != "Budget.docx" {
		t.Errorf("owner = %q", owner)
	}
	list, _ := c.List(ctx)
	if len(list) != 2 || list[0].Namespace != "agenda" {
		t.Errorf("list = %+v", list)
	}

	_ = c.Forget(ctx, "budget")
	if owner, _ := c.Owner(ctx, "budget"); owner != "" {
		t.Errorf("owner after forget = %q", owner)
	}
}

func TestFromRecord(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &neo4j.Record{
		Keys: []string{"n"},
		Values: []any{map[string]any{
			"namespace": "budget", "document": "Budget.docx", "chunks": int64(4), "ingested_at": at,
		}},
	}
	e, err := fromRecord(rec)
	if err != nil {
		t.Fatal(err)
	}
	want := Entry{Namespace: "budget", Document: "Budget.docx", Chunks: 4, IngestedAt: at}
	if e != want {
		t.Errorf("got %+v, want %+v", e, want)
	}

	if _, err := fromRecord(&neo4j.Record{Keys: []string{"x"}, Values: []any{1}}); err == nil {
		t.Error("expected missing column error")
	}
	if _, err := fromRecord(&neo4j.Record{Keys: []string{"n"}, Values: []any{"str"}}); err == nil {
		t.Error("expected type error")
	}
}

func TestToProps(t *testing.T) {
	p := toProps(Entry{Namespace: "budget", Document: "Budget.docx", Chunks: 2})
	if p["namespace"] != "budget" || p["chunks"] != int64(2) {
		t.Errorf("props = %v", p)
	}
}
