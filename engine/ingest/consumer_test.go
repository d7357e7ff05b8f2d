package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/grantdraft/grantdraft/engine/domain"
	"github.com/grantdraft/grantdraft/engine/embed"
	"github.com/grantdraft/grantdraft/engine/extract/extracttest"
	"github.com/grantdraft/grantdraft/pkg/natsutil"
)

func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

func TestResolve(t *testing.T) {
	root := filepath.Join("/data", "docs")
	cases := []struct {
		rel     string
		want    string
		wantErr bool
	}{
		{"Budget.docx", filepath.Join(root, "Budget.docx"), false},
		{"sub/../Budget.docx", filepath.Join(root, "Budget.docx"), false},
		{"../secret.docx", "", true},
		{"/etc/passwd", "", true},
		{"  ", "", true},
	}
	for _, c := range cases {
		got, err := resolve(root, c.rel)
		if (err != nil) != c.wantErr || got != c.want {
			t.Errorf("resolve(%q) = %q, %v", c.rel, got, err)
		}
	}
	if got, _ := resolve("", "a/b.docx"); got != filepath.Join("a", "b.docx") {
		t.Errorf("no root: %q", got)
	}
}

func TestTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.DeadlineExceeded, true},
		{&domain.StoreError{Op: "upsert", Err: errors.New("x")}, true},
		{&domain.EmbeddingError{Provider: "p", Err: errors.New("x")}, true},
		{domain.ErrNoValidChunks, true},
		{&domain.ExtractionError{Err: domain.ErrNoText}, false},
		{domain.ErrNamespaceCollision, false},
	}
	for _, c := range cases {
		if got := transient(c.err); got != c.want {
			t.Errorf("transient(%v) = %v", c.err, got)
		}
	}
}

func TestConsumer_RequestReply(t *testing.T) {
	nc := startTestNATS(t)
	f := newFixture(t)
	p := f.pipeline(t, nil, nil, Options{})
	extracttest.Write(t, f.dir, "Budget.docx", "Budget text for the project.")

	sub, err := StartConsumer(nc, p, ConsumerOptions{Root: f.dir})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	results := make(chan Result, 4)
	rs, err := natsutil.Subscribe(nc, ResultSubject, func(_ context.Context, m natsutil.Msg[Result]) {
		results <- m.Value
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer rs.Unsubscribe()

	r, err := natsutil.Request[Request, Result](context.Background(), nc, RequestSubject, Request{Path: "Budget.docx"}, 3*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !r.OK() || r.Namespace != "budget" || r.ChunksProcessed != 1 {
		t.Fatalf("reply = %+v", r)
	}
	select {
	case pub := <-results:
		if pub.Filename != "Budget.docx" {
			t.Errorf("published result = %+v", pub)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no result published")
	}

	r, err = natsutil.Request[Request, Result](context.Background(), nc, RequestSubject, Request{Path: "Budget.docx", Delete: true}, 3*time.Second)
	if err != nil || !r.OK() {
		t.Fatalf("delete reply = %+v, %v", r, err)
	}
	if names, _ := f.store.ListNamespaces(context.Background()); len(names) != 0 {
		t.Errorf("namespaces after delete = %v", names)
	}
}

func TestConsumer_RejectsEscapingPath(t *testing.T) {
	nc := startTestNATS(t)
	f := newFixture(t)
	p := f.pipeline(t, nil, nil, Options{})

	sub, err := StartConsumer(nc, p, ConsumerOptions{Root: f.dir})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	r, err := natsutil.Request[Request, Result](context.Background(), nc, RequestSubject, Request{Path: "../outside.docx"}, 3*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if r.OK() || r.Reason == "" {
		t.Fatalf("expected rejection, got %+v", r)
	}

	r, _ = natsutil.Request[Request, Result](context.Background(), nc, RequestSubject, Request{Path: "notes.pdf"}, 3*time.Second)
	if r.OK() || r.FailedAt != StateExtracting {
		t.Errorf("unsupported format: %+v", r)
	}
}

func TestConsumer_RetriesThenDeadLetters(t *testing.T) {
	nc := startTestNATS(t)
	f := newFixture(t)
	broken := embed.ProviderFunc(func(context.Context, string) ([]float32, error) {
		return nil, &domain.EmbeddingError{Provider: "test", Err: errors.New("down")}
	})
	p := f.pipeline(t, broken, nil, Options{})
	extracttest.Write(t, f.dir, "Budget.docx", "Budget text.")

	sub, err := StartConsumer(nc, p, ConsumerOptions{Root: f.dir, MaxRetries: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	dlq := make(chan *nats.Msg, 1)
	ds, err := nc.ChanSubscribe(DLQSubject, dlq)
	if err != nil {
		t.Fatal(err)
	}
	defer ds.Unsubscribe()
	if err := nc.Flush(); err != nil {
		t.Fatal(err)
	}

	if err := natsutil.Publish(context.Background(), nc, RequestSubject, Request{Path: "Budget.docx"}); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-dlq:
		var m dlqMessage
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			t.Fatal(err)
		}
		if m.Retries != 2 || m.Request.Path != "Budget.docx" || m.Error != "no valid chunks to upsert" {
			t.Errorf("dlq message = %+v", m)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("request never reached the DLQ")
	}
}
