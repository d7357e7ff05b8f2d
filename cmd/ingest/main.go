// Command ingest loads the reference documents of a folder into the vector
// index. By default it processes the folder once and exits; -watch keeps
// the index in sync with the folder and -nats serves ingestion requests.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/grantdraft/grantdraft/engine/ingest"
	"github.com/grantdraft/grantdraft/internal/app"
	"github.com/grantdraft/grantdraft/pkg/config"
	"github.com/grantdraft/grantdraft/pkg/watch"
)

type options struct {
	folder      string
	file        string
	delete      bool
	watch       bool
	nats        bool
	metricsAddr string
}

func main() {
	var (
		configPath = flag.String("config", os.Getenv("GRANTDRAFT_CONFIG"), "path to the YAML config file")
		opts       options
	)
	flag.StringVar(&opts.folder, "folder", "", "documents folder (overrides ingest.folder)")
	flag.StringVar(&opts.file, "file", "", "ingest a single document instead of the whole folder")
	flag.BoolVar(&opts.delete, "delete", false, "with -file, remove the document from the index")
	flag.BoolVar(&opts.watch, "watch", false, "after the initial batch, follow changes in the folder")
	flag.BoolVar(&opts.nats, "nats", false, "consume ingestion requests from NATS")
	flag.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve /metrics on this address, e.g. :9091")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	if opts.folder != "" {
		cfg.Ingest.Folder = opts.folder
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, logger, os.Stdout); err != nil {
		logger.Error("ingest failed", "err", err)
		os.Exit(1)
	}
}

// errFailures reports that the run finished but some documents failed.
var errFailures = errors.New("some documents failed")

func run(ctx context.Context, cfg *config.Config, opts options, logger *slog.Logger, out io.Writer) error {
	if opts.delete && opts.file == "" {
		return errors.New("-delete requires -file")
	}

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}
	defer a.Close(context.Background())

	// The metrics server lives as long as the work does.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	if opts.metricsAddr != "" {
		g.Go(func() error { return a.Metrics.Serve(gctx, opts.metricsAddr, logger) })
	}
	g.Go(func() error {
		defer cancel()
		return work(gctx, a, opts, logger, out)
	})
	return g.Wait()
}

func work(ctx context.Context, a *app.App, opts options, logger *slog.Logger, out io.Writer) error {
	folder := a.Config.Ingest.Folder
	switch {
	case opts.file != "":
		return runFile(ctx, a.Pipeline, opts.file, opts.delete, out)
	case opts.nats:
		return runNATS(ctx, a, logger)
	}

	batchErr := runBatch(ctx, a.Pipeline, folder, out)
	if !opts.watch || (batchErr != nil && !errors.Is(batchErr, errFailures)) {
		return batchErr
	}
	return runWatch(ctx, a.Pipeline, folder, logger)
}

func printResult(out io.Writer, r ingest.Result) {
	if r.OK() {
		fmt.Fprintf(out, "ok      %-40s %-30s %d/%d chunks\n", r.Filename, r.Namespace, r.ChunksProcessed, r.TotalChunks)
		return
	}
	fmt.Fprintf(out, "failed  %-40s %-30s %s: %s\n", r.Filename, r.Namespace, r.FailedAt, r.Reason)
}

func runBatch(ctx context.Context, p *ingest.Pipeline, folder string, out io.Writer) error {
	results, err := p.ProcessAll(ctx, folder)
	var failed int
	for _, r := range results {
		printResult(out, r)
		if !r.OK() {
			failed++
		}
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d documents, %d failed\n", len(results), failed)
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", errFailures, failed, len(results))
	}
	return nil
}

func runFile(ctx context.Context, p *ingest.Pipeline, path string, del bool, out io.Writer) error {
	if del {
		ns, err := p.DeleteDocument(ctx, path)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "deleted %s (namespace %s)\n", filepath.Base(path), ns)
		return nil
	}
	r := p.ProcessDocument(ctx, path)
	printResult(out, r)
	if !r.OK() {
		return r.Err
	}
	return nil
}

// syncEvent applies one folder change to the index.
func syncEvent(ctx context.Context, p *ingest.Pipeline, log *slog.Logger, ev watch.Event) {
	switch ev.Op {
	case watch.Removed:
		if _, err := p.DeleteDocument(ctx, ev.Path); err != nil {
			log.Error("ingest: delete on remove failed", "path", ev.Path, "err", err)
		}
	case watch.Changed:
		if r := p.ProcessDocument(ctx, ev.Path); !r.OK() {
			log.Error("ingest: reingest failed", "path", ev.Path, "state", r.FailedAt, "reason", r.Reason)
		}
	}
}

func runWatch(ctx context.Context, p *ingest.Pipeline, folder string, log *slog.Logger) error {
	w, err := watch.New(folder, watch.Options{Accept: p.Accepts, Logger: log})
	if err != nil {
		return err
	}
	defer w.Close()

	log.Info("ingest: watching folder", "folder", folder)
	err = w.Run(ctx, func(ctx context.Context, ev watch.Event) {
		syncEvent(ctx, p, log, ev)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runNATS(ctx context.Context, a *app.App, log *slog.Logger) error {
	nc, err := nats.Connect(a.Config.NATS.URL, nats.Name("grantdraft-ingest"))
	if err != nil {
		return fmt.Errorf("nats connect %s: %w", a.Config.NATS.URL, err)
	}
	defer nc.Drain()

	sub, err := ingest.StartConsumer(nc, a.Pipeline, ingest.ConsumerOptions{
		Root:    a.Config.Ingest.Folder,
		Timeout: a.Config.Ingest.Timeout(),
		Logger:  log,
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	log.Info("ingest: consuming requests", "subject", ingest.RequestSubject, "queue", ingest.QueueGroup)
	<-ctx.Done()
	return nil
}
