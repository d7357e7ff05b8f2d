// Package main implements the grantdraft HTTP API server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grantdraft/grantdraft/internal/app"
	"github.com/grantdraft/grantdraft/pkg/config"
	"github.com/grantdraft/grantdraft/pkg/mid"
)

func main() {
	configPath := flag.String("config", os.Getenv("GRANTDRAFT_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}
	defer a.Close(context.Background())

	s := &server{
		rag:     a.RAG,
		ingest:  a.Pipeline,
		catalog: a.Catalog,
		folder:  cfg.Ingest.Folder,
		timeout: cfg.Ingest.Timeout(),
		log:     logger,
	}
	handler := mid.Chain(s.routes(a.Metrics),
		mid.Recover(logger),
		mid.Logger(logger, "/health", "/metrics"),
		mid.OTel("grantdraft-api"),
		mid.CORS(cfg.HTTP.CORSOrigin),
		mid.Metrics(a.Metrics),
	)

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Ingest.Timeout() + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "addr", cfg.HTTP.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout())
	defer cancel()
	return srv.Shutdown(shutCtx)
}
