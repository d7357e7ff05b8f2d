// Package app wires the retrieval core from configuration. The binaries
// under cmd/ share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/grantdraft/grantdraft/engine/catalog"
	"github.com/grantdraft/grantdraft/engine/domain"
	"github.com/grantdraft/grantdraft/engine/embed"
	"github.com/grantdraft/grantdraft/engine/extract"
	"github.com/grantdraft/grantdraft/engine/ingest"
	"github.com/grantdraft/grantdraft/engine/rag"
	"github.com/grantdraft/grantdraft/engine/semantic"
	"github.com/grantdraft/grantdraft/pkg/config"
	"github.com/grantdraft/grantdraft/pkg/metrics"
)

// App holds the wired components.
type App struct {
	Config   *config.Config
	Log      *slog.Logger
	Metrics  *metrics.Registry
	Embedder embed.Provider
	Store    semantic.Store
	Catalog  catalog.Catalog
	Pipeline *ingest.Pipeline
	RAG      *rag.Service

	closers []func(context.Context) error
}

// Build connects to the configured backends. The caller must Close the
// App, also when Build fails part way it closes what it opened.
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{Config: cfg, Log: log, Metrics: metrics.New()}

	if err := a.build(ctx); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	log.Info("app: ready",
		"embed_provider", cfg.Embed.Provider,
		"dimension", cfg.Embed.Dimension,
		"store", cfg.Store.Backend,
		"catalog", cfg.Catalog.Backend,
	)
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config
	p, err := NewProvider(cfg.Embed)
	if err != nil {
		return err
	}
	a.Embedder = embed.Guard(p, embed.GuardOptions{
		Name:          cfg.Embed.Provider,
		Dimension:     cfg.Embed.Dimension,
		RatePerSecond: cfg.Embed.RatePerSecond,
		Burst:         cfg.Embed.Burst,
		Metrics:       a.Metrics,
		Logger:        a.Log,
	})

	if a.Store, err = a.openStore(ctx); err != nil {
		return err
	}
	if a.Catalog, err = a.openCatalog(ctx); err != nil {
		return err
	}

	a.Pipeline, err = ingest.New(ingest.Deps{
		Extractor: extract.Default(),
		Embedder:  a.Embedder,
		Store:     a.Store,
		Catalog:   a.Catalog,
		Metrics:   a.Metrics,
		Logger:    a.Log,
	}, ingest.Options{
		ChunkSize: cfg.Ingest.ChunkSize,
		Overlap:   cfg.Ingest.Overlap,
		Extension: cfg.Ingest.Extension,
		Workers:   cfg.Ingest.Workers,
	})
	if err != nil {
		return err
	}

	a.RAG = rag.New(a.Embedder, a.Store, rag.Options{
		TopK:          cfg.Search.TopK,
		SearchTimeout: cfg.Search.Timeout(),
		DocumentsDir:  cfg.Ingest.Folder,
		Extension:     cfg.Ingest.Extension,
		Metrics:       a.Metrics,
	}, a.Log)
	return nil
}

// NewProvider returns the unguarded embedding provider for cfg.
func NewProvider(cfg config.EmbedConfig) (embed.Provider, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return embed.NewOpenAI(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Timeout()), nil
	case config.ProviderOllama:
		return embed.NewOllama(cfg.BaseURL, cfg.Model, cfg.Timeout()), nil
	case config.ProviderHashing:
		return embed.NewHashing(cfg.Dimension), nil
	}
	return nil, &domain.ConfigurationError{Field: "embed.provider", Reason: "unknown provider " + cfg.Provider}
}

func (a *App) openStore(ctx context.Context) (semantic.Store, error) {
	cfg := a.Config
	switch cfg.Store.Backend {
	case config.BackendQdrant:
		q, err := semantic.NewQdrant(cfg.Store.Qdrant.Addr, cfg.Store.Qdrant.Collection, cfg.Store.Qdrant.APIKey)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return q.Close() })
		if err := q.EnsureCollection(ctx, cfg.Embed.Dimension); err != nil {
			return nil, err
		}
		return q, nil
	case config.BackendMemory:
		if cfg.Store.MemoryPath == "" {
			return semantic.NewMemory(cfg.Embed.Dimension), nil
		}
		return semantic.OpenMemory(cfg.Store.MemoryPath, cfg.Embed.Dimension)
	}
	return nil, &domain.ConfigurationError{Field: "store.backend", Reason: "unknown backend " + cfg.Store.Backend}
}

func (a *App) openCatalog(ctx context.Context) (catalog.Catalog, error) {
	cfg := a.Config.Catalog
	switch cfg.Backend {
	case config.BackendMemory:
		return catalog.NewMemory(), nil
	case config.BackendNeo4j:
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4j.URL, neo4j.BasicAuth(cfg.Neo4j.User, cfg.Neo4j.Pass, ""))
		if err != nil {
			return nil, fmt.Errorf("app: neo4j driver: %w", err)
		}
		a.closers = append(a.closers, driver.Close)
		if err := driver.VerifyConnectivity(ctx); err != nil {
			return nil, fmt.Errorf("app: neo4j connect: %w", err)
		}
		c := catalog.NewNeo4j(driver, cfg.Neo4j.Database)
		if err := c.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, &domain.ConfigurationError{Field: "catalog.backend", Reason: "unknown backend " + cfg.Backend}
}

// Close releases backend connections in reverse order of opening.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}
