// Package config loads service configuration from a YAML file, a .env
// file and the process environment, in increasing order of precedence.
package config

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/grantdraft/grantdraft/engine/domain"
)

// Embedding providers.
const (
	ProviderOpenAI  = "openai"
	ProviderOllama  = "ollama"
	ProviderHashing = "hashing"
)

// Backends.
const (
	BackendQdrant = "qdrant"
	BackendMemory = "memory"
	BackendNeo4j  = "neo4j"
)

type LogConfig struct {
	Level string `yaml:"level"`
}

type HTTPConfig struct {
	Addr         string `yaml:"addr"`
	CORSOrigin   string `yaml:"cors_origin"`
	ShutdownSecs int    `yaml:"shutdown_secs"`
}

// EmbedConfig selects and tunes the embedding provider.
type EmbedConfig struct {
	Provider      string  `yaml:"provider"`
	BaseURL       string  `yaml:"base_url"`
	APIKey        string  `yaml:"api_key"`
	Model         string  `yaml:"model"`
	Dimension     int     `yaml:"dimension"`
	TimeoutSecs   int     `yaml:"timeout_secs"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

type QdrantConfig struct {
	Addr       string `yaml:"addr"`
	APIKey     string `yaml:"api_key"`
	Collection string `yaml:"collection"`
}

// StoreConfig selects the vector index. The memory backend persists to
// MemoryPath when set.
type StoreConfig struct {
	Backend    string       `yaml:"backend"`
	Qdrant     QdrantConfig `yaml:"qdrant"`
	MemoryPath string       `yaml:"memory_path"`
}

type Neo4jConfig struct {
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Pass     string `yaml:"pass"`
	Database string `yaml:"database"`
}

// CatalogConfig selects where document ownership is recorded.
type CatalogConfig struct {
	Backend string      `yaml:"backend"`
	Neo4j   Neo4jConfig `yaml:"neo4j"`
}

type IngestConfig struct {
	Folder      string `yaml:"folder"`
	Extension   string `yaml:"extension"`
	ChunkSize   int    `yaml:"chunk_size"`
	Overlap     int    `yaml:"overlap"`
	Workers     int    `yaml:"workers"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

type SearchConfig struct {
	TopK        int `yaml:"top_k"`
	TimeoutSecs int `yaml:"timeout_secs"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

// Config is the root configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	HTTP    HTTPConfig    `yaml:"http"`
	Embed   EmbedConfig   `yaml:"embed"`
	Store   StoreConfig   `yaml:"store"`
	Catalog CatalogConfig `yaml:"catalog"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Search  SearchConfig  `yaml:"search"`
	NATS    NATSConfig    `yaml:"nats"`
}

// Load builds the configuration: .env from the working directory if
// present, then the YAML file at path if non-empty, then environment
// overrides, then defaults. The result is validated.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, &domain.ConfigurationError{Field: ".env", Reason: err.Error()}
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &domain.ConfigurationError{Field: "file", Reason: err.Error()}
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, &domain.ConfigurationError{Field: "file", Reason: "parse " + path + ": " + err.Error()}
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return &domain.ConfigurationError{Field: key, Reason: "not an integer: " + v}
	}
	*dst = n
	return nil
}

func applyEnv(c *Config) error {
	c.Log.Level = envOr("GRANTDRAFT_LOG_LEVEL", c.Log.Level)
	c.HTTP.Addr = envOr("GRANTDRAFT_HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.CORSOrigin = envOr("CORS_ORIGIN", c.HTTP.CORSOrigin)

	c.Embed.Provider = envOr("GRANTDRAFT_EMBED_PROVIDER", c.Embed.Provider)
	c.Embed.BaseURL = envOr("GRANTDRAFT_EMBED_URL", c.Embed.BaseURL)
	c.Embed.Model = envOr("GRANTDRAFT_EMBED_MODEL", c.Embed.Model)
	c.Embed.APIKey = envOr("OPENAI_API_KEY", c.Embed.APIKey)

	c.Store.Backend = envOr("GRANTDRAFT_STORE", c.Store.Backend)
	c.Store.Qdrant.Addr = envOr("QDRANT_URL", c.Store.Qdrant.Addr)
	c.Store.Qdrant.APIKey = envOr("QDRANT_API_KEY", c.Store.Qdrant.APIKey)
	c.Store.Qdrant.Collection = envOr("QDRANT_COLLECTION", c.Store.Qdrant.Collection)
	c.Store.MemoryPath = envOr("GRANTDRAFT_MEMORY_PATH", c.Store.MemoryPath)

	c.Catalog.Backend = envOr("GRANTDRAFT_CATALOG", c.Catalog.Backend)
	c.Catalog.Neo4j.URL = envOr("NEO4J_URL", c.Catalog.Neo4j.URL)
	c.Catalog.Neo4j.User = envOr("NEO4J_USER", c.Catalog.Neo4j.User)
	c.Catalog.Neo4j.Pass = envOr("NEO4J_PASS", c.Catalog.Neo4j.Pass)

	c.Ingest.Folder = envOr("GRANTDRAFT_DOCUMENTS_DIR", c.Ingest.Folder)
	c.Ingest.Extension = envOr("GRANTDRAFT_EXTENSION", c.Ingest.Extension)
	c.NATS.URL = envOr("NATS_URL", c.NATS.URL)

	return errors.Join(
		envInt("GRANTDRAFT_EMBED_DIMENSION", &c.Embed.Dimension),
		envInt("GRANTDRAFT_CHUNK_SIZE", &c.Ingest.ChunkSize),
		envInt("GRANTDRAFT_CHUNK_OVERLAP", &c.Ingest.Overlap),
		envInt("GRANTDRAFT_WORKERS", &c.Ingest.Workers),
		envInt("GRANTDRAFT_TOP_K", &c.Search.TopK),
	)
}

func setDefault[T comparable](dst *T, v T) {
	var zero T
	if *dst == zero {
		*dst = v
	}
}

func applyDefaults(c *Config) {
	setDefault(&c.Log.Level, "info")
	setDefault(&c.HTTP.Addr, ":8080")
	setDefault(&c.HTTP.CORSOrigin, "*")
	setDefault(&c.HTTP.ShutdownSecs, 10)

	setDefault(&c.Embed.Provider, ProviderOpenAI)
	switch c.Embed.Provider {
	case ProviderOpenAI:
		setDefault(&c.Embed.BaseURL, "https://api.openai.com/v1")
		setDefault(&c.Embed.Model, "text-embedding-ada-002")
	case ProviderOllama:
		setDefault(&c.Embed.BaseURL, "http://localhost:11434")
		setDefault(&c.Embed.Model, "mxbai-embed-large")
	}
	setDefault(&c.Embed.Dimension, 1024)
	setDefault(&c.Embed.TimeoutSecs, 30)
	setDefault(&c.Embed.RatePerSecond, 10)
	setDefault(&c.Embed.Burst, 5)

	setDefault(&c.Store.Backend, BackendQdrant)
	if c.Store.Backend == BackendQdrant {
		setDefault(&c.Store.Qdrant.Addr, "localhost:6334")
		setDefault(&c.Store.Qdrant.Collection, "grantdraft")
	}

	setDefault(&c.Catalog.Backend, BackendMemory)
	if c.Catalog.Backend == BackendNeo4j {
		setDefault(&c.Catalog.Neo4j.User, "neo4j")
		setDefault(&c.Catalog.Neo4j.Database, "neo4j")
	}

	setDefault(&c.Ingest.Folder, "classification_documents")
	setDefault(&c.Ingest.Extension, ".docx")
	if c.Ingest.ChunkSize == 0 {
		c.Ingest.ChunkSize = 1000
		setDefault(&c.Ingest.Overlap, 200)
	}
	setDefault(&c.Ingest.Workers, 1)
	setDefault(&c.Ingest.TimeoutSecs, 300)

	setDefault(&c.Search.TopK, 5)
	setDefault(&c.Search.TimeoutSecs, 10)
}

// Validate reports the first inconsistency as a *domain.ConfigurationError.
func (c *Config) Validate() error {
	bad := func(field, reason string) error {
		return &domain.ConfigurationError{Field: field, Reason: reason}
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return bad("log.level", "unknown level "+strconv.Quote(c.Log.Level))
	}

	switch c.Embed.Provider {
	case ProviderOpenAI:
		if strings.TrimSpace(c.Embed.APIKey) == "" {
			return bad("embed.api_key", "required for the openai provider (OPENAI_API_KEY)")
		}
	case ProviderOllama:
		if c.Embed.Model == "" {
			return bad("embed.model", "required for the ollama provider")
		}
	case ProviderHashing:
	default:
		return bad("embed.provider", "unknown provider "+strconv.Quote(c.Embed.Provider))
	}
	if c.Embed.Dimension <= 0 {
		return bad("embed.dimension", "must be positive")
	}

	switch c.Store.Backend {
	case BackendQdrant:
		if c.Store.Qdrant.Addr == "" {
			return bad("store.qdrant.addr", "required")
		}
		if c.Store.Qdrant.Collection == "" {
			return bad("store.qdrant.collection", "required")
		}
	case BackendMemory:
	default:
		return bad("store.backend", "unknown backend "+strconv.Quote(c.Store.Backend))
	}

	switch c.Catalog.Backend {
	case BackendNeo4j:
		if c.Catalog.Neo4j.URL == "" {
			return bad("catalog.neo4j.url", "required for the neo4j catalog (NEO4J_URL)")
		}
	case BackendMemory:
	default:
		return bad("catalog.backend", "unknown backend "+strconv.Quote(c.Catalog.Backend))
	}

	if c.Ingest.ChunkSize <= 0 || c.Ingest.Overlap < 0 || c.Ingest.Overlap >= c.Ingest.ChunkSize {
		return bad("ingest.overlap", "must be at least 0 and smaller than chunk_size")
	}
	if c.Ingest.Workers < 1 {
		return bad("ingest.workers", "must be at least 1")
	}
	if c.Search.TopK < 1 {
		return bad("search.top_k", "must be at least 1")
	}
	return nil
}

// LogLevel returns the configured level. Validate has checked it.
func (c *Config) LogLevel() slog.Level {
	var lvl slog.Level
	_ = lvl.UnmarshalText([]byte(c.Log.Level))
	return lvl
}

// NewLogger returns a JSON logger writing to w at the configured level.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: c.LogLevel()}))
}

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

func (c EmbedConfig) Timeout() time.Duration { return secs(c.TimeoutSecs) }
func (c HTTPConfig) ShutdownTimeout() time.Duration { return secs(c.ShutdownSecs) }
func (c IngestConfig) Timeout() time.Duration { return secs(c.TimeoutSecs) }
func (c SearchConfig) Timeout() time.Duration { return secs(c.TimeoutSecs) }
