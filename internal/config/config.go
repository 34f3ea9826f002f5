// Package config provides configuration loading and structs for the kotae server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Query      QueryConfig      `yaml:"query"`
	Batch      BatchConfig      `yaml:"batch"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Watch      WatchConfig      `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Address returns host:port.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Vector store backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// StorageConfig selects the vector store backend and retention.
type StorageConfig struct {
	Backend       string        `yaml:"backend"`
	DatabasePath  string        `yaml:"database_path"`
	PostgresURL   string        `yaml:"postgres_url"`
	CatalogPath   string        `yaml:"catalog_path"`
	FragmentTTL   time.Duration `yaml:"fragment_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// EmbeddingConfig holds embedding provider, cache, and retry settings.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider"`
	Model             string        `yaml:"model"`
	Dimensions        int           `yaml:"dimensions"`
	MaxInputChars     int           `yaml:"max_input_chars"`
	CacheSize         int           `yaml:"cache_size"`
	MaxAttempts       int           `yaml:"max_attempts"`
	RetryBaseDelay    time.Duration `yaml:"retry_base_delay"`
	BatchSize         int           `yaml:"batch_size"`
	BatchPause        time.Duration `yaml:"batch_pause"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	// ONNX provider settings.
	ModelPath string `yaml:"model_path"`
	MaxTokens int    `yaml:"max_tokens"`
}

// GenerationConfig holds language model provider settings.
type GenerationConfig struct {
	Provider       string        `yaml:"provider"`
	Model          string        `yaml:"model"`
	APIKey         string        `yaml:"api_key"`
	BaseURL        string        `yaml:"base_url"`
	Temperature    float64       `yaml:"temperature"`
	MaxTokens      int           `yaml:"max_tokens"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// Circuit breaker guarding the provider.
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
}

// ChunkingConfig holds chunker sizes, measured in characters.
type ChunkingConfig struct {
	MaxChunkSize int `yaml:"max_chunk_size"`
	OverlapSize  int `yaml:"overlap_size"`
}

// QueryConfig holds query validation, retry, and history settings.
type QueryConfig struct {
	DefaultMaxResults    int           `yaml:"default_max_results"`
	MaxResults           int           `yaml:"max_results"`
	MaxQueryLength       int           `yaml:"max_query_length"`
	MaxAttempts          int           `yaml:"max_attempts"`
	RetryBaseDelay       time.Duration `yaml:"retry_base_delay"`
	Timeout              time.Duration `yaml:"timeout"`
	HistoryCap           int           `yaml:"history_cap"`
	HistoryTTL           time.Duration `yaml:"history_ttl"`
	HistorySweepInterval time.Duration `yaml:"history_sweep_interval"`
}

// BatchConfig holds batch fan-out settings.
type BatchConfig struct {
	Size       int           `yaml:"size"`
	Pause      time.Duration `yaml:"pause"`
	MaxQueries int           `yaml:"max_queries"`
}

// IngestConfig holds document ingestion settings.
type IngestConfig struct {
	Extensions     []string `yaml:"extensions"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Default returns a config with every default applied and no file behind it.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// Load reads and parses the config file at path, applies defaults, expands paths,
// and applies environment overrides (including an optional .env next to the file).
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	if cfg.Storage.CatalogPath != "" {
		cfg.Storage.CatalogPath = expandPath(cfg.Storage.CatalogPath, configDir)
	}
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := LoadDotEnv(filepath.Join(configDir, ".env")); err != nil {
		return nil, err
	}
	ApplyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that have no sensible default.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("storage.postgres_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Chunking.OverlapSize >= c.Chunking.MaxChunkSize {
		return fmt.Errorf("chunking.overlap_size (%d) must be smaller than max_chunk_size (%d)",
			c.Chunking.OverlapSize, c.Chunking.MaxChunkSize)
	}
	if c.Query.DefaultMaxResults > c.Query.MaxResults {
		return fmt.Errorf("query.default_max_results (%d) exceeds max_results (%d)",
			c.Query.DefaultMaxResults, c.Query.MaxResults)
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
