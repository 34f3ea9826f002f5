package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables that override file settings.
const (
	EnvOpenAIAPIKey      = "KOTAE_OPENAI_API_KEY"
	EnvOpenAIAPIKeyAlt   = "OPENAI_API_KEY"
	EnvPostgresURL       = "KOTAE_POSTGRES_URL"
	EnvGenerationURL     = "KOTAE_GENERATION_URL"
	EnvEmbeddingURL      = "KOTAE_EMBEDDING_URL"
	EnvStorageBackend    = "KOTAE_STORAGE_BACKEND"
	EnvEmbeddingProvider = "KOTAE_EMBEDDING_PROVIDER"
)

// LoadDotEnv loads variables from path into the process environment without
// overwriting ones already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides cfg with values from the environment.
func ApplyEnv(cfg *Config) {
	if key := firstEnv(EnvOpenAIAPIKey, EnvOpenAIAPIKeyAlt); key != "" {
		cfg.Embedding.APIKey = key
		cfg.Generation.APIKey = key
	}
	if v := os.Getenv(EnvPostgresURL); v != "" {
		cfg.Storage.PostgresURL = v
	}
	if v := os.Getenv(EnvGenerationURL); v != "" {
		cfg.Generation.BaseURL = v
	}
	if v := os.Getenv(EnvEmbeddingURL); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv(EnvStorageBackend); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv(EnvEmbeddingProvider); v != "" {
		cfg.Embedding.Provider = v
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
