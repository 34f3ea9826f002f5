package config

import "time"

// DefaultFragmentTTL is the retention applied to fragments when none is configured.
const DefaultFragmentTTL = 30 * 24 * time.Hour

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 120 * time.Second
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendSQLite
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/kotae/data/fragments.db"
	}
	if cfg.Storage.FragmentTTL == 0 {
		cfg.Storage.FragmentTTL = DefaultFragmentTTL
	}
	if cfg.Storage.SweepInterval == 0 {
		cfg.Storage.SweepInterval = time.Hour
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "mock"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxInputChars == 0 {
		cfg.Embedding.MaxInputChars = 8000
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}
	if cfg.Embedding.MaxAttempts == 0 {
		cfg.Embedding.MaxAttempts = 3
	}
	if cfg.Embedding.RetryBaseDelay == 0 {
		cfg.Embedding.RetryBaseDelay = time.Second
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 5
	}
	if cfg.Embedding.BatchPause == 0 {
		cfg.Embedding.BatchPause = 100 * time.Millisecond
	}
	if cfg.Embedding.RequestTimeout == 0 {
		cfg.Embedding.RequestTimeout = 30 * time.Second
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}

	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = "extractive"
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = "gpt-4o-mini"
	}
	if cfg.Generation.Temperature == 0 {
		cfg.Generation.Temperature = 0.1
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = 1000
	}
	if cfg.Generation.RequestTimeout == 0 {
		cfg.Generation.RequestTimeout = 45 * time.Second
	}
	if cfg.Generation.BreakerFailures == 0 {
		cfg.Generation.BreakerFailures = 5
	}
	if cfg.Generation.BreakerTimeout == 0 {
		cfg.Generation.BreakerTimeout = 30 * time.Second
	}

	if cfg.Chunking.MaxChunkSize == 0 {
		cfg.Chunking.MaxChunkSize = 1000
	}
	if cfg.Chunking.OverlapSize == 0 {
		cfg.Chunking.OverlapSize = 200
	}

	if cfg.Query.DefaultMaxResults == 0 {
		cfg.Query.DefaultMaxResults = 5
	}
	if cfg.Query.MaxResults == 0 {
		cfg.Query.MaxResults = 20
	}
	if cfg.Query.MaxQueryLength == 0 {
		cfg.Query.MaxQueryLength = 2000
	}
	if cfg.Query.MaxAttempts == 0 {
		cfg.Query.MaxAttempts = 3
	}
	if cfg.Query.RetryBaseDelay == 0 {
		cfg.Query.RetryBaseDelay = time.Second
	}
	if cfg.Query.Timeout == 0 {
		cfg.Query.Timeout = 60 * time.Second
	}
	if cfg.Query.HistoryCap == 0 {
		cfg.Query.HistoryCap = 1000
	}
	if cfg.Query.HistoryTTL == 0 {
		cfg.Query.HistoryTTL = 24 * time.Hour
	}
	if cfg.Query.HistorySweepInterval == 0 {
		cfg.Query.HistorySweepInterval = time.Hour
	}

	if cfg.Batch.Size == 0 {
		cfg.Batch.Size = 3
	}
	if cfg.Batch.Pause == 0 {
		cfg.Batch.Pause = 500 * time.Millisecond
	}
	if cfg.Batch.MaxQueries == 0 {
		cfg.Batch.MaxQueries = 10
	}

	if cfg.Ingest.Extensions == nil {
		cfg.Ingest.Extensions = []string{".txt", ".md", ".rst", ".csv", ".json", ".html", ".htm", ".pdf", ".docx", ".xlsx"}
	}
	if cfg.Ingest.MaxUploadBytes == 0 {
		cfg.Ingest.MaxUploadBytes = 10 << 20
	}

	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = cfg.Ingest.Extensions
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
