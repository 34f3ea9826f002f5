package vectorstore

import (
	"context"
	"fmt"

	"github.com/hyperjump/kotae/internal/config"
)

// NewStore creates the store selected by cfg.Backend.
// Supported backends: "memory", "sqlite" (default), "postgres".
func NewStore(ctx context.Context, cfg config.StorageConfig, dimensions int, opts ...Option) (Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return NewMemoryStore(dimensions, opts...)
	case config.BackendSQLite, "":
		return NewSQLiteStore(ctx, cfg.DatabasePath, dimensions, opts...)
	case config.BackendPostgres:
		return NewPostgresStore(ctx, cfg.PostgresURL, dimensions, opts...)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: memory, sqlite, postgres)", cfg.Backend)
	}
}
