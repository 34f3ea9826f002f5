package vectorstore

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kotae/internal/config"
)

func TestBuildSearchQuery_NoFilter(t *testing.T) {
	now := time.Unix(1700000000, 0)
	query, args, err := buildSearchQuery([]float32{1, 0}, 5, now, nil)
	require.NoError(t, err)

	assert.Contains(t, query, "embedding <=> $1 AS distance")
	assert.Contains(t, query, "WHERE expires_at > $2")
	assert.Contains(t, query, "LIMIT $3")
	assert.NotContains(t, query, "@>")
	require.Len(t, args, 3)
	assert.Equal(t, pgvector.NewVector([]float32{1, 0}), args[0])
	assert.Equal(t, now, args[1])
	assert.Equal(t, 5, args[2])
}

func TestBuildSearchQuery_DocumentAndMetadata(t *testing.T) {
	query, args, err := buildSearchQuery([]float32{1}, 3, time.Now(), Filter{
		"source_document_id": "doc-1",
		"page":               2,
	})
	require.NoError(t, err)

	assert.Contains(t, query, "source_document_id = $3")
	assert.Contains(t, query, "metadata @> $4::jsonb")
	assert.Contains(t, query, "LIMIT $5")
	require.Len(t, args, 5)
	assert.Equal(t, "doc-1", args[2])
	assert.JSONEq(t, `{"page":2}`, args[3].(string))
	assert.Equal(t, 3, args[4])
}

func TestPostgresSchema(t *testing.T) {
	schema := postgresSchema(384)
	assert.Contains(t, schema, "embedding vector(384) NOT NULL")
	assert.Equal(t, 4, strings.Count(schema, "IF NOT EXISTS"))
}

func TestNewStore(t *testing.T) {
	ctx := context.Background()

	s, err := NewStore(ctx, config.StorageConfig{Backend: config.BackendMemory}, 4)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
	assert.Equal(t, 4, s.Dimensions())

	s, err = NewStore(ctx, config.StorageConfig{Backend: config.BackendSQLite, DatabasePath: t.TempDir() + "/f.db"}, 4)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = NewStore(ctx, config.StorageConfig{Backend: config.BackendPostgres}, 4)
	assert.Error(t, err, "postgres without a URL")

	_, err = NewStore(ctx, config.StorageConfig{Backend: "faiss"}, 4)
	assert.Error(t, err)
}
