package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/ragerrors"
	"go.uber.org/zap"
)

const postgresTable = "kotae_fragments"

// PostgresStore stores fragments in PostgreSQL with the pgvector extension.
// Nearest-neighbour search uses the <=> cosine distance operator.
type PostgresStore struct {
	pool       *pgxpool.Pool
	dimensions int
	opts       options
}

// NewPostgresStore connects to databaseURL, creates the vector extension and the
// fragments table if needed, and returns a store backed by a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string, dimensions int, opts ...Option) (*PostgresStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", dimensions)
	}
	if databaseURL == "" {
		return nil, fmt.Errorf("postgres url is required")
	}

	// The vector type must exist before pooled connections register it.
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	_, err = conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	_ = conn.Close(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector extension: %w", err)
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	cfg.AfterConnect = pgxvec.RegisterTypes

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema(dimensions)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &PostgresStore{pool: pool, dimensions: dimensions, opts: buildOptions(opts)}
	s.opts.logger.Info("postgres vector store connected", zap.Int("dimensions", dimensions))
	return s, nil
}

func postgresSchema(dimensions int) string {
	return fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id TEXT PRIMARY KEY,
		source_document_id TEXT NOT NULL,
		text TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		total_chunks INTEGER NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
		embedding vector(%[2]d) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_document ON %[1]s (source_document_id);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_expires_at ON %[1]s (expires_at);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_metadata ON %[1]s USING GIN (metadata);
	`, postgresTable, dimensions)
}

// buildSearchQuery returns the nearest-neighbour query and its arguments. The document
// scope uses the indexed column; other filter keys become a jsonb containment test.
func buildSearchQuery(vector []float32, k int, now time.Time, filter Filter) (string, []interface{}, error) {
	args := []interface{}{pgvector.NewVector(vector), now}
	var where []string
	where = append(where, "expires_at > $2")

	rest := make(map[string]interface{}, len(filter))
	for key, value := range filter {
		if key == models.MetaSourceDocumentID {
			args = append(args, fmt.Sprint(value))
			where = append(where, fmt.Sprintf("source_document_id = $%d", len(args)))
			continue
		}
		rest[key] = NormalizeValue(value)
	}
	if len(rest) > 0 {
		data, err := json.Marshal(rest)
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode filter: %w", err)
		}
		args = append(args, string(data))
		where = append(where, fmt.Sprintf("metadata @> $%d::jsonb", len(args)))
	}
	args = append(args, k)

	query := fmt.Sprintf(`SELECT id, source_document_id, text, metadata, embedding <=> $1 AS distance
		FROM %s
		WHERE %s
		ORDER BY distance, id
		LIMIT $%d`, postgresTable, strings.Join(where, " AND "), len(args))
	return query, args, nil
}

// Add inserts or replaces fragments in one transaction.
func (s *PostgresStore) Add(ctx context.Context, fragments []*models.TextFragment) error {
	_, err := s.write(ctx, "", fragments)
	return err
}

// ReplaceDocument deletes docID's fragments and inserts the new ones in one transaction.
func (s *PostgresStore) ReplaceDocument(ctx context.Context, docID string, fragments []*models.TextFragment) (int, error) {
	return s.write(ctx, docID, fragments)
}

func (s *PostgresStore) write(ctx context.Context, replaceDoc string, fragments []*models.TextFragment) (int, error) {
	if err := validateFragments(fragments, s.dimensions); err != nil {
		return 0, err
	}
	batch := &pgx.Batch{}
	for _, f := range fragments {
		batch.Queue(fmt.Sprintf(`INSERT INTO %s
			(id, source_document_id, text, chunk_index, total_chunks, metadata, embedding, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				source_document_id = EXCLUDED.source_document_id,
				text = EXCLUDED.text,
				chunk_index = EXCLUDED.chunk_index,
				total_chunks = EXCLUDED.total_chunks,
				metadata = EXCLUDED.metadata,
				embedding = EXCLUDED.embedding,
				created_at = EXCLUDED.created_at,
				expires_at = EXCLUDED.expires_at`, postgresTable),
			f.ID, f.SourceDocumentID, f.Text, f.ChunkIndex, f.TotalChunks,
			storedMetadata(f), pgvector.NewVector(f.Embedding), f.CreatedAt, f.ExpiresAt)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	removed := 0
	if replaceDoc != "" {
		tag, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE source_document_id = $1", postgresTable), replaceDoc)
		if err != nil {
			return 0, fmt.Errorf("failed to delete fragments of %s: %w", replaceDoc, err)
		}
		removed = int(tag.RowsAffected())
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return 0, fmt.Errorf("failed to insert fragments: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit fragments: %w", err)
	}
	return removed, nil
}

// Search returns the k nearest live fragments matching filter.
func (s *PostgresStore) Search(ctx context.Context, vector []float32, k int, filter Filter) ([]*models.RetrievalResult, error) {
	if err := validateQuery(vector, k, s.dimensions); err != nil {
		return nil, err
	}
	query, args, err := buildSearchQuery(vector, k, s.opts.now(), filter)
	if err != nil {
		return nil, ragerrors.NewValidationError("filter", err.Error())
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, ragerrors.Classify(ragerrors.StageRetrieval, fmt.Errorf("failed to search fragments: %w", err))
	}
	defer rows.Close()

	var results []*models.RetrievalResult
	for rows.Next() {
		var (
			id, docID, text string
			meta            map[string]interface{}
			distance        float64
		)
		if err := rows.Scan(&id, &docID, &text, &meta, &distance); err != nil {
			return nil, ragerrors.Classify(ragerrors.StageRetrieval, fmt.Errorf("failed to scan fragment: %w", err))
		}
		if meta == nil {
			meta = map[string]interface{}{}
		}
		results = append(results, newResult(id, text, docID, meta, distance))
	}
	if err := rows.Err(); err != nil {
		return nil, ragerrors.Classify(ragerrors.StageRetrieval, fmt.Errorf("failed to read fragments: %w", err))
	}
	return results, nil
}

// DeleteByIDs removes fragments by ID.
func (s *PostgresStore) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return s.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", postgresTable), ids)
}

// DeleteByDocument removes every fragment of docID.
func (s *PostgresStore) DeleteByDocument(ctx context.Context, docID string) (int, error) {
	return s.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE source_document_id = $1", postgresTable), docID)
}

// DeleteExpired removes fragments whose expiry has passed.
func (s *PostgresStore) DeleteExpired(ctx context.Context) (int, error) {
	return s.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE expires_at <= $1", postgresTable), s.opts.now())
}

func (s *PostgresStore) exec(ctx context.Context, query string, args ...interface{}) (int, error) {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete fragments: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Count returns the number of stored fragments.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", postgresTable)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count fragments: %w", err)
	}
	return n, nil
}

// Dimensions returns the vector dimension.
func (s *PostgresStore) Dimensions() int {
	return s.dimensions
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
