package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/ragerrors"
	"go.uber.org/zap"
)

// SQLiteStore persists fragments in a SQLite database and searches them by
// brute-force cosine distance.
type SQLiteStore struct {
	db         *sql.DB
	dimensions int
	opts       options
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist. Opening a database created for a
// different dimension fails.
func NewSQLiteStore(ctx context.Context, dbPath string, dimensions int, opts ...Option) (*SQLiteStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", dimensions)
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSQLiteSchema(ctx, db, dimensions); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &SQLiteStore{db: db, dimensions: dimensions, opts: buildOptions(opts)}
	s.opts.logger.Debug("sqlite vector store opened", zap.String("path", dbPath), zap.Int("dimensions", dimensions))
	return s, nil
}

func initSQLiteSchema(ctx context.Context, db *sql.DB, dimensions int) error {
	schema := `
	CREATE TABLE IF NOT EXISTS store_info (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS fragments (
		id TEXT PRIMARY KEY,
		source_document_id TEXT NOT NULL,
		text TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		total_chunks INTEGER NOT NULL,
		metadata TEXT NOT NULL,
		embedding BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_fragments_document ON fragments(source_document_id);
	CREATE INDEX IF NOT EXISTS idx_fragments_expires_at ON fragments(expires_at);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return err
	}

	var stored string
	err := db.QueryRowContext(ctx, "SELECT value FROM store_info WHERE key = 'dimensions'").Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = db.ExecContext(ctx, "INSERT INTO store_info (key, value) VALUES ('dimensions', ?)", strconv.Itoa(dimensions))
		return err
	case err != nil:
		return err
	}
	if stored != strconv.Itoa(dimensions) {
		return fmt.Errorf("database holds %s-dimensional vectors, configured for %d", stored, dimensions)
	}
	return nil
}

// Add inserts or replaces fragments in one transaction.
func (s *SQLiteStore) Add(ctx context.Context, fragments []*models.TextFragment) error {
	_, err := s.write(ctx, "", fragments)
	return err
}

// ReplaceDocument deletes docID's fragments and inserts the new ones in one transaction.
func (s *SQLiteStore) ReplaceDocument(ctx context.Context, docID string, fragments []*models.TextFragment) (int, error) {
	return s.write(ctx, docID, fragments)
}

// write stores fragments in one transaction, first removing replaceDoc's fragments
// when replaceDoc is set.
func (s *SQLiteStore) write(ctx context.Context, replaceDoc string, fragments []*models.TextFragment) (int, error) {
	if err := validateFragments(fragments, s.dimensions); err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	removed := 0
	if replaceDoc != "" {
		res, err := tx.ExecContext(ctx, "DELETE FROM fragments WHERE source_document_id = ?", replaceDoc)
		if err != nil {
			return 0, fmt.Errorf("failed to delete fragments of %s: %w", replaceDoc, err)
		}
		n, _ := res.RowsAffected()
		removed = int(n)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO fragments
		(id, source_document_id, text, chunk_index, total_chunks, metadata, embedding, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range fragments {
		metadataJSON, err := json.Marshal(storedMetadata(f))
		if err != nil {
			return 0, fmt.Errorf("failed to marshal metadata for %s: %w", f.ID, err)
		}
		_, err = stmt.ExecContext(ctx, f.ID, f.SourceDocumentID, f.Text, f.ChunkIndex, f.TotalChunks,
			string(metadataJSON), float32SliceToBytes(f.Embedding), f.CreatedAt.UnixNano(), f.ExpiresAt.UnixNano())
		if err != nil {
			return 0, fmt.Errorf("failed to insert fragment %s: %w", f.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit fragments: %w", err)
	}
	return removed, nil
}

// Search returns the k nearest live fragments matching filter.
func (s *SQLiteStore) Search(ctx context.Context, vector []float32, k int, filter Filter) ([]*models.RetrievalResult, error) {
	if err := validateQuery(vector, k, s.dimensions); err != nil {
		return nil, err
	}

	query := `SELECT id, source_document_id, text, metadata, embedding FROM fragments WHERE expires_at > ?`
	args := []interface{}{s.opts.now().UnixNano()}
	if docID, ok := filter[models.MetaSourceDocumentID].(string); ok {
		query += " AND source_document_id = ?"
		args = append(args, docID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ragerrors.Classify(ragerrors.StageRetrieval, fmt.Errorf("failed to query fragments: %w", err))
	}
	defer rows.Close()

	var results []*models.RetrievalResult
	for rows.Next() {
		var (
			id, docID, text, metadataJSON string
			blob                          []byte
		)
		if err := rows.Scan(&id, &docID, &text, &metadataJSON, &blob); err != nil {
			return nil, ragerrors.Classify(ragerrors.StageRetrieval, fmt.Errorf("failed to scan fragment: %w", err))
		}
		var meta map[string]interface{}
		if err := json.Unmarshal([]byte(metadataJSON), &meta); err != nil {
			return nil, ragerrors.Permanent(ragerrors.StageRetrieval, fmt.Errorf("corrupt metadata for fragment %s: %w", id, err))
		}
		if meta == nil {
			meta = map[string]interface{}{}
		}
		if !matches(meta, filter) {
			continue
		}
		embedding := bytesToFloat32Slice(blob)
		if len(embedding) != s.dimensions {
			s.opts.logger.Warn("skipping fragment with wrong dimension",
				zap.String("fragment_id", id), zap.Int("dimensions", len(embedding)))
			continue
		}
		results = append(results, newResult(id, text, docID, meta, cosineDistance(vector, embedding)))
	}
	if err := rows.Err(); err != nil {
		return nil, ragerrors.Classify(ragerrors.StageRetrieval, fmt.Errorf("failed to read fragments: %w", err))
	}
	return topK(results, k), nil
}

// DeleteByIDs removes fragments by ID.
func (s *SQLiteStore) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	total := 0
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, "DELETE FROM fragments WHERE id = ?", id)
		if err != nil {
			return 0, fmt.Errorf("failed to delete fragment %s: %w", id, err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit delete: %w", err)
	}
	return total, nil
}

// DeleteByDocument removes every fragment of docID.
func (s *SQLiteStore) DeleteByDocument(ctx context.Context, docID string) (int, error) {
	return s.exec(ctx, "DELETE FROM fragments WHERE source_document_id = ?", docID)
}

// DeleteExpired removes fragments whose expiry has passed.
func (s *SQLiteStore) DeleteExpired(ctx context.Context) (int, error) {
	return s.exec(ctx, "DELETE FROM fragments WHERE expires_at <= ?", s.opts.now().UnixNano())
}

func (s *SQLiteStore) exec(ctx context.Context, query string, args ...interface{}) (int, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete fragments: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted fragments: %w", err)
	}
	return int(n), nil
}

// Count returns the number of stored fragments.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM fragments").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count fragments: %w", err)
	}
	return n, nil
}

// Dimensions returns the vector dimension.
func (s *SQLiteStore) Dimensions() int {
	return s.dimensions
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
