// Package indexer turns documents into embedded, retrievable fragments: it extracts and
// preprocesses text, chunks it, embeds the chunks and writes them to the vector store.
package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/fileid"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/ragerrors"
	"github.com/hyperjump/kotae/internal/vectorstore"
	"github.com/hyperjump/kotae/pkg/utils"
)

// Metadata keys set on ingested fragments.
const (
	MetaTitle       = "title"
	MetaSource      = "source"
	MetaSourcePath  = "source_path"
	MetaSourceSize  = "source_size"
	MetaSourceMtime = "source_mtime"
)

// maxDocumentIDLength bounds caller-supplied document ids.
const maxDocumentIDLength = 128

// Embedder embeds chunk texts, keeping input order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Catalog records ingested documents.
type Catalog interface {
	Upsert(ctx context.Context, entry *models.CatalogEntry) error
	Delete(ctx context.Context, id string) error
}

// Indexer ingests documents into the vector store. It is safe for concurrent use.
type Indexer struct {
	embedder   Embedder
	store      vectorstore.Store
	catalog    Catalog
	chunker    *Chunker
	extractor  *extract.Extractor
	extensions []string
	maxBytes   int64
	ttl        time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithLogger sets a logger for ingestion events.
func WithLogger(l *zap.Logger) Option {
	return func(idx *Indexer) { idx.logger = l }
}

// WithCatalog records every ingested document in c.
func WithCatalog(c Catalog) Option {
	return func(idx *Indexer) { idx.catalog = c }
}

// WithChunking sets the chunk size and overlap, in characters.
func WithChunking(maxChunkSize, overlapSize int) Option {
	return func(idx *Indexer) { idx.chunker = NewChunker(maxChunkSize, overlapSize) }
}

// WithExtensions limits file ingestion to the given extensions. Empty allows every
// extension the extractor supports.
func WithExtensions(exts []string) Option {
	return func(idx *Indexer) { idx.extensions = exts }
}

// WithMaxBytes bounds the size of ingested files and uploads. Zero disables the check.
func WithMaxBytes(n int64) Option {
	return func(idx *Indexer) { idx.maxBytes = n }
}

// WithTTL sets the default fragment retention.
func WithTTL(ttl time.Duration) Option {
	return func(idx *Indexer) { idx.ttl = ttl }
}

// WithClock sets the time source for fragment timestamps.
func WithClock(now func() time.Time) Option {
	return func(idx *Indexer) { idx.now = now }
}

// OptionsFromConfig maps configuration to options.
func OptionsFromConfig(cfg *config.Config) []Option {
	return []Option{
		WithChunking(cfg.Chunking.MaxChunkSize, cfg.Chunking.OverlapSize),
		WithExtensions(cfg.Ingest.Extensions),
		WithMaxBytes(cfg.Ingest.MaxUploadBytes),
		WithTTL(cfg.Storage.FragmentTTL),
	}
}

// New creates an Indexer writing to store.
func New(embedder Embedder, store vectorstore.Store, opts ...Option) *Indexer {
	idx := &Indexer{
		embedder:  embedder,
		store:     store,
		chunker:   NewChunker(0, 0),
		extractor: extract.NewExtractor(),
		ttl:       config.DefaultFragmentTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.logger = utils.OrNop(idx.logger)
	return idx
}

// IngestText preprocesses, chunks and embeds in.Content and replaces any fragments
// previously stored for the document. A missing ID gets a generated one.
func (idx *Indexer) IngestText(ctx context.Context, in models.DocumentInput) (*models.IngestResult, error) {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if len(id) > maxDocumentIDLength || strings.ContainsAny(id, "/?#") {
		return nil, ragerrors.NewValidationError("id", "document id must be at most 128 characters and must not contain '/', '?' or '#'")
	}
	content := Preprocess(in.Content)
	if content == "" {
		return nil, ragerrors.NewValidationError("content", "document content must not be empty")
	}

	ttl := in.TTL
	if ttl <= 0 {
		ttl = idx.ttl
	}
	now := idx.now()
	fragments := idx.chunker.Fragments(id, content, now, ttl)
	if len(fragments) == 0 {
		return nil, ragerrors.NewValidationError("content", "document produced no text to index")
	}

	texts := make([]string, len(fragments))
	for i, f := range fragments {
		texts[i] = f.Text
	}
	vectors, err := idx.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}

	meta := make(map[string]interface{}, len(in.Metadata)+2)
	for k, v := range in.Metadata {
		meta[k] = v
	}
	if in.Title != "" {
		meta[MetaTitle] = in.Title
	}
	if in.Source != "" {
		meta[MetaSource] = in.Source
	}
	for i, f := range fragments {
		f.Embedding = vectors[i]
		f.Metadata = meta
	}

	removed, err := idx.store.ReplaceDocument(ctx, id, fragments)
	if err != nil {
		return nil, fmt.Errorf("failed to store fragments: %w", err)
	}

	if idx.catalog != nil {
		entry := &models.CatalogEntry{
			ID:         id,
			Title:      in.Title,
			Source:     in.Source,
			Fragments:  len(fragments),
			IngestedAt: now,
		}
		if err := idx.catalog.Upsert(ctx, entry); err != nil {
			return nil, fmt.Errorf("failed to update catalog: %w", err)
		}
	}

	idx.logger.Info("document ingested",
		zap.String("document_id", id),
		zap.Int("fragments", len(fragments)),
		zap.Int("replaced", removed))
	return &models.IngestResult{
		DocumentID: id,
		Title:      in.Title,
		Fragments:  len(fragments),
		ExpiresAt:  now.Add(ttl),
	}, nil
}

// IngestFile extracts and ingests the file at path. The document id is derived from the
// absolute path, so re-ingesting a file replaces its fragments.
func (idx *Indexer) IngestFile(ctx context.Context, path string) (*models.IngestResult, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	if err := idx.checkExtension(absPath); err != nil {
		return nil, err
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, ragerrors.NewValidationError("path", "not a regular file: "+absPath)
	}
	if err := idx.checkSize(info.Size()); err != nil {
		return nil, err
	}

	text, err := idx.extractor.Extract(absPath)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", filepath.Base(absPath), err)
	}
	return idx.IngestText(ctx, models.DocumentInput{
		ID:      fileid.FromAbs(absPath),
		Title:   filepath.Base(absPath),
		Content: text,
		Source:  absPath,
		Metadata: map[string]interface{}{
			MetaSourcePath: absPath,
			MetaSourceSize: info.Size(),
			// Stored as a string: UnixNano does not fit a float64 exactly.
			MetaSourceMtime: strconv.FormatInt(info.ModTime().UnixNano(), 10),
		},
	})
}

// IngestBytes extracts and ingests uploaded content. name supplies the extension and
// the default title; fields set on in take precedence.
func (idx *Indexer) IngestBytes(ctx context.Context, name string, data []byte, in models.DocumentInput) (*models.IngestResult, error) {
	name = filepath.Base(name)
	if err := idx.checkExtension(name); err != nil {
		return nil, err
	}
	if err := idx.checkSize(int64(len(data))); err != nil {
		return nil, err
	}
	text, err := idx.extractor.ExtractBytes(data, filepath.Ext(name))
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", name, err)
	}
	in.Content = text
	if in.Title == "" {
		in.Title = name
	}
	if in.Source == "" {
		in.Source = "upload:" + name
	}
	return idx.IngestText(ctx, in)
}

// IngestDirectory walks dir recursively and ingests each regular file with an allowed
// extension. Files that fail validation are skipped; other failures stop the walk.
// Returns the results of the files ingested, in walk order.
func (idx *Indexer) IngestDirectory(ctx context.Context, dir string) (results []*models.IngestResult, err error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absDir)
	}
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || idx.checkExtension(path) != nil {
			return nil
		}
		res, ingestErr := idx.IngestFile(ctx, path)
		if ingestErr != nil {
			if ragerrors.KindOf(ingestErr) == ragerrors.KindValidation {
				idx.logger.Warn("skipping file", zap.String("path", path), zap.Error(ingestErr))
				return nil
			}
			return ingestErr
		}
		results = append(results, res)
		return nil
	})
	return results, err
}

// DeleteDocument removes every fragment of the document and its catalog entry.
// It returns the number of fragments removed.
func (idx *Indexer) DeleteDocument(ctx context.Context, id string) (int, error) {
	removed, err := idx.store.DeleteByDocument(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("failed to delete fragments: %w", err)
	}
	if idx.catalog != nil {
		if err := idx.catalog.Delete(ctx, id); err != nil {
			return removed, fmt.Errorf("failed to delete catalog entry: %w", err)
		}
	}
	idx.logger.Info("document deleted", zap.String("document_id", id), zap.Int("fragments", removed))
	return removed, nil
}

// DeleteFile removes the document ingested from path.
func (idx *Indexer) DeleteFile(ctx context.Context, path string) (int, error) {
	id, err := fileid.ForPath(path)
	if err != nil {
		return 0, err
	}
	return idx.DeleteDocument(ctx, id)
}

func (idx *Indexer) checkExtension(name string) error {
	ext := strings.ToLower(filepath.Ext(name))
	if !extract.Supported(ext) {
		return ragerrors.NewValidationError("file", fmt.Sprintf("unsupported file type %q", ext))
	}
	if len(idx.extensions) > 0 && !extensionAllowed(ext, idx.extensions) {
		return ragerrors.NewValidationError("file", fmt.Sprintf("extension %q is not in the allowed list", ext))
	}
	return nil
}

func (idx *Indexer) checkSize(size int64) error {
	if idx.maxBytes > 0 && size > idx.maxBytes {
		return ragerrors.NewValidationError("file", fmt.Sprintf("file is larger than %d bytes", idx.maxBytes))
	}
	return nil
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
