package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hyperjump/kotae/internal/cli"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/fileid"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/ragerrors"
)

// backend is what the data commands run against: a server or local storage.
type backend interface {
	Query(ctx context.Context, req models.QueryRequest) (*models.QueryResult, error)
	Batch(ctx context.Context, queries []string, maxResults int) (*models.BatchResponse, error)
	Stats(ctx context.Context) (models.Stats, error)
	History(ctx context.Context, limit int) (models.HistoryPage, error)
	ClearHistory(ctx context.Context) error
	IngestText(ctx context.Context, in models.DocumentInput) (*models.IngestResult, error)
	// IngestPath ingests a file, or every supported file under a directory.
	IngestPath(ctx context.Context, path string, in models.DocumentInput) ([]*models.IngestResult, error)
	Documents(ctx context.Context, q string, limit int) ([]*models.CatalogEntry, int, error)
	DeleteDocument(ctx context.Context, id string) (int, error)
	Close()
}

// openBackend returns a server client when --server is set, otherwise local components.
func (a *App) openBackend(ctx context.Context) (backend, error) {
	if a.opts.serverURL != "" {
		return &remoteBackend{client: cli.NewClient(a.opts.serverURL, 0)}, nil
	}
	cfg, _, err := a.config()
	if err != nil {
		return nil, err
	}
	logger, err := a.logger(cfg, false)
	if err != nil {
		return nil, err
	}
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &localBackend{c: components}, nil
}

type remoteBackend struct {
	client *cli.Client
}

func (r *remoteBackend) Query(ctx context.Context, req models.QueryRequest) (*models.QueryResult, error) {
	return r.client.Query(ctx, req)
}

func (r *remoteBackend) Batch(ctx context.Context, queries []string, maxResults int) (*models.BatchResponse, error) {
	return r.client.Batch(ctx, queries, maxResults)
}

func (r *remoteBackend) Stats(ctx context.Context) (models.Stats, error) {
	return r.client.Stats(ctx)
}

func (r *remoteBackend) History(ctx context.Context, limit int) (models.HistoryPage, error) {
	return r.client.History(ctx, limit)
}

func (r *remoteBackend) ClearHistory(ctx context.Context) error {
	return r.client.ClearHistory(ctx)
}

func (r *remoteBackend) IngestText(ctx context.Context, in models.DocumentInput) (*models.IngestResult, error) {
	return r.client.IngestText(ctx, in)
}

func (r *remoteBackend) IngestPath(ctx context.Context, path string, in models.DocumentInput) ([]*models.IngestResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		res, err := r.client.Upload(ctx, path, in.ID, in.Title)
		if err != nil {
			return nil, err
		}
		return []*models.IngestResult{res}, nil
	}

	var results []*models.IngestResult
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !extract.Supported(filepath.Ext(p)) {
			return nil
		}
		res, err := r.client.Upload(ctx, p, "", "")
		if err != nil {
			var apiErr *cli.APIError
			if errors.As(err, &apiErr) && apiErr.Kind == string(ragerrors.KindValidation) {
				return nil
			}
			return fmt.Errorf("upload %s: %w", p, err)
		}
		results = append(results, res)
		return nil
	})
	return results, err
}

func (r *remoteBackend) Documents(ctx context.Context, q string, limit int) ([]*models.CatalogEntry, int, error) {
	return r.client.Documents(ctx, q, limit)
}

func (r *remoteBackend) DeleteDocument(ctx context.Context, id string) (int, error) {
	return r.client.DeleteDocument(ctx, id)
}

func (r *remoteBackend) Close() {}

type localBackend struct {
	c *Components
}

func (l *localBackend) Query(ctx context.Context, req models.QueryRequest) (*models.QueryResult, error) {
	return l.c.Orchestrator.ProcessQuery(ctx, req)
}

func (l *localBackend) Batch(ctx context.Context, queries []string, maxResults int) (*models.BatchResponse, error) {
	return l.c.Batch.Run(ctx, queries, maxResults)
}

func (l *localBackend) Stats(ctx context.Context) (models.Stats, error) {
	return l.c.Orchestrator.Stats(ctx), nil
}

func (l *localBackend) History(_ context.Context, limit int) (models.HistoryPage, error) {
	return l.c.Orchestrator.History(limit), nil
}

func (l *localBackend) ClearHistory(context.Context) error {
	l.c.Orchestrator.ClearHistory()
	return nil
}

func (l *localBackend) IngestText(ctx context.Context, in models.DocumentInput) (*models.IngestResult, error) {
	return l.c.Indexer.IngestText(ctx, in)
}

func (l *localBackend) IngestPath(ctx context.Context, path string, in models.DocumentInput) ([]*models.IngestResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return l.c.Indexer.IngestDirectory(ctx, path)
	}
	if in.ID == "" && in.Title == "" {
		res, err := l.c.Indexer.IngestFile(ctx, path)
		if err != nil {
			return nil, err
		}
		return []*models.IngestResult{res}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	res, err := l.c.Indexer.IngestBytes(ctx, path, data, in)
	if err != nil {
		return nil, err
	}
	return []*models.IngestResult{res}, nil
}

func (l *localBackend) Documents(ctx context.Context, q string, limit int) ([]*models.CatalogEntry, int, error) {
	return l.c.Catalog.Search(ctx, q, limit)
}

func (l *localBackend) DeleteDocument(ctx context.Context, id string) (int, error) {
	return l.c.Indexer.DeleteDocument(ctx, id)
}

func (l *localBackend) Close() { l.c.Close() }

// documentIDFor maps a delete argument to a document id: an existing file maps to its
// path-derived id, anything else is taken as an id.
func documentIDFor(arg string) (string, error) {
	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		return fileid.ForPath(arg)
	}
	return arg, nil
}
