package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/batch"
	"github.com/hyperjump/kotae/internal/catalog"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/generation"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/orchestrator"
	"github.com/hyperjump/kotae/internal/server"
	"github.com/hyperjump/kotae/internal/sweeper"
	"github.com/hyperjump/kotae/internal/synthesis"
	"github.com/hyperjump/kotae/internal/vectorstore"
)

// Components holds initialized services.
type Components struct {
	Store        vectorstore.Store
	Embedder     *embedding.Client
	Generator    generation.Provider
	Catalog      *catalog.Catalog
	Orchestrator *orchestrator.Orchestrator
	Batch        *batch.Coordinator
	Indexer      *indexer.Indexer
	Sweeper      *sweeper.Sweeper
}

// Services returns the components the HTTP API exposes.
func (c *Components) Services() server.Services {
	return server.Services{
		Queries:   c.Orchestrator,
		Batches:   c.Batch,
		Documents: c.Indexer,
		Catalog:   c.Catalog,
	}
}

// Start launches the history and fragment retention sweeps.
func (c *Components) Start(ctx context.Context) {
	c.Orchestrator.Start(ctx)
	c.Sweeper.Start(ctx)
}

func (c *Components) Close() {
	if c.Sweeper != nil {
		c.Sweeper.Stop()
	}
	if c.Orchestrator != nil {
		c.Orchestrator.Stop()
	}
	if c.Catalog != nil {
		_ = c.Catalog.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Generator != nil {
		_ = c.Generator.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *Components, err error) {
	c := &Components{}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	provider, err := embedding.NewProvider(cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	c.Embedder = embedding.NewClient(provider,
		append(embedding.OptionsFromConfig(cfg.Embedding), embedding.WithLogger(logger))...)

	c.Store, err = vectorstore.NewStore(ctx, cfg.Storage, c.Embedder.Dimensions(), vectorstore.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}

	c.Catalog, err = catalog.New(cfg.Storage.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize document catalog: %w", err)
	}

	c.Generator, err = generation.NewProvider(cfg.Generation, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize generation provider: %w", err)
	}
	synth := synthesis.New(c.Generator,
		synthesis.WithBreaker(cfg.Generation.BreakerFailures, cfg.Generation.BreakerTimeout),
		synthesis.WithLogger(logger))

	c.Orchestrator, err = orchestrator.New(c.Embedder, c.Store, synth,
		append(orchestrator.OptionsFromConfig(cfg.Query), orchestrator.WithLogger(logger))...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize orchestrator: %w", err)
	}
	c.Batch = batch.NewCoordinator(c.Orchestrator,
		append(batch.OptionsFromConfig(cfg.Batch), batch.WithLogger(logger))...)
	c.Indexer = indexer.New(c.Embedder, c.Store,
		append(indexer.OptionsFromConfig(cfg), indexer.WithCatalog(c.Catalog), indexer.WithLogger(logger))...)
	c.Sweeper = sweeper.New("fragment-retention", cfg.Storage.SweepInterval, c.Store.DeleteExpired,
		sweeper.WithLogger(logger))

	logger.Debug("components initialized",
		zap.String("backend", cfg.Storage.Backend),
		zap.String("embedding_provider", provider.Name()),
		zap.String("generation_provider", c.Generator.Name()),
		zap.Int("dimensions", c.Embedder.Dimensions()))
	return c, nil
}
