// Package batch fans a list of questions out across the query pipeline and
// reports each outcome as data.
package batch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/ragerrors"
	"github.com/hyperjump/kotae/pkg/utils"
)

// Defaults for Coordinator.
const (
	DefaultSize       = 3
	DefaultPause      = 100 * time.Millisecond
	DefaultMaxQueries = 10
	DefaultMaxResults = 20
)

// QueryProcessor answers a single query.
type QueryProcessor interface {
	ProcessQuery(ctx context.Context, req models.QueryRequest) (*models.QueryResult, error)
}

// limitsProvider is implemented by processors that expose their query limits.
type limitsProvider interface {
	Limits() models.QueryLimits
}

// Coordinator runs batches of queries. It is safe for concurrent use.
type Coordinator struct {
	processor  QueryProcessor
	size       int
	pause      time.Duration
	maxQueries int
	maxResults int
	logger     *zap.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets a logger for batch events.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithSubBatch sets how many queries run at once and the pause between sub-batches.
func WithSubBatch(size int, pause time.Duration) Option {
	return func(c *Coordinator) {
		if size > 0 {
			c.size = size
		}
		c.pause = pause
	}
}

// WithMaxQueries sets the largest accepted batch.
func WithMaxQueries(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxQueries = n
		}
	}
}

// WithMaxResults sets the largest per-query result count a batch may ask for.
// It defaults to the processor's own limit when the processor reports one.
func WithMaxResults(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxResults = n
		}
	}
}

// OptionsFromConfig maps batch configuration to options.
func OptionsFromConfig(cfg config.BatchConfig) []Option {
	return []Option{
		WithSubBatch(cfg.Size, cfg.Pause),
		WithMaxQueries(cfg.MaxQueries),
	}
}

// NewCoordinator creates a Coordinator over processor.
func NewCoordinator(processor QueryProcessor, opts ...Option) *Coordinator {
	c := &Coordinator{
		processor:  processor,
		size:       DefaultSize,
		pause:      DefaultPause,
		maxQueries: DefaultMaxQueries,
		maxResults: DefaultMaxResults,
	}
	if lp, ok := processor.(limitsProvider); ok && lp.Limits().MaxResults > 0 {
		c.maxResults = lp.Limits().MaxResults
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = utils.OrNop(c.logger)
	return c
}

// Run processes queries and returns one item per query in input order. Only a bad
// batch shape is returned as an error; per-query failures are reported in the items.
// When ctx ends, queries that have not started are marked failed.
func (c *Coordinator) Run(ctx context.Context, queries []string, maxResults int) (*models.BatchResponse, error) {
	if len(queries) == 0 {
		return nil, ragerrors.NewValidationError("queries", "queries must not be empty")
	}
	if len(queries) > c.maxQueries {
		return nil, ragerrors.NewValidationError("queries",
			fmt.Sprintf("a batch may contain at most %d queries", c.maxQueries))
	}
	// Zero asks for the processor's default.
	if maxResults < 0 || maxResults > c.maxResults {
		return nil, ragerrors.NewValidationError("max_results",
			fmt.Sprintf("max_results must be between 1 and %d", c.maxResults))
	}

	start := time.Now()
	items := make([]*models.BatchItem, len(queries))
	for first := 0; first < len(queries); first += c.size {
		if first > 0 {
			if err := utils.Sleep(ctx, c.pause); err != nil {
				c.failRemaining(items, queries, first, err)
				break
			}
		}
		if err := ctx.Err(); err != nil {
			c.failRemaining(items, queries, first, err)
			break
		}
		last := min(first+c.size, len(queries))
		var g errgroup.Group
		for i := first; i < last; i++ {
			g.Go(func() error {
				items[i] = c.runOne(ctx, i, queries[i], maxResults)
				return nil
			})
		}
		_ = g.Wait()
	}

	resp := &models.BatchResponse{Results: items, Total: len(items)}
	for _, item := range items {
		if item.Status == models.BatchStatusOK {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	c.logger.Info("batch completed",
		zap.Int("total", resp.Total),
		zap.Int("succeeded", resp.Succeeded),
		zap.Int("failed", resp.Failed),
		zap.Duration("duration", time.Since(start)))
	return resp, nil
}

func (c *Coordinator) runOne(ctx context.Context, index int, query string, maxResults int) *models.BatchItem {
	item := &models.BatchItem{Index: index, Query: query}
	res, err := c.processor.ProcessQuery(ctx, models.QueryRequest{Query: query, MaxResults: maxResults})
	if err != nil {
		c.logger.Warn("batch query failed", zap.Int("index", index), zap.Error(err))
		item.Status = models.BatchStatusFailed
		item.Error = errorInfo(err)
		return item
	}
	item.Status = models.BatchStatusOK
	item.Result = res
	return item
}

func (c *Coordinator) failRemaining(items []*models.BatchItem, queries []string, from int, err error) {
	info := errorInfo(ragerrors.Classify(ragerrors.StageQuery, err))
	for i := from; i < len(queries); i++ {
		items[i] = &models.BatchItem{Index: i, Status: models.BatchStatusFailed, Query: queries[i], Error: info}
	}
	c.logger.Warn("batch interrupted", zap.Int("skipped", len(queries)-from), zap.Error(err))
}

// errorInfo converts err to its caller-facing form.
func errorInfo(err error) *models.ErrorInfo {
	return &models.ErrorInfo{Kind: string(ragerrors.KindOf(err)), Message: ragerrors.PublicMessage(err)}
}
