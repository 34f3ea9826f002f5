// Package orchestrator runs single queries through embedding, retrieval and synthesis
// with whole-sequence retry, and keeps query history and performance metrics.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/felixgeelhaar/statekit"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/ragerrors"
	"github.com/hyperjump/kotae/internal/sweeper"
	"github.com/hyperjump/kotae/internal/vectorstore"
	"github.com/hyperjump/kotae/pkg/utils"
)

// Embedder produces query embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Stats() models.EmbeddingStats
}

// Synthesizer produces an answer from retrieved fragments.
type Synthesizer interface {
	Synthesize(ctx context.Context, query string, sources []*models.RetrievalResult, includeMetadata bool) (*models.Answer, error)
}

// Orchestrator processes queries. It is safe for concurrent use.
type Orchestrator struct {
	embedder    Embedder
	store       vectorstore.Store
	synthesizer Synthesizer
	machine     *statekit.MachineConfig[*queryRun]

	limits        models.QueryLimits
	maxAttempts   int
	baseDelay     time.Duration
	timeout       time.Duration
	historyTTL    time.Duration
	sweepInterval time.Duration

	history *History
	metrics *metrics
	sweeper *sweeper.Sweeper
	now     func() time.Time
	logger  *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets a logger for query events.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithLimits sets query validation limits.
func WithLimits(limits models.QueryLimits) Option {
	return func(o *Orchestrator) { o.limits = limits }
}

// WithRetry sets the whole-sequence attempt budget and base backoff delay.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(o *Orchestrator) {
		if maxAttempts > 0 {
			o.maxAttempts = maxAttempts
		}
		o.baseDelay = baseDelay
	}
}

// WithTimeout bounds the total time of one query, backoff included. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithHistory sets the history capacity, entry lifetime and sweep interval.
func WithHistory(capacity int, ttl, sweepInterval time.Duration) Option {
	return func(o *Orchestrator) {
		o.history = NewHistory(capacity)
		o.historyTTL = ttl
		o.sweepInterval = sweepInterval
	}
}

// WithClock sets the time source for history timestamps and metrics.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// OptionsFromConfig maps query configuration to options.
func OptionsFromConfig(cfg config.QueryConfig) []Option {
	return []Option{
		WithLimits(models.QueryLimits{
			MaxQueryLength:    cfg.MaxQueryLength,
			DefaultMaxResults: cfg.DefaultMaxResults,
			MaxResults:        cfg.MaxResults,
		}),
		WithRetry(cfg.MaxAttempts, cfg.RetryBaseDelay),
		WithTimeout(cfg.Timeout),
		WithHistory(cfg.HistoryCap, cfg.HistoryTTL, cfg.HistorySweepInterval),
	}
}

// New creates an Orchestrator over the given components.
func New(embedder Embedder, store vectorstore.Store, synthesizer Synthesizer, opts ...Option) (*Orchestrator, error) {
	machine, err := newQueryMachine()
	if err != nil {
		return nil, fmt.Errorf("failed to build query state machine: %w", err)
	}
	o := &Orchestrator{
		embedder:    embedder,
		store:       store,
		synthesizer: synthesizer,
		machine:     machine,
		limits:      models.QueryLimits{MaxQueryLength: 2000, DefaultMaxResults: 5, MaxResults: 20},
		maxAttempts: 3,
		baseDelay:   time.Second,
		timeout:     60 * time.Second,
		historyTTL:  24 * time.Hour,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.history == nil {
		o.history = NewHistory(DefaultHistoryCap)
	}
	if o.sweepInterval <= 0 {
		o.sweepInterval = time.Hour
	}
	o.logger = utils.OrNop(o.logger)
	o.metrics = newMetrics(o.now())
	o.sweeper = sweeper.New("query-history", o.sweepInterval, o.sweepHistory, sweeper.WithLogger(o.logger))
	return o, nil
}

// Start launches the history retention sweep.
func (o *Orchestrator) Start(ctx context.Context) {
	if o.historyTTL > 0 {
		o.sweeper.Start(ctx)
	}
}

// Stop ends the history retention sweep.
func (o *Orchestrator) Stop() {
	o.sweeper.Stop()
}

func (o *Orchestrator) sweepHistory(ctx context.Context) (int, error) {
	if o.historyTTL <= 0 {
		return 0, nil
	}
	return o.history.DeleteOlderThan(o.now().Add(-o.historyTTL)), nil
}

type attemptOutput struct {
	sources []*models.RetrievalResult
	answer  *models.Answer
}

// ProcessQuery validates req and runs it through the pipeline. Validation errors are
// returned before any stage runs and are not counted in the metrics.
func (o *Orchestrator) ProcessQuery(ctx context.Context, req models.QueryRequest) (*models.QueryResult, error) {
	if err := req.Validate(o.limits); err != nil {
		return nil, err
	}

	start := time.Now()
	queryID := uuid.NewString()
	logger := o.logger.With(zap.String("query_id", queryID))

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	run := newQueryRun(queryID, logger)
	interp := statekit.NewInterpreter(o.machine)
	interp.UpdateContext(func(c **queryRun) { *c = run })
	interp.Start()
	defer interp.Stop()

	out, attempts, err := o.runWithRetry(ctx, interp, req, logger)
	processingMs := time.Since(start).Milliseconds()
	if err != nil {
		if !interp.Done() {
			interp.Send(statekit.Event{Type: eventFail})
		}
		o.metrics.recordFailure(o.now())
		logger.Error("query failed",
			zap.Int("attempts", attempts),
			zap.String("kind", string(ragerrors.KindOf(err))),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return nil, err
	}

	sources := out.sources
	if sources == nil {
		sources = []*models.RetrievalResult{}
	}
	if !req.IncludeMetadata {
		for _, s := range sources {
			s.Metadata = nil
		}
	}

	meta := map[string]interface{}{
		"query_id":      queryID,
		"attempts":      attempts,
		"stage_timings": run.stageTimingsMs(),
		"tokens_used":   out.answer.TokensUsed,
		"source_count":  len(sources),
		"empty_result":  out.answer.Empty,
	}
	if out.answer.Model != "" {
		meta["model"] = out.answer.Model
	}
	if req.DocumentID != "" {
		meta["document_id"] = req.DocumentID
	}

	now := o.now()
	result := &models.QueryResult{
		Query:            req.Query,
		Answer:           out.answer.Text,
		Sources:          sources,
		Confidence:       out.answer.Confidence,
		ProcessingTimeMs: processingMs,
		Metadata:         meta,
		CreatedAt:        now,
	}

	o.history.Add(&models.HistoryEntry{
		ID:               queryID,
		Query:            utils.Truncate(req.Query, maxHistoryQuery),
		Answer:           utils.Truncate(out.answer.Text, maxHistoryAnswer),
		SourceCount:      len(sources),
		Confidence:       out.answer.Confidence,
		ProcessingTimeMs: processingMs,
		TokensUsed:       out.answer.TokensUsed,
		Timestamp:        now,
	})
	o.metrics.recordSuccess(now, processingMs, out.answer.Confidence, out.answer.TokensUsed)

	logger.Info("query completed",
		zap.Int("attempts", attempts),
		zap.Int("sources", len(sources)),
		zap.Float64("confidence", out.answer.Confidence),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

// runWithRetry runs the whole sequence, restarting from embedding after transient
// failures. It returns the number of attempts made.
func (o *Orchestrator) runWithRetry(ctx context.Context, interp *statekit.Interpreter[*queryRun], req models.QueryRequest, logger *zap.Logger) (*attemptOutput, int, error) {
	var (
		attempts int
		lastErr  error
		final    error
	)
	r := retry.New[*attemptOutput](retry.Config{
		MaxAttempts:   o.maxAttempts,
		InitialDelay:  o.baseDelay,
		BackoffPolicy: retry.BackoffExponential,
		Multiplier:    2.0,
		NonRetryableErrors: []error{
			ragerrors.ErrValidation, ragerrors.ErrPermanent,
			ragerrors.ErrRetryExhausted, ragerrors.ErrQueryTimeout,
		},
	})
	out, err := r.Do(ctx, func(ctx context.Context) (*attemptOutput, error) {
		if final != nil {
			return nil, final
		}
		if attempts > 0 {
			interp.Send(statekit.Event{Type: eventRestart})
		}
		attempts++
		out, err := o.runSequence(ctx, interp, req)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !ragerrors.IsRetryable(err) || attempts >= o.maxAttempts || ctx.Err() != nil {
			final = err
			return nil, err
		}
		logger.Warn("query attempt failed, restarting",
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", o.maxAttempts),
			zap.String("stage", stageOf(interp)),
			zap.Error(err))
		interp.Send(statekit.Event{Type: eventRetry})
		return nil, err
	})
	if err == nil {
		return out, attempts, nil
	}
	if lastErr == nil {
		lastErr = ragerrors.Classify(ragerrors.StageQuery, err)
	}
	return nil, attempts, o.finalError(ctx, attempts, lastErr)
}

// finalError decides what a failed query reports: a query timeout when the deadline
// passed, exhaustion when every attempt failed transiently, or the terminal error.
func (o *Orchestrator) finalError(ctx context.Context, attempts int, lastErr error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &ragerrors.QueryTimeoutError{Attempts: attempts, Err: lastErr}
	}
	if ragerrors.IsRetryable(lastErr) && attempts >= o.maxAttempts {
		return &ragerrors.RetryExhaustedError{Stage: ragerrors.StageQuery, Attempts: attempts, Err: lastErr}
	}
	return lastErr
}

// runSequence performs one embedding -> retrieval -> synthesis pass.
func (o *Orchestrator) runSequence(ctx context.Context, interp *statekit.Interpreter[*queryRun], req models.QueryRequest) (*attemptOutput, error) {
	vector, err := o.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, ragerrors.Classify(ragerrors.StageEmbedding, err)
	}
	interp.Send(statekit.Event{Type: eventEmbedded})

	sources, err := o.store.Search(ctx, vector, req.MaxResults, vectorstore.DocumentFilter(req.DocumentID))
	if err != nil {
		return nil, ragerrors.Classify(ragerrors.StageRetrieval, err)
	}
	interp.Send(statekit.Event{Type: eventRetrieved})

	answer, err := o.synthesizer.Synthesize(ctx, req.Query, sources, req.IncludeMetadata)
	if err != nil {
		return nil, ragerrors.Classify(ragerrors.StageGeneration, err)
	}
	interp.Send(statekit.Event{Type: eventSynthesized})
	return &attemptOutput{sources: sources, answer: answer}, nil
}

func stageOf(interp *statekit.Interpreter[*queryRun]) string {
	return string(interp.State().Value)
}

// Stats returns the aggregate snapshot.
func (o *Orchestrator) Stats(ctx context.Context) models.Stats {
	m := o.metrics.snapshot()
	stats := models.Stats{
		Metrics:       m,
		UptimeSeconds: o.now().Sub(m.StartTime).Seconds(),
		HistorySize:   o.history.Len(),
		HistoryCap:    o.history.Capacity(),
	}
	if m.TotalQueries > 0 {
		stats.SuccessRate = float64(m.SuccessfulQueries) / float64(m.TotalQueries)
	}
	if o.embedder != nil {
		stats.Embedding = o.embedder.Stats()
	}
	if o.store != nil {
		n, err := o.store.Count(ctx)
		if err != nil {
			o.logger.Warn("failed to count fragments", zap.Error(err))
		}
		stats.Fragments = n
	}
	return stats
}

// Limits returns the query limits requests are validated against.
func (o *Orchestrator) Limits() models.QueryLimits {
	return o.limits
}

// History returns up to limit entries, newest first.
func (o *Orchestrator) History(limit int) models.HistoryPage {
	return o.history.Page(limit)
}

// ClearHistory removes all history and resets the performance metrics.
func (o *Orchestrator) ClearHistory() {
	o.history.Clear()
	o.metrics.reset(o.now())
	o.logger.Info("query history and metrics cleared")
}
