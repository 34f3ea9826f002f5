package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/ragerrors"
	"github.com/hyperjump/kotae/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Client produces embeddings through a Provider. It cleans and truncates input,
// memoizes results by content hash, collapses concurrent identical requests,
// paces provider calls, and retries transient provider failures.
type Client struct {
	provider      Provider
	cache         *Cache
	dimensions    int
	maxInputChars int
	maxAttempts   int
	baseDelay     time.Duration
	callTimeout   time.Duration
	batchSize     int
	batchPause    time.Duration
	limiter       *rate.Limiter
	group         singleflight.Group
	flightsMu     sync.Mutex
	flights       map[string]*flight
	calls         atomic.Int64
	logger        *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets a logger for retry and cache events.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithCacheSize sets the cache capacity.
func WithCacheSize(n int) ClientOption {
	return func(c *Client) { c.cache = NewCache(n) }
}

// WithRetry sets the attempt budget and base backoff delay (delay doubles per attempt).
func WithRetry(maxAttempts int, baseDelay time.Duration) ClientOption {
	return func(c *Client) {
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
		c.baseDelay = baseDelay
	}
}

// WithBatching sets the EmbedBatch sub-batch size and the pause between sub-batches.
func WithBatching(size int, pause time.Duration) ClientOption {
	return func(c *Client) {
		if size > 0 {
			c.batchSize = size
		}
		c.batchPause = pause
	}
}

// WithRateLimit paces provider calls to rps requests per second. Zero disables pacing.
func WithRateLimit(rps float64) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		burst := int(math.Ceil(rps))
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithMaxInputChars sets the truncation limit applied before calling the provider.
func WithMaxInputChars(n int) ClientOption {
	return func(c *Client) { c.maxInputChars = n }
}

// WithCallTimeout bounds each individual provider call.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.callTimeout = d }
}

// OptionsFromConfig maps embedding configuration to client options.
func OptionsFromConfig(cfg config.EmbeddingConfig) []ClientOption {
	return []ClientOption{
		WithCacheSize(cfg.CacheSize),
		WithRetry(cfg.MaxAttempts, cfg.RetryBaseDelay),
		WithBatching(cfg.BatchSize, cfg.BatchPause),
		WithRateLimit(cfg.RequestsPerSecond),
		WithMaxInputChars(cfg.MaxInputChars),
		WithCallTimeout(cfg.RequestTimeout),
	}
}

// NewClient wraps provider. Without options the client caches 1000 entries, makes
// up to 3 attempts starting at a 1s backoff, and embeds batches 5 at a time.
func NewClient(provider Provider, opts ...ClientOption) *Client {
	c := &Client{
		provider:      provider,
		cache:         NewCache(1000),
		dimensions:    provider.Dimensions(),
		maxInputChars: 8000,
		maxAttempts:   3,
		baseDelay:     time.Second,
		batchSize:     5,
		batchPause:    100 * time.Millisecond,
		flights:       make(map[string]*flight),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = utils.OrNop(c.logger)
	return c
}

// Embed returns the embedding of text. Text that is empty after cleaning is a
// validation error; malformed provider output is a permanent error; a provider
// that keeps failing transiently yields a RetryExhaustedError.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	cleaned := Clean(text)
	if cleaned == "" {
		return nil, ragerrors.NewValidationError("text", "text is empty after cleaning")
	}
	key := CacheKey(cleaned)
	if vec, ok := c.cache.Get(key); ok {
		c.logger.Debug("embedding cache hit", zap.String("key", key[:12]))
		return vec, nil
	}

	f := c.join(ctx, key)
	defer c.leave(key, f)

	ch := c.group.DoChan(key, func() (interface{}, error) {
		if vec, ok := c.cache.peek(key); ok {
			return vec, nil
		}
		vec, err := c.embedWithRetry(f.ctx, Truncate(cleaned, c.maxInputChars))
		if err != nil {
			return nil, err
		}
		c.cache.Set(key, vec)
		return vec, nil
	})
	select {
	case <-ctx.Done():
		return nil, ragerrors.Classify(ragerrors.StageEmbedding, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.Debug("embedding request shared", zap.String("key", key[:12]))
		}
		return res.Val.([]float32), nil
	}
}

// flight is the context shared by every caller waiting on one provider request.
// It outlives any single caller and is cancelled once the last caller has left.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func (c *Client) join(ctx context.Context, key string) *flight {
	c.flightsMu.Lock()
	defer c.flightsMu.Unlock()
	f, ok := c.flights[key]
	if !ok {
		shared, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: shared, cancel: cancel}
		c.flights[key] = f
	}
	f.waiters++
	return f
}

func (c *Client) leave(key string, f *flight) {
	c.flightsMu.Lock()
	defer c.flightsMu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	if c.flights[key] == f {
		delete(c.flights, key)
		// Later callers start a fresh request instead of joining a cancelled one.
		c.group.Forget(key)
	}
	f.cancel()
}

func (c *Client) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	var (
		attempts int
		lastErr  error
		final    error
	)
	r := retry.New[[]float32](retry.Config{
		MaxAttempts:        c.maxAttempts,
		InitialDelay:       c.baseDelay,
		BackoffPolicy:      retry.BackoffExponential,
		Multiplier:         2.0,
		NonRetryableErrors: []error{ragerrors.ErrPermanent, ragerrors.ErrValidation},
	})
	vec, err := r.Do(ctx, func(ctx context.Context) ([]float32, error) {
		if final != nil {
			return nil, final
		}
		attempts++
		vec, err := c.call(ctx, text)
		if err != nil {
			lastErr = err
			if !ragerrors.IsRetryable(err) {
				final = err
				return nil, err
			}
			c.logger.Warn("embedding attempt failed",
				zap.Int("attempt", attempts),
				zap.Int("max_attempts", c.maxAttempts),
				zap.Error(err))
			return nil, err
		}
		return vec, nil
	})
	if err == nil {
		return vec, nil
	}
	if final != nil {
		return nil, final
	}
	if lastErr == nil {
		return nil, ragerrors.Classify(ragerrors.StageEmbedding, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil && attempts < c.maxAttempts {
		return nil, ragerrors.Classify(ragerrors.StageEmbedding, fmt.Errorf("%w (last error: %v)", ctxErr, lastErr))
	}
	return nil, &ragerrors.RetryExhaustedError{Stage: ragerrors.StageEmbedding, Attempts: attempts, Err: lastErr}
}

// call makes one paced provider call and validates the response.
func (c *Client) call(ctx context.Context, text string) ([]float32, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, ragerrors.Transient(ragerrors.StageEmbedding, fmt.Errorf("rate limiter: %w", err))
		}
	}
	callCtx := ctx
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}
	c.calls.Add(1)
	vec, err := c.provider.Embed(callCtx, text)
	if err != nil {
		return nil, ragerrors.Classify(ragerrors.StageEmbedding, err)
	}
	if err := c.validate(vec); err != nil {
		return nil, ragerrors.Permanent(ragerrors.StageEmbedding, err)
	}
	return vec, nil
}

func (c *Client) validate(vec []float32) error {
	if len(vec) == 0 {
		return errors.New("provider returned an empty embedding")
	}
	if c.dimensions > 0 && len(vec) != c.dimensions {
		return fmt.Errorf("provider returned %d dimensions, want %d", len(vec), c.dimensions)
	}
	for _, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return errors.New("provider returned a non-finite embedding value")
		}
	}
	return nil
}

// EmbedBatch embeds texts in sub-batches. Members of a sub-batch run concurrently;
// sub-batches run one after another with a pause between them. The output keeps
// input order. The first failure fails the whole call.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		if start > 0 {
			if err := utils.Sleep(ctx, c.batchPause); err != nil {
				return nil, ragerrors.Classify(ragerrors.StageEmbedding, err)
			}
		}
		end := min(start+c.batchSize, len(texts))
		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				vec, err := c.Embed(gctx, texts[i])
				if err != nil {
					return fmt.Errorf("failed to embed text %d: %w", i, err)
				}
				out[i] = vec
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (c *Client) Dimensions() int { return c.dimensions }

// Stats reports cache and provider usage.
func (c *Client) Stats() models.EmbeddingStats {
	hits, misses := c.cache.Counters()
	return models.EmbeddingStats{
		Provider:      c.provider.Name(),
		CacheSize:     c.cache.Len(),
		CacheCapacity: c.cache.Capacity(),
		CacheHits:     hits,
		CacheMisses:   misses,
		ProviderCalls: c.calls.Load(),
	}
}

// ClearCache drops every cached embedding.
func (c *Client) ClearCache() { c.cache.Clear() }

// Close releases the provider.
func (c *Client) Close() error {
	return c.provider.Close()
}
