package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/generation"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/ragerrors"
	"github.com/hyperjump/kotae/internal/synthesis"
	"github.com/hyperjump/kotae/internal/vectorstore"
)

const dims = 256

// countingEmbedder wraps a real client and can fail chosen calls.
type countingEmbedder struct {
	inner *embedding.Client
	mu    sync.Mutex
	calls int
	fail  func(call int) error
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	call := e.calls
	e.mu.Unlock()
	if e.fail != nil {
		if err := e.fail(call); err != nil {
			return nil, err
		}
	}
	return e.inner.Embed(ctx, text)
}

func (e *countingEmbedder) Stats() models.EmbeddingStats { return e.inner.Stats() }

func (e *countingEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// flakyStore fails chosen searches and can block until the context ends.
type flakyStore struct {
	vectorstore.Store
	mu       sync.Mutex
	searches int
	fail     func(call int) error
	block    bool
}

func (s *flakyStore) Search(ctx context.Context, vec []float32, k int, f vectorstore.Filter) ([]*models.RetrievalResult, error) {
	s.mu.Lock()
	s.searches++
	call := s.searches
	s.mu.Unlock()
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.fail != nil {
		if err := s.fail(call); err != nil {
			return nil, err
		}
	}
	return s.Store.Search(ctx, vec, k, f)
}

func (s *flakyStore) Searches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searches
}

// fixedSynthesizer returns answers with scripted confidences.
type fixedSynthesizer struct {
	mu          sync.Mutex
	confidences []float64
	calls       int
}

func (s *fixedSynthesizer) Synthesize(ctx context.Context, query string, sources []*models.RetrievalResult, includeMetadata bool) (*models.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.confidences[s.calls%len(s.confidences)]
	s.calls++
	return &models.Answer{Text: "answer", Confidence: c, TokensUsed: 10}, nil
}

type fixture struct {
	client   *embedding.Client
	embedder *countingEmbedder
	store    *flakyStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := embedding.NewClient(embedding.NewMockProvider(dims), embedding.WithRetry(3, time.Millisecond))
	mem, err := vectorstore.NewMemoryStore(dims)
	require.NoError(t, err)
	return &fixture{
		client:   client,
		embedder: &countingEmbedder{inner: client},
		store:    &flakyStore{Store: mem},
	}
}

func (f *fixture) seed(t *testing.T, docID string, texts ...string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	frags := make([]*models.TextFragment, len(texts))
	for i, text := range texts {
		vec, err := f.client.Embed(ctx, text)
		require.NoError(t, err)
		frags[i] = &models.TextFragment{
			ID:               fmt.Sprintf("%s_%d", docID, i),
			Text:             text,
			SourceDocumentID: docID,
			ChunkIndex:       i,
			TotalChunks:      len(texts),
			Metadata:         map[string]interface{}{"title": docID},
			Embedding:        vec,
			CreatedAt:        now,
			ExpiresAt:        now.Add(time.Hour),
		}
	}
	require.NoError(t, f.store.Add(ctx, frags))
}

func (f *fixture) orchestrator(t *testing.T, synth Synthesizer, opts ...Option) *Orchestrator {
	t.Helper()
	if synth == nil {
		synth = synthesis.New(generation.NewExtractiveProvider())
	}
	o, err := New(f.embedder, f.store, synth, append([]Option{WithRetry(3, time.Millisecond)}, opts...)...)
	require.NoError(t, err)
	return o
}

func TestProcessQuery_Success(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "go-doc",
		"Go is a statically typed compiled programming language designed at Google.",
		"Goroutines are lightweight threads managed by the Go runtime.")
	f.seed(t, "cooking", "Bread dough rises when yeast ferments sugar.")
	o := f.orchestrator(t, nil)

	res, err := o.ProcessQuery(context.Background(), models.QueryRequest{Query: "  Who designed the Go programming language?  ", MaxResults: 2})
	require.NoError(t, err)

	assert.Equal(t, "Who designed the Go programming language?", res.Query)
	require.Len(t, res.Sources, 2)
	assert.Equal(t, "go-doc", res.Sources[0].SourceDocumentID)
	assert.Nil(t, res.Sources[0].Metadata, "metadata is omitted unless requested")
	assert.Contains(t, res.Answer, "[Source 1]")
	assert.GreaterOrEqual(t, res.Confidence, 0.2)
	assert.LessOrEqual(t, res.Confidence, 1.0)
	assert.Equal(t, 1, res.Metadata["attempts"])
	assert.Equal(t, false, res.Metadata["empty_result"])
	assert.Equal(t, 2, res.Metadata["source_count"])
	assert.NotEmpty(t, res.Metadata["query_id"])
	timings, ok := res.Metadata["stage_timings"].(map[string]int64)
	require.True(t, ok)
	assert.Contains(t, timings, "embedding")
	assert.Contains(t, timings, "synthesizing")

	page := o.History(10)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, res.Metadata["query_id"], page.Entries[0].ID)
	assert.Equal(t, 2, page.Entries[0].SourceCount)

	stats := o.Stats(context.Background())
	assert.Equal(t, int64(1), stats.Metrics.SuccessfulQueries)
	assert.Equal(t, 1.0, stats.SuccessRate)
	assert.Equal(t, 3, stats.Fragments)
	assert.Equal(t, 1, stats.HistorySize)
	assert.Equal(t, embedding.ProviderMock, stats.Embedding.Provider)
}

func TestProcessQuery_IncludeMetadata(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "doc", "Kotae answers questions from indexed documents.")
	o := f.orchestrator(t, nil)

	res, err := o.ProcessQuery(context.Background(), models.QueryRequest{Query: "What does kotae answer?", IncludeMetadata: true})
	require.NoError(t, err)
	require.NotEmpty(t, res.Sources)
	assert.Equal(t, "doc", res.Sources[0].Metadata["title"])
}

func TestProcessQuery_EmptyRetrieval(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, nil)

	res, err := o.ProcessQuery(context.Background(), models.QueryRequest{Query: "anything at all"})
	require.NoError(t, err)
	assert.Equal(t, synthesis.NoInformationAnswer, res.Answer)
	assert.Zero(t, res.Confidence)
	assert.Empty(t, res.Sources)
	assert.NotNil(t, res.Sources)
	assert.Equal(t, true, res.Metadata["empty_result"])
	assert.Equal(t, int64(1), o.Stats(context.Background()).Metrics.SuccessfulQueries)
}

func TestProcessQuery_DocumentScoping(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alpha", "Alpha notes about vector search.", "More alpha notes on vector search.")
	f.seed(t, "beta", "Beta notes about vector search.")
	o := f.orchestrator(t, nil)

	res, err := o.ProcessQuery(context.Background(), models.QueryRequest{Query: "vector search", MaxResults: 10, DocumentID: "beta"})
	require.NoError(t, err)
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "beta", res.Sources[0].SourceDocumentID)
	assert.Equal(t, "beta", res.Metadata["document_id"])

	res, err = o.ProcessQuery(context.Background(), models.QueryRequest{Query: "vector search", MaxResults: 10})
	require.NoError(t, err)
	assert.Len(t, res.Sources, 3)
}

func TestProcessQuery_ValidationSkipsPipelineAndMetrics(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, nil)
	ctx := context.Background()

	for _, req := range []models.QueryRequest{
		{Query: "   "},
		{Query: strings.Repeat("x", 2001)},
		{Query: "ok", MaxResults: 21},
		{Query: "ok", MaxResults: -1},
	} {
		_, err := o.ProcessQuery(ctx, req)
		assert.ErrorIs(t, err, ragerrors.ErrValidation)
	}
	assert.Zero(t, f.embedder.Calls())
	assert.Zero(t, o.Stats(ctx).Metrics.TotalQueries)
}

func TestProcessQuery_RetriesWholeSequenceOnTransientFailure(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "doc", "Retries restart the whole query sequence.")
	f.store.fail = func(call int) error {
		if call < 3 {
			return errors.New("dial tcp: connection refused")
		}
		return nil
	}
	o := f.orchestrator(t, nil)

	res, err := o.ProcessQuery(context.Background(), models.QueryRequest{Query: "how do retries work?"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Metadata["attempts"])
	assert.Equal(t, 3, f.store.Searches())
	assert.Equal(t, 3, f.embedder.Calls(), "each attempt restarts from embedding")
	timings := res.Metadata["stage_timings"].(map[string]int64)
	assert.Contains(t, timings, "retrying")
}

func TestProcessQuery_ExhaustsRetries(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "doc", "Some text.")
	f.store.fail = func(int) error { return errors.New("503 service unavailable") }
	o := f.orchestrator(t, nil)

	_, err := o.ProcessQuery(context.Background(), models.QueryRequest{Query: "question"})
	require.Error(t, err)
	assert.Equal(t, ragerrors.KindRetryExhausted, ragerrors.KindOf(err))
	var re *ragerrors.RetryExhaustedError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 3, re.Attempts)
	assert.Equal(t, 3, f.store.Searches())
	assert.Contains(t, ragerrors.PublicMessage(err), "vector store")

	stats := o.Stats(context.Background())
	assert.Equal(t, int64(1), stats.Metrics.FailedQueries)
	assert.Zero(t, stats.HistorySize)
}

func TestProcessQuery_PermanentFailureIsNotRetried(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "doc", "Some text.")
	f.store.fail = func(int) error { return errors.New("malformed response") }
	o := f.orchestrator(t, nil)

	_, err := o.ProcessQuery(context.Background(), models.QueryRequest{Query: "question"})
	assert.ErrorIs(t, err, ragerrors.ErrPermanent)
	assert.Equal(t, 1, f.store.Searches())
}

func TestProcessQuery_EmbeddingExhaustionIsTerminal(t *testing.T) {
	f := newFixture(t)
	f.embedder.fail = func(int) error {
		return &ragerrors.RetryExhaustedError{Stage: ragerrors.StageEmbedding, Attempts: 3,
			Err: ragerrors.Transient(ragerrors.StageEmbedding, errors.New("timeout"))}
	}
	o := f.orchestrator(t, nil)

	_, err := o.ProcessQuery(context.Background(), models.QueryRequest{Query: "question"})
	assert.Equal(t, ragerrors.KindRetryExhausted, ragerrors.KindOf(err))
	assert.Equal(t, 1, f.embedder.Calls(), "exhausted embedding retries are not retried again")
	assert.Zero(t, f.store.Searches())
}

func TestProcessQuery_Timeout(t *testing.T) {
	f := newFixture(t)
	f.store.block = true
	o := f.orchestrator(t, nil, WithTimeout(50*time.Millisecond))

	start := time.Now()
	_, err := o.ProcessQuery(context.Background(), models.QueryRequest{Query: "slow question"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ragerrors.ErrQueryTimeout)
	assert.Equal(t, ragerrors.KindQueryTimeout, ragerrors.KindOf(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestProcessQuery_AverageConfidence(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "doc", "Some text.")
	o := f.orchestrator(t, &fixedSynthesizer{confidences: []float64{0.4, 0.8}})

	for i := 0; i < 2; i++ {
		_, err := o.ProcessQuery(context.Background(), models.QueryRequest{Query: fmt.Sprintf("question %d", i)})
		require.NoError(t, err)
	}
	m := o.Stats(context.Background()).Metrics
	assert.InDelta(t, 0.6, m.AverageConfidence, 1e-9)
	assert.Equal(t, int64(20), m.TotalTokensUsed)
}

func TestClearHistory_ResetsMetrics(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "doc", "Some text.")
	o := f.orchestrator(t, nil)
	_, err := o.ProcessQuery(context.Background(), models.QueryRequest{Query: "question"})
	require.NoError(t, err)

	o.ClearHistory()
	stats := o.Stats(context.Background())
	assert.Zero(t, stats.HistorySize)
	assert.Zero(t, stats.Metrics.TotalQueries)
	assert.Zero(t, stats.SuccessRate)
}

func TestHistorySweep(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "doc", "Some text.")
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	o := f.orchestrator(t, nil, WithClock(clock), WithHistory(10, time.Hour, time.Hour))

	_, err := o.ProcessQuery(context.Background(), models.QueryRequest{Query: "question"})
	require.NoError(t, err)

	n, err := o.sweepHistory(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	now = now.Add(2 * time.Hour)
	n, err = o.sweepHistory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, o.History(0).Total)

	o.Start(context.Background())
	o.Stop()
}

func TestProcessQuery_Concurrent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "doc", "Concurrent queries share the cache, history and metrics.")
	o := f.orchestrator(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := o.ProcessQuery(context.Background(), models.QueryRequest{Query: fmt.Sprintf("what is shared %d?", i%3)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	stats := o.Stats(context.Background())
	assert.Equal(t, int64(10), stats.Metrics.SuccessfulQueries)
	assert.Equal(t, 10, stats.HistorySize)
}
