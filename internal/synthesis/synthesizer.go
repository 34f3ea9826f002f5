// Package synthesis turns retrieved fragments into a cited answer with a confidence score.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/hyperjump/kotae/internal/generation"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/ragerrors"
	"github.com/hyperjump/kotae/pkg/utils"
	"go.uber.org/zap"
)

// NoInformationAnswer is returned when retrieval found nothing.
const NoInformationAnswer = "I couldn't find any relevant information in the indexed documents to answer your question. " +
	"Try rephrasing the question or adding documents that cover this topic."

// SystemPrompt instructs the model to stay within the supplied sources.
const SystemPrompt = `You are a question answering assistant. Answer the user's question using only the numbered sources provided.
Cite every claim with the source it came from, for example [Source 1] or [Source 2].
If the sources do not contain enough information to answer, say so explicitly instead of guessing.
Keep the answer concise and factual.`

// Confidence bounds for answers backed by at least one source.
const (
	minConfidence = 0.2
	maxConfidence = 1.0
)

// ErrEmptyAnswer is returned when the provider produced no text.
var ErrEmptyAnswer = errors.New("provider returned an empty answer")

// ErrBreakerOpen is returned while the circuit breaker rejects provider calls.
var ErrBreakerOpen = errors.New("generation provider circuit breaker is open")

// Synthesizer builds the prompt, calls the generation provider and scores the answer.
type Synthesizer struct {
	provider generation.Provider
	breaker  circuitbreaker.CircuitBreaker[*generation.Response]
	logger   *zap.Logger
}

// Option configures a Synthesizer.
type Option func(*synthesizerOptions)

type synthesizerOptions struct {
	logger          *zap.Logger
	breakerFailures int
	breakerTimeout  time.Duration
}

// WithLogger sets a logger for generation events.
func WithLogger(l *zap.Logger) Option {
	return func(o *synthesizerOptions) { o.logger = l }
}

// WithBreaker trips the circuit breaker after failures consecutive provider errors
// and keeps it open for timeout.
func WithBreaker(failures int, timeout time.Duration) Option {
	return func(o *synthesizerOptions) {
		if failures > 0 {
			o.breakerFailures = failures
		}
		if timeout > 0 {
			o.breakerTimeout = timeout
		}
	}
}

// New creates a Synthesizer around provider.
func New(provider generation.Provider, opts ...Option) *Synthesizer {
	o := synthesizerOptions{breakerFailures: 5, breakerTimeout: 30 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	threshold := uint32(o.breakerFailures) // #nosec G115 -- positive, checked in WithBreaker
	return &Synthesizer{
		provider: provider,
		breaker: circuitbreaker.New[*generation.Response](circuitbreaker.Config{
			MaxRequests: 1,
			Interval:    o.breakerTimeout,
			Timeout:     o.breakerTimeout,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
		}),
		logger: utils.OrNop(o.logger),
	}
}

// Synthesize answers query from sources. With no sources the canned
// NoInformationAnswer is returned at confidence 0 without calling the provider.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, sources []*models.RetrievalResult, includeMetadata bool) (*models.Answer, error) {
	if len(sources) == 0 {
		return &models.Answer{Text: NoInformationAnswer, Confidence: 0, Empty: true}, nil
	}

	userPrompt := BuildUserPrompt(query, BuildContext(sources, includeMetadata))

	called := false
	resp, err := s.breaker.Execute(ctx, func(ctx context.Context) (*generation.Response, error) {
		called = true
		return s.provider.Generate(ctx, SystemPrompt, userPrompt)
	})
	if err != nil {
		if !called {
			s.logger.Warn("generation skipped, circuit breaker open", zap.String("breaker", s.BreakerState()))
			return nil, ragerrors.Transient(ragerrors.StageGeneration, fmt.Errorf("%w: %v", ErrBreakerOpen, err))
		}
		return nil, ragerrors.Classify(ragerrors.StageGeneration, err)
	}
	if resp == nil || strings.TrimSpace(resp.Text) == "" {
		return nil, ragerrors.Permanent(ragerrors.StageGeneration, ErrEmptyAnswer)
	}

	text := strings.TrimSpace(resp.Text)
	tokens := resp.TokensUsed
	if tokens <= 0 {
		tokens = EstimateTokens(SystemPrompt, userPrompt, text)
	}
	model := resp.Model
	if model == "" {
		model = s.provider.Name()
	}
	return &models.Answer{
		Text:       text,
		Confidence: Confidence(sources),
		TokensUsed: tokens,
		Model:      model,
	}, nil
}

// BuildContext renders the sources as numbered blocks for the prompt.
func BuildContext(sources []*models.RetrievalResult, includeMetadata bool) string {
	var b strings.Builder
	for i, src := range sources {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, generation.SourceHeadingFormat+"\n", i+1)
		b.WriteString(strings.TrimSpace(src.Text))
		b.WriteString("\n")
		if includeMetadata && len(src.Metadata) > 0 {
			b.WriteString(generation.MetadataPrefix + " " + formatMetadata(src.Metadata) + "\n")
		}
		fmt.Fprintf(&b, "%s %.2f\n", generation.RelevancePrefix, src.Relevance)
	}
	return b.String()
}

// BuildUserPrompt combines the rendered context and the question.
func BuildUserPrompt(query, rendered string) string {
	return "Context:\n" + rendered + "\n" + generation.QuestionPrefix + " " + query +
		"\n\nAnswer the question using only the sources above and cite them."
}

func formatMetadata(meta map[string]interface{}) string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = fmt.Sprintf("%s: %v", k, meta[k])
	}
	return strings.Join(pairs, ", ")
}

// Confidence maps the mean relevance of sources into [0.2, 1.0]. It is 0 without sources.
func Confidence(sources []*models.RetrievalResult) float64 {
	if len(sources) == 0 {
		return 0
	}
	rel := make([]float64, len(sources))
	for i, src := range sources {
		rel[i] = src.Relevance
	}
	c := utils.Mean(rel)*0.8 + 0.2
	if c < minConfidence {
		return minConfidence
	}
	if c > maxConfidence {
		return maxConfidence
	}
	return c
}

// EstimateTokens approximates token usage as four tokens per three words.
func EstimateTokens(texts ...string) int {
	words := 0
	for _, t := range texts {
		words += utils.WordCount(t)
	}
	return (words*4 + 2) / 3
}

// BreakerState reports the circuit breaker state.
func (s *Synthesizer) BreakerState() string {
	return s.breaker.State().String()
}
