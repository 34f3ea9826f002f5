package embedding

import (
	"context"
	"errors"
	"fmt"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/hyperjump/kotae/internal/ragerrors"
)

// ErrNoEmbeddingInResponse is returned when the API response contains no embedding data.
var ErrNoEmbeddingInResponse = errors.New("no embedding in response")

// OpenAIConfig configures OpenAIProvider.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

// OpenAIProvider calls the OpenAI embeddings API via the official SDK.
type OpenAIProvider struct {
	sdk        openaisdk.Client
	model      string
	dimensions int
}

// NewOpenAIProvider creates an OpenAI embeddings provider. BaseURL may point at any
// OpenAI-compatible endpoint.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai embedding provider: API key is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, errors.New("openai embedding provider: dimensions must be positive")
	}
	if cfg.Model == "" {
		cfg.Model = string(openaisdk.EmbeddingModelTextEmbedding3Small)
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIProvider{
		// Retries are owned by Client.
		sdk:        openaisdk.NewClient(append(opts, option.WithMaxRetries(0))...),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

// Embed returns the embedding vector for text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.sdk.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Input: openaisdk.EmbeddingNewParamsInputUnion{
			OfString: param.NewOpt(text),
		},
		Model:      openaisdk.EmbeddingModel(p.model),
		Dimensions: param.NewOpt(int64(p.dimensions)),
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Data) == 0 {
		return nil, ragerrors.Permanent(ragerrors.StageEmbedding, ErrNoEmbeddingInResponse)
	}
	emb := resp.Data[0].Embedding
	out := make([]float32, len(emb))
	for i := range emb {
		out[i] = float32(emb[i])
	}
	return out, nil
}

// classifyOpenAIError maps SDK API errors by status code and falls back to message signatures.
func classifyOpenAIError(err error) error {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		wrapped := fmt.Errorf("openai embedding: status %d: %w", apiErr.StatusCode, err)
		if ragerrors.IsStatusTransient(apiErr.StatusCode) {
			return ragerrors.Transient(ragerrors.StageEmbedding, wrapped)
		}
		return ragerrors.Permanent(ragerrors.StageEmbedding, wrapped)
	}
	return ragerrors.Classify(ragerrors.StageEmbedding, fmt.Errorf("openai embedding: %w", err))
}

// Dimensions returns the embedding dimension.
func (p *OpenAIProvider) Dimensions() int { return p.dimensions }

// Name returns the provider name.
func (p *OpenAIProvider) Name() string { return ProviderOpenAI }

// Close is a no-op; the SDK client holds no resources.
func (p *OpenAIProvider) Close() error { return nil }
