package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/kotae/internal/ragerrors"
	"github.com/hyperjump/kotae/pkg/utils"
	"go.uber.org/zap"
)

// Default HTTP provider settings.
const (
	DefaultHTTPBaseURL   = "http://localhost:11434"
	DefaultHTTPTimeout   = 30 * time.Second
	DefaultOllamaModel   = "nomic-embed-text"
	maxEmbedResponseSize = 16 << 20
)

// HTTPConfig configures HTTPProvider.
type HTTPConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	Timeout    time.Duration
	// Ollama selects the /api/embeddings request shape instead of /v1/embeddings.
	Ollama bool
}

// HTTPProvider embeds text through an OpenAI-compatible /v1/embeddings endpoint or
// Ollama's /api/embeddings endpoint.
type HTTPProvider struct {
	client     *http.Client
	endpoint   string
	apiKey     string
	model      string
	dimensions int
	ollama     bool
	logger     *zap.Logger
}

// NewHTTPProvider creates an HTTP embedding provider.
func NewHTTPProvider(cfg HTTPConfig, logger *zap.Logger) (*HTTPProvider, error) {
	if cfg.Dimensions <= 0 {
		return nil, errors.New("http embedding provider: dimensions must be positive")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultHTTPBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultHTTPTimeout
	}
	if cfg.Model == "" && cfg.Ollama {
		cfg.Model = DefaultOllamaModel
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	endpoint := base + "/v1/embeddings"
	if cfg.Ollama {
		endpoint = base + "/api/embeddings"
	} else if strings.HasSuffix(base, "/v1") {
		endpoint = base + "/embeddings"
	}
	return &HTTPProvider{
		client:     &http.Client{Timeout: cfg.Timeout},
		endpoint:   endpoint,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		ollama:     cfg.Ollama,
		logger:     utils.OrNop(logger),
	}, nil
}

type openAIEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// Embed posts text to the endpoint and parses the embedding from the response.
func (p *HTTPProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	var reqBody interface{} = openAIEmbedRequest{Model: p.model, Input: text}
	if p.ollama {
		reqBody = ollamaEmbedRequest{Model: p.model, Prompt: text}
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, ragerrors.Permanent(ragerrors.StageEmbedding, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, ragerrors.Classify(ragerrors.StageEmbedding, fmt.Errorf("send request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEmbedResponseSize))
	if err != nil {
		return nil, ragerrors.Transient(ragerrors.StageEmbedding, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("embedding endpoint returned status %d: %s", resp.StatusCode, utils.Truncate(string(body), 200))
		if ragerrors.IsStatusTransient(resp.StatusCode) {
			return nil, ragerrors.Transient(ragerrors.StageEmbedding, statusErr)
		}
		return nil, ragerrors.Permanent(ragerrors.StageEmbedding, statusErr)
	}
	vec, err := ParseEmbeddingResponse(body)
	if err != nil {
		p.logger.Debug("unusable embedding response", zap.String("endpoint", p.endpoint), zap.Error(err))
		return nil, ragerrors.Permanent(ragerrors.StageEmbedding, err)
	}
	return vec, nil
}

// embeddingEnvelope covers the response shapes seen from embedding endpoints.
type embeddingEnvelope struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Embedding  []float64   `json:"embedding"`
	Embeddings [][]float64 `json:"embeddings"`
}

// ParseEmbeddingResponse extracts the first embedding from an OpenAI-style
// {"data":[{"embedding":[...]}]}, an Ollama-style {"embedding":[...]} or a
// batch-style {"embeddings":[[...]]} body.
func ParseEmbeddingResponse(body []byte) ([]float32, error) {
	var env embeddingEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	var raw []float64
	switch {
	case len(env.Data) > 0 && len(env.Data[0].Embedding) > 0:
		raw = env.Data[0].Embedding
	case len(env.Embedding) > 0:
		raw = env.Embedding
	case len(env.Embeddings) > 0 && len(env.Embeddings[0]) > 0:
		raw = env.Embeddings[0]
	default:
		return nil, ErrNoEmbeddingInResponse
	}
	out := make([]float32, len(raw))
	for i, v := range raw {
		out[i] = float32(v)
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (p *HTTPProvider) Dimensions() int { return p.dimensions }

// Name returns the provider name.
func (p *HTTPProvider) Name() string {
	if p.ollama {
		return ProviderOllama
	}
	return ProviderHTTP
}

// Close releases idle connections.
func (p *HTTPProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
