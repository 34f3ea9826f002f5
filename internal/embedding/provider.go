// Package embedding turns text into vectors: a caching, retrying client in front of
// pluggable providers (deterministic mock, OpenAI, OpenAI/Ollama-compatible HTTP, ONNX).
package embedding

import (
	"context"
	"fmt"

	"github.com/hyperjump/kotae/internal/config"
	"go.uber.org/zap"
)

// Provider produces a vector embedding for a single text. Implementations do not
// clean, cache or retry; Client does that.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Name() string
	Close() error
}

// Provider names accepted in configuration.
const (
	ProviderMock   = "mock"
	ProviderOpenAI = "openai"
	ProviderHTTP   = "http"
	ProviderOllama = "ollama"
	ProviderONNX   = "onnx"
)

// NewProvider builds the provider selected by cfg.Provider.
func NewProvider(cfg config.EmbeddingConfig, logger *zap.Logger) (Provider, error) {
	switch cfg.Provider {
	case ProviderMock, "":
		return NewMockProvider(cfg.Dimensions), nil
	case ProviderOpenAI:
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		})
	case ProviderHTTP, ProviderOllama:
		return NewHTTPProvider(HTTPConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.RequestTimeout,
			Ollama:     cfg.Provider == ProviderOllama,
		}, logger)
	case ProviderONNX:
		return NewONNXProvider(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
