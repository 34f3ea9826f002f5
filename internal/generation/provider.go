// Package generation adapts language model providers to a single Generate call.
package generation

import (
	"context"
	"fmt"

	"github.com/hyperjump/kotae/internal/config"
	"go.uber.org/zap"
)

// Response is the normalized output of a provider call.
type Response struct {
	Text string
	// TokensUsed is 0 when the provider does not report usage.
	TokensUsed int
	Model      string
}

// Provider generates an answer from a system prompt and a user prompt.
// Implementations classify their failures with ragerrors and do not retry.
type Provider interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (*Response, error)
	Name() string
	Close() error
}

// Provider names accepted in configuration.
const (
	ProviderExtractive = "extractive"
	ProviderOpenAI     = "openai"
	ProviderHTTP       = "http"
	ProviderOllama     = "ollama"
)

// NewProvider builds the provider selected by cfg.Provider.
func NewProvider(cfg config.GenerationConfig, logger *zap.Logger) (Provider, error) {
	switch cfg.Provider {
	case ProviderExtractive, "":
		return NewExtractiveProvider(), nil
	case ProviderOpenAI:
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.RequestTimeout,
		})
	case ProviderHTTP, ProviderOllama:
		return NewHTTPProvider(HTTPConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.RequestTimeout,
			Ollama:      cfg.Provider == ProviderOllama,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
}
