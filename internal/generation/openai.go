package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/hyperjump/kotae/internal/ragerrors"
)

// ErrNoChoices is returned when a completion carries no choices.
var ErrNoChoices = errors.New("no choices in completion")

// OpenAIConfig configures OpenAIProvider.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// OpenAIProvider generates answers with the chat completions API via the official SDK.
type OpenAIProvider struct {
	sdk         openaisdk.Client
	model       string
	temperature float64
	maxTokens   int
}

// NewOpenAIProvider creates a chat completions provider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai generation provider: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = string(openaisdk.ChatModelGPT4oMini)
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return &OpenAIProvider{
		sdk:         openaisdk.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// Generate sends the prompts as a system and a user message.
func (p *OpenAIProvider) Generate(ctx context.Context, systemPrompt, userPrompt string) (*Response, error) {
	params := openaisdk.ChatCompletionNewParams{
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(systemPrompt),
			openaisdk.UserMessage(userPrompt),
		},
		Model:       openaisdk.ChatModel(p.model),
		Temperature: param.NewOpt(p.temperature),
	}
	if p.maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(p.maxTokens))
	}

	completion, err := p.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(completion.Choices) == 0 {
		return nil, ragerrors.Permanent(ragerrors.StageGeneration, ErrNoChoices)
	}
	model := completion.Model
	if model == "" {
		model = p.model
	}
	return &Response{
		Text:       strings.TrimSpace(completion.Choices[0].Message.Content),
		TokensUsed: int(completion.Usage.TotalTokens),
		Model:      model,
	}, nil
}

// classifyOpenAIError maps SDK API errors by status code and falls back to message signatures.
func classifyOpenAIError(err error) error {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		wrapped := fmt.Errorf("openai chat: status %d: %w", apiErr.StatusCode, err)
		if ragerrors.IsStatusTransient(apiErr.StatusCode) {
			return ragerrors.Transient(ragerrors.StageGeneration, wrapped)
		}
		return ragerrors.Permanent(ragerrors.StageGeneration, wrapped)
	}
	return ragerrors.Classify(ragerrors.StageGeneration, fmt.Errorf("openai chat: %w", err))
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string { return ProviderOpenAI }

// Close is a no-op; the SDK client holds no resources.
func (p *OpenAIProvider) Close() error { return nil }
