package generation

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
	DefaultHTTPBaseURL      = "http://localhost:11434"
	DefaultHTTPTimeout      = 120 * time.Second
	DefaultOllamaModel      = "llama3.2"
	maxGenerateResponseSize = 8 << 20
)

// ErrNoTextInResponse is returned when no known envelope carries text.
var ErrNoTextInResponse = errors.New("no text in generation response")

// HTTPConfig configures HTTPProvider.
type HTTPConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	// Ollama selects the /api/chat endpoint instead of /v1/chat/completions.
	Ollama bool
}

// HTTPProvider posts chat requests to an OpenAI-compatible or Ollama endpoint and
// accepts any of the common response envelopes.
type HTTPProvider struct {
	client      *http.Client
	endpoint    string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	ollama      bool
	logger      *zap.Logger
}

// NewHTTPProvider creates an HTTP generation provider.
func NewHTTPProvider(cfg HTTPConfig, logger *zap.Logger) (*HTTPProvider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultHTTPBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultHTTPTimeout
	}
	if cfg.Model == "" {
		if !cfg.Ollama {
			return nil, errors.New("http generation provider: model is required")
		}
		cfg.Model = DefaultOllamaModel
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	endpoint := base + "/v1/chat/completions"
	if cfg.Ollama {
		endpoint = base + "/api/chat"
	} else if strings.HasSuffix(base, "/v1") {
		endpoint = base + "/chat/completions"
	}
	return &HTTPProvider{
		client:      &http.Client{Timeout: cfg.Timeout},
		endpoint:    endpoint,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		ollama:      cfg.Ollama,
		logger:      utils.OrNop(logger),
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Stream      *bool         `json:"stream,omitempty"`
}

// Generate posts the prompts and normalizes the response.
func (p *HTTPProvider) Generate(ctx context.Context, systemPrompt, userPrompt string) (*Response, error) {
	reqBody := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	}
	if p.ollama {
		stream := false
		reqBody.Stream = &stream
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, ragerrors.Permanent(ragerrors.StageGeneration, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, ragerrors.Classify(ragerrors.StageGeneration, fmt.Errorf("send request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxGenerateResponseSize))
	if err != nil {
		return nil, ragerrors.Transient(ragerrors.StageGeneration, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("generation endpoint returned status %d: %s", resp.StatusCode, utils.Truncate(string(body), 200))
		if ragerrors.IsStatusTransient(resp.StatusCode) {
			return nil, ragerrors.Transient(ragerrors.StageGeneration, statusErr)
		}
		return nil, ragerrors.Permanent(ragerrors.StageGeneration, statusErr)
	}

	out, err := ParseResponse(body)
	if err != nil {
		p.logger.Debug("unusable generation response", zap.String("endpoint", p.endpoint), zap.Error(err))
		return nil, ragerrors.Permanent(ragerrors.StageGeneration, err)
	}
	if out.Model == "" {
		out.Model = p.model
	}
	return out, nil
}

// responseEnvelope covers the response shapes seen from generation endpoints.
type responseEnvelope struct {
	Text       string `json:"text"`
	Response   string `json:"response"`
	OutputText string `json:"output_text"`
	Model      string `json:"model"`
	Choices    []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Text string `json:"text"`
	} `json:"choices"`
	Output []struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Message *struct {
		Content string `json:"content"`
	} `json:"message"`
	Usage *struct {
		TotalTokens  int `json:"total_tokens"`
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
	Error           *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ParseResponse extracts the answer text and token usage from a generation response.
// Accepted envelopes: {"text"}, {"response"}, {"output_text"},
// {"choices":[{"message":{"content"}}]}, {"choices":[{"text"}]},
// {"output":[{"content":[{"text"}]}]} and Ollama's {"message":{"content"}}.
func ParseResponse(body []byte) (*Response, error) {
	var env responseEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode generation response: %w", err)
	}
	if env.Error != nil && env.Error.Message != "" {
		return nil, fmt.Errorf("generation error: %s", env.Error.Message)
	}

	text := firstNonEmpty(env.Text, env.Response, env.OutputText)
	if text == "" && len(env.Choices) > 0 {
		text = firstNonEmpty(env.Choices[0].Message.Content, env.Choices[0].Text)
	}
	if text == "" {
		var parts []string
		for _, out := range env.Output {
			for _, c := range out.Content {
				if c.Text != "" {
					parts = append(parts, c.Text)
				}
			}
		}
		text = strings.Join(parts, "\n")
	}
	if text == "" && env.Message != nil {
		text = env.Message.Content
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrNoTextInResponse
	}

	tokens := env.PromptEvalCount + env.EvalCount
	if env.Usage != nil {
		tokens = env.Usage.TotalTokens
		if tokens == 0 {
			tokens = env.Usage.InputTokens + env.Usage.OutputTokens
		}
	}
	return &Response{Text: text, TokensUsed: tokens, Model: env.Model}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

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
