package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
)

// OpenAIGenerator sends each request as a single user message to an
// OpenAI-compatible chat completion endpoint.
type OpenAIGenerator struct {
	client *openai.Client
	cfg    Config
}

// NewOpenAIGenerator creates a generator. An API key is required.
func NewOpenAIGenerator(cfg Config) (*OpenAIGenerator, error) {
	cfg = cfg.withDefaults()
	if cfg.APIKey == "" {
		return nil, core.ErrValidation(core.CodeInvalidConfig,
			"openai generator requires an API key (generator.api_key or OPENAI_API_KEY)")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
	}, nil
}

// Name implements core.Generator.
func (g *OpenAIGenerator) Name() string { return ProviderOpenAI }

// Model returns the configured model.
func (g *OpenAIGenerator) Model() string { return g.cfg.Model }

// Generate implements core.Generator.
func (g *OpenAIGenerator) Generate(ctx context.Context, request string) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: g.cfg.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: request},
		},
	})
	if err != nil {
		return "", classifyError(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", &core.DomainError{
			Category: core.ErrCatExecution,
			Code:     "EMPTY_RESPONSE",
			Message:  "generation returned no choices",
		}
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// classifyError maps client failures onto domain errors so the retry
// policy can tell transient failures from permanent ones.
func classifyError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == http.StatusTooManyRequests:
		return core.ErrRateLimit("generation rate limited").WithCause(err)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return core.ErrAuth("generation credentials rejected").WithCause(err)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return core.ErrTimeout("generation timed out").WithCause(err)
	case status >= 500:
		return core.ErrExecution("GENERATION_FAILED", fmt.Sprintf("generation backend returned %d", status)).WithCause(err)
	case status >= 400:
		return &core.DomainError{
			Category: core.ErrCatValidation,
			Code:     "GENERATION_REJECTED",
			Message:  fmt.Sprintf("generation request rejected with %d", status),
			Cause:    err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.ErrTimeout("generation timed out").WithCause(err)
	}
	return &core.DomainError{
		Category:  core.ErrCatNetwork,
		Code:      "GENERATION_UNREACHABLE",
		Message:   "generation backend unreachable",
		Retryable: true,
		Cause:     err,
	}
}
