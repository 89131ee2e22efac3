package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/kiranshivaraju/paperforge/internal/config"
	"github.com/kiranshivaraju/paperforge/pkg/models"
	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements models.Generator using the official openai-go SDK.
// Any OpenAI-compatible endpoint works when BaseURL is set.
type OpenAIProvider struct {
	client openai.Client
	model  string
}

// NewOpenAIProvider builds a provider from config. SDK-level retries are
// disabled; WithRetry owns retry policy.
func NewOpenAIProvider(cfg config.OpenAIConfig) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Generate(ctx context.Context, req models.GenerationRequest) (models.GenerationResult, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	var msgs []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	msgs = append(msgs, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    msgs,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return models.GenerationResult{}, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return models.GenerationResult{}, fmt.Errorf("%w: openai returned no content", ErrInvalidResponse)
	}

	return models.GenerationResult{
		Text:  resp.Choices[0].Message.Content,
		Model: resp.Model,
		Usage: models.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return statusError("openai", apiErr.StatusCode, err)
	}
	return classifyTransportError(err)
}

// statusError maps a provider HTTP status onto the package sentinels.
func statusError(provider string, status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s: %v", ErrRateLimited, provider, err)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s: %v", ErrInferenceTimeout, provider, err)
	case status >= 500:
		return fmt.Errorf("%w: %s status %d: %v", ErrProviderUnavailable, provider, status, err)
	default:
		return fmt.Errorf("%s status %d: %w", provider, status, err)
	}
}

var _ models.Generator = (*OpenAIProvider)(nil)
