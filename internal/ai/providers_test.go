package ai_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kiranshivaraju/paperforge/internal/ai"
	"github.com/kiranshivaraju/paperforge/internal/ai/mock"
	"github.com/kiranshivaraju/paperforge/internal/config"
	"github.com/kiranshivaraju/paperforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- OpenAI ---

func TestOpenAIProvider_Generate(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body["model"])
		assert.InDelta(t, 0.8, body["temperature"], 1e-9)
		msgs := body["messages"].([]any)
		require.Len(t, msgs, 2)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "Section body [1]."}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}
		}`))
	}))
	defer ts.Close()

	p := ai.NewOpenAIProvider(config.OpenAIConfig{APIKey: "sk-test", Model: "gpt-4o", BaseURL: ts.URL + "/v1/"})
	res, err := p.Generate(context.Background(), models.GenerationRequest{
		System:      "system",
		Prompt:      "user",
		Model:       "gpt-4o-mini",
		Temperature: 0.8,
	})
	require.NoError(t, err)
	assert.Equal(t, "Section body [1].", res.Text)
	assert.Equal(t, 17, res.Usage.TotalTokens)
}

func TestOpenAIProvider_ServerErrorIsTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error": {"message": "overloaded", "type": "server_error"}}`))
	}))
	defer ts.Close()

	p := ai.NewOpenAIProvider(config.OpenAIConfig{APIKey: "sk-test", Model: "gpt-4o", BaseURL: ts.URL + "/v1/"})
	_, err := p.Generate(context.Background(), models.GenerationRequest{Prompt: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ai.ErrProviderUnavailable)
	assert.True(t, ai.IsTransient(err))
}

// --- Anthropic ---

func TestAnthropicProvider_Generate(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-test", body["model"])
		assert.Equal(t, "be formal", body["system"])
		assert.EqualValues(t, 4096, body["max_tokens"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
			"content": [{"type": "text", "text": "Part one. "}, {"type": "text", "text": "Part two."}],
			"usage": {"input_tokens": 20, "output_tokens": 6}
		}`))
	}))
	defer ts.Close()

	p := ai.NewAnthropicProvider(config.AnthropicConfig{APIKey: "sk-ant-test", Model: "claude-test", BaseURL: ts.URL}, 5*time.Second)
	res, err := p.Generate(context.Background(), models.GenerationRequest{System: "be formal", Prompt: "write"})
	require.NoError(t, err)
	assert.Equal(t, "Part one. Part two.", res.Text)
	assert.Equal(t, 26, res.Usage.TotalTokens)
}

func TestAnthropicProvider_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, ai.ErrRateLimited},
		{"overloaded", 529, ai.ErrProviderUnavailable},
		{"gateway timeout", http.StatusGatewayTimeout, ai.ErrInferenceTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer ts.Close()

			p := ai.NewAnthropicProvider(config.AnthropicConfig{APIKey: "k", BaseURL: ts.URL}, 5*time.Second)
			_, err := p.Generate(context.Background(), models.GenerationRequest{Prompt: "x"})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAnthropicProvider_BadRequestIsNotTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": "bad"}`))
	}))
	defer ts.Close()

	p := ai.NewAnthropicProvider(config.AnthropicConfig{APIKey: "k", BaseURL: ts.URL}, 5*time.Second)
	_, err := p.Generate(context.Background(), models.GenerationRequest{Prompt: "x"})
	require.Error(t, err)
	assert.False(t, ai.IsTransient(err))
	assert.Contains(t, err.Error(), "400")
}

func TestAnthropicProvider_Unreachable(t *testing.T) {
	p := ai.NewAnthropicProvider(config.AnthropicConfig{APIKey: "k", BaseURL: "http://127.0.0.1:1"}, time.Second)
	_, err := p.Generate(context.Background(), models.GenerationRequest{Prompt: "x"})
	assert.ErrorIs(t, err, ai.ErrProviderUnavailable)
}

func TestAnthropicProvider_EmptyContent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"model": "m", "content": []}`))
	}))
	defer ts.Close()

	p := ai.NewAnthropicProvider(config.AnthropicConfig{APIKey: "k", BaseURL: ts.URL}, 5*time.Second)
	_, err := p.Generate(context.Background(), models.GenerationRequest{Prompt: "x"})
	assert.ErrorIs(t, err, ai.ErrInvalidResponse)
}

// --- Retry ---

func fastPolicy() ai.RetryPolicy {
	return ai.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestWithRetry_RecoversFromTransient(t *testing.T) {
	var calls atomic.Int32
	base := &mock.MockGenerator{Name_: "flaky", GenerateFunc: func(ctx context.Context, req models.GenerationRequest) (models.GenerationResult, error) {
		if calls.Add(1) < 3 {
			return models.GenerationResult{}, ai.ErrProviderUnavailable
		}
		return models.GenerationResult{Text: "ok"}, nil
	}}

	g := ai.WithRetry(base, fastPolicy())
	res, err := g.Generate(context.Background(), models.GenerationRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "flaky", g.Name())
}

func TestWithRetry_GivesUp(t *testing.T) {
	base := mock.NewFailingGenerator(ai.ErrRateLimited)
	g := ai.WithRetry(base, fastPolicy())
	_, err := g.Generate(context.Background(), models.GenerationRequest{})
	assert.ErrorIs(t, err, ai.ErrRateLimited)
	assert.Equal(t, 3, base.CallCount())
}

func TestWithRetry_PermanentErrorNotRetried(t *testing.T) {
	permanent := errors.New("invalid api key")
	base := mock.NewFailingGenerator(permanent)
	g := ai.WithRetry(base, fastPolicy())
	_, err := g.Generate(context.Background(), models.GenerationRequest{})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, base.CallCount())
}

func TestWithRetry_ContextCancelledDuringBackoff(t *testing.T) {
	base := mock.NewFailingGenerator(ai.ErrProviderUnavailable)
	g := ai.WithRetry(base, ai.RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := g.Generate(ctx, models.GenerationRequest{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, base.CallCount())
}
