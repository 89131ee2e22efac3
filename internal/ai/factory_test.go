package ai_test

import (
	"testing"
	"time"

	"github.com/kiranshivaraju/paperforge/internal/ai"
	"github.com/kiranshivaraju/paperforge/internal/ai/mock"
	"github.com/kiranshivaraju/paperforge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_OpenAI(t *testing.T) {
	cfg := config.AIConfig{
		Provider: "openai",
		OpenAI:   config.OpenAIConfig{APIKey: "sk-test", Model: "gpt-4o"},
	}
	r, err := ai.NewRegistry(cfg)
	require.NoError(t, err)

	g, err := r.Get("")
	require.NoError(t, err)
	assert.Equal(t, "openai", g.Name())
	assert.Equal(t, []string{"openai"}, r.Names())
}

func TestNewRegistry_BothProviders(t *testing.T) {
	cfg := config.AIConfig{
		Provider:         "anthropic",
		InferenceTimeout: 30 * time.Second,
		OpenAI:           config.OpenAIConfig{APIKey: "sk-test", Model: "gpt-4o"},
		Anthropic:        config.AnthropicConfig{APIKey: "sk-ant-test", Model: "claude-sonnet-4-5-20250929"},
	}
	r, err := ai.NewRegistry(cfg)
	require.NoError(t, err)

	def, err := r.Get("")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", def.Name())

	// A document may pick the other configured provider.
	g, err := r.Get("openai")
	require.NoError(t, err)
	assert.Equal(t, "openai", g.Name())
}

func TestNewRegistry_DefaultWithoutCredentials(t *testing.T) {
	cfg := config.AIConfig{
		Provider: "anthropic",
		OpenAI:   config.OpenAIConfig{APIKey: "sk-test"},
	}
	_, err := ai.NewRegistry(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ai.ErrUnknownProvider)
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := ai.NewStaticRegistry(mock.NewMockGenerator("x"))
	_, err := r.Get("vllm")
	require.Error(t, err)
	assert.ErrorIs(t, err, ai.ErrUnknownProvider)
	assert.Contains(t, err.Error(), "mock")
}
