// Package models contains shared data models used across the PaperForge codebase.
package models

import "context"

// Generator is the core interface that all text generation integrations must implement.
// Never call specific AI providers directly, always inject this interface.
type Generator interface {
	// Generate runs a single completion for the given prompt.
	Generate(ctx context.Context, req GenerationRequest) (GenerationResult, error)
	// Name returns the provider identifier (e.g., "openai", "anthropic").
	Name() string
}

// GenerationRequest is the input to a single generation call.
type GenerationRequest struct {
	System      string
	Prompt      string
	Model       string // empty means the provider's configured default
	Temperature float64
	MaxTokens   int
}

// GenerationResult is the output of a single generation call.
type GenerationResult struct {
	Text  string `json:"text"`
	Model string `json:"model"`
	Usage Usage  `json:"usage"`
}

// Usage reports token consumption for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
