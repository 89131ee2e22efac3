package mock

import (
	"context"
	"sync"

	"github.com/kiranshivaraju/paperforge/internal/ai"
	"github.com/kiranshivaraju/paperforge/pkg/models"
)

// MockGenerator satisfies models.Generator for testing and records every request.
type MockGenerator struct {
	Name_        string
	GenerateFunc func(ctx context.Context, req models.GenerationRequest) (models.GenerationResult, error)

	mu    sync.Mutex
	calls []models.GenerationRequest
}

func (m *MockGenerator) Name() string { return m.Name_ }

func (m *MockGenerator) Generate(ctx context.Context, req models.GenerationRequest) (models.GenerationResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return models.GenerationResult{}, nil
}

// Calls returns a copy of the requests received so far.
func (m *MockGenerator) Calls() []models.GenerationRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.GenerationRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times Generate was invoked.
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// NewMockGenerator returns a MockGenerator that always answers with text.
func NewMockGenerator(text string) *MockGenerator {
	return &MockGenerator{
		Name_: "mock",
		GenerateFunc: func(_ context.Context, req models.GenerationRequest) (models.GenerationResult, error) {
			return models.GenerationResult{
				Text:  text,
				Model: "mock-v1",
				Usage: models.Usage{PromptTokens: len(req.Prompt) / 4, CompletionTokens: len(text) / 4},
			}, nil
		},
	}
}

// NewFailingGenerator returns a MockGenerator that always returns the given error.
func NewFailingGenerator(err error) *MockGenerator {
	return &MockGenerator{
		Name_: "mock-failing",
		GenerateFunc: func(_ context.Context, _ models.GenerationRequest) (models.GenerationResult, error) {
			return models.GenerationResult{}, err
		},
	}
}

// NewTimeoutGenerator returns a MockGenerator that blocks until context is cancelled.
func NewTimeoutGenerator() *MockGenerator {
	return &MockGenerator{
		Name_: "mock-timeout",
		GenerateFunc: func(ctx context.Context, _ models.GenerationRequest) (models.GenerationResult, error) {
			<-ctx.Done()
			return models.GenerationResult{}, ai.ErrInferenceTimeout
		},
	}
}

// Compile-time check that MockGenerator implements Generator.
var _ models.Generator = (*MockGenerator)(nil)
