package ai

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kiranshivaraju/paperforge/internal/config"
	"github.com/kiranshivaraju/paperforge/pkg/models"
)

// Registry resolves a Generator by provider name. A document may name its own
// provider; the configured default covers documents that do not.
type Registry struct {
	generators map[string]models.Generator
	fallback   string
}

// NewRegistry builds every provider that has credentials configured, each
// wrapped with retry. Called once at server startup.
func NewRegistry(cfg config.AIConfig) (*Registry, error) {
	r := &Registry{generators: make(map[string]models.Generator), fallback: cfg.Provider}
	if cfg.OpenAI.APIKey != "" {
		r.Register(WithRetry(NewOpenAIProvider(cfg.OpenAI), DefaultRetryPolicy()))
	}
	if cfg.Anthropic.APIKey != "" {
		r.Register(WithRetry(NewAnthropicProvider(cfg.Anthropic, cfg.InferenceTimeout), DefaultRetryPolicy()))
	}
	if _, ok := r.generators[cfg.Provider]; !ok {
		return nil, fmt.Errorf("%w %q: must be one of openai, anthropic with credentials configured", ErrUnknownProvider, cfg.Provider)
	}
	return r, nil
}

// NewStaticRegistry wraps pre-built generators. The first one is the default.
func NewStaticRegistry(gens ...models.Generator) *Registry {
	r := &Registry{generators: make(map[string]models.Generator)}
	for _, g := range gens {
		r.Register(g)
	}
	if len(gens) > 0 {
		r.fallback = gens[0].Name()
	}
	return r
}

// Register adds or replaces a generator under its Name.
func (r *Registry) Register(g models.Generator) {
	r.generators[g.Name()] = g
}

// Get returns the generator for name, or the default when name is empty.
func (r *Registry) Get(name string) (models.Generator, error) {
	if name == "" {
		name = r.fallback
	}
	g, ok := r.generators[name]
	if !ok {
		return nil, fmt.Errorf("%w %q: available: %s", ErrUnknownProvider, name, strings.Join(r.Names(), ", "))
	}
	return g, nil
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.generators))
	for n := range r.generators {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
