// Package humanize rewrites generated prose while guarding citation markers.
package humanize

import (
	"context"
	"log/slog"
	"strings"

	"github.com/kiranshivaraju/paperforge/internal/citation"
	"github.com/kiranshivaraju/paperforge/pkg/models"
	"github.com/kiranshivaraju/paperforge/pkg/prompt"
)

const (
	// MinPreservation is the share of distinct citation markers a rewrite must keep.
	MinPreservation = 0.8

	DefaultTemperature = 0.9
)

// Result describes one humanization pass.
type Result struct {
	Text         string
	Applied      bool
	Preservation float64
}

// Humanizer runs the rewriting pass through a Generator.
type Humanizer struct {
	gen         models.Generator
	builder     prompt.Builder
	temperature float64
}

// New returns a Humanizer sampling at temperature, or DefaultTemperature when
// temperature is not positive.
func New(gen models.Generator, temperature float64) *Humanizer {
	if temperature <= 0 {
		temperature = DefaultTemperature
	}
	return &Humanizer{gen: gen, temperature: temperature}
}

// Humanize returns the rewritten text when it keeps at least MinPreservation of
// the original markers, otherwise the original text unchanged. Generator
// failures also fall back to the original.
func (h *Humanizer) Humanize(ctx context.Context, text, model string) Result {
	if strings.TrimSpace(text) == "" {
		return Result{Text: text, Preservation: 1}
	}

	p := h.builder.BuildHumanize(text)
	res, err := h.gen.Generate(ctx, models.GenerationRequest{
		System:      p.System,
		Prompt:      p.User,
		Model:       model,
		Temperature: h.temperature,
	})
	if err != nil {
		slog.Warn("humanization failed, keeping original text", "error", err)
		return Result{Text: text, Preservation: 1}
	}

	rewritten := strings.TrimSpace(res.Text)
	if rewritten == "" {
		return Result{Text: text, Preservation: 1}
	}

	ratio := citation.Preservation(text, rewritten)
	if ratio < MinPreservation {
		slog.Warn("humanization dropped citations, keeping original text",
			"preservation", ratio, "required", MinPreservation)
		return Result{Text: text, Preservation: ratio}
	}
	return Result{Text: rewritten, Applied: true, Preservation: ratio}
}
