package humanize_test

import (
	"context"
	"errors"
	"testing"

	"github.com/kiranshivaraju/paperforge/internal/ai/mock"
	"github.com/kiranshivaraju/paperforge/internal/humanize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const original = "Alpha [1]. Beta [2]. Gamma [3]. Delta [4]. Epsilon (Smith, 2020)."

func TestHumanize_AcceptsWhenMarkersPreserved(t *testing.T) {
	rewrite := "Notably, alpha [1]. Beta [2]. Gamma [3]. Delta [4]."
	h := humanize.New(mock.NewMockGenerator(rewrite), 0)

	res := h.Humanize(context.Background(), original, "")
	assert.True(t, res.Applied)
	assert.Equal(t, rewrite, res.Text)
	assert.InDelta(t, 0.8, res.Preservation, 1e-9)
}

func TestHumanize_RejectsBelowThreshold(t *testing.T) {
	rewrite := "Alpha [1]. Beta [2]. Gamma [3]."
	h := humanize.New(mock.NewMockGenerator(rewrite), 0)

	res := h.Humanize(context.Background(), original, "")
	assert.False(t, res.Applied)
	assert.Equal(t, original, res.Text, "original must be returned byte for byte")
	assert.InDelta(t, 0.6, res.Preservation, 1e-9)
}

func TestHumanize_GeneratorErrorKeepsOriginal(t *testing.T) {
	h := humanize.New(mock.NewFailingGenerator(errors.New("provider down")), 0)

	res := h.Humanize(context.Background(), original, "")
	assert.False(t, res.Applied)
	assert.Equal(t, original, res.Text)
}

func TestHumanize_EmptyRewriteKeepsOriginal(t *testing.T) {
	h := humanize.New(mock.NewMockGenerator("   "), 0)
	res := h.Humanize(context.Background(), original, "")
	assert.False(t, res.Applied)
	assert.Equal(t, original, res.Text)
}

func TestHumanize_PassesModelAndText(t *testing.T) {
	g := mock.NewMockGenerator(original)
	h := humanize.New(g, 0)

	h.Humanize(context.Background(), original, "gpt-4o-mini")
	calls := g.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "gpt-4o-mini", calls[0].Model)
	assert.InDelta(t, humanize.DefaultTemperature, calls[0].Temperature, 1e-9)
	assert.Contains(t, calls[0].Prompt, original)
}

func TestHumanize_EmptyInputSkipsGenerator(t *testing.T) {
	g := mock.NewMockGenerator("anything")
	res := humanize.New(g, 0).Humanize(context.Background(), "", "")
	assert.Equal(t, "", res.Text)
	assert.Equal(t, 0, g.CallCount())
}

func TestHumanize_UsesConfiguredTemperature(t *testing.T) {
	g := mock.NewMockGenerator(original)
	humanize.New(g, 0.55).Humanize(context.Background(), original, "")

	calls := g.Calls()
	require.Len(t, calls, 1)
	assert.InDelta(t, 0.55, calls[0].Temperature, 1e-9)
}
