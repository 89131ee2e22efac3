package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/kiranshivaraju/paperforge/internal/ai"
	"github.com/kiranshivaraju/paperforge/pkg/models"
	"github.com/kiranshivaraju/paperforge/pkg/prompt"
)

const outlineTemperature = 0.4

var errEmptyOutline = errors.New("outline has no sections")

// Outline returns the document's outline, generating and persisting it when
// empty. Concurrent callers in this process share one generation; callers in
// other processes converge on whichever outline was persisted first.
func (o *Orchestrator) Outline(ctx context.Context, doc *models.Document) ([]models.SectionSpec, error) {
	if len(doc.Outline) > 0 {
		return doc.Outline, nil
	}

	v, err, shared := o.outlines.Do(doc.ID.String(), func() (interface{}, error) {
		return o.generateOutline(ctx, doc)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		slog.Debug("outline generation shared", "document_id", doc.ID)
	}
	return v.([]models.SectionSpec), nil
}

func (o *Orchestrator) generateOutline(ctx context.Context, doc *models.Document) ([]models.SectionSpec, error) {
	// Another instance may have persisted one since doc was loaded.
	current, err := o.store.GetDocument(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("reloading document: %w", err)
	}
	if len(current.Outline) > 0 {
		return current.Outline, nil
	}

	gen, err := o.gens.Get(doc.Provider)
	if err != nil {
		return nil, err
	}
	p := o.builder.BuildOutline(prompt.OutlineParams{
		Topic:       doc.Topic,
		Language:    doc.Language,
		TargetWords: doc.TargetWords,
	})
	res, err := gen.Generate(ctx, models.GenerationRequest{
		System:      p.System,
		Prompt:      p.User,
		Model:       doc.Model,
		Temperature: outlineTemperature,
	})
	if err != nil {
		return nil, fmt.Errorf("generating outline: %w", err)
	}

	outline, err := ParseOutline(res.Text, doc.TargetWords)
	if err != nil {
		return nil, err
	}

	persisted, saved, err := o.store.SaveOutline(ctx, doc.ID, outline)
	if err != nil {
		return nil, fmt.Errorf("saving outline: %w", err)
	}
	if saved {
		slog.Info("outline generated", "document_id", doc.ID, "sections", len(persisted))
		if err := o.store.UpdateDocumentStatus(ctx, doc.ID, models.DocumentStatusOutlineGenerated); err != nil {
			return nil, fmt.Errorf("updating document status: %w", err)
		}
	} else {
		slog.Info("outline already persisted, reusing it", "document_id", doc.ID)
	}
	return persisted, nil
}

type outlineEntry struct {
	Index       int      `json:"index"`
	Title       string   `json:"title"`
	TargetWords int      `json:"target_words"`
	KeyPoints   []string `json:"key_points"`
}

// ParseOutline decodes the model's JSON outline, tolerating surrounding prose
// or code fences. Sections are renumbered 1..n in their stated order and
// missing word targets share targetWords evenly.
func ParseOutline(text string, targetWords int) ([]models.SectionSpec, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON array in outline response", ai.ErrInvalidResponse)
	}

	var entries []outlineEntry
	if err := json.Unmarshal([]byte(text[start:end+1]), &entries); err != nil {
		return nil, fmt.Errorf("%w: decoding outline: %v", ai.ErrInvalidResponse, err)
	}

	kept := entries[:0]
	for _, e := range entries {
		e.Title = strings.TrimSpace(e.Title)
		if e.Title != "" {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("%w: %w", ai.ErrInvalidResponse, errEmptyOutline)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Index < kept[j].Index })

	share := 0
	if targetWords > 0 {
		share = targetWords / len(kept)
	}
	outline := make([]models.SectionSpec, len(kept))
	for i, e := range kept {
		words := e.TargetWords
		if words <= 0 {
			words = share
		}
		outline[i] = models.SectionSpec{
			Index:       i + 1,
			Title:       e.Title,
			TargetWords: words,
			KeyPoints:   e.KeyPoints,
		}
	}
	return outline, nil
}
