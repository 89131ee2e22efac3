// Package pipeline runs the per-section generation loop: retrieval,
// generation, humanization and quality assessment with bounded regeneration.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/paperforge/internal/ai"
	"github.com/kiranshivaraju/paperforge/internal/citation"
	"github.com/kiranshivaraju/paperforge/internal/humanize"
	"github.com/kiranshivaraju/paperforge/internal/quality"
	"github.com/kiranshivaraju/paperforge/internal/retrieval"
	"github.com/kiranshivaraju/paperforge/internal/store"
	"github.com/kiranshivaraju/paperforge/pkg/models"
	"github.com/kiranshivaraju/paperforge/pkg/prompt"
)

const maxTemperature = 1.0

// Config holds the sampling temperatures for section generation and the
// humanization pass.
type Config struct {
	BaseTemperature     float64
	TemperatureStep     float64
	HumanizeTemperature float64
	SourceLimit         int
}

// Outcome is the result of running one section.
type Outcome struct {
	Section  *models.Section
	Skipped  bool
	Attempts int
}

// SectionRunner generates and persists one section at a time.
type SectionRunner struct {
	store    store.Store
	gens     *ai.Registry
	searcher retrieval.Searcher
	gate     *quality.Gate
	builder  prompt.Builder
	cfg      Config
}

// NewSectionRunner wires a SectionRunner. searcher may be nil, in which case
// sections are written without retrieved sources.
func NewSectionRunner(st store.Store, gens *ai.Registry, searcher retrieval.Searcher, gate *quality.Gate, cfg Config) *SectionRunner {
	if cfg.SourceLimit <= 0 {
		cfg.SourceLimit = retrieval.DefaultLimit
	}
	return &SectionRunner{store: st, gens: gens, searcher: searcher, gate: gate, cfg: cfg}
}

// Temperature returns the sampling temperature for the given zero-based attempt.
func (r *SectionRunner) Temperature(attempt int) float64 {
	t := r.cfg.BaseTemperature + float64(attempt)*r.cfg.TemperatureStep
	return math.Min(t, maxTemperature)
}

type attempt struct {
	text       string
	assessment quality.Assessment
	humanized  humanize.Result
}

// Run produces the section described by spec. A section that is already
// completed is returned untouched with Skipped set.
func (r *SectionRunner) Run(ctx context.Context, doc *models.Document, spec models.SectionSpec) (Outcome, error) {
	existing, err := r.store.GetCompletedSection(ctx, doc.ID, spec.Index)
	if err == nil {
		return Outcome{Section: existing, Skipped: true}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return Outcome{}, fmt.Errorf("checking section %d: %w", spec.Index, err)
	}

	sec := &models.Section{
		DocumentID: doc.ID,
		Index:      spec.Index,
		Title:      spec.Title,
		Status:     models.SectionStatusGenerating,
	}
	if err := r.store.UpsertSection(ctx, sec); err != nil {
		if errors.Is(err, store.ErrSectionCompleted) {
			return r.skipCompleted(ctx, doc.ID, spec.Index)
		}
		return Outcome{}, fmt.Errorf("marking section %d generating: %w", spec.Index, err)
	}

	gen, err := r.gens.Get(doc.Provider)
	if err != nil {
		return Outcome{Section: sec}, r.fail(ctx, sec, err)
	}

	sources := r.retrieve(ctx, doc, spec)
	prior, err := r.priorSections(ctx, doc.ID, spec.Index)
	if err != nil {
		return Outcome{Section: sec}, r.fail(ctx, sec, err)
	}

	p := r.builder.BuildSection(prompt.SectionParams{
		Topic:    doc.Topic,
		Language: doc.Language,
		Section:  spec,
		Sources:  sources,
		Prior:    prior,
	})
	humanizer := humanize.New(gen, r.cfg.HumanizeTemperature)

	var best *attempt
	attempts := 0
	for n := 0; n < r.gate.MaxAttempts(); n++ {
		attempts++
		res, err := gen.Generate(ctx, models.GenerationRequest{
			System:      p.System,
			Prompt:      p.User,
			Model:       doc.Model,
			Temperature: r.Temperature(n),
		})
		if err == nil && strings.TrimSpace(res.Text) == "" {
			err = fmt.Errorf("%w: empty section text", ai.ErrInvalidResponse)
		}
		if err != nil {
			if best == nil {
				return Outcome{Section: sec, Attempts: attempts}, r.fail(ctx, sec, err)
			}
			slog.Warn("regeneration failed, keeping best attempt",
				"document_id", doc.ID, "section", spec.Index, "attempt", n+1, "error", err)
			break
		}

		text := strings.TrimSpace(res.Text)
		markers := citation.Unique(text)
		h := humanizer.Humanize(ctx, text, doc.Model)
		a := &attempt{
			text:       h.Text,
			humanized:  h,
			assessment: r.gate.Assess(ctx, h.Text, spec.TargetWords, doc.Language),
		}

		slog.Info("section attempt assessed",
			"document_id", doc.ID,
			"section", spec.Index,
			"attempt", n+1,
			"citations", len(markers),
			"humanized", h.Applied,
			"score", a.assessment.Report.Overall,
			"passed", a.assessment.Passed(),
		)

		if best == nil || a.assessment.Better(best.assessment) {
			best = a
		}
		if a.assessment.Passed() {
			break
		}
	}

	if len(best.assessment.StrictFailures) > 0 {
		err := fmt.Errorf("%w: %s", quality.ErrQualityThreshold, strings.Join(best.assessment.StrictFailures, "; "))
		return Outcome{Section: sec, Attempts: attempts}, r.fail(ctx, sec, err)
	}

	issues := best.assessment.Issues()
	if !best.humanized.Applied && best.humanized.Preservation < humanize.MinPreservation {
		issues = append(issues, fmt.Sprintf("humanization reverted: only %.0f%% of citation markers preserved",
			best.humanized.Preservation*100))
	}

	sec.Content = best.text
	sec.Status = models.SectionStatusCompleted
	sec.WordCount = quality.WordCount(best.text)
	sec.QualityScore = best.assessment.Report.Overall
	sec.QualityIssues = issues
	sec.ErrorMessage = nil
	if err := r.store.UpsertSection(ctx, sec); err != nil {
		if errors.Is(err, store.ErrSectionCompleted) {
			return r.skipCompleted(ctx, doc.ID, spec.Index)
		}
		return Outcome{Section: sec, Attempts: attempts}, fmt.Errorf("saving section %d: %w", spec.Index, err)
	}

	return Outcome{Section: sec, Attempts: attempts}, nil
}

// skipCompleted returns a section another run completed concurrently.
func (r *SectionRunner) skipCompleted(ctx context.Context, documentID uuid.UUID, index int) (Outcome, error) {
	existing, err := r.store.GetCompletedSection(ctx, documentID, index)
	if err != nil {
		return Outcome{}, fmt.Errorf("loading completed section %d: %w", index, err)
	}
	return Outcome{Section: existing, Skipped: true}, nil
}

func (r *SectionRunner) retrieve(ctx context.Context, doc *models.Document, spec models.SectionSpec) []models.SourceDocument {
	if r.searcher == nil {
		return nil
	}
	query := r.builder.BuildSearchQuery(doc.Topic, spec.Title)
	sources, err := r.searcher.Search(ctx, query, r.cfg.SourceLimit)
	if err != nil {
		slog.Warn("source retrieval failed, continuing without sources",
			"document_id", doc.ID, "section", spec.Index, "error", err)
		return nil
	}
	sources = retrieval.Dedupe(sources)
	if len(sources) > r.cfg.SourceLimit {
		sources = sources[:r.cfg.SourceLimit]
	}
	return sources
}

// priorSections returns the completed sections before index, in index order.
func (r *SectionRunner) priorSections(ctx context.Context, documentID uuid.UUID, index int) ([]*models.Section, error) {
	completed, err := r.store.ListCompletedSections(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("listing completed sections: %w", err)
	}
	prior := completed[:0]
	for _, s := range completed {
		if s.Index < index {
			prior = append(prior, s)
		}
	}
	return prior, nil
}

// fail marks the section failed and returns cause.
func (r *SectionRunner) fail(ctx context.Context, sec *models.Section, cause error) error {
	msg := models.ErrorMessage(cause)
	sec.Status = models.SectionStatusFailed
	sec.ErrorMessage = &msg
	if err := r.store.UpsertSection(ctx, sec); err != nil {
		slog.Error("failed to record section failure",
			"document_id", sec.DocumentID, "section", sec.Index, "error", err)
	}
	return fmt.Errorf("section %d: %w", sec.Index, cause)
}
