// Package orchestrator drives one generation job from queued to a terminal
// state: outline, sections with checkpointed resume, assembly and export.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/paperforge/internal/ai"
	"github.com/kiranshivaraju/paperforge/internal/checkpoint"
	"github.com/kiranshivaraju/paperforge/internal/notify"
	"github.com/kiranshivaraju/paperforge/internal/pipeline"
	"github.com/kiranshivaraju/paperforge/internal/store"
	"github.com/kiranshivaraju/paperforge/pkg/models"
	"github.com/kiranshivaraju/paperforge/pkg/prompt"
	"golang.org/x/sync/singleflight"
)

// ErrNoSectionsCompleted fails a job in which every section failed.
var ErrNoSectionsCompleted = errors.New("no sections completed")

const (
	progressStart = 5
	progressSpan  = 90
)

// SectionRunner runs the generation loop for one section.
type SectionRunner interface {
	Run(ctx context.Context, doc *models.Document, spec models.SectionSpec) (pipeline.Outcome, error)
}

// Exporter writes a completed document to storage.
type Exporter interface {
	Export(ctx context.Context, documentID uuid.UUID, format string) (string, error)
}

// Config tunes job execution.
type Config struct {
	HeartbeatInterval time.Duration
	// JobWaitAttempts bounds how often Run polls for a job row that is not
	// visible yet.
	JobWaitAttempts int
	JobWaitInterval time.Duration
}

// Orchestrator executes generation jobs.
type Orchestrator struct {
	store       store.Store
	gens        *ai.Registry
	sections    SectionRunner
	checkpoints *checkpoint.Manager
	notifier    notify.Notifier
	exporter    Exporter
	builder     prompt.Builder
	outlines    singleflight.Group
	cfg         Config
}

// New wires an Orchestrator. exporter may be nil.
func New(st store.Store, gens *ai.Registry, sections SectionRunner, checkpoints *checkpoint.Manager,
	notifier notify.Notifier, exporter Exporter, cfg Config) *Orchestrator {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = notify.DefaultHeartbeatInterval
	}
	if cfg.JobWaitAttempts <= 0 {
		cfg.JobWaitAttempts = 5
	}
	if cfg.JobWaitInterval <= 0 {
		cfg.JobWaitInterval = 100 * time.Millisecond
	}
	return &Orchestrator{
		store:       st,
		gens:        gens,
		sections:    sections,
		checkpoints: checkpoints,
		notifier:    notifier,
		exporter:    exporter,
		cfg:         cfg,
	}
}

// jobRun is the state shared between Run and its failure handler.
type jobRun struct {
	job *models.GenerationJob
	doc *models.Document
}

// Run executes the job to completion. It never panics and never returns an
// error: failures are recorded on the job and document.
func (o *Orchestrator) Run(ctx context.Context, jobID uuid.UUID) {
	run := &jobRun{}
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic in orchestrator", "job_id", jobID, "error", rec)
			o.fail(ctx, run, fmt.Errorf("internal error: %v", rec))
		}
	}()

	job, err := o.awaitJob(ctx, jobID)
	if err != nil {
		slog.Error("job not found, dropping", "job_id", jobID, "error", err)
		return
	}
	if job.Status != models.JobStatusQueued {
		slog.Info("job is not queued, skipping", "job_id", jobID, "status", job.Status)
		return
	}

	doc, err := o.store.GetDocument(ctx, job.DocumentID)
	if err != nil {
		run.job = job
		o.fail(ctx, run, fmt.Errorf("loading document: %w", err))
		return
	}

	if err := o.store.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning, store.WithProgress(0)); err != nil {
		// Lost the race to another worker, or the job was finalized meanwhile.
		slog.Warn("could not start job", "job_id", job.ID, "error", err)
		return
	}
	job.Status = models.JobStatusRunning
	run.job, run.doc = job, doc

	slog.Info("job started", "job_id", job.ID, "document_id", doc.ID)
	o.send(ctx, doc, notify.Event{Type: notify.EventJobStarted, JobID: job.ID, DocumentID: doc.ID, Progress: 0})

	hbCtx, cancelHeartbeat := context.WithCancel(ctx)
	var hb sync.WaitGroup
	hb.Add(1)
	go func() {
		defer hb.Done()
		notify.Heartbeat(hbCtx, o.notifier, o.store, doc.OwnerID, job, o.cfg.HeartbeatInterval)
	}()
	stopHeartbeat := func() {
		cancelHeartbeat()
		hb.Wait()
	}
	defer stopHeartbeat()

	res, err := o.execute(ctx, job, doc)
	// No heartbeat may follow the terminal event.
	stopHeartbeat()
	if err != nil {
		o.fail(ctx, run, err)
		return
	}

	slog.Info("job completed", "job_id", job.ID, "document_id", doc.ID,
		"sections_completed", res.completed, "sections_total", res.total)
	o.send(ctx, doc, notify.Event{
		Type:       notify.EventJobCompleted,
		JobID:      job.ID,
		DocumentID: doc.ID,
		Progress:   100,
		Message:    fmt.Sprintf("%d of %d sections completed", res.completed, res.total),
	})
}

type summary struct {
	completed int
	total     int
}

func (o *Orchestrator) awaitJob(ctx context.Context, jobID uuid.UUID) (*models.GenerationJob, error) {
	var lastErr error
	for i := 0; i < o.cfg.JobWaitAttempts; i++ {
		job, err := o.store.GetJob(ctx, jobID)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(o.cfg.JobWaitInterval):
		}
	}
	return nil, lastErr
}

func (o *Orchestrator) execute(ctx context.Context, job *models.GenerationJob, doc *models.Document) (summary, error) {
	if err := o.store.UpdateDocumentStatus(ctx, doc.ID, models.DocumentStatusGenerating); err != nil {
		return summary{}, fmt.Errorf("updating document status: %w", err)
	}

	outline, err := o.Outline(ctx, doc)
	if err != nil {
		return summary{}, fmt.Errorf("outline: %w", err)
	}
	doc.Outline = outline
	if err := o.store.UpdateDocumentStatus(ctx, doc.ID, models.DocumentStatusGenerating); err != nil {
		return summary{}, fmt.Errorf("updating document status: %w", err)
	}

	total := len(outline)
	start := o.resumeIndex(ctx, job, doc, total)
	// The checkpoint only advances while every section before it is
	// completed, so a retry re-attempts the first failed section.
	contiguous := true

	for pos, spec := range outline {
		if spec.Index < start {
			continue
		}
		if err := ctx.Err(); err != nil {
			return summary{}, err
		}

		out, err := o.sections.Run(ctx, doc, spec)
		progress := progressStart + progressSpan*(pos+1)/total
		event := notify.Event{
			Type:         notify.EventSectionProgress,
			JobID:        job.ID,
			DocumentID:   doc.ID,
			Progress:     progress,
			SectionIndex: spec.Index,
			SectionTitle: spec.Title,
		}

		if err != nil {
			slog.Error("section failed",
				"job_id", job.ID, "document_id", doc.ID, "section_index", spec.Index, "error", err)
			event.SectionStatus = models.SectionStatusFailed
			event.Message = models.ErrorMessage(err)
			contiguous = false
		} else {
			event.SectionStatus = models.SectionStatusCompleted
			if out.Skipped {
				event.Message = "already completed"
			}
			if contiguous {
				if err := o.checkpoints.Save(ctx, doc.ID, spec.Index, total); err != nil {
					slog.Warn("checkpoint save failed", "document_id", doc.ID, "section_index", spec.Index, "error", err)
				}
			}
		}

		if err := o.store.UpdateJobProgress(ctx, job.ID, progress); err != nil {
			slog.Warn("job progress update failed", "job_id", job.ID, "error", err)
		}
		o.send(ctx, doc, event)
	}

	completed, err := o.store.ListCompletedSections(ctx, doc.ID)
	if err != nil {
		return summary{}, fmt.Errorf("listing completed sections: %w", err)
	}
	if len(completed) == 0 {
		return summary{}, ErrNoSectionsCompleted
	}

	if err := o.store.SetDocumentContent(ctx, doc.ID, AssembleContent(completed)); err != nil {
		return summary{}, fmt.Errorf("saving document content: %w", err)
	}
	o.export(ctx, doc.ID)

	if err := o.store.UpdateDocumentStatus(ctx, doc.ID, models.DocumentStatusCompleted); err != nil {
		return summary{}, fmt.Errorf("updating document status: %w", err)
	}
	if err := o.store.UpdateJobStatus(ctx, job.ID, models.JobStatusCompleted, store.WithProgress(100)); err != nil {
		return summary{}, fmt.Errorf("completing job: %w", err)
	}
	if err := o.checkpoints.Clear(ctx, doc.ID); err != nil {
		slog.Warn("checkpoint clear failed", "document_id", doc.ID, "error", err)
	}
	return summary{completed: len(completed), total: total}, nil
}

// resumeIndex returns the first section index to run, announcing a resume
// when a checkpoint applies.
func (o *Orchestrator) resumeIndex(ctx context.Context, job *models.GenerationJob, doc *models.Document, total int) int {
	start, cp := o.checkpoints.ResumeIndex(ctx, doc.ID)
	if cp == nil || cp.Status != models.CheckpointStatusInProgress || start <= 1 {
		return 1
	}
	slog.Info("resuming from checkpoint",
		"job_id", job.ID, "document_id", doc.ID, "last_completed_index", cp.LastCompletedIndex)
	o.send(ctx, doc, notify.Event{
		Type:         notify.EventResuming,
		JobID:        job.ID,
		DocumentID:   doc.ID,
		Progress:     progressStart + progressSpan*min(cp.LastCompletedIndex, total)/max(total, 1),
		SectionIndex: start,
		Message:      fmt.Sprintf("resuming at section %d of %d", start, total),
	})
	return start
}

func (o *Orchestrator) export(ctx context.Context, documentID uuid.UUID) {
	if o.exporter == nil {
		return
	}
	key, err := o.exporter.Export(ctx, documentID, "")
	if err != nil {
		slog.Warn("export failed", "document_id", documentID, "error", err)
		return
	}
	slog.Info("document exported", "document_id", documentID, "key", key)
}

// fail records a terminal failure. It uses a context detached from
// cancellation so shutdown still leaves the job in a terminal state.
func (o *Orchestrator) fail(ctx context.Context, run *jobRun, cause error) {
	if run.job == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	msg := models.ErrorMessage(cause)
	slog.Error("job failed", "job_id", run.job.ID, "document_id", run.job.DocumentID, "error", cause)

	if err := o.store.UpdateJobStatus(ctx, run.job.ID, models.JobStatusFailed, store.WithErrorMessage(msg)); err != nil {
		slog.Error("failed to mark job failed", "job_id", run.job.ID, "error", err)
	}
	if err := o.store.UpdateDocumentStatus(ctx, run.job.DocumentID, models.DocumentStatusFailed); err != nil {
		slog.Error("failed to mark document failed", "document_id", run.job.DocumentID, "error", err)
	}
	if run.doc != nil {
		o.send(ctx, run.doc, notify.Event{
			Type:       notify.EventJobFailed,
			JobID:      run.job.ID,
			DocumentID: run.doc.ID,
			Message:    msg,
		})
	}
}

func (o *Orchestrator) send(ctx context.Context, doc *models.Document, event notify.Event) {
	notify.Send(ctx, o.notifier, doc.OwnerID, event)
}

// AssembleContent joins completed sections in index order as Markdown.
func AssembleContent(sections []*models.Section) string {
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		parts = append(parts, fmt.Sprintf("## %s\n\n%s", s.Title, strings.TrimSpace(s.Content)))
	}
	return strings.Join(parts, "\n\n")
}
