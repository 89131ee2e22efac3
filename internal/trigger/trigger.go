// Package trigger starts generation jobs idempotently. Both the user request
// path and the payment confirmation path go through Gate.Trigger.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/paperforge/internal/store"
	"github.com/kiranshivaraju/paperforge/pkg/models"
)

var (
	ErrInvalidRequest    = errors.New("invalid trigger request")
	ErrDocumentCompleted = errors.New("document already completed")
)

// Enqueuer hands a newly created job to the execution backend.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *models.GenerationJob) error
}

// Gate creates at most one live job per document and job type.
type Gate struct {
	store    store.Store
	enqueuer Enqueuer
}

func NewGate(st store.Store, enqueuer Enqueuer) *Gate {
	return &Gate{store: st, enqueuer: enqueuer}
}

// Trigger returns the live job for documentID, creating and enqueueing one
// when none exists. created reports whether this call made the job.
func (g *Gate) Trigger(ctx context.Context, documentID uuid.UUID, jobType, source string) (*models.GenerationJob, bool, error) {
	if documentID == uuid.Nil {
		return nil, false, fmt.Errorf("%w: document id is required", ErrInvalidRequest)
	}
	if jobType == "" {
		return nil, false, fmt.Errorf("%w: job type is required", ErrInvalidRequest)
	}

	doc, err := g.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, false, fmt.Errorf("loading document: %w", err)
	}
	if doc.Status == models.DocumentStatusCompleted {
		return nil, false, ErrDocumentCompleted
	}

	var enqueue store.EnqueueFunc
	if g.enqueuer != nil {
		enqueue = g.enqueuer.Enqueue
	}
	job, created, err := g.store.GetOrCreateJob(ctx, documentID, jobType, enqueue)
	if err != nil {
		return nil, false, fmt.Errorf("creating job: %w", err)
	}

	if created {
		slog.Info("generation job created",
			"job_id", job.ID, "document_id", documentID, "job_type", jobType, "source", source)
	} else {
		slog.Info("generation job already live",
			"job_id", job.ID, "document_id", documentID, "status", job.Status, "source", source)
	}
	return job, created, nil
}
