package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/paperforge/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid job status transition")
var ErrSectionCompleted = errors.New("section already completed")

// EnqueueFunc submits a freshly created job for execution. It runs inside the
// transaction that creates the job; a non-nil error rolls the creation back.
type EnqueueFunc func(ctx context.Context, job *models.GenerationJob) error

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status string) error
	// SaveOutline persists the outline only if the document has none yet. It
	// returns the outline now stored and whether this call wrote it.
	SaveOutline(ctx context.Context, id uuid.UUID, outline []models.SectionSpec) ([]models.SectionSpec, bool, error)
	SetDocumentContent(ctx context.Context, id uuid.UUID, content string) error

	// GetOrCreateJob returns the live job for (document, type), creating and
	// enqueuing a new one when none exists. The bool reports creation.
	GetOrCreateJob(ctx context.Context, documentID uuid.UUID, jobType string, enqueue EnqueueFunc) (*models.GenerationJob, bool, error)
	GetJob(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error
	UpdateJobProgress(ctx context.Context, id uuid.UUID, progress int) error

	GetCompletedSection(ctx context.Context, documentID uuid.UUID, index int) (*models.Section, error)
	ListCompletedSections(ctx context.Context, documentID uuid.UUID) ([]*models.Section, error)
	// UpsertSection inserts or updates the row at (document, index). A
	// completed row is never overwritten; ErrSectionCompleted is returned.
	UpsertSection(ctx context.Context, section *models.Section) error
}

type jobUpdateParams struct {
	ErrorMessage *string
	Progress     *int
}

type JobUpdateOption func(*jobUpdateParams)

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ErrorMessage = &msg
	}
}

func WithProgress(progress int) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Progress = &progress
	}
}

// validTransitions lists, for each target status, the statuses a job may move from.
var validTransitions = map[string][]string{
	models.JobStatusRunning:   {models.JobStatusQueued},
	models.JobStatusCompleted: {models.JobStatusRunning},
	models.JobStatusFailed:    {models.JobStatusQueued, models.JobStatusRunning},
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
