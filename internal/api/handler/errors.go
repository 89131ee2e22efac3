// Package handler implements the HTTP handlers for document generation.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/paperforge/internal/api/response"
	"github.com/kiranshivaraju/paperforge/internal/dispatch"
	"github.com/kiranshivaraju/paperforge/internal/store"
	"github.com/kiranshivaraju/paperforge/internal/trigger"
	"github.com/kiranshivaraju/paperforge/pkg/models"
)

// queueRetryAfter is the Retry-After hint sent when the dispatcher is saturated.
const queueRetryAfter = 5 * time.Second

// Triggerer starts or returns the live generation job for a document.
type Triggerer interface {
	Trigger(ctx context.Context, documentID uuid.UUID, jobType, source string) (*models.GenerationJob, bool, error)
}

type DocumentReader interface {
	GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error)
}

type JobReader interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error)
}

type triggerResponse struct {
	Job     *models.GenerationJob `json:"job"`
	Created bool                  `json:"created"`
}

// writeError maps domain errors to the HTTP error envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, trigger.ErrInvalidRequest):
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, response.CodeNotFound, "Resource not found")
	case errors.Is(err, trigger.ErrDocumentCompleted):
		response.Error(w, http.StatusConflict, response.CodeDocumentCompleted, "Document is already completed")
	case errors.Is(err, dispatch.ErrQueueFull), errors.Is(err, dispatch.ErrPoolClosed):
		response.RetryLater(w, http.StatusServiceUnavailable, response.CodeQueueFull,
			"Generation queue is full, retry later", queueRetryAfter)
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, response.CodeInternal, "An unexpected error occurred")
	}
}

func parseID(w http.ResponseWriter, raw, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}
