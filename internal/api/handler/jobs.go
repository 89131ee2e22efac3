package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/paperforge/internal/api/middleware"
	"github.com/kiranshivaraju/paperforge/internal/api/response"
	"github.com/kiranshivaraju/paperforge/internal/store"
)

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
// Jobs of other owners are reported as not found.
func NewGetJobHandler(jobs JobReader, docs DocumentReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, response.CodeUnauthorized, "Missing owner")
			return
		}

		jobID, ok := parseID(w, chi.URLParam(r, "jobID"), "jobID")
		if !ok {
			return
		}

		job, err := jobs.GetJob(r.Context(), jobID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		doc, err := docs.GetDocument(r.Context(), job.DocumentID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if doc.OwnerID != ownerID {
			writeError(w, r, store.ErrNotFound)
			return
		}

		response.JSON(w, job)
	}
}
