package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/paperforge/internal/api/middleware"
	"github.com/kiranshivaraju/paperforge/internal/api/response"
	"github.com/kiranshivaraju/paperforge/pkg/models"
)

// NewGenerateHandler returns an http.HandlerFunc for
// POST /api/v1/documents/{documentID}/generate.
func NewGenerateHandler(docs DocumentReader, trig Triggerer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, response.CodeUnauthorized, "Missing owner")
			return
		}

		documentID, ok := parseID(w, chi.URLParam(r, "documentID"), "documentID")
		if !ok {
			return
		}

		doc, err := docs.GetDocument(r.Context(), documentID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if doc.OwnerID != ownerID {
			response.Error(w, http.StatusForbidden, response.CodeForbidden, "Document belongs to another user")
			return
		}

		job, created, err := trig.Trigger(r.Context(), documentID, models.JobTypeDocumentGeneration, models.TriggerUserRequest)
		if err != nil {
			writeError(w, r, err)
			return
		}

		response.Accepted(w, triggerResponse{Job: job, Created: created})
	}
}
