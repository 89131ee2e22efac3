package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/paperforge/internal/api/response"
	"github.com/kiranshivaraju/paperforge/pkg/models"
)

var triggeringPaymentStatuses = map[string]bool{
	"succeeded": true,
	"paid":      true,
}

type paymentEvent struct {
	DocumentID string `json:"document_id"`
	PaymentID  string `json:"payment_id"`
	Status     string `json:"status"`
}

// NewPaymentWebhookHandler returns an http.HandlerFunc for
// POST /api/v1/webhooks/payment. Only successful payments trigger generation;
// every other status is acknowledged and ignored.
func NewPaymentWebhookHandler(trig Triggerer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req paymentEvent
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid JSON body")
			return
		}
		if req.DocumentID == "" {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "document_id is required")
			return
		}
		documentID, ok := parseID(w, req.DocumentID, "document_id")
		if !ok {
			return
		}

		status := strings.ToLower(strings.TrimSpace(req.Status))
		if !triggeringPaymentStatuses[status] {
			slog.Info("payment event ignored",
				"document_id", documentID, "payment_id", req.PaymentID, "status", req.Status)
			response.Accepted(w, map[string]any{"ignored": true, "status": req.Status})
			return
		}

		job, created, err := trig.Trigger(r.Context(), documentID, models.JobTypeDocumentGeneration, models.TriggerPaymentConfirmation)
		if err != nil {
			writeError(w, r, err)
			return
		}

		response.Accepted(w, triggerResponse{Job: job, Created: created})
	}
}
