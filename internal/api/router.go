package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/paperforge/internal/api/middleware"
	"github.com/kiranshivaraju/paperforge/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit   *mw.RateLimit
	WebhookAuth *mw.WebhookAuth

	HealthHandler         http.HandlerFunc
	GenerateHandler       http.HandlerFunc
	PaymentWebhookHandler http.HandlerFunc
	GetJobHandler         http.HandlerFunc
	EventsHandler         http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Payment provider callback, authenticated by shared token
	r.Group(func(r chi.Router) {
		webhook := deps.PaymentWebhookHandler
		if deps.WebhookAuth == nil {
			webhook = nil
		} else {
			r.Use(deps.WebhookAuth.Verify)
		}
		r.Post("/api/v1/webhooks/payment", orNotImplemented(webhook))
	})

	// Owner routes
	r.Group(func(r chi.Router) {
		r.Use(mw.Identity)

		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))
		r.Get("/api/v1/events", orNotImplemented(deps.EventsHandler))

		r.Group(func(r chi.Router) {
			if deps.RateLimit != nil {
				r.Use(deps.RateLimit.Limit)
			}
			r.Post("/api/v1/documents/{documentID}/generate", orNotImplemented(deps.GenerateHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, response.CodeNotImplemented, "Endpoint not yet implemented")
	}
}
