package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/paperforge/internal/api/response"
	"golang.org/x/crypto/bcrypt"
)

const (
	UserIDHeader       = "X-User-ID"
	WebhookTokenHeader = "X-Webhook-Token"
)

// Identity reads the owner id set by the upstream gateway and stores it in the
// request context.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if raw == "" {
			response.Error(w, http.StatusUnauthorized,
				response.CodeUnauthorized, "Missing "+UserIDHeader+" header")
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil || id == uuid.Nil {
			response.Error(w, http.StatusUnauthorized,
				response.CodeUnauthorized, "Invalid "+UserIDHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(SetOwnerID(r.Context(), id)))
	})
}

// WebhookAuth verifies the shared payment webhook token against a bcrypt hash.
type WebhookAuth struct {
	hash []byte
}

// NewWebhookAuth creates a WebhookAuth. An empty hash rejects every request.
func NewWebhookAuth(tokenHash string) *WebhookAuth {
	return &WebhookAuth{hash: []byte(tokenHash)}
}

func (a *WebhookAuth) Verify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get(WebhookTokenHeader))
		if token == "" {
			response.Error(w, http.StatusUnauthorized,
				response.CodeInvalidToken, "Missing "+WebhookTokenHeader+" header")
			return
		}
		if len(a.hash) == 0 || bcrypt.CompareHashAndPassword(a.hash, []byte(token)) != nil {
			response.Error(w, http.StatusUnauthorized,
				response.CodeInvalidToken, "Invalid webhook token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
