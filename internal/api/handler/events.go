package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/paperforge/internal/api/middleware"
	"github.com/kiranshivaraju/paperforge/internal/api/response"
	"github.com/kiranshivaraju/paperforge/internal/notify"
)

const defaultKeepAlive = 30 * time.Second

// Subscriber opens an event subscription for one owner. *notify.Hub
// satisfies it.
type Subscriber interface {
	Subscribe(ownerID uuid.UUID) notify.Subscription
}

// NewEventsHandler returns an http.HandlerFunc for GET /api/v1/events. It
// streams the caller's job events as server-sent events until the client
// disconnects.
func NewEventsHandler(sub Subscriber, keepAlive time.Duration) http.HandlerFunc {
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, response.CodeUnauthorized, "Missing owner")
			return
		}

		rc := http.NewResponseController(w)
		// The stream outlives the server write timeout.
		_ = rc.SetWriteDeadline(time.Time{})

		s := sub.Subscribe(ownerID)
		defer s.Close()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		if err := rc.Flush(); err != nil {
			slog.Warn("event stream not flushable", "owner_id", ownerID, "error", err)
			return
		}

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
					return
				}
			case event, ok := <-s.Events:
				if !ok {
					return
				}
				data, err := json.Marshal(event)
				if err != nil {
					slog.Warn("failed to encode event", "type", event.Type, "error", err)
					continue
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
					return
				}
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
