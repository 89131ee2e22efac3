package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Send delivers event best-effort. Errors are logged and never returned.
// A nil Notifier is a no-op.
func Send(ctx context.Context, n Notifier, ownerID uuid.UUID, event Event) {
	if n == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic in notifier", "type", event.Type, "error", rec)
		}
	}()
	if err := n.Notify(ctx, ownerID, event); err != nil {
		slog.Warn("notification failed",
			"type", event.Type, "job_id", event.JobID, "owner_id", ownerID, "error", err)
	}
}
