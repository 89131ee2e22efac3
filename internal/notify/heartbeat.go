package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/paperforge/internal/store"
	"github.com/kiranshivaraju/paperforge/pkg/models"
)

// DefaultHeartbeatInterval is used when a non-positive interval is given.
const DefaultHeartbeatInterval = 15 * time.Second

// JobReader is the store subset the heartbeat needs.
type JobReader interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error)
}

// Heartbeat sends a heartbeat event every interval until the job is terminal
// or missing, or ctx is done. Lookup and send failures are logged and the
// loop continues.
func Heartbeat(ctx context.Context, n Notifier, jobs JobReader, ownerID uuid.UUID, job *models.GenerationJob, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		current, err := jobs.GetJob(ctx, job.ID)
		if errors.Is(err, store.ErrNotFound) {
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("heartbeat job lookup failed", "job_id", job.ID, "error", err)
			continue
		}
		if current.IsTerminal() {
			return
		}

		Send(ctx, n, ownerID, Event{
			Type:       EventHeartbeat,
			JobID:      current.ID,
			DocumentID: current.DocumentID,
			Progress:   current.Progress,
		})
	}
}
