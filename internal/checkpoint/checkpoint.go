// Package checkpoint persists per-document resume markers so an interrupted
// generation job can continue after the last completed section.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/paperforge/internal/cache"
	"github.com/kiranshivaraju/paperforge/pkg/models"
)

// TTL bounds how long a stale checkpoint can influence a later job.
const TTL = time.Hour

// Manager reads and writes checkpoints through a Cache.
type Manager struct {
	cache cache.Cache
	now   func() time.Time
}

// NewManager creates a Manager backed by c.
func NewManager(c cache.Cache) *Manager {
	return &Manager{cache: c, now: time.Now}
}

// Save records that every section up to lastCompleted is durable.
func (m *Manager) Save(ctx context.Context, documentID uuid.UUID, lastCompleted, total int) error {
	cp := models.Checkpoint{
		DocumentID:         documentID,
		LastCompletedIndex: lastCompleted,
		TotalSections:      total,
		Status:             models.CheckpointStatusInProgress,
		Timestamp:          m.now().UTC(),
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := m.cache.Set(ctx, cache.CheckpointKey(documentID), data, TTL); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Load returns the checkpoint for a document, or nil when there is none.
// Store and decode failures are logged and reported as no checkpoint.
func (m *Manager) Load(ctx context.Context, documentID uuid.UUID) *models.Checkpoint {
	data, found, err := m.cache.Get(ctx, cache.CheckpointKey(documentID))
	if err != nil {
		slog.Warn("checkpoint read failed, starting from the beginning",
			"document_id", documentID, "error", err)
		return nil
	}
	if !found {
		return nil
	}

	var cp models.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		slog.Warn("checkpoint undecodable, ignoring",
			"document_id", documentID, "error", err)
		return nil
	}
	if cp.Status != models.CheckpointStatusInProgress || cp.LastCompletedIndex < 1 {
		return nil
	}
	return &cp
}

// ResumeIndex returns the first section index still to run.
func (m *Manager) ResumeIndex(ctx context.Context, documentID uuid.UUID) (int, *models.Checkpoint) {
	cp := m.Load(ctx, documentID)
	if cp == nil {
		return 1, nil
	}
	return cp.LastCompletedIndex + 1, cp
}

// Clear removes the checkpoint. Called only once a job has completed.
func (m *Manager) Clear(ctx context.Context, documentID uuid.UUID) error {
	if err := m.cache.Delete(ctx, cache.CheckpointKey(documentID)); err != nil {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	return nil
}
