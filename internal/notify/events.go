// Package notify pushes job progress events to document owners.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType discriminates Event payloads.
type EventType string

const (
	EventJobStarted      EventType = "job_started"
	EventResuming        EventType = "resuming"
	EventHeartbeat       EventType = "heartbeat"
	EventSectionProgress EventType = "section_progress"
	EventJobCompleted    EventType = "job_completed"
	EventJobFailed       EventType = "job_failed"
)

// Event is one progress notification for a job.
type Event struct {
	Type          EventType `json:"type"`
	JobID         uuid.UUID `json:"job_id"`
	DocumentID    uuid.UUID `json:"document_id"`
	Progress      int       `json:"progress"`
	SectionIndex  int       `json:"section_index,omitempty"`
	SectionTitle  string    `json:"section_title,omitempty"`
	SectionStatus string    `json:"section_status,omitempty"`
	Message       string    `json:"message,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Terminal reports whether the event ends a job's stream.
func (e Event) Terminal() bool {
	return e.Type == EventJobCompleted || e.Type == EventJobFailed
}

// Notifier delivers an event to every listener of ownerID.
type Notifier interface {
	Notify(ctx context.Context, ownerID uuid.UUID, event Event) error
}
