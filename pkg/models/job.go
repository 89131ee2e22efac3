package models

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

const JobTypeDocumentGeneration = "document_generation"

// MaxErrorMessageBytes bounds error messages stored on jobs and sections and
// carried in failure events.
const MaxErrorMessageBytes = 500

// Trigger sources. Both race to create the same job and observe the same one.
const (
	TriggerUserRequest         = "user_request"
	TriggerPaymentConfirmation = "payment_confirmation"
)

// GenerationJob tracks one execution attempt of the generation pipeline for a document.
// At most one job per (document, type) is queued or running at any time.
type GenerationJob struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	DocumentID   uuid.UUID  `db:"document_id"   json:"document_id"`
	Type         string     `db:"type"          json:"type"`
	Status       string     `db:"status"        json:"status"`
	Progress     int        `db:"progress"      json:"progress"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	StartedAt    *time.Time `db:"started_at"    json:"started_at,omitempty"`
	CompletedAt  *time.Time `db:"completed_at"  json:"completed_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`
}

// IsLive reports whether the job still occupies the (document, type) slot.
func (j *GenerationJob) IsLive() bool {
	return j.Status == JobStatusQueued || j.Status == JobStatusRunning
}

// IsTerminal reports whether the job has finished, successfully or not.
func (j *GenerationJob) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// ErrorMessage renders err for storage, truncated to MaxErrorMessageBytes.
func ErrorMessage(err error) string {
	return Truncate(err.Error(), MaxErrorMessageBytes)
}

// Truncate truncates s to maxBytes without splitting UTF-8 runes.
func Truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
