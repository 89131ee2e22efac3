package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	DocumentStatusDraft            = "draft"
	DocumentStatusPaymentPending   = "payment_pending"
	DocumentStatusGenerating       = "generating"
	DocumentStatusOutlineGenerated = "outline_generated"
	DocumentStatusCompleted        = "completed"
	DocumentStatusFailed           = "failed"
)

// Document is a commissioned long-form document. Only the orchestrator mutates
// status, outline and content while a job runs.
type Document struct {
	ID          uuid.UUID     `db:"id"           json:"id"`
	OwnerID     uuid.UUID     `db:"owner_id"     json:"owner_id"`
	Topic       string        `db:"topic"        json:"topic"`
	Language    string        `db:"language"     json:"language"`
	TargetWords int           `db:"target_words" json:"target_words"`
	Provider    string        `db:"provider"     json:"provider"`
	Model       string        `db:"model"        json:"model"`
	Status      string        `db:"status"       json:"status"`
	Outline     []SectionSpec `db:"outline"      json:"outline"`
	Content     string        `db:"content"      json:"content,omitempty"`
	CreatedAt   time.Time     `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at"   json:"updated_at"`
}

// SectionSpec is one entry of a document outline. Indexes are contiguous from 1.
type SectionSpec struct {
	Index       int      `json:"index"`
	Title       string   `json:"title"`
	TargetWords int      `json:"target_words"`
	KeyPoints   []string `json:"key_points,omitempty"`
}
