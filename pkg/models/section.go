package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	SectionStatusPending    = "pending"
	SectionStatusGenerating = "generating"
	SectionStatusCompleted  = "completed"
	SectionStatusFailed     = "failed"
)

// Section is a generated unit of a document. Rows are created lazily and a
// completed row is never overwritten.
type Section struct {
	ID            uuid.UUID `db:"id"             json:"id"`
	DocumentID    uuid.UUID `db:"document_id"    json:"document_id"`
	Index         int       `db:"section_index"  json:"index"`
	Title         string    `db:"title"          json:"title"`
	Content       string    `db:"content"        json:"content"`
	Status        string    `db:"status"         json:"status"`
	WordCount     int       `db:"word_count"     json:"word_count"`
	QualityScore  float64   `db:"quality_score"  json:"quality_score"`
	QualityIssues []string  `db:"quality_issues" json:"quality_issues,omitempty"`
	ErrorMessage  *string   `db:"error_message"  json:"error_message,omitempty"`
	CreatedAt     time.Time `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"     json:"updated_at"`
}

// Checkpoint is the resume marker for an in-flight document generation.
type Checkpoint struct {
	DocumentID         uuid.UUID `json:"document_id"`
	LastCompletedIndex int       `json:"last_completed_index"`
	TotalSections      int       `json:"total_sections"`
	Status             string    `json:"status"`
	Timestamp          time.Time `json:"timestamp"`
}

const CheckpointStatusInProgress = "in_progress"
