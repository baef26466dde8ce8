package domain

import "time"

// SessionStatus represents the processing status of an ingest session.
// Values include SessionStatusProcessing, SessionStatusAwaitingReview,
// SessionStatusCompleted, and SessionStatusFailed.
type SessionStatus string

const (
	SessionStatusProcessing     SessionStatus = "processing"
	SessionStatusAwaitingReview SessionStatus = "awaiting_review"
	SessionStatusCompleted      SessionStatus = "completed"
	SessionStatusFailed         SessionStatus = "failed"
)

// Terminal reports whether the session can no longer change state.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed
}

// IngestSession represents one uploaded document and its review lifecycle.
// A session owns an ordered set of candidate items; ProcessedItems counts
// the items that reached a terminal review state and never exceeds TotalItems.
type IngestSession struct {
	ID                string        `gorm:"type:text;primaryKey" json:"id"`
	Name              string        `gorm:"type:text;not null" json:"name"`
	SourceDocumentRef string        `gorm:"column:source_document_ref;type:text" json:"source_document_ref"`
	SourceFormat      string        `gorm:"type:text" json:"source_format"`
	PageWidth         int           `json:"page_width,omitempty"`
	PageHeight        int           `json:"page_height,omitempty"`
	Subject           string        `gorm:"type:text" json:"subject,omitempty"`
	Status            SessionStatus `gorm:"type:text;index:idx_ingest_sessions_status;default:processing" json:"status"`
	FailureReason     string        `gorm:"type:text" json:"failure_reason,omitempty"`
	TotalItems        int           `gorm:"default:0" json:"total_items"`
	ProcessedItems    int           `gorm:"default:0" json:"processed_items"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
	CompletedAt       *time.Time    `json:"completed_at,omitempty"`
}

// TableName returns the database table name for IngestSession.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (IngestSession) TableName() string {
	return "ingest_sessions"
}
