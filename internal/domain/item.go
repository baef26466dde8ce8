package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// ReviewStatus represents the review state of a candidate item.
// Approved and rejected are terminal; a terminal item is immutable.
type ReviewStatus string

const (
	ReviewStatusPending  ReviewStatus = "pending"
	ReviewStatusApproved ReviewStatus = "approved"
	ReviewStatusRejected ReviewStatus = "rejected"
)

// Terminal reports whether the review state is final.
func (s ReviewStatus) Terminal() bool {
	return s == ReviewStatusApproved || s == ReviewStatusRejected
}

// QuestionType represents the detected or confirmed question type.
type QuestionType string

const (
	QuestionTypeSingle     QuestionType = "single"
	QuestionTypeMultiple   QuestionType = "multiple"
	QuestionTypeFill       QuestionType = "fill"
	QuestionTypeJudge      QuestionType = "judge"
	QuestionTypeSubjective QuestionType = "subjective"
	QuestionTypeUnknown    QuestionType = "unknown"
)

// ParseQuestionType maps an arbitrary type string to a known QuestionType.
// Unrecognized values map to QuestionTypeUnknown.
func ParseQuestionType(s string) QuestionType {
	switch QuestionType(s) {
	case QuestionTypeSingle, QuestionTypeMultiple, QuestionTypeFill,
		QuestionTypeJudge, QuestionTypeSubjective:
		return QuestionType(s)
	default:
		return QuestionTypeUnknown
	}
}

// Committable reports whether the type is allowed on an approved question.
// Unknown must be corrected by the reviewer before approval.
func (t QuestionType) Committable() bool {
	return t != QuestionTypeUnknown && t == ParseQuestionType(string(t))
}

// Extraction is the normalized OCR payload for one candidate question.
// Upstream responses are coerced into this shape exactly once, at ingest
// time; nothing downstream re-parses loose payloads.
type Extraction struct {
	Text            string       `json:"text"`
	DetectedType    QuestionType `json:"detected_type"`
	Options         []string     `json:"options,omitempty"`
	Answer          string       `json:"answer,omitempty"`
	Analysis        string       `json:"analysis,omitempty"`
	CropRef         string       `json:"crop_ref,omitempty"`
	KnowledgePoints []string     `json:"knowledge_points,omitempty"`
}

// Value implements the driver.Valuer interface for database serialization.
// Parameters: none.
// Returns:
//   - driver.Value: JSON-encoded representation of the payload.
//   - error: non-nil if marshaling fails.
func (e Extraction) Value() (driver.Value, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
// Parameters:
//   - value: raw database value to decode.
// Returns:
//   - error: non-nil if decoding fails or the type is unexpected.
func (e *Extraction) Scan(value interface{}) error {
	if value == nil {
		*e = Extraction{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan Extraction")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, e)
}

// CandidateItem represents one extracted candidate question under a session.
// Items are created in bulk when extraction completes, mutated only through
// the review engine, and kept for audit after reaching a terminal state.
type CandidateItem struct {
	ID                  string       `gorm:"type:text;primaryKey" json:"id"`
	SessionID           string       `gorm:"type:text;not null;index:idx_candidate_items_session" json:"session_id"`
	SequenceNumber      int          `gorm:"not null" json:"sequence_number"`
	Extraction          Extraction   `gorm:"type:text" json:"extraction"`
	CandidateType       QuestionType `gorm:"type:text;index:idx_candidate_items_type" json:"candidate_type"`
	Confidence          float64      `json:"confidence"`
	ReviewStatus        ReviewStatus `gorm:"type:text;index:idx_candidate_items_status;default:pending" json:"review_status"`
	ReviewReason        string       `gorm:"type:text" json:"review_reason,omitempty"`
	CommittedQuestionID string       `gorm:"type:text" json:"committed_question_id,omitempty"`
	IdempotencyKey      string       `gorm:"type:text" json:"-"`
	ReviewedAt          *time.Time   `json:"reviewed_at,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// TableName returns the database table name for CandidateItem.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (CandidateItem) TableName() string {
	return "candidate_items"
}
