package repository

import (
	"context"
	"time"

	"github.com/smartexam/paperingest/internal/domain"
	"gorm.io/gorm"
)

// SessionRepository handles ingest session data operations.
type SessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a new SessionRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *SessionRepository: repository instance bound to db.
func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// WithTx returns a repository bound to the given transaction handle.
func (r *SessionRepository) WithTx(tx *gorm.DB) *SessionRepository {
	return &SessionRepository{db: tx}
}

// Create inserts a new session record.
func (r *SessionRepository) Create(ctx context.Context, session *domain.IngestSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

// GetByID retrieves a session by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: session ID.
// Returns:
//   - *domain.IngestSession: session record if found.
//   - error: gorm.ErrRecordNotFound if missing, other non-nil on query failure.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*domain.IngestSession, error) {
	var session domain.IngestSession
	if err := r.db.WithContext(ctx).First(&session, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// ListByStatus retrieves sessions filtered by status with pagination,
// newest first. An empty status means all sessions.
func (r *SessionRepository) ListByStatus(ctx context.Context, status domain.SessionStatus, limit, offset int) ([]domain.IngestSession, int64, error) {
	query := r.db.WithContext(ctx).Model(&domain.IngestSession{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var sessions []domain.IngestSession
	if err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&sessions).Error; err != nil {
		return nil, 0, err
	}
	return sessions, total, nil
}

// MarkAwaitingReview moves a session from processing to awaiting_review and
// records the final extraction item count. The status guard makes the update
// a no-op when the session already left processing.
// Returns:
//   - bool: true when the transition was applied.
//   - error: non-nil if the update fails.
func (r *SessionRepository) MarkAwaitingReview(ctx context.Context, id string, totalItems int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.IngestSession{}).
		Where("id = ? AND status = ?", id, domain.SessionStatusProcessing).
		Updates(map[string]interface{}{
			"status":      domain.SessionStatusAwaitingReview,
			"total_items": totalItems,
			"updated_at":  time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkFailed moves a session from processing to failed with a captured reason.
func (r *SessionRepository) MarkFailed(ctx context.Context, id, reason string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.IngestSession{}).
		Where("id = ? AND status = ?", id, domain.SessionStatusProcessing).
		Updates(map[string]interface{}{
			"status":         domain.SessionStatusFailed,
			"failure_reason": reason,
			"updated_at":     time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkCompleted moves a session from awaiting_review to completed. The guard
// makes completion irreversible and refuses processing/failed sessions.
func (r *SessionRepository) MarkCompleted(ctx context.Context, id string) (bool, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).
		Model(&domain.IngestSession{}).
		Where("id = ? AND status = ?", id, domain.SessionStatusAwaitingReview).
		Updates(map[string]interface{}{
			"status":       domain.SessionStatusCompleted,
			"completed_at": &now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// IncrementProcessed adds delta to the session's processed item counter.
// Callers run this in the same transaction as the item transition so the
// counter always equals the count of terminal items.
func (r *SessionRepository) IncrementProcessed(ctx context.Context, id string, delta int) error {
	return r.db.WithContext(ctx).
		Model(&domain.IngestSession{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processed_items": gorm.Expr("processed_items + ?", delta),
			"updated_at":      time.Now(),
		}).Error
}
