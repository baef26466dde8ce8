package repository

import (
	"context"
	"time"

	"github.com/smartexam/paperingest/internal/domain"
	"gorm.io/gorm"
)

// ItemFilter narrows item listings. Zero values mean no filtering.
type ItemFilter struct {
	Status        domain.ReviewStatus
	Type          domain.QuestionType
	MinConfidence float64
}

// ItemRepository handles candidate item data operations.
type ItemRepository struct {
	db *gorm.DB
}

// NewItemRepository creates a new ItemRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *ItemRepository: repository instance bound to db.
func NewItemRepository(db *gorm.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// WithTx returns a repository bound to the given transaction handle.
func (r *ItemRepository) WithTx(tx *gorm.DB) *ItemRepository {
	return &ItemRepository{db: tx}
}

// BulkCreate inserts extracted candidate items for a session in batches.
func (r *ItemRepository) BulkCreate(ctx context.Context, items []domain.CandidateItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(items, 100).Error
}

// GetByID retrieves a candidate item by its ID.
// Returns gorm.ErrRecordNotFound when the item does not exist.
func (r *ItemRepository) GetByID(ctx context.Context, id string) (*domain.CandidateItem, error) {
	var item domain.CandidateItem
	if err := r.db.WithContext(ctx).First(&item, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// ListBySession retrieves items under a session with filters and pagination,
// ordered by sequence number.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - sessionID: owning session ID.
//   - filter: optional status/type/confidence filters.
//   - limit: maximum number of records to return.
//   - offset: number of records to skip.
// Returns:
//   - []domain.CandidateItem: matching items in display order.
//   - int64: total count before pagination.
//   - error: non-nil if the query fails.
func (r *ItemRepository) ListBySession(ctx context.Context, sessionID string, filter ItemFilter, limit, offset int) ([]domain.CandidateItem, int64, error) {
	query := r.db.WithContext(ctx).
		Model(&domain.CandidateItem{}).
		Where("session_id = ?", sessionID)
	if filter.Status != "" {
		query = query.Where("review_status = ?", filter.Status)
	}
	if filter.Type != "" {
		query = query.Where("candidate_type = ?", filter.Type)
	}
	if filter.MinConfidence > 0 {
		query = query.Where("confidence >= ?", filter.MinConfidence)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var items []domain.CandidateItem
	if err := query.
		Order("sequence_number ASC").
		Limit(limit).
		Offset(offset).
		Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// CountByStatus counts a session's items grouped by review status.
func (r *ItemRepository) CountByStatus(ctx context.Context, sessionID string) (map[domain.ReviewStatus]int64, error) {
	type row struct {
		ReviewStatus domain.ReviewStatus
		N            int64
	}
	var rows []row
	if err := r.db.WithContext(ctx).
		Model(&domain.CandidateItem{}).
		Select("review_status, count(*) as n").
		Where("session_id = ?", sessionID).
		Group("review_status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[domain.ReviewStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.ReviewStatus] = r.N
	}
	return counts, nil
}

// CountByType counts a session's items grouped by candidate type.
func (r *ItemRepository) CountByType(ctx context.Context, sessionID string) (map[domain.QuestionType]int64, error) {
	type row struct {
		CandidateType domain.QuestionType
		N             int64
	}
	var rows []row
	if err := r.db.WithContext(ctx).
		Model(&domain.CandidateItem{}).
		Select("candidate_type, count(*) as n").
		Where("session_id = ?", sessionID).
		Group("candidate_type").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[domain.QuestionType]int64, len(rows))
	for _, r := range rows {
		counts[r.CandidateType] = r.N
	}
	return counts, nil
}

// CountPending counts a session's items still awaiting review.
func (r *ItemRepository) CountPending(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&domain.CandidateItem{}).
		Where("session_id = ? AND review_status = ?", sessionID, domain.ReviewStatusPending).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Transition applies a compare-and-set state change: the update only lands
// when the stored review_status is still pending at write time. Returns the
// number of rows affected; zero means a concurrent transition won the race
// (or the item does not exist).
func (r *ItemRepository) Transition(ctx context.Context, itemID string, updates map[string]interface{}) (int64, error) {
	updates["updated_at"] = time.Now()
	res := r.db.WithContext(ctx).
		Model(&domain.CandidateItem{}).
		Where("id = ? AND review_status = ?", itemID, domain.ReviewStatusPending).
		Updates(updates)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// UpdateExtraction replaces the normalized payload of a pending item. The
// same pending guard as Transition protects terminal items from edits.
func (r *ItemRepository) UpdateExtraction(ctx context.Context, itemID string, extraction domain.Extraction, candidateType domain.QuestionType) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.CandidateItem{}).
		Where("id = ? AND review_status = ?", itemID, domain.ReviewStatusPending).
		Updates(map[string]interface{}{
			"extraction":     extraction,
			"candidate_type": candidateType,
			"updated_at":     time.Now(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// RejectAllPending force-rejects every pending item under a session and
// returns how many were transitioned. Used by guarded completion.
func (r *ItemRepository) RejectAllPending(ctx context.Context, sessionID, reason string) (int64, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).
		Model(&domain.CandidateItem{}).
		Where("session_id = ? AND review_status = ?", sessionID, domain.ReviewStatusPending).
		Updates(map[string]interface{}{
			"review_status": domain.ReviewStatusRejected,
			"review_reason": reason,
			"reviewed_at":   &now,
			"updated_at":    now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
