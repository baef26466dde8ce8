package service

import (
	"context"
	"errors"

	"github.com/smartexam/paperingest/internal/domain"
	"github.com/smartexam/paperingest/internal/repository"
	"gorm.io/gorm"
)

// QueryService serves read-only reviewer views: session listings, item
// listings, and per-session progress stats. It never mutates state.
type QueryService struct {
	sessions *repository.SessionRepository
	items    *repository.ItemRepository
}

// NewQueryService creates a new query service.
func NewQueryService(sessions *repository.SessionRepository, items *repository.ItemRepository) *QueryService {
	return &QueryService{sessions: sessions, items: items}
}

// SessionPage is one page of a session listing.
type SessionPage struct {
	Sessions []domain.IngestSession `json:"sessions"`
	Total    int64                  `json:"total"`
	Page     int                    `json:"page"`
	Size     int                    `json:"size"`
}

// ItemPage is one page of an item listing, ordered by sequence number.
type ItemPage struct {
	Items []domain.CandidateItem `json:"items"`
	Total int64                  `json:"total"`
	Page  int                    `json:"page"`
	Size  int                    `json:"size"`
}

// SessionStats summarizes review progress for one session.
type SessionStats struct {
	SessionID      string                        `json:"session_id"`
	Status         domain.SessionStatus          `json:"status"`
	TotalItems     int                           `json:"total_items"`
	ProcessedItems int                           `json:"processed_items"`
	ByStatus       map[domain.ReviewStatus]int64 `json:"by_status"`
	ByType         map[domain.QuestionType]int64 `json:"by_type"`
}

// ListSessions lists sessions newest first, optionally filtered by status.
// Page numbering is 1-based; size is clamped to [1, 100].
func (s *QueryService) ListSessions(ctx context.Context, status domain.SessionStatus, page, size int) (*SessionPage, error) {
	page, size = clampPage(page, size)
	sessions, total, err := s.sessions.ListByStatus(ctx, status, size, (page-1)*size)
	if err != nil {
		return nil, err
	}
	return &SessionPage{Sessions: sessions, Total: total, Page: page, Size: size}, nil
}

// ListItems lists a session's candidate items with optional status, type and
// confidence filters.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - sessionID: owning session ID.
//   - filter: optional listing filters.
//   - page: 1-based page number.
//   - size: page size, clamped to [1, 100].
// Returns:
//   - *ItemPage: page of items in sequence order.
//   - error: NotFoundError when the session does not exist.
func (s *QueryService) ListItems(ctx context.Context, sessionID string, filter repository.ItemFilter, page, size int) (*ItemPage, error) {
	if err := s.ensureSession(ctx, sessionID); err != nil {
		return nil, err
	}

	page, size = clampPage(page, size)
	items, total, err := s.items.ListBySession(ctx, sessionID, filter, size, (page-1)*size)
	if err != nil {
		return nil, err
	}
	return &ItemPage{Items: items, Total: total, Page: page, Size: size}, nil
}

// Stats returns review progress counters for a session.
func (s *QueryService) Stats(ctx context.Context, sessionID string) (*SessionStats, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &domain.NotFoundError{Kind: "session", ID: sessionID}
		}
		return nil, err
	}

	byStatus, err := s.items.CountByStatus(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	byType, err := s.items.CountByType(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return &SessionStats{
		SessionID:      session.ID,
		Status:         session.Status,
		TotalItems:     session.TotalItems,
		ProcessedItems: session.ProcessedItems,
		ByStatus:       byStatus,
		ByType:         byType,
	}, nil
}

func (s *QueryService) ensureSession(ctx context.Context, sessionID string) error {
	if _, err := s.sessions.GetByID(ctx, sessionID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &domain.NotFoundError{Kind: "session", ID: sessionID}
		}
		return err
	}
	return nil
}

func clampPage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return page, size
}
