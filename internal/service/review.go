package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smartexam/paperingest/internal/domain"
	"github.com/smartexam/paperingest/internal/logger"
	"github.com/smartexam/paperingest/internal/qbank"
	"github.com/smartexam/paperingest/internal/repository"
	"gorm.io/gorm"
)

// ReviewService is the state machine over candidate items. The only legal
// transitions are pending→approved and pending→rejected; everything else
// surfaces a ConflictError and leaves stored fields untouched.
type ReviewService struct {
	db       *gorm.DB
	sessions *repository.SessionRepository
	items    *repository.ItemRepository
	sink     qbank.Sink
	locks    *stripedLocks
}

// NewReviewService creates a new review service.
func NewReviewService(
	db *gorm.DB,
	sessions *repository.SessionRepository,
	items *repository.ItemRepository,
	sink qbank.Sink,
) *ReviewService {
	return &ReviewService{
		db:       db,
		sessions: sessions,
		items:    items,
		sink:     sink,
		locks:    newStripedLocks(),
	}
}

// ApproveFields carries the reviewer's final corrections to the OCR output.
// Caller-supplied fields are authoritative; empty OCR text is never silently
// substituted.
type ApproveFields struct {
	Stem              string              `json:"stem"`
	Type              domain.QuestionType `json:"type"`
	Difficulty        int                 `json:"difficulty"`
	Options           []string            `json:"options,omitempty"`
	Answer            string              `json:"answer,omitempty"`
	Analysis          string              `json:"analysis,omitempty"`
	KnowledgePointIDs []int               `json:"knowledge_point_ids,omitempty"`
	IdempotencyKey    string              `json:"idempotency_key,omitempty"`
}

// ApproveResult reports the committed question reference. AlreadyCommitted
// is true when a retried approve with a matching idempotency key replayed a
// prior commit instead of performing a new one.
type ApproveResult struct {
	ItemID              string `json:"item_id"`
	CommittedQuestionID string `json:"committed_question_id"`
	AlreadyCommitted    bool   `json:"already_committed,omitempty"`
}

func validateApproveFields(f *ApproveFields) error {
	if strings.TrimSpace(f.Stem) == "" {
		return &domain.ValidationError{Field: "stem", Reason: "must not be empty"}
	}
	if !f.Type.Committable() {
		return &domain.ValidationError{Field: "type", Reason: "must be one of single, multiple, fill, judge, subjective"}
	}
	if f.Difficulty < 1 || f.Difficulty > 5 {
		return &domain.ValidationError{Field: "difficulty", Reason: "must be between 1 and 5"}
	}
	return nil
}

// Approve finalizes a pending item: writes the corrected question to the
// question bank, records the returned ID, flips the item to approved, and
// increments the parent session's processed counter in the same transaction.
// On a question-bank failure the item provably remains pending.
func (s *ReviewService) Approve(ctx context.Context, itemID string, fields *ApproveFields) (*ApproveResult, error) {
	if err := validateApproveFields(fields); err != nil {
		return nil, err
	}

	mu := s.locks.lock(itemID)
	defer mu.Unlock()

	item, session, err := s.loadForMutation(ctx, itemID)
	if err != nil {
		return nil, err
	}

	if item.ReviewStatus.Terminal() {
		if item.ReviewStatus == domain.ReviewStatusApproved &&
			fields.IdempotencyKey != "" && item.IdempotencyKey == fields.IdempotencyKey {
			// Safe retry of a commit that already landed
			return &ApproveResult{
				ItemID:              item.ID,
				CommittedQuestionID: item.CommittedQuestionID,
				AlreadyCommitted:    true,
			}, nil
		}
		return nil, &domain.ConflictError{ItemID: item.ID, Status: item.ReviewStatus}
	}

	question := &qbank.Question{
		Stem:              strings.TrimSpace(fields.Stem),
		Type:              fields.Type,
		Difficulty:        fields.Difficulty,
		Options:           fields.Options,
		Answer:            fields.Answer,
		Analysis:          fields.Analysis,
		KnowledgePointIDs: fields.KnowledgePointIDs,
		SourceMeta: map[string]string{
			"session_id": session.ID,
			"item_id":    item.ID,
			"crop_ref":   item.Extraction.CropRef,
		},
	}

	questionID, err := s.sink.CreateQuestion(ctx, question)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var rows int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		rows, txErr = s.items.WithTx(tx).Transition(ctx, item.ID, map[string]interface{}{
			"review_status":         domain.ReviewStatusApproved,
			"committed_question_id": questionID,
			"idempotency_key":       fields.IdempotencyKey,
			"reviewed_at":           &now,
		})
		if txErr != nil {
			return txErr
		}
		if rows == 0 {
			return nil
		}
		return s.sessions.WithTx(tx).IncrementProcessed(ctx, session.ID, 1)
	})
	if err != nil {
		return nil, err
	}

	if rows == 0 {
		// A concurrent reviewer won between our read and the write. The
		// question committed above has no item referencing it.
		logger.FromContext(ctx).WithFields(logger.Fields{
			logger.FieldItemID: item.ID,
			"question_id":      questionID,
		}).Warn("Lost approve race after question-bank commit; question is orphaned")
		return nil, s.lostRace(ctx, item.ID)
	}

	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldSessionID: session.ID,
		logger.FieldItemID:    item.ID,
		"question_id":         questionID,
	}).Info("Candidate item approved")

	return &ApproveResult{ItemID: item.ID, CommittedQuestionID: questionID}, nil
}

// Reject marks a pending item rejected with a required reason. No question
// bank write happens on this path.
func (s *ReviewService) Reject(ctx context.Context, itemID, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return &domain.ValidationError{Field: "reason", Reason: "must not be empty"}
	}

	mu := s.locks.lock(itemID)
	defer mu.Unlock()

	item, session, err := s.loadForMutation(ctx, itemID)
	if err != nil {
		return err
	}
	if item.ReviewStatus.Terminal() {
		return &domain.ConflictError{ItemID: item.ID, Status: item.ReviewStatus}
	}

	now := time.Now()
	var rows int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		rows, txErr = s.items.WithTx(tx).Transition(ctx, item.ID, map[string]interface{}{
			"review_status": domain.ReviewStatusRejected,
			"review_reason": strings.TrimSpace(reason),
			"reviewed_at":   &now,
		})
		if txErr != nil {
			return txErr
		}
		if rows == 0 {
			return nil
		}
		return s.sessions.WithTx(tx).IncrementProcessed(ctx, session.ID, 1)
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		return s.lostRace(ctx, item.ID)
	}

	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldSessionID: session.ID,
		logger.FieldItemID:    item.ID,
	}).Info("Candidate item rejected")
	return nil
}

// EditPatch mutates extraction-derived display fields of a pending item.
// Nil pointers leave the corresponding field unchanged.
type EditPatch struct {
	Text     *string              `json:"text,omitempty"`
	Type     *domain.QuestionType `json:"type,omitempty"`
	Options  []string             `json:"options,omitempty"`
	Answer   *string              `json:"answer,omitempty"`
	Analysis *string              `json:"analysis,omitempty"`
}

// Edit corrects OCR output before approval. Allowed only while the item is
// pending; review state never changes on this path.
func (s *ReviewService) Edit(ctx context.Context, itemID string, patch *EditPatch) (*domain.CandidateItem, error) {
	mu := s.locks.lock(itemID)
	defer mu.Unlock()

	item, _, err := s.loadForMutation(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.ReviewStatus.Terminal() {
		return nil, &domain.ConflictError{ItemID: item.ID, Status: item.ReviewStatus}
	}

	ext := item.Extraction
	ctype := item.CandidateType
	if patch.Text != nil {
		if strings.TrimSpace(*patch.Text) == "" {
			return nil, &domain.ValidationError{Field: "text", Reason: "must not be empty"}
		}
		ext.Text = strings.TrimSpace(*patch.Text)
	}
	if patch.Type != nil {
		ctype = domain.ParseQuestionType(string(*patch.Type))
		ext.DetectedType = ctype
	}
	if patch.Options != nil {
		ext.Options = patch.Options
	}
	if patch.Answer != nil {
		ext.Answer = *patch.Answer
	}
	if patch.Analysis != nil {
		ext.Analysis = *patch.Analysis
	}

	rows, err := s.items.UpdateExtraction(ctx, item.ID, ext, ctype)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, s.lostRace(ctx, item.ID)
	}

	item.Extraction = ext
	item.CandidateType = ctype
	return item, nil
}

// BatchOutcome classifies one item's result within a batch.
type BatchOutcome string

const (
	BatchOutcomeSuccess  BatchOutcome = "success"
	BatchOutcomeConflict BatchOutcome = "conflict"
	BatchOutcomeError    BatchOutcome = "error"
)

// BatchResult is the per-id outcome of a batch operation.
type BatchResult struct {
	ID                  string       `json:"id"`
	Outcome             BatchOutcome `json:"outcome"`
	Detail              string       `json:"detail,omitempty"`
	CommittedQuestionID string       `json:"committed_question_id,omitempty"`
}

// BatchApprove applies Approve to each id independently. One item's failure
// never aborts its siblings; the caller always learns which of the N ids
// succeeded.
func (s *ReviewService) BatchApprove(ctx context.Context, itemIDs []string, shared *ApproveFields) []BatchResult {
	results := make([]BatchResult, 0, len(itemIDs))
	for _, id := range itemIDs {
		res, err := s.Approve(ctx, id, shared)
		results = append(results, batchResult(id, res, err))
	}
	return results
}

// BatchReject applies Reject to each id independently with a shared reason.
func (s *ReviewService) BatchReject(ctx context.Context, itemIDs []string, reason string) []BatchResult {
	results := make([]BatchResult, 0, len(itemIDs))
	for _, id := range itemIDs {
		err := s.Reject(ctx, id, reason)
		results = append(results, batchResult(id, nil, err))
	}
	return results
}

func batchResult(id string, res *ApproveResult, err error) BatchResult {
	switch {
	case err == nil:
		r := BatchResult{ID: id, Outcome: BatchOutcomeSuccess}
		if res != nil {
			r.CommittedQuestionID = res.CommittedQuestionID
		}
		return r
	case domain.IsConflict(err):
		return BatchResult{ID: id, Outcome: BatchOutcomeConflict, Detail: err.Error()}
	default:
		return BatchResult{ID: id, Outcome: BatchOutcomeError, Detail: err.Error()}
	}
}

// lostRace builds the conflict returned when a compare-and-set found no
// pending row. The stored status is re-read so the caller learns the state
// the winning reviewer actually left behind.
func (s *ReviewService) lostRace(ctx context.Context, itemID string) error {
	var status domain.ReviewStatus
	if cur, err := s.items.GetByID(ctx, itemID); err == nil {
		status = cur.ReviewStatus
	}
	return &domain.ConflictError{ItemID: itemID, Status: status,
		Reason: "item " + itemID + " was resolved by a concurrent reviewer"}
}

// loadForMutation fetches the item and its parent session and refuses
// mutation when the session has already left the reviewable states.
func (s *ReviewService) loadForMutation(ctx context.Context, itemID string) (*domain.CandidateItem, *domain.IngestSession, error) {
	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, &domain.NotFoundError{Kind: "item", ID: itemID}
		}
		return nil, nil, err
	}

	session, err := s.sessions.GetByID(ctx, item.SessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, &domain.NotFoundError{Kind: "session", ID: item.SessionID}
		}
		return nil, nil, err
	}

	if session.Status.Terminal() {
		return nil, nil, &domain.ConflictError{ItemID: item.ID, Status: item.ReviewStatus,
			Reason: "session " + session.ID + " is " + string(session.Status) + "; items are immutable"}
	}

	return item, session, nil
}
