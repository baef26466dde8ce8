package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/smartexam/paperingest/internal/domain"
	"github.com/smartexam/paperingest/internal/repository"
)

func newIngestFixture(t *testing.T, engine Engine) (*IngestService, *repository.SessionRepository, *repository.ItemRepository, *fakeStore) {
	t.Helper()
	db := newTestDB(t)
	sessions := repository.NewSessionRepository(db)
	items := repository.NewItemRepository(db)
	store := newFakeStore()
	svc := NewIngestService(db, sessions, items, engine, store, nil)
	return svc, sessions, items, store
}

func rawPayloads(payloads ...string) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(payloads))
	for _, p := range payloads {
		out = append(out, json.RawMessage(p))
	}
	return out
}

func TestSubmitRunsExtractionToAwaitingReview(t *testing.T) {
	engine := &fakeEngine{payloads: rawPayloads(
		`{"text":"second question","type":"fill","seq":2}`,
		`{"text":"first question","type":"single","seq":1,"confidence":0.8}`,
		`{"no_text_here":true}`,
	)}
	svc, _, items, store := newIngestFixture(t, engine)
	ctx := context.Background()

	session, err := svc.Submit(ctx, &SubmitRequest{
		Name:     "Algebra Midterm",
		FileName: "midterm.pdf",
		Data:     []byte("%PDF-1.7 fake"),
		Subject:  "math",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if session.Status != domain.SessionStatusProcessing {
		t.Errorf("initial status = %q, want processing", session.Status)
	}
	if exists, _ := store.Exists(ctx, session.SourceDocumentRef); !exists {
		t.Error("document was not stored")
	}

	svc.Wait()

	got, err := svc.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Status != domain.SessionStatusAwaitingReview {
		t.Fatalf("status = %q, want awaiting_review (failure: %q)", got.Status, got.FailureReason)
	}
	if got.TotalItems != 2 {
		t.Errorf("TotalItems = %d, want 2 (the unusable payload is dropped)", got.TotalItems)
	}

	list, _, err := items.ListBySession(ctx, session.ID, repository.ItemFilter{}, 10, 0)
	if err != nil {
		t.Fatalf("ListBySession failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("items = %d, want 2", len(list))
	}
	// Engine sequence numbers win over arrival order
	if list[0].Extraction.Text != "first question" || list[0].SequenceNumber != 1 {
		t.Errorf("first item = %q seq %d", list[0].Extraction.Text, list[0].SequenceNumber)
	}
	if list[1].Extraction.Text != "second question" || list[1].SequenceNumber != 2 {
		t.Errorf("second item = %q seq %d", list[1].Extraction.Text, list[1].SequenceNumber)
	}
	if list[0].ReviewStatus != domain.ReviewStatusPending {
		t.Errorf("new items must start pending, got %q", list[0].ReviewStatus)
	}
}

func TestSubmitValidation(t *testing.T) {
	svc, _, _, _ := newIngestFixture(t, &fakeEngine{})
	ctx := context.Background()

	testCases := []struct {
		name string
		req  *SubmitRequest
	}{
		{name: "empty document", req: &SubmitRequest{Name: "x", FileName: "a.pdf"}},
		{name: "no name or file name", req: &SubmitRequest{Data: []byte("data")}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Submit(ctx, tc.req)
			var ve *domain.ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestSubmitSniffsScannedImages(t *testing.T) {
	// 1x1 PNG
	png := []byte{
		0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a,
		0x00, 0x00, 0x00, 0x0d, 'I', 'H', 'D', 'R',
		0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
		0x08, 0x02, 0x00, 0x00, 0x00, 0x90, 0x77, 0x53, 0xde,
	}
	engine := &fakeEngine{err: errors.New("not under test")}
	svc, _, _, _ := newIngestFixture(t, engine)

	session, err := svc.Submit(context.Background(), &SubmitRequest{
		Name:     "scan",
		FileName: "page1.png",
		Data:     png,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	svc.Wait()

	if session.SourceFormat != "png" {
		t.Errorf("format = %q, want png", session.SourceFormat)
	}
	if session.PageWidth != 1 || session.PageHeight != 1 {
		t.Errorf("dimensions = %dx%d, want 1x1", session.PageWidth, session.PageHeight)
	}
}

func TestExtractionFailureMarksSessionFailed(t *testing.T) {
	engine := &fakeEngine{err: &domain.DownstreamError{System: "extraction engine", Err: errors.New("gave up after 3 attempts")}}
	svc, _, _, _ := newIngestFixture(t, engine)
	ctx := context.Background()

	session, err := svc.Submit(ctx, &SubmitRequest{Name: "broken", FileName: "b.pdf", Data: []byte("x")})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	svc.Wait()

	got, _ := svc.GetSession(ctx, session.ID)
	if got.Status != domain.SessionStatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if got.FailureReason == "" {
		t.Error("failure reason should be recorded")
	}
}

func TestExtractionWithNoUsableItemsFails(t *testing.T) {
	engine := &fakeEngine{payloads: rawPayloads(`{"text":""}`, `{"garbage":1}`)}
	svc, _, _, _ := newIngestFixture(t, engine)
	ctx := context.Background()

	session, err := svc.Submit(ctx, &SubmitRequest{Name: "blank", FileName: "b.pdf", Data: []byte("x")})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	svc.Wait()

	got, _ := svc.GetSession(ctx, session.ID)
	if got.Status != domain.SessionStatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
}

func TestCompleteBlockedByPendingItems(t *testing.T) {
	db := newTestDB(t)
	sessions := repository.NewSessionRepository(db)
	items := repository.NewItemRepository(db)
	sink := newFakeSink()
	review := NewReviewService(db, sessions, items, sink)
	ingest := NewIngestService(db, sessions, items, &fakeEngine{}, newFakeStore(), nil)
	ctx := context.Background()

	session, ids := seedSession(t, db, 3)
	if _, err := review.Approve(ctx, ids[0], approveFields()); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	err := ingest.Complete(ctx, session.ID, nil)
	var pe *domain.PreconditionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PreconditionError, got %v", err)
	}
	if pe.PendingItems != 2 {
		t.Errorf("PendingItems = %d, want 2", pe.PendingItems)
	}

	// The session provably did not complete
	got, _ := sessions.GetByID(ctx, session.ID)
	if got.Status != domain.SessionStatusAwaitingReview {
		t.Errorf("status = %q, want awaiting_review", got.Status)
	}
	if got.CompletedAt != nil {
		t.Error("CompletedAt must stay unset")
	}
}

func TestCompleteAfterAllItemsResolved(t *testing.T) {
	db := newTestDB(t)
	sessions := repository.NewSessionRepository(db)
	items := repository.NewItemRepository(db)
	review := NewReviewService(db, sessions, items, newFakeSink())
	ingest := NewIngestService(db, sessions, items, &fakeEngine{}, newFakeStore(), nil)
	ctx := context.Background()

	session, ids := seedSession(t, db, 2)
	if _, err := review.Approve(ctx, ids[0], approveFields()); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if err := review.Reject(ctx, ids[1], "off topic"); err != nil {
		t.Fatalf("reject failed: %v", err)
	}

	if err := ingest.Complete(ctx, session.ID, nil); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	got, _ := sessions.GetByID(ctx, session.ID)
	if got.Status != domain.SessionStatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt should be set")
	}
	if got.ProcessedItems != 2 {
		t.Errorf("ProcessedItems = %d, want 2", got.ProcessedItems)
	}

	// Completion is irreversible
	if err := ingest.Complete(ctx, session.ID, nil); !domain.IsConflict(err) {
		t.Errorf("second complete: expected ConflictError, got %v", err)
	}
}

func TestCompleteForceRejectsLeftovers(t *testing.T) {
	db := newTestDB(t)
	sessions := repository.NewSessionRepository(db)
	items := repository.NewItemRepository(db)
	review := NewReviewService(db, sessions, items, newFakeSink())
	ingest := NewIngestService(db, sessions, items, &fakeEngine{}, newFakeStore(), nil)
	ctx := context.Background()

	session, ids := seedSession(t, db, 3)
	if _, err := review.Approve(ctx, ids[0], approveFields()); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	// Force without a reason is invalid
	err := ingest.Complete(ctx, session.ID, &CompleteOptions{ForceReject: true})
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	if err := ingest.Complete(ctx, session.ID, &CompleteOptions{ForceReject: true, Reason: "review window closed"}); err != nil {
		t.Fatalf("force complete failed: %v", err)
	}

	got, _ := sessions.GetByID(ctx, session.ID)
	if got.Status != domain.SessionStatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.ProcessedItems != 3 {
		t.Errorf("ProcessedItems = %d, want 3", got.ProcessedItems)
	}

	list, _, _ := items.ListBySession(ctx, session.ID, repository.ItemFilter{Status: domain.ReviewStatusRejected}, 10, 0)
	for _, item := range list {
		if item.ReviewReason != "review window closed" {
			t.Errorf("item %s reason = %q", item.ID, item.ReviewReason)
		}
	}
	if len(list) != 2 {
		t.Errorf("force-rejected items = %d, want 2", len(list))
	}
}

func TestCompleteRefusesWrongSessionStates(t *testing.T) {
	db := newTestDB(t)
	sessions := repository.NewSessionRepository(db)
	items := repository.NewItemRepository(db)
	ingest := NewIngestService(db, sessions, items, &fakeEngine{}, newFakeStore(), nil)
	ctx := context.Background()

	session, _ := seedSession(t, db, 0)

	// Still extracting
	db.Model(&domain.IngestSession{}).Where("id = ?", session.ID).
		Update("status", domain.SessionStatusProcessing)
	err := ingest.Complete(ctx, session.ID, nil)
	var pe *domain.PreconditionError
	if !errors.As(err, &pe) {
		t.Errorf("processing session: expected PreconditionError, got %v", err)
	}

	// Failed sessions never complete
	db.Model(&domain.IngestSession{}).Where("id = ?", session.ID).
		Update("status", domain.SessionStatusFailed)
	if err := ingest.Complete(ctx, session.ID, nil); !domain.IsConflict(err) {
		t.Errorf("failed session: expected ConflictError, got %v", err)
	}

	// Unknown session
	if err := ingest.Complete(ctx, "no-such-session", nil); !domain.IsNotFound(err) {
		t.Errorf("unknown session: expected NotFoundError, got %v", err)
	}
}
