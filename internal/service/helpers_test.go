package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/smartexam/paperingest/internal/domain"
	"github.com/smartexam/paperingest/internal/extractor"
	"github.com/smartexam/paperingest/internal/logger"
	"github.com/smartexam/paperingest/internal/qbank"
	"github.com/smartexam/paperingest/internal/repository"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	if err := db.AutoMigrate(&domain.IngestSession{}, &domain.CandidateItem{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// fakeSink records committed questions and can be made to fail. beforeReply
// runs after the bank write is counted but before control returns, standing
// in for work done by another process during the commit window.
type fakeSink struct {
	mu          sync.Mutex
	questions   map[string]*qbank.Question
	failWith    error
	calls       int
	beforeReply func()
}

func newFakeSink() *fakeSink {
	return &fakeSink{questions: make(map[string]*qbank.Question)}
}

func (f *fakeSink) CreateQuestion(ctx context.Context, q *qbank.Question) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.beforeReply != nil {
		f.beforeReply()
	}
	if f.failWith != nil {
		return "", f.failWith
	}
	id := fmt.Sprintf("q-%d", len(f.questions)+1)
	f.questions[id] = q
	return id, nil
}

func (f *fakeSink) committed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.questions)
}

// fakeEngine returns canned payloads or an error.
type fakeEngine struct {
	payloads []json.RawMessage
	err      error
}

func (f *fakeEngine) Extract(ctx context.Context, req *extractor.ExtractRequest) ([]json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.payloads, nil
}

// fakeStore is an in-memory DocumentStore.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (f *fakeStore) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeStore) GetURL(key string) string {
	return "http://store.test/" + key
}

func (f *fakeStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeStore) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok, nil
}

// TestMain silences the default logger the services resolve from context.
func TestMain(m *testing.M) {
	logger.SetDefaultLogger(logger.New(&logger.Config{Level: "error", Format: "text", Output: io.Discard}))
	os.Exit(m.Run())
}

// seedSession inserts a session in awaiting_review with n pending items and
// returns the session plus its item IDs in sequence order.
func seedSession(t *testing.T, db *gorm.DB, n int) (*domain.IngestSession, []string) {
	t.Helper()

	sessions := repository.NewSessionRepository(db)
	items := repository.NewItemRepository(db)

	session := &domain.IngestSession{
		ID:         uuid.New().String(),
		Name:       "midterm",
		Status:     domain.SessionStatusAwaitingReview,
		TotalItems: n,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := sessions.Create(context.Background(), session); err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}

	batch := make([]domain.CandidateItem, 0, n)
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := uuid.New().String()
		ids = append(ids, id)
		batch = append(batch, domain.CandidateItem{
			ID:             id,
			SessionID:      session.ID,
			SequenceNumber: i + 1,
			Extraction: domain.Extraction{
				Text:         fmt.Sprintf("question %d", i+1),
				DetectedType: domain.QuestionTypeSingle,
			},
			CandidateType: domain.QuestionTypeSingle,
			Confidence:    0.9,
			ReviewStatus:  domain.ReviewStatusPending,
			CreatedAt:     time.Now(),
			UpdatedAt:     time.Now(),
		})
	}
	if err := items.BulkCreate(context.Background(), batch); err != nil {
		t.Fatalf("failed to seed items: %v", err)
	}
	return session, ids
}

func approveFields() *ApproveFields {
	return &ApproveFields{
		Stem:       "What is 2+2?",
		Type:       domain.QuestionTypeSingle,
		Difficulty: 3,
		Options:    []string{"A. 3", "B. 4"},
		Answer:     "B",
	}
}
