package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smartexam/paperingest/internal/domain"
	"github.com/smartexam/paperingest/internal/extractor"
	"github.com/smartexam/paperingest/internal/logger"
	"github.com/smartexam/paperingest/internal/repository"
	"github.com/smartexam/paperingest/internal/storage"
	_ "golang.org/x/image/webp"
	"gorm.io/gorm"
)

// Engine is the extraction gateway boundary. The production implementation
// is the resty client in internal/extractor.
type Engine interface {
	Extract(ctx context.Context, req *extractor.ExtractRequest) ([]json.RawMessage, error)
}

// IngestService owns the session lifecycle: document intake, the per-session
// background extraction task, and guarded completion.
type IngestService struct {
	db             *gorm.DB
	sessions       *repository.SessionRepository
	items          *repository.ItemRepository
	engine         Engine
	store          storage.DocumentStore
	extractTimeout time.Duration
	wg             sync.WaitGroup
}

// IngestConfig holds configuration for the ingest service.
type IngestConfig struct {
	ExtractTimeout time.Duration
}

// NewIngestService creates a new ingest service.
func NewIngestService(
	db *gorm.DB,
	sessions *repository.SessionRepository,
	items *repository.ItemRepository,
	engine Engine,
	store storage.DocumentStore,
	cfg *IngestConfig,
) *IngestService {
	timeout := 5 * time.Minute
	if cfg != nil && cfg.ExtractTimeout > 0 {
		timeout = cfg.ExtractTimeout
	}
	return &IngestService{
		db:             db,
		sessions:       sessions,
		items:          items,
		engine:         engine,
		store:          store,
		extractTimeout: timeout,
	}
}

// SubmitRequest describes one uploaded document.
type SubmitRequest struct {
	Name        string
	FileName    string
	ContentType string
	Data        []byte
	Subject     string
	PageRange   string
}

// Submit stores the raw document, creates exactly one session in processing
// state, and spawns the background extraction task. The reviewer-facing
// request returns immediately; extraction never runs inline.
func (s *IngestService) Submit(ctx context.Context, req *SubmitRequest) (*domain.IngestSession, error) {
	if len(req.Data) == 0 {
		return nil, &domain.ValidationError{Field: "file", Reason: "document is empty"}
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = req.FileName
	}
	if name == "" {
		return nil, &domain.ValidationError{Field: "name", Reason: "must not be empty"}
	}

	format, width, height := sniffDocument(req.Data, req.FileName, req.ContentType)

	sessionID := uuid.New().String()
	key := fmt.Sprintf("documents/%s/%s", sessionID, sanitizeFileName(req.FileName))

	if err := s.store.Upload(ctx, key, bytes.NewReader(req.Data), int64(len(req.Data)), contentTypeFor(format, req.ContentType)); err != nil {
		return nil, &domain.DownstreamError{System: "document store", Err: err}
	}

	session := &domain.IngestSession{
		ID:                sessionID,
		Name:              name,
		SourceDocumentRef: key,
		SourceFormat:      format,
		PageWidth:         width,
		PageHeight:        height,
		Subject:           req.Subject,
		Status:            domain.SessionStatusProcessing,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		// No partial sessions: remove the stored document on failure
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			logger.FromContext(ctx).WithError(delErr).Warn("Failed to roll back document upload")
		}
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runExtraction(session, req)
	}()

	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldSessionID: sessionID,
		"format":              format,
		logger.FieldSize:      len(req.Data),
	}).Info("Session created, extraction started")

	return session, nil
}

// Wait blocks until every in-flight extraction task has settled. Used on
// shutdown and in tests.
func (s *IngestService) Wait() {
	s.wg.Wait()
}

// runExtraction is the detached per-session background task. It owns its
// own timeout context so a slow engine never blocks review traffic.
func (s *IngestService) runExtraction(session *domain.IngestSession, req *SubmitRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), s.extractTimeout)
	defer cancel()
	ctx = logger.SetSessionID(ctx, session.ID)
	ctx = logger.SetComponent(ctx, "extraction")

	raws, err := s.engine.Extract(ctx, &extractor.ExtractRequest{
		DocumentURL:  s.store.GetURL(session.SourceDocumentRef),
		DocumentName: session.Name,
		ContentType:  contentTypeFor(session.SourceFormat, req.ContentType),
		Subject:      session.Subject,
		PageRange:    req.PageRange,
	})
	if err != nil {
		s.failSession(ctx, session.ID, err.Error())
		return
	}

	items := s.normalizeCandidates(ctx, session.ID, raws)
	if len(items) == 0 {
		s.failSession(ctx, session.ID, "extraction produced no candidate items")
		return
	}

	if err := s.items.BulkCreate(ctx, items); err != nil {
		logger.FromContext(ctx).WithError(err).Error("Failed to persist candidate items")
		s.failSession(ctx, session.ID, "failed to persist candidate items")
		return
	}

	ok, err := s.sessions.MarkAwaitingReview(ctx, session.ID, len(items))
	if err != nil {
		logger.FromContext(ctx).WithError(err).Error("Failed to mark session awaiting review")
		return
	}
	if !ok {
		logger.FromContext(ctx).Warn("Session left processing state before extraction finished")
		return
	}

	logger.With(logger.Fields{logger.FieldCount: len(items)}).
		Info(ctx, "Extraction completed, session awaiting review")
}

// normalizeCandidates coerces raw engine payloads into candidate items,
// skipping unusable ones. Sequence numbers from the engine are honored when
// present; gaps are filled in arrival order.
func (s *IngestService) normalizeCandidates(ctx context.Context, sessionID string, raws []json.RawMessage) []domain.CandidateItem {
	now := time.Now()
	candidates := make([]*extractor.Candidate, 0, len(raws))
	skipped := 0
	for _, raw := range raws {
		c, err := extractor.Normalize(raw)
		if err != nil {
			skipped++
			logger.FromContext(ctx).WithError(err).Warn("Skipping unusable candidate payload")
			continue
		}
		candidates = append(candidates, c)
	}
	if skipped > 0 {
		logger.With(logger.Fields{logger.FieldCount: skipped}).
			Warn(ctx, "Dropped unusable candidates from extraction result")
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Sequence < candidates[j].Sequence
	})

	items := make([]domain.CandidateItem, 0, len(candidates))
	for i, c := range candidates {
		seq := c.Sequence
		if seq <= 0 {
			seq = i + 1
		}
		items = append(items, domain.CandidateItem{
			ID:             uuid.New().String(),
			SessionID:      sessionID,
			SequenceNumber: seq,
			Extraction:     c.Extraction,
			CandidateType:  c.Type,
			Confidence:     c.Confidence,
			ReviewStatus:   domain.ReviewStatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	return items
}

func (s *IngestService) failSession(ctx context.Context, sessionID, reason string) {
	ok, err := s.sessions.MarkFailed(ctx, sessionID, reason)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Error("Failed to mark session failed")
		return
	}
	if ok {
		logger.FromContext(ctx).WithField("reason", reason).Warn("Session failed")
	}
}

// CompleteOptions controls guarded completion. ForceReject resolves the
// remaining pending items with Reason before completing.
type CompleteOptions struct {
	ForceReject bool
	Reason      string
}

// Complete marks a session completed once every owned item is terminal.
// With pending items left it fails with a PreconditionError carrying the
// exact unresolved count and the session provably stays not-completed.
// Completion is irreversible.
func (s *IngestService) Complete(ctx context.Context, sessionID string, opts *CompleteOptions) error {
	if opts == nil {
		opts = &CompleteOptions{}
	}
	if opts.ForceReject && strings.TrimSpace(opts.Reason) == "" {
		return &domain.ValidationError{Field: "reason", Reason: "must not be empty when force-rejecting"}
	}

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	switch session.Status {
	case domain.SessionStatusCompleted:
		return &domain.ConflictError{Reason: "session " + sessionID + " is already completed"}
	case domain.SessionStatusFailed:
		return &domain.ConflictError{Reason: "session " + sessionID + " failed and cannot be completed"}
	case domain.SessionStatusProcessing:
		return &domain.PreconditionError{SessionID: sessionID, Reason: "extraction is still in progress"}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		items := s.items.WithTx(tx)
		sessions := s.sessions.WithTx(tx)

		if opts.ForceReject {
			n, err := items.RejectAllPending(ctx, sessionID, strings.TrimSpace(opts.Reason))
			if err != nil {
				return err
			}
			if n > 0 {
				if err := sessions.IncrementProcessed(ctx, sessionID, int(n)); err != nil {
					return err
				}
			}
		}

		pending, err := items.CountPending(ctx, sessionID)
		if err != nil {
			return err
		}
		if pending > 0 {
			return &domain.PreconditionError{SessionID: sessionID, PendingItems: int(pending)}
		}

		ok, err := sessions.MarkCompleted(ctx, sessionID)
		if err != nil {
			return err
		}
		if !ok {
			return &domain.ConflictError{Reason: "session " + sessionID + " changed state during completion"}
		}

		logger.CtxInfo(ctx, "Session %s completed", sessionID)
		return nil
	})
}

// GetSession retrieves a session by ID, translating missing rows into the
// domain error taxonomy.
func (s *IngestService) GetSession(ctx context.Context, sessionID string) (*domain.IngestSession, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &domain.NotFoundError{Kind: "session", ID: sessionID}
		}
		return nil, err
	}
	return session, nil
}

// sniffDocument detects the document format and, for scanned images, the
// page pixel dimensions. Non-image formats fall back to the file extension.
func sniffDocument(data []byte, fileName, contentType string) (format string, width, height int) {
	if cfg, f, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		return f, cfg.Width, cfg.Height
	}

	switch {
	case strings.Contains(contentType, "pdf"):
		return "pdf", 0, 0
	case strings.Contains(contentType, "word"), strings.Contains(contentType, "officedocument"):
		return "docx", 0, 0
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
	if ext == "" {
		ext = "bin"
	}
	return ext, 0, 0
}

func sanitizeFileName(name string) string {
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	if name == "" || name == "." {
		return "upload.bin"
	}
	return name
}

func contentTypeFor(format, fallback string) string {
	switch format {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "pdf":
		return "application/pdf"
	case "docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		if fallback != "" {
			return fallback
		}
		return "application/octet-stream"
	}
}
