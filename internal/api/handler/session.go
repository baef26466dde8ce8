package handler

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/smartexam/paperingest/internal/domain"
	"github.com/smartexam/paperingest/internal/repository"
	"github.com/smartexam/paperingest/internal/service"
)

// maxUploadBytes caps source documents at 50 MB.
const maxUploadBytes = 50 << 20

// SessionHandler handles session lifecycle endpoints.
type SessionHandler struct {
	ingest *service.IngestService
	query  *service.QueryService
}

// NewSessionHandler creates a new session handler.
// Parameters:
//   - ingest: session lifecycle service.
//   - query: read-only listing service.
// Returns:
//   - *SessionHandler: initialized handler.
func NewSessionHandler(ingest *service.IngestService, query *service.QueryService) *SessionHandler {
	return &SessionHandler{ingest: ingest, query: query}
}

// CreateSession handles POST /api/v1/sessions. Accepts a multipart upload
// with the source document under "file" plus optional name/subject fields.
// Returns 202 with the processing session; extraction runs in the background.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if fileHeader.Size > maxUploadBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file exceeds the 50MB limit"})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read uploaded file"})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read uploaded file"})
		return
	}
	if len(data) > maxUploadBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file exceeds the 50MB limit"})
		return
	}

	session, err := h.ingest.Submit(c.Request.Context(), &service.SubmitRequest{
		Name:        c.PostForm("name"),
		FileName:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Data:        data,
		Subject:     c.PostForm("subject"),
		PageRange:   c.PostForm("page_range"),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, session)
}

// GetSession handles GET /api/v1/sessions/:id.
func (h *SessionHandler) GetSession(c *gin.Context) {
	session, err := h.ingest.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// ListSessions handles GET /api/v1/sessions.
// Query parameters: status, page, size.
func (h *SessionHandler) ListSessions(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))

	result, err := h.query.ListSessions(c.Request.Context(), domain.SessionStatus(c.Query("status")), page, size)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListItems handles GET /api/v1/sessions/:id/items.
// Query parameters: status, type, min_confidence, page, size.
func (h *SessionHandler) ListItems(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))
	minConfidence, _ := strconv.ParseFloat(c.Query("min_confidence"), 64)

	filter := repository.ItemFilter{
		Status:        domain.ReviewStatus(c.Query("status")),
		Type:          domain.QuestionType(c.Query("type")),
		MinConfidence: minConfidence,
	}

	result, err := h.query.ListItems(c.Request.Context(), c.Param("id"), filter, page, size)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetStats handles GET /api/v1/sessions/:id/stats.
func (h *SessionHandler) GetStats(c *gin.Context) {
	stats, err := h.query.Stats(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

type completeRequest struct {
	Force  bool   `json:"force"`
	Reason string `json:"reason"`
}

// CompleteSession handles POST /api/v1/sessions/:id/complete. Refuses with
// 412 while unresolved items remain unless force is set, in which case the
// leftovers are rejected with the supplied reason first.
func (h *SessionHandler) CompleteSession(c *gin.Context) {
	var req completeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
	}

	err := h.ingest.Complete(c.Request.Context(), c.Param("id"), &service.CompleteOptions{
		ForceReject: req.Force,
		Reason:      req.Reason,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": string(domain.SessionStatusCompleted)})
}
