package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smartexam/paperingest/internal/service"
)

// maxBatchSize caps batch operations to keep request latency bounded.
const maxBatchSize = 200

// ReviewHandler handles item review endpoints.
type ReviewHandler struct {
	review *service.ReviewService
}

// NewReviewHandler creates a new review handler.
func NewReviewHandler(review *service.ReviewService) *ReviewHandler {
	return &ReviewHandler{review: review}
}

// ApproveItem handles POST /api/v1/items/:id/approve. The request body
// carries the reviewer's corrected question fields; on success the response
// includes the question-bank ID the item was committed under.
func (h *ReviewHandler) ApproveItem(c *gin.Context) {
	var fields service.ApproveFields
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	result, err := h.review.Approve(c.Request.Context(), c.Param("id"), &fields)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// RejectItem handles POST /api/v1/items/:id/reject.
func (h *ReviewHandler) RejectItem(c *gin.Context) {
	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	if err := h.review.Reject(c.Request.Context(), c.Param("id"), req.Reason); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item_id": c.Param("id"), "status": "rejected"})
}

// EditItem handles POST /api/v1/items/:id/edit. Corrections apply only while
// the item is still pending.
func (h *ReviewHandler) EditItem(c *gin.Context) {
	var patch service.EditPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	item, err := h.review.Edit(c.Request.Context(), c.Param("id"), &patch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

type batchApproveRequest struct {
	ItemIDs []string              `json:"item_ids"`
	Fields  service.ApproveFields `json:"fields"`
}

// BatchApprove handles POST /api/v1/items/batch-approve. Items are processed
// independently; the response always lists a per-id outcome, so partial
// failure never hides which items went through.
func (h *ReviewHandler) BatchApprove(c *gin.Context) {
	var req batchApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if len(req.ItemIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "item_ids must not be empty"})
		return
	}
	if len(req.ItemIDs) > maxBatchSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at most 200 items per batch"})
		return
	}

	results := h.review.BatchApprove(c.Request.Context(), req.ItemIDs, &req.Fields)
	c.JSON(http.StatusOK, gin.H{"results": results})
}

type batchRejectRequest struct {
	ItemIDs []string `json:"item_ids"`
	Reason  string   `json:"reason"`
}

// BatchReject handles POST /api/v1/items/batch-reject.
func (h *ReviewHandler) BatchReject(c *gin.Context) {
	var req batchRejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if len(req.ItemIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "item_ids must not be empty"})
		return
	}
	if len(req.ItemIDs) > maxBatchSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at most 200 items per batch"})
		return
	}

	results := h.review.BatchReject(c.Request.Context(), req.ItemIDs, req.Reason)
	c.JSON(http.StatusOK, gin.H{"results": results})
}
