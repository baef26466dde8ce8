package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smartexam/paperingest/internal/api/middleware"
	"github.com/smartexam/paperingest/internal/domain"
)

// writeError maps domain errors onto HTTP status codes with a uniform JSON
// shape. Unclassified errors become a 500 without leaking internals.
func writeError(c *gin.Context, err error) {
	var (
		validationErr   *domain.ValidationError
		notFoundErr     *domain.NotFoundError
		conflictErr     *domain.ConflictError
		preconditionErr *domain.PreconditionError
		transientErr    *domain.TransientError
		downstreamErr   *domain.DownstreamError
	)

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Error()})
	case errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, gin.H{"error": notFoundErr.Error()})
	case errors.As(err, &conflictErr):
		body := gin.H{"error": conflictErr.Error()}
		if conflictErr.Status != "" {
			body["status"] = conflictErr.Status
		}
		c.JSON(http.StatusConflict, body)
	case errors.As(err, &preconditionErr):
		c.JSON(http.StatusPreconditionFailed, gin.H{
			"error":         preconditionErr.Error(),
			"pending_items": preconditionErr.PendingItems,
		})
	case errors.As(err, &transientErr):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": transientErr.Error()})
	case errors.As(err, &downstreamErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": downstreamErr.Error()})
	default:
		middleware.GetLogger(c).WithError(err).Error("Unhandled error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
