package handlers

import (
	"errors"
	"math"
	"net/http"

	"github.com/gin-gonic/gin"

	"docintake-api/internal/services"
	apperrors "docintake-api/pkg/errors"
)

// Handlers holds all handler instances
type Handlers struct {
	Document *DocumentHandler
	Job      *JobHandler
	Progress *ProgressHandler
	Health   *HealthHandler
}

// NewHandlers creates and returns all handler instances
func NewHandlers(svcs *services.Services) *Handlers {
	return &Handlers{
		Document: NewDocumentHandler(svcs),
		Job:      NewJobHandler(svcs),
		Progress: NewProgressHandler(svcs),
		Health:   NewHealthHandler(svcs),
	}
}

// respondError maps service errors onto HTTP responses
func respondError(c *gin.Context, err error) {
	var rateLimited *services.RateLimitedError
	if errors.As(err, &rateLimited) {
		// always a positive wait, even right at the window boundary
		retryAfter := int(math.Ceil(rateLimited.RetryAfter.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":               apperrors.ErrRateLimited.Code,
			"message":             rateLimited.Error(),
			"retry_after_seconds": retryAfter,
		})
		return
	}

	var notFound *services.NotFoundError
	if errors.As(err, &notFound) {
		c.JSON(http.StatusNotFound, apperrors.ErrorResponse{
			Error:   apperrors.ErrNotFound.Code,
			Message: notFound.Error(),
		})
		return
	}

	var conflict *services.ConflictError
	if errors.As(err, &conflict) {
		c.JSON(http.StatusConflict, apperrors.ErrorResponse{
			Error:   apperrors.ErrConflict.Code,
			Message: conflict.Error(),
		})
		return
	}

	c.Error(err)
}
