package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"docintake-api/internal/middleware"
	"docintake-api/internal/services"
	apperrors "docintake-api/pkg/errors"
)

type JobHandler struct {
	services *services.Services
}

func NewJobHandler(svcs *services.Services) *JobHandler {
	return &JobHandler{services: svcs}
}

// GetJob handles GET /api/v1/jobs/:id
func (h *JobHandler) GetJob() gin.HandlerFunc {
	return func(c *gin.Context) {
		agencyID, ok := middleware.AgencyID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": apperrors.ErrUnauthorized.Code})
			return
		}

		jobID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.Error(apperrors.WrapError(err, apperrors.ErrBadRequest.Code, "invalid job id", http.StatusBadRequest))
			return
		}

		job, err := h.services.Document.GetJob(c.Request.Context(), agencyID, jobID)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, job)
	}
}

// ListJobs handles GET /api/v1/jobs
func (h *JobHandler) ListJobs() gin.HandlerFunc {
	return func(c *gin.Context) {
		agencyID, ok := middleware.AgencyID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": apperrors.ErrUnauthorized.Code})
			return
		}

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

		jobs, err := h.services.Document.ListJobs(c.Request.Context(), agencyID, limit, offset)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"jobs":   jobs,
			"limit":  limit,
			"offset": offset,
		})
	}
}
