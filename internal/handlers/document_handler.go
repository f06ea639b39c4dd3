package handlers

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"docintake-api/internal/middleware"
	"docintake-api/internal/services"
	apperrors "docintake-api/pkg/errors"
)

type DocumentHandler struct {
	services *services.Services
}

func NewDocumentHandler(svcs *services.Services) *DocumentHandler {
	return &DocumentHandler{services: svcs}
}

// UploadDocument handles POST /api/v1/documents. The upload is accepted
// and queued; processing happens asynchronously.
func (h *DocumentHandler) UploadDocument() gin.HandlerFunc {
	return func(c *gin.Context) {
		agencyID, ok := middleware.AgencyID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": apperrors.ErrUnauthorized.Code})
			return
		}

		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.Error(apperrors.WrapError(err, apperrors.ErrBadRequest.Code, "file is required", http.StatusBadRequest))
			return
		}

		filename := filepath.Base(filepath.Clean(fileHeader.Filename))
		filename = strings.ReplaceAll(filename, " ", "_")
		if filename == "" || filename == "." {
			c.Error(apperrors.NewError(apperrors.ErrBadRequest.Code, "invalid filename", http.StatusBadRequest))
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			c.Error(apperrors.WrapError(err, apperrors.ErrBadRequest.Code, "failed to read file", http.StatusBadRequest))
			return
		}
		defer file.Close()

		doc, job, err := h.services.Document.Submit(c.Request.Context(), agencyID, filename, file)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"document_id": doc.ID,
			"job_id":      job.ID,
			"status":      job.Status,
		})
	}
}

// GetDocument handles GET /api/v1/documents/:id
func (h *DocumentHandler) GetDocument() gin.HandlerFunc {
	return func(c *gin.Context) {
		agencyID, ok := middleware.AgencyID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": apperrors.ErrUnauthorized.Code})
			return
		}

		documentID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.Error(apperrors.WrapError(err, apperrors.ErrBadRequest.Code, "invalid document id", http.StatusBadRequest))
			return
		}

		doc, job, err := h.services.Document.Get(c.Request.Context(), agencyID, documentID)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"document": doc,
			"job":      job,
		})
	}
}

// ListDocuments handles GET /api/v1/documents
func (h *DocumentHandler) ListDocuments() gin.HandlerFunc {
	return func(c *gin.Context) {
		agencyID, ok := middleware.AgencyID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": apperrors.ErrUnauthorized.Code})
			return
		}

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

		docs, total, err := h.services.Document.List(c.Request.Context(), agencyID, limit, offset)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"documents": docs,
			"total":     total,
			"limit":     limit,
			"offset":    offset,
		})
	}
}

// DownloadDocument handles GET /api/v1/documents/:id/download
func (h *DocumentHandler) DownloadDocument() gin.HandlerFunc {
	return func(c *gin.Context) {
		agencyID, ok := middleware.AgencyID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": apperrors.ErrUnauthorized.Code})
			return
		}

		documentID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.Error(apperrors.WrapError(err, apperrors.ErrBadRequest.Code, "invalid document id", http.StatusBadRequest))
			return
		}

		doc, rc, err := h.services.Document.Download(c.Request.Context(), agencyID, documentID)
		if err != nil {
			respondError(c, err)
			return
		}
		defer rc.Close()

		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Name))
		c.Header("Content-Type", "application/octet-stream")
		c.Status(http.StatusOK)

		if _, err := io.Copy(c.Writer, rc); err != nil {
			// headers are gone, nothing left to do but log
			c.Error(err)
		}
	}
}

// DeleteDocument handles DELETE /api/v1/documents/:id
func (h *DocumentHandler) DeleteDocument() gin.HandlerFunc {
	return func(c *gin.Context) {
		agencyID, ok := middleware.AgencyID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": apperrors.ErrUnauthorized.Code})
			return
		}

		documentID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.Error(apperrors.WrapError(err, apperrors.ErrBadRequest.Code, "invalid document id", http.StatusBadRequest))
			return
		}

		if err := h.services.Document.Delete(c.Request.Context(), agencyID, documentID); err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "document deleted"})
	}
}

// RetryDocument handles POST /api/v1/documents/:id/retry
func (h *DocumentHandler) RetryDocument() gin.HandlerFunc {
	return func(c *gin.Context) {
		agencyID, ok := middleware.AgencyID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": apperrors.ErrUnauthorized.Code})
			return
		}

		documentID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.Error(apperrors.WrapError(err, apperrors.ErrBadRequest.Code, "invalid document id", http.StatusBadRequest))
			return
		}

		job, err := h.services.Document.Retry(c.Request.Context(), agencyID, documentID)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"job_id": job.ID,
			"status": job.Status,
		})
	}
}
