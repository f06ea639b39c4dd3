package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"docintake-api/internal/middleware"
	"docintake-api/internal/models"
	"docintake-api/internal/services"
	apperrors "docintake-api/pkg/errors"
	"docintake-api/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

type ProgressHandler struct {
	services *services.Services
	upgrader websocket.Upgrader
}

func NewProgressHandler(svcs *services.Services) *ProgressHandler {
	return &ProgressHandler{
		services: svcs,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// GetProgress handles GET /api/v1/jobs/:id/progress, the polling fallback
// for clients without websocket support
func (h *ProgressHandler) GetProgress() gin.HandlerFunc {
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

		// prefer the cached snapshot, it may be fresher than the row we read
		if snap, err := h.services.Progress.Snapshot(c.Request.Context(), jobID); err == nil && snap != nil {
			c.JSON(http.StatusOK, snap)
			return
		}

		c.JSON(http.StatusOK, eventFromJob(job))
	}
}

// StreamProgress handles GET /api/v1/jobs/:id/stream. It upgrades to a
// websocket and pushes every state transition until the job reaches a
// terminal state or the client goes away.
func (h *ProgressHandler) StreamProgress() gin.HandlerFunc {
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

		// subscribe before the initial read so no transition can slip
		// between snapshot and stream
		events, cancel := h.services.Progress.Subscribe(jobID)
		defer cancel()

		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Get().Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		defer conn.Close()

		// drain client frames so close handshakes and pongs are processed
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					cancel()
					return
				}
			}
		}()

		initial := eventFromJob(job)
		if err := h.writeEvent(conn, initial); err != nil {
			return
		}
		if terminal(initial.Status) {
			return
		}

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case event, open := <-events:
				if !open {
					return
				}
				if err := h.writeEvent(conn, event); err != nil {
					return
				}
				if terminal(event.Status) {
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-c.Request.Context().Done():
				return
			}
		}
	}
}

func (h *ProgressHandler) writeEvent(conn *websocket.Conn, event models.ProgressEvent) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(event)
}

func terminal(status models.JobStatus) bool {
	return status == models.JobStatusCompleted || status == models.JobStatusFailed
}

func eventFromJob(job *models.ProcessingJob) models.ProgressEvent {
	return models.ProgressEvent{
		JobID:           job.ID,
		DocumentID:      job.DocumentID,
		AgencyID:        job.AgencyID,
		Status:          job.Status,
		Stage:           job.Stage,
		ProgressPercent: job.ProgressPercent,
		ErrorMessage:    job.ErrorMessage,
		At:              job.UpdatedAt,
	}
}
