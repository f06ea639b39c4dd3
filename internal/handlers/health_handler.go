package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"docintake-api/internal/services"
)

type HealthHandler struct {
	services *services.Services
}

func NewHealthHandler(svcs *services.Services) *HealthHandler {
	return &HealthHandler{services: svcs}
}

// Health handles GET /health
func (h *HealthHandler) Health() gin.HandlerFunc {
	return func(c *gin.Context) {
		checks, healthy := h.services.Health.Check(c.Request.Context())

		status := http.StatusOK
		overall := "ok"
		if !healthy {
			status = http.StatusServiceUnavailable
			overall = "degraded"
		}

		c.JSON(status, gin.H{
			"status": overall,
			"checks": checks,
		})
	}
}
