package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	apperrors "docintake-api/pkg/errors"
)

func TestErrorMiddlewareRendersAppError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(ErrorMiddleware())
	r.GET("/docs/:id", func(c *gin.Context) {
		c.Error(apperrors.WrapError(fmt.Errorf("invalid UUID length"), apperrors.ErrBadRequest.Code, "invalid document id", http.StatusBadRequest))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/docs/not-a-uuid", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"BAD_REQUEST","message":"invalid document id"}`, rec.Body.String())
}

func TestErrorMiddlewareHidesUnknownErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(ErrorMiddleware())
	r.GET("/boom", func(c *gin.Context) {
		c.Error(fmt.Errorf("connection refused"))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}
