package parser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"docintake-api/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/parse", r.URL.Path)
		assert.Equal(t, "policy.pdf", r.Header.Get("X-Filename"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"markdown": "# Policy\n<!-- page: 2 -->\nTerms", "page_count": 2}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	res, err := c.Parse(context.Background(), "policy.pdf", []byte("%PDF-1.7"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.PageCount)
	assert.Contains(t, res.Markdown, "<!-- page: 2 -->")
}

func TestParse_RetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"markdown": "text", "page_count": 1}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 10*time.Second)
	res, err := c.Parse(context.Background(), "doc.pdf", []byte("bytes"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.PageCount)
	assert.Equal(t, int32(2), calls.Load())
}

func TestParse_PasswordProtectedIsRecoverableAndNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error": "password_protected"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	_, err := c.Parse(context.Background(), "locked.pdf", []byte("bytes"))
	require.Error(t, err)

	perr := errors.Classify(err)
	assert.Equal(t, errors.ErrorTypeRecoverable, perr.Type)
	assert.Equal(t, errors.MsgPasswordProtected, perr.UserMessage)
	assert.Equal(t, int32(1), calls.Load())
}

func TestParse_UnsupportedFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnsupportedMediaType)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	_, err := c.Parse(context.Background(), "archive.zip", []byte("PK"))
	require.Error(t, err)

	perr := errors.Classify(err)
	assert.Equal(t, errors.ErrorTypeRecoverable, perr.Type)
	assert.Equal(t, errors.MsgUnsupported, perr.UserMessage)
}

func TestParse_TimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"markdown": "late", "page_count": 1}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 50*time.Millisecond)
	_, err := c.Parse(context.Background(), "slow.pdf", []byte("bytes"))
	require.Error(t, err)

	perr := errors.Classify(err)
	assert.Equal(t, errors.ErrorTypeTransient, perr.Type)
	assert.True(t, perr.ShouldAutoRetry())
}
