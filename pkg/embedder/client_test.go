package embedder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"docintake-api/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoEmbedder returns a deterministic 3-dimensional vector per input text
// so ordering is verifiable.
func echoEmbedder(t *testing.T, batchSizes *[]int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Texts []string `json:"texts"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if batchSizes != nil {
			*batchSizes = append(*batchSizes, len(req.Texts))
		}

		vectors := make([][]float32, len(req.Texts))
		for i := range req.Texts {
			vectors[i] = []float32{float32(len(req.Texts[i])), float32(i), 1}
		}
		json.NewEncoder(w).Encode(map[string]any{"vectors": vectors})
	}
}

func TestEmbed_BatchesAndPreservesOrder(t *testing.T) {
	var batchSizes []int
	srv := httptest.NewServer(echoEmbedder(t, &batchSizes))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, 2, 3, 3)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vectors, err := c.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, 5)

	assert.Equal(t, []int{2, 2, 1}, batchSizes)
	for i, text := range texts {
		assert.Equal(t, float32(len(text)), vectors[i][0], "vector %d out of order", i)
	}
}

func TestEmbed_RetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	inner := echoEmbedder(t, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		inner(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, 10, 3, 3)
	vectors, err := c.Embed(context.Background(), []string{"x", "y"})
	require.NoError(t, err)
	assert.Len(t, vectors, 2)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEmbed_ExhaustedRetriesFailTheCall(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, 10, 3, 3)
	_, err := c.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())

	perr := errors.Classify(err)
	assert.Equal(t, errors.ErrorTypeTransient, perr.Type)
}

func TestEmbed_DimensionMismatchIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"vectors": [[1, 2]]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, 10, 3, 3)
	_, err := c.Embed(context.Background(), []string{"x"})
	require.Error(t, err)

	perr := errors.Classify(err)
	assert.Equal(t, errors.ErrorTypePermanent, perr.Type)
	assert.False(t, perr.ShouldAutoRetry())
}

func TestEmbed_VectorCountMismatchIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"vectors": []}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, 10, 3, 3)
	_, err := c.Embed(context.Background(), []string{"x"})
	require.Error(t, err)

	perr := errors.Classify(err)
	assert.Equal(t, errors.ErrorTypePermanent, perr.Type)
}

func TestEmbed_EmptyInput(t *testing.T) {
	c := NewClient("http://unused", time.Second, 10, 3, 3)
	vectors, err := c.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}
