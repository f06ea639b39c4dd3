package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"docintake-api/pkg/errors"

	"github.com/cenkalti/backoff/v4"
)

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Vectors [][]float32 `json:"vectors"`
}

// Client calls the external embedding service
type Client struct {
	baseURL    string
	batchSize  int
	dimensions int
	maxRetries int
	httpClient *http.Client
}

// NewClient creates an embedding service client. batchSize bounds texts per
// upstream call; dimensions is the expected vector length; maxRetries bounds
// attempts per batch on transient failures.
func NewClient(baseURL string, timeout time.Duration, batchSize, dimensions, maxRetries int) *Client {
	if batchSize <= 0 {
		batchSize = 20
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}

	return &Client{
		baseURL:    baseURL,
		batchSize:  batchSize,
		dimensions: dimensions,
		maxRetries: maxRetries,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Embed computes vectors for texts, batched to respect upstream request-size
// limits. Output order matches input order exactly; a batch that exhausts
// its retries fails the whole call so partial embedding sets are never
// returned.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding batch starting at %d: %w", start, err)
		}

		vectors = append(vectors, batch...)
	}

	return vectors, nil
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32

	operation := func() error {
		res, err := c.embedOnce(ctx, texts)
		if err != nil {
			perr := errors.Classify(err)
			if perr.ShouldAutoRetry() {
				return perr
			}
			return backoff.Permanent(perr)
		}
		vectors = res
		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxRetries-1)),
		ctx,
	)
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, err
	}

	return vectors, nil
}

func (c *Client) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(embedRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		cause := fmt.Errorf("embedder returned %d: %s", resp.StatusCode, string(body))

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, errors.Transient("upstream_unavailable", errors.MsgUpstreamBusy, cause)
		}
		return nil, errors.Permanent("unexpected_status", cause)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Permanent("bad_embedder_response", fmt.Errorf("failed to decode embed response: %w", err))
	}

	if len(result.Vectors) != len(texts) {
		return nil, errors.Permanent("vector_count_mismatch",
			fmt.Errorf("expected %d vectors, got %d", len(texts), len(result.Vectors)))
	}

	if c.dimensions > 0 {
		for i, v := range result.Vectors {
			if len(v) != c.dimensions {
				return nil, errors.Permanent("vector_dimension_mismatch",
					fmt.Errorf("vector %d has %d dimensions, expected %d", i, len(v), c.dimensions))
			}
		}
	}

	return result.Vectors, nil
}
