package parser

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

// ParseResult is the parsing service response: markdown with page boundary
// markers between pages, plus the detected page count.
type ParseResult struct {
	Markdown  string `json:"markdown"`
	PageCount int    `json:"page_count"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Client calls the external document parsing service
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a parsing service client. The timeout is the wall-clock
// budget for a single parse, distinct from the total job budget.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		timeout: timeout,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Parse sends raw document bytes to the parsing service and returns the
// extracted markdown. Transient upstream failures (timeouts, 429, 5xx) are
// retried in-call with exponential backoff; input problems the user must fix
// are returned as recoverable errors without retry.
func (c *Client) Parse(ctx context.Context, filename string, data []byte) (*ParseResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var result *ParseResult

	operation := func() error {
		res, err := c.parseOnce(ctx, filename, data)
		if err != nil {
			perr := errors.Classify(err)
			if perr.ShouldAutoRetry() {
				return perr
			}
			return backoff.Permanent(perr)
		}
		result = res
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, err
	}

	return result, nil
}

func (c *Client) parseOnce(ctx context.Context, filename string, data []byte) (*ParseResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/parse", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to build parse request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Filename", filename)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("parse request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.mapErrorResponse(resp)
	}

	var result ParseResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Permanent("bad_parser_response", fmt.Errorf("failed to decode parse response: %w", err))
	}

	if result.PageCount < 1 {
		result.PageCount = 1
	}

	return &result, nil
}

func (c *Client) mapErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var eb errorBody
	_ = json.Unmarshal(body, &eb)

	cause := fmt.Errorf("parser returned %d: %s", resp.StatusCode, eb.Error)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return errors.Transient("rate_limited", errors.MsgUpstreamBusy, cause)
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500:
		return errors.Transient("upstream_unavailable", errors.MsgUpstreamBusy, cause)
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return errors.Recoverable("too_large", errors.MsgTooLarge, cause)
	case resp.StatusCode == http.StatusUnsupportedMediaType:
		return errors.Recoverable("unsupported_format", errors.MsgUnsupported, cause)
	case resp.StatusCode == http.StatusUnprocessableEntity:
		switch eb.Error {
		case "password_protected", "encrypted":
			return errors.Recoverable("password_protected", errors.MsgPasswordProtected, cause)
		case "corrupted":
			return errors.Recoverable("corrupted_file", errors.MsgCorrupted, cause)
		case "too_large":
			return errors.Recoverable("too_large", errors.MsgTooLarge, cause)
		default:
			return errors.Recoverable("unsupported_format", errors.MsgUnsupported, cause)
		}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return errors.Recoverable("unsupported_format", errors.MsgUnsupported, cause)
	default:
		return errors.Permanent("unexpected_status", cause)
	}
}
