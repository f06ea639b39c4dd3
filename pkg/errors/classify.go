package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrorType categorizes a pipeline failure for retry policy and user messaging
type ErrorType string

const (
	ErrorTypeTransient   ErrorType = "transient"   // auto-retried with backoff
	ErrorTypeRecoverable ErrorType = "recoverable" // user must fix the input, never auto-retried
	ErrorTypePermanent   ErrorType = "permanent"   // unexpected, surfaced as contact-support
)

// Fixed user-facing messages. Raw error text is never surfaced to end users;
// every terminal failure maps to exactly one of these.
const (
	MsgTimeout           = "Processing timed out. Please try again."
	MsgTooLarge          = "This document is too large or complex to process."
	MsgUnsupported       = "This file format is not supported. Please upload a PDF, DOCX or image file."
	MsgPasswordProtected = "This file is password-protected. Please upload an unlocked version."
	MsgCorrupted         = "This file appears to be corrupted. Please re-export it and upload again."
	MsgUpstreamBusy      = "The processing service is busy. Your document will be retried automatically."
	MsgGeneric           = "Something went wrong while processing this document. Please contact support."
)

// PipelineError is a classified processing failure. It carries an internal
// cause for logging plus a machine-readable type and a fixed user message
// recorded on the job row.
type PipelineError struct {
	Type        ErrorType
	Code        string // machine-readable reason, e.g. "timeout", "password_protected"
	UserMessage string
	Err         error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// ShouldAutoRetry reports whether the job may be requeued automatically
func (e *PipelineError) ShouldAutoRetry() bool {
	return e.Type == ErrorTypeTransient
}

// Transient wraps err as an auto-retryable failure
func Transient(code, userMessage string, err error) *PipelineError {
	return &PipelineError{Type: ErrorTypeTransient, Code: code, UserMessage: userMessage, Err: err}
}

// Recoverable wraps err as a failure the user can fix
func Recoverable(code, userMessage string, err error) *PipelineError {
	return &PipelineError{Type: ErrorTypeRecoverable, Code: code, UserMessage: userMessage, Err: err}
}

// Permanent wraps err as an unexpected failure
func Permanent(code string, err error) *PipelineError {
	return &PipelineError{Type: ErrorTypePermanent, Code: code, UserMessage: MsgGeneric, Err: err}
}

// Classify maps an arbitrary error from a pipeline stage into a
// PipelineError. Already-classified errors pass through unchanged; this is
// the single source of truth for retry decisions, consulted by both the
// worker and the stale job reaper.
func Classify(err error) *PipelineError {
	var perr *PipelineError
	if errors.As(err, &perr) {
		return perr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Transient("timeout", MsgTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient("timeout", MsgTimeout, err)
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return Transient("connection", MsgUpstreamBusy, err)
	}

	// Last-resort string matching for errors that lose their type across
	// process boundaries (HTTP client wrapping, driver errors).
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return Transient("timeout", MsgTimeout, err)
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset"):
		return Transient("connection", MsgUpstreamBusy, err)
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return Transient("rate_limited", MsgUpstreamBusy, err)
	case strings.Contains(msg, "password") || strings.Contains(msg, "encrypted"):
		return Recoverable("password_protected", MsgPasswordProtected, err)
	case strings.Contains(msg, "corrupt"):
		return Recoverable("corrupted_file", MsgCorrupted, err)
	case strings.Contains(msg, "unsupported"):
		return Recoverable("unsupported_format", MsgUnsupported, err)
	}

	return Permanent("unknown", err)
}
