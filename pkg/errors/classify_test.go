package errors

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_PassesThroughClassifiedErrors(t *testing.T) {
	orig := Recoverable("password_protected", MsgPasswordProtected, errors.New("pdf is encrypted"))
	wrapped := fmt.Errorf("parse stage: %w", orig)

	got := Classify(wrapped)
	assert.Same(t, orig, got)
}

func TestClassify_Taxonomy(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantType    ErrorType
		wantCode    string
		wantMessage string
		wantRetry   bool
	}{
		{
			name:        "context deadline",
			err:         context.DeadlineExceeded,
			wantType:    ErrorTypeTransient,
			wantCode:    "timeout",
			wantMessage: MsgTimeout,
			wantRetry:   true,
		},
		{
			name:        "wrapped deadline",
			err:         fmt.Errorf("calling parser: %w", context.DeadlineExceeded),
			wantType:    ErrorTypeTransient,
			wantCode:    "timeout",
			wantMessage: MsgTimeout,
			wantRetry:   true,
		},
		{
			name:        "connection refused",
			err:         fmt.Errorf("dial: %w", syscall.ECONNREFUSED),
			wantType:    ErrorTypeTransient,
			wantCode:    "connection",
			wantMessage: MsgUpstreamBusy,
			wantRetry:   true,
		},
		{
			name:        "rate limit from string",
			err:         errors.New("upstream returned 429 too many requests"),
			wantType:    ErrorTypeTransient,
			wantCode:    "rate_limited",
			wantMessage: MsgUpstreamBusy,
			wantRetry:   true,
		},
		{
			name:        "password protected from string",
			err:         errors.New("document is encrypted and cannot be opened"),
			wantType:    ErrorTypeRecoverable,
			wantCode:    "password_protected",
			wantMessage: MsgPasswordProtected,
			wantRetry:   false,
		},
		{
			name:        "corrupted file",
			err:         errors.New("xref table corrupt"),
			wantType:    ErrorTypeRecoverable,
			wantCode:    "corrupted_file",
			wantMessage: MsgCorrupted,
			wantRetry:   false,
		},
		{
			name:        "unsupported format",
			err:         errors.New("unsupported media type"),
			wantType:    ErrorTypeRecoverable,
			wantCode:    "unsupported_format",
			wantMessage: MsgUnsupported,
			wantRetry:   false,
		},
		{
			name:        "unclassified",
			err:         errors.New("nil pointer dereference"),
			wantType:    ErrorTypePermanent,
			wantCode:    "unknown",
			wantMessage: MsgGeneric,
			wantRetry:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.Equal(t, tt.wantType, got.Type)
			assert.Equal(t, tt.wantCode, got.Code)
			assert.Equal(t, tt.wantMessage, got.UserMessage)
			assert.Equal(t, tt.wantRetry, got.ShouldAutoRetry())
		})
	}
}

func TestPipelineError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	perr := Permanent("unknown", cause)
	assert.ErrorIs(t, perr, cause)
}
