package model

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"deadline", context.DeadlineExceeded, FailureTimeout},
		{"wrapped deadline", fmt.Errorf("exec: %w", context.DeadlineExceeded), FailureTimeout},
		{"cancelled", context.Canceled, FailureCancelled},
		{"transient exec error", NewTransientError(errors.New("503")), FailureTransient},
		{"fatal exec error", NewFatalError(errors.New("bad request")), FailureFatal},
		{"wrapped fatal", fmt.Errorf("attempt: %w", NewFatalError(errors.New("boom"))), FailureFatal},
		{"plain error defaults transient", errors.New("connection reset"), FailureTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		kind FailureKind
		want bool
	}{
		{FailureTransient, true},
		{FailureTimeout, true},
		{FailureFatal, false},
		{FailureCancelled, false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.kind); got != tt.want {
			t.Errorf("IsRetryable(%q) = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestExecErrorUnwrap(t *testing.T) {
	inner := errors.New("underlying")
	err := NewTransientError(inner)
	if !errors.Is(err, inner) {
		t.Error("ExecError should unwrap to the inner error")
	}
}
