package model

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidRole is returned at enqueue time when no configured model
	// services the task's role. The task is rejected, never stored.
	ErrInvalidRole = errors.New("no configured model supports role")

	// ErrNoEligibleModel is returned at dispatch time when the candidate
	// set is empty (e.g. a model was removed from config after enqueue).
	ErrNoEligibleModel = errors.New("no eligible model for task")

	// ErrRateLimitTimeout is returned when a rate-limit permit could not be
	// acquired within the caller's wait budget. The task never started, so
	// this does not count as an attempt.
	ErrRateLimitTimeout = errors.New("rate limit wait timed out")

	// ErrTerminalTask rejects mutations of tasks already in a terminal state.
	ErrTerminalTask = errors.New("task is in a terminal state")

	// ErrUnknownTask is returned for lookups of ids not in the queue.
	ErrUnknownTask = errors.New("unknown task id")
)

// FailureKind classifies an execution failure for retry policy.
type FailureKind string

const (
	FailureTransient FailureKind = "transient"
	FailureTimeout   FailureKind = "timeout"
	FailureFatal     FailureKind = "fatal"
	FailureCancelled FailureKind = "cancelled"
)

// ExecError wraps an execution-collaborator failure with its classification.
type ExecError struct {
	Kind FailureKind
	Err  error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s execution error: %v", e.Kind, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

func NewTransientError(err error) *ExecError {
	return &ExecError{Kind: FailureTransient, Err: err}
}

func NewFatalError(err error) *ExecError {
	return &ExecError{Kind: FailureFatal, Err: err}
}

// Classify maps an execution failure to its FailureKind. Context deadline
// means the task timeout fired; context cancellation means shutdown.
// Unclassified errors are treated as transient: provider-side and network
// faults surface as plain errors and deserve a retry.
func Classify(err error) FailureKind {
	var execErr *ExecError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, context.Canceled):
		return FailureCancelled
	case errors.As(err, &execErr):
		return execErr.Kind
	default:
		return FailureTransient
	}
}

// IsRetryable reports whether a failure kind is eligible for retry.
// Fatal failures are never retried; cancellation is a shutdown artifact.
func IsRetryable(kind FailureKind) bool {
	return kind == FailureTransient || kind == FailureTimeout
}
