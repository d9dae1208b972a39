// Package retry decides whether a failed attempt runs again and how long
// the task waits before becoming eligible. Backoff grows exponentially so a
// flaky model cannot monopolize dispatch slots.
package retry

import (
	"time"

	"github.com/msageha/foreman/internal/model"
)

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func NewPolicy(cfg model.WorkflowConfig) Policy {
	base := time.Duration(cfg.RetryBaseDelaySec) * time.Second
	if base <= 0 {
		base = time.Second
	}
	max := time.Duration(cfg.RetryMaxDelaySec) * time.Second
	if max <= 0 {
		max = time.Minute
	}
	return Policy{
		MaxAttempts: cfg.RetryAttempts,
		BaseDelay:   base,
		MaxDelay:    max,
	}
}

// ShouldRetry is true while attempts remain AND the failure classifies as
// transient. Fatal failures are never retried regardless of budget.
func (p Policy) ShouldRetry(task model.Task, kind model.FailureKind) bool {
	if !model.IsRetryable(kind) {
		return false
	}
	return task.Attempts < p.MaxAttempts
}

// Backoff returns the delay before the next attempt becomes eligible:
// base × 2^(attempts−1), capped at MaxDelay.
func (p Policy) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
