// Package ratelimit enforces per-model call-rate quotas with a sliding
// window over execution starts. State is ephemeral: limits bound rate, not
// historical fact, so the window rebuilds empty on restart.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/msageha/foreman/internal/model"
)

const DefaultWindow = time.Minute

type modelState struct {
	limit  int
	admit  chan struct{} // serializes waiters so permits are granted in arrival order
	mu     sync.Mutex    // guards starts
	starts []time.Time
}

type Limiter struct {
	window time.Duration
	states map[string]*modelState
}

// New builds a limiter for the configured model registry. A non-positive
// window falls back to the one-minute provider quota window.
func New(models []model.ModelConfig, window time.Duration) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	states := make(map[string]*modelState, len(models))
	for _, m := range models {
		states[m.Identity] = &modelState{
			limit: m.MaxCallsPerMinute,
			admit: make(chan struct{}, 1),
		}
	}
	return &Limiter{window: window, states: states}
}

// Acquire blocks until a call start against the model fits inside the
// trailing window, or the context expires. A deadline expiry surfaces as
// model.ErrRateLimitTimeout; cancellation propagates as the context error.
// Releasing is implicit: a permit simply ages out of the window.
func (l *Limiter) Acquire(ctx context.Context, identity string) error {
	s, ok := l.states[identity]
	if !ok {
		return fmt.Errorf("unknown model %q", identity)
	}

	// One waiter at a time holds admission; the rest queue behind it, so
	// freed window slots go to the earliest waiter.
	select {
	case s.admit <- struct{}{}:
	case <-ctx.Done():
		return l.waitErr(ctx, identity)
	}
	defer func() { <-s.admit }()

	for {
		s.mu.Lock()
		now := time.Now()
		s.pruneLocked(now, l.window)
		if len(s.starts) < s.limit {
			s.starts = append(s.starts, now)
			s.mu.Unlock()
			return nil
		}
		wait := s.starts[0].Add(l.window).Sub(now)
		s.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return l.waitErr(ctx, identity)
		}
	}
}

// Remaining reports how many call starts the model has left in the current
// window. Zero for unknown models.
func (l *Limiter) Remaining(identity string) int {
	s, ok := l.states[identity]
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(time.Now(), l.window)
	if n := s.limit - len(s.starts); n > 0 {
		return n
	}
	return 0
}

func (s *modelState) pruneLocked(now time.Time, window time.Duration) {
	cut := 0
	for cut < len(s.starts) && now.Sub(s.starts[cut]) >= window {
		cut++
	}
	if cut > 0 {
		s.starts = append(s.starts[:0], s.starts[cut:]...)
	}
}

func (l *Limiter) waitErr(ctx context.Context, identity string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: model %s", model.ErrRateLimitTimeout, identity)
	}
	return ctx.Err()
}
