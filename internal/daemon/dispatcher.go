package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/msageha/foreman/internal/agent"
	"github.com/msageha/foreman/internal/events"
	"github.com/msageha/foreman/internal/gate"
	"github.com/msageha/foreman/internal/model"
	"github.com/msageha/foreman/internal/queue"
	"github.com/msageha/foreman/internal/ratelimit"
	"github.com/msageha/foreman/internal/retry"
	"github.com/msageha/foreman/internal/router"
)

const (
	// pollInterval is how long the control loop idles when no task is
	// eligible or all slots are occupied.
	pollInterval = 250 * time.Millisecond
	// stallRequeueDelay defers a task whose rate-limit wait timed out.
	// A scheduling stall, not a failure: no attempt is consumed.
	stallRequeueDelay = time.Second
)

// Dispatcher is the single active control loop: it pulls ready tasks,
// acquires concurrency and rate permits, invokes execution, and applies the
// retry policy and quality gate. All other components are passive.
type Dispatcher struct {
	cfg      model.Config
	queue    *queue.Queue
	limiter  *ratelimit.Limiter
	router   *router.Router
	policy   retry.Policy
	gate     *gate.Gate
	executor agent.Executor
	bus      *events.Bus
	log      zerolog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}

	// execCtx bounds in-flight executions. It is independent of the control
	// loop's context so a stop signal drains gracefully; it is cancelled
	// only when the shutdown grace period expires (force-cancel).
	execCtx    context.Context
	execCancel context.CancelFunc
}

func NewDispatcher(
	cfg model.Config,
	q *queue.Queue,
	limiter *ratelimit.Limiter,
	r *router.Router,
	policy retry.Policy,
	g *gate.Gate,
	executor agent.Executor,
	bus *events.Bus,
	log zerolog.Logger,
) *Dispatcher {
	execCtx, execCancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:        cfg,
		queue:      q,
		limiter:    limiter,
		router:     r,
		policy:     policy,
		gate:       g,
		executor:   executor,
		bus:        bus,
		log:        log.With().Str("component", "dispatcher").Logger(),
		inflight:   make(map[string]struct{}),
		execCtx:    execCtx,
		execCancel: execCancel,
	}
}

// Run drives the dispatch loop until ctx is cancelled, then drains in-flight
// executions up to the shutdown grace period before force-cancelling the
// rest. Individual task failures never stop the loop.
func (d *Dispatcher) Run(ctx context.Context) {
	pool := new(errgroup.Group)
	pool.SetLimit(d.cfg.Workflow.ParallelTasks)

	d.log.Info().Int("max_parallel", d.cfg.Workflow.ParallelTasks).Msg("dispatcher_started")

	for ctx.Err() == nil {
		if !d.dispatchNext(pool) {
			sleepCtx(ctx, pollInterval)
		}
	}

	d.log.Info().Msg("dispatcher_draining")
	d.drain(pool)
	d.log.Info().Msg("dispatcher_stopped")
}

func (d *Dispatcher) drain(pool *errgroup.Group) {
	grace := time.Duration(d.cfg.Daemon.ShutdownGraceSec) * time.Second
	if grace <= 0 {
		grace = 30 * time.Second
	}

	done := make(chan struct{})
	go func() {
		_ = pool.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(grace):
		d.log.Warn().Dur("grace", grace).Msg("shutdown_grace_expired_force_cancelling")
		d.execCancel()
	}
	<-done
}

// dispatchNext pulls one unit of work (a pending review takes precedence so
// accepted results do not linger unverified) and hands it to the pool.
// Returns false when nothing was dispatched.
func (d *Dispatcher) dispatchNext(pool *errgroup.Group) bool {
	if t := d.queue.NextReviewable(d.isHeld); t != nil {
		return d.submit(pool, *t, d.review)
	}
	if t := d.queue.NextReady(time.Now(), d.isHeld); t != nil {
		return d.submit(pool, *t, d.execute)
	}
	return false
}

func (d *Dispatcher) submit(pool *errgroup.Group, task model.Task, fn func(model.Task)) bool {
	d.hold(task.ID)
	started := pool.TryGo(func() error {
		defer d.release(task.ID)
		fn(task)
		return nil
	})
	if !started {
		d.release(task.ID)
	}
	return started
}

// execute runs one attempt for a pending task.
func (d *Dispatcher) execute(task model.Task) {
	m, err := d.router.Select(task)
	if err != nil {
		// Fatal at dispatch: the candidate set is empty, retrying cannot help.
		d.log.Error().Str("task", task.ID).Err(err).Msg("dispatch_no_eligible_model")
		d.failTask(task.ID, err.Error())
		return
	}

	if !d.acquirePermit(task, m.Identity) {
		return
	}

	if err := d.queue.MarkRunning(task.ID, m.Identity); err != nil {
		// Terminal or otherwise ineligible: re-dispatch is a no-op.
		d.log.Warn().Str("task", task.ID).Err(err).Msg("mark_running_rejected")
		return
	}
	// Refresh: MarkRunning counted the attempt.
	task, err = d.queue.Get(task.ID)
	if err != nil {
		d.log.Error().Str("task", task.ID).Err(err).Msg("task_vanished_after_mark_running")
		return
	}

	d.publish(events.EventTaskStarted, map[string]interface{}{
		"task_id": task.ID,
		"model":   m.Identity,
		"attempt": task.Attempts,
	})
	d.log.Info().Str("task", task.ID).Str("model", m.Identity).Int("attempt", task.Attempts).Msg("attempt_started")

	attemptCtx, cancel := context.WithTimeout(d.execCtx, time.Duration(d.cfg.Workflow.TaskTimeoutSec)*time.Second)
	start := time.Now()
	result, execErr := d.executor.Execute(attemptCtx, agent.ExecRequest{
		TaskID:       task.ID,
		Model:        m,
		Role:         task.Role,
		Description:  task.Description,
		PriorityTags: task.PriorityTags,
		Attempt:      task.Attempts,
	})
	cancel()
	elapsed := time.Since(start)

	if execErr != nil {
		d.handleFailure(task, m, execErr, elapsed)
		return
	}
	d.handleSuccess(task, m, result, elapsed)
}

// acquirePermit waits for a rate-limit slot within the configured budget.
// On timeout the task returns to pending with a short stall delay; the wait
// never counted as an attempt because execution never started.
func (d *Dispatcher) acquirePermit(task model.Task, identity string) bool {
	waitBudget := time.Duration(d.cfg.Workflow.RateWaitTimeoutSec) * time.Second
	if waitBudget <= 0 {
		waitBudget = 30 * time.Second
	}
	waitCtx, cancel := context.WithTimeout(d.execCtx, waitBudget)
	defer cancel()

	err := d.limiter.Acquire(waitCtx, identity)
	if err == nil {
		return true
	}
	if errors.Is(err, model.ErrRateLimitTimeout) {
		d.log.Debug().Str("task", task.ID).Str("model", identity).Msg("rate_limit_stall")
		d.publish(events.EventRateLimitTimeout, map[string]interface{}{
			"task_id": task.ID,
			"model":   identity,
		})
		if reqErr := d.queue.Requeue(task.ID, time.Now().Add(stallRequeueDelay), ""); reqErr != nil {
			d.log.Error().Str("task", task.ID).Err(reqErr).Msg("requeue_after_stall_failed")
		}
	}
	// Shutdown cancellation: the task simply stays pending.
	return false
}

func (d *Dispatcher) handleSuccess(task model.Task, m model.ModelConfig, result string, elapsed time.Duration) {
	review, reason := d.gate.ShouldReview(task)
	if review {
		if err := d.queue.MarkNeedsReview(task.ID, result, reason); err != nil {
			d.log.Error().Str("task", task.ID).Err(err).Msg("mark_needs_review_failed")
			return
		}
		d.publish(events.EventReviewSelected, map[string]interface{}{
			"task_id": task.ID,
			"model":   m.Identity,
			"reason":  reason,
		})
		d.log.Info().Str("task", task.ID).Str("reason", reason).Msg("review_selected")
		return
	}

	if err := d.queue.MarkSucceeded(task.ID, result); err != nil {
		d.log.Error().Str("task", task.ID).Err(err).Msg("mark_succeeded_failed")
		return
	}
	d.publish(events.EventTaskSucceeded, map[string]interface{}{
		"task_id":  task.ID,
		"model":    m.Identity,
		"attempts": task.Attempts,
		"seconds":  elapsed.Seconds(),
	})
	d.log.Info().Str("task", task.ID).Str("model", m.Identity).Dur("elapsed", elapsed).Msg("task_succeeded")
}

func (d *Dispatcher) handleFailure(task model.Task, m model.ModelConfig, execErr error, elapsed time.Duration) {
	kind := model.Classify(execErr)
	d.log.Warn().
		Str("task", task.ID).
		Str("model", m.Identity).
		Str("kind", string(kind)).
		Int("attempt", task.Attempts).
		Dur("elapsed", elapsed).
		Err(execErr).
		Msg("attempt_failed")

	if kind == model.FailureCancelled {
		d.failTask(task.ID, "cancelled: shutdown force-cancel")
		return
	}

	if d.policy.ShouldRetry(task, kind) {
		delay := d.policy.Backoff(task.Attempts)
		if err := d.queue.Requeue(task.ID, time.Now().Add(delay), execErr.Error()); err != nil {
			d.log.Error().Str("task", task.ID).Err(err).Msg("retry_requeue_failed")
			return
		}
		d.publish(events.EventTaskRetried, map[string]interface{}{
			"task_id": task.ID,
			"model":   m.Identity,
			"attempt": task.Attempts,
			"kind":    string(kind),
			"delay":   delay.Seconds(),
		})
		return
	}

	d.failTask(task.ID, fmt.Sprintf("%s: %v", kind, execErr))
}

func (d *Dispatcher) failTask(id, reason string) {
	if err := d.queue.MarkFailed(id, reason); err != nil {
		d.log.Error().Str("task", id).Err(err).Msg("mark_failed_rejected")
		return
	}
	d.publish(events.EventTaskFailed, map[string]interface{}{
		"task_id": id,
		"reason":  reason,
	})
}

// review runs the supervisor pass for a needs_review task. The review
// either fully completes and overwrites the result, or is abandoned and the
// worker result stands. Never half-committed, never destructive.
func (d *Dispatcher) review(task model.Task) {
	m, err := d.router.SelectSupervisor(task)
	if err != nil {
		// No supervisor available: the review is recorded as failed, the
		// worker result is kept.
		d.log.Error().Str("task", task.ID).Err(err).Msg("review_no_supervisor")
		d.finishReview(task, nil, true)
		return
	}

	if !d.acquireReviewPermit(task, m.Identity) {
		return // stays needs_review, re-pulled later
	}

	d.log.Info().Str("task", task.ID).Str("model", m.Identity).Msg("review_started")

	attemptCtx, cancel := context.WithTimeout(d.execCtx, time.Duration(d.cfg.Workflow.TaskTimeoutSec)*time.Second)
	result, execErr := d.executor.Execute(attemptCtx, agent.ExecRequest{
		TaskID:       task.ID,
		Model:        m,
		Role:         model.RoleReview,
		Description:  task.Description,
		PriorityTags: task.PriorityTags,
		Attempt:      task.Attempts,
		PriorResult:  task.Result,
	})
	cancel()

	if execErr != nil {
		if model.Classify(execErr) == model.FailureCancelled {
			// Abandoned by shutdown: leave needs_review for the next run.
			d.log.Warn().Str("task", task.ID).Msg("review_abandoned_on_shutdown")
			return
		}
		d.log.Warn().Str("task", task.ID).Err(execErr).Msg("review_failed")
		d.finishReview(task, nil, true)
		return
	}
	d.finishReview(task, &result, false)
}

func (d *Dispatcher) acquireReviewPermit(task model.Task, identity string) bool {
	waitBudget := time.Duration(d.cfg.Workflow.RateWaitTimeoutSec) * time.Second
	if waitBudget <= 0 {
		waitBudget = 30 * time.Second
	}
	waitCtx, cancel := context.WithTimeout(d.execCtx, waitBudget)
	defer cancel()

	if err := d.limiter.Acquire(waitCtx, identity); err != nil {
		d.log.Debug().Str("task", task.ID).Str("model", identity).Err(err).Msg("review_permit_unavailable")
		return false
	}
	return true
}

func (d *Dispatcher) finishReview(task model.Task, result *string, disagreement bool) {
	if err := d.queue.MarkReviewed(task.ID, result, disagreement); err != nil {
		d.log.Error().Str("task", task.ID).Err(err).Msg("mark_reviewed_failed")
		return
	}
	outcome := "agreed"
	if disagreement {
		outcome = "disagreed"
	}
	d.publish(events.EventReviewCompleted, map[string]interface{}{
		"task_id": task.ID,
		"outcome": outcome,
	})
	d.log.Info().Str("task", task.ID).Str("outcome", outcome).Msg("review_completed")
}

func (d *Dispatcher) publish(t events.EventType, data map[string]interface{}) {
	if d.bus != nil {
		d.bus.Publish(t, data)
	}
}

func (d *Dispatcher) hold(id string) {
	d.mu.Lock()
	d.inflight[id] = struct{}{}
	d.mu.Unlock()
}

func (d *Dispatcher) release(id string) {
	d.mu.Lock()
	delete(d.inflight, id)
	d.mu.Unlock()
}

func (d *Dispatcher) isHeld(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inflight[id]
	return ok
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
