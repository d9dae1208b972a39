// Package queue implements the durable task queue: the single source of
// truth for all task state. Every mutation is serialized through one mutex
// and persisted with an atomic write before the call returns, so a caller
// observing success has a durability guarantee.
package queue

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/foreman/internal/model"
	"github.com/msageha/foreman/internal/yaml"
)

type Queue struct {
	dir  string
	path string
	cfg  model.Config
	log  zerolog.Logger

	mu   sync.Mutex
	file model.QueueFile
}

// Open loads the queue file (creating an empty one if absent) and returns
// the queue. A corrupted file is quarantined and restored from backup.
func Open(dir, path string, cfg model.Config, log zerolog.Logger) (*Queue, error) {
	q := &Queue{
		dir:  dir,
		path: path,
		cfg:  cfg,
		log:  log.With().Str("component", "queue").Logger(),
	}
	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) load() error {
	data, err := os.ReadFile(q.path)
	if os.IsNotExist(err) {
		q.file = model.QueueFile{
			SchemaVersion: model.CurrentSchemaVersion,
			FileType:      model.QueueFileType,
		}
		return q.persistLocked()
	}
	if err != nil {
		return fmt.Errorf("read queue file: %w", err)
	}

	if parseErr := q.parse(data); parseErr != nil {
		q.log.Warn().Err(parseErr).Str("path", q.path).Msg("queue_file_corrupted")
		if err := yaml.RecoverCorruptedFile(q.dir, q.path, model.QueueFileType); err != nil {
			return fmt.Errorf("recover queue file: %w", err)
		}
		recovered, err := os.ReadFile(q.path)
		if err != nil {
			return fmt.Errorf("read recovered queue file: %w", err)
		}
		if err := q.parse(recovered); err != nil {
			return fmt.Errorf("parse recovered queue file: %w", err)
		}
	}
	return nil
}

func (q *Queue) parse(data []byte) error {
	if err := yaml.ValidateSchemaHeaderFromBytes(data, model.QueueFileType); err != nil {
		return err
	}
	var file model.QueueFile
	if err := yamlv3.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse queue file: %w", err)
	}
	q.file = file
	return nil
}

// Recover returns tasks stranded in running by a previous process back to
// pending. The interrupted attempt stays counted; the retry ceiling still
// holds. Called once at daemon startup, before dispatch begins.
func (q *Queue) Recover() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	recovered := 0
	for i := range q.file.Tasks {
		if q.file.Tasks[i].Status == model.StatusRunning {
			q.file.Tasks[i].Status = model.StatusPending
			q.file.Tasks[i].NotBefore = nil
			recovered++
			q.log.Warn().Str("task", q.file.Tasks[i].ID).Msg("recovered_stranded_task")
		}
	}
	if recovered == 0 {
		return 0, nil
	}
	return recovered, q.persistLocked()
}

// Enqueue validates the spec against the model registry and appends a new
// pending task. Fails with model.ErrInvalidRole when no model serves the role.
func (q *Queue) Enqueue(spec model.TaskSpec) (string, error) {
	if err := model.ValidateRole(spec.Role); err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrInvalidRole, err)
	}
	if !q.cfg.SupportsRole(spec.Role) {
		return "", fmt.Errorf("%w: %q", model.ErrInvalidRole, spec.Role)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	task := model.Task{
		ID:           model.GenerateTaskID(),
		Description:  spec.Description,
		Role:         spec.Role,
		PriorityTags: spec.PriorityTags,
		Status:       model.StatusPending,
		EnqueuedAt:   nowRFC3339(),
	}
	q.file.Tasks = append(q.file.Tasks, task)

	if err := q.persistLocked(); err != nil {
		// Roll back the in-memory append so state matches disk.
		q.file.Tasks = q.file.Tasks[:len(q.file.Tasks)-1]
		return "", err
	}

	q.log.Info().Str("task", task.ID).Str("role", string(task.Role)).Msg("task_enqueued")
	return task.ID, nil
}

// NextReady returns a copy of the oldest eligible pending task, or nil.
// FIFO by enqueue time, with file order breaking same-second ties; priority
// tags never reorder dispatch. Tasks with a future NotBefore (retry backoff)
// are skipped, as are ids the dispatcher already holds (busy).
func (q *Queue) NextReady(now time.Time, busy func(id string) bool) *model.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.oldestLocked(model.StatusPending, func(t model.Task) bool {
		if busy != nil && busy(t.ID) {
			return false
		}
		if t.NotBefore == nil {
			return true
		}
		nb, err := time.Parse(time.RFC3339, *t.NotBefore)
		if err != nil {
			return true
		}
		return !nb.After(now)
	})
}

// NextReviewable returns a copy of the oldest needs_review task not already
// held by the dispatcher, or nil.
func (q *Queue) NextReviewable(busy func(id string) bool) *model.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.oldestLocked(model.StatusNeedsReview, func(t model.Task) bool {
		return busy == nil || !busy(t.ID)
	})
}

func (q *Queue) oldestLocked(status model.Status, eligible func(model.Task) bool) *model.Task {
	type entry struct {
		idx        int
		enqueuedAt time.Time
	}
	var entries []entry
	for i, t := range q.file.Tasks {
		if t.Status != status || !eligible(t) {
			continue
		}
		at, _ := time.Parse(time.RFC3339, t.EnqueuedAt)
		entries = append(entries, entry{idx: i, enqueuedAt: at})
	}
	if len(entries) == 0 {
		return nil
	}
	// Stable sort: file order is arrival order, which breaks same-second ties.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].enqueuedAt.Before(entries[j].enqueuedAt)
	})
	t := q.file.Tasks[entries[0].idx]
	return &t
}

// MarkRunning transitions a task to running, binds the model, and counts
// the attempt. Rate-limit waits happen before this call, so a task that
// never got a permit never consumes an attempt.
func (q *Queue) MarkRunning(id, modelIdentity string) error {
	return q.mutate(id, func(t *model.Task) error {
		if err := model.ValidateTransition(t.Status, model.StatusRunning); err != nil {
			return err
		}
		t.Status = model.StatusRunning
		t.AssignedModel = &modelIdentity
		t.Attempts++
		now := nowRFC3339()
		t.StartedAt = &now
		t.NotBefore = nil
		return nil
	})
}

// Requeue returns a task to pending eligibility at notBefore. Used for
// retry backoff (from running) and for rate-limit stalls (still pending).
func (q *Queue) Requeue(id string, notBefore time.Time, lastErr string) error {
	return q.mutate(id, func(t *model.Task) error {
		if t.Status != model.StatusPending {
			if err := model.ValidateTransition(t.Status, model.StatusPending); err != nil {
				return err
			}
			t.Status = model.StatusPending
		}
		nb := notBefore.UTC().Format(time.RFC3339)
		t.NotBefore = &nb
		if lastErr != "" {
			t.LastError = &lastErr
		}
		return nil
	})
}

// MarkSucceeded records a terminal success with its result payload.
func (q *Queue) MarkSucceeded(id, result string) error {
	return q.mutate(id, func(t *model.Task) error {
		if err := model.ValidateTransition(t.Status, model.StatusSucceeded); err != nil {
			return err
		}
		t.Status = model.StatusSucceeded
		t.Result = &result
		now := nowRFC3339()
		t.FinishedAt = &now
		return nil
	})
}

// MarkNeedsReview stores the worker result and routes the task to review.
func (q *Queue) MarkNeedsReview(id, result, reason string) error {
	return q.mutate(id, func(t *model.Task) error {
		if err := model.ValidateTransition(t.Status, model.StatusNeedsReview); err != nil {
			return err
		}
		t.Status = model.StatusNeedsReview
		t.Result = &result
		t.ReviewReason = &reason
		return nil
	})
}

// MarkReviewed finishes the review detour. On agreement the supervisor
// result overwrites the worker result; on disagreement or review failure
// the original result stands and the flag is set. Never destructive.
func (q *Queue) MarkReviewed(id string, result *string, disagreement bool) error {
	return q.mutate(id, func(t *model.Task) error {
		if err := model.ValidateTransition(t.Status, model.StatusReviewed); err != nil {
			return err
		}
		t.Status = model.StatusReviewed
		if result != nil {
			t.Result = result
		}
		t.ReviewDisagreement = disagreement
		now := nowRFC3339()
		t.FinishedAt = &now
		return nil
	})
}

// MarkFailed records a terminal failure with its reason.
func (q *Queue) MarkFailed(id, reason string) error {
	return q.mutate(id, func(t *model.Task) error {
		if err := model.ValidateTransition(t.Status, model.StatusFailed); err != nil {
			return err
		}
		t.Status = model.StatusFailed
		t.LastError = &reason
		now := nowRFC3339()
		t.FinishedAt = &now
		return nil
	})
}

// Get returns a copy of the task.
func (q *Queue) Get(id string) (model.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, t := range q.file.Tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return model.Task{}, fmt.Errorf("%w: %s", model.ErrUnknownTask, id)
}

// Snapshot projects the current queue state: counts per status and the
// running task/model pairs.
func (q *Queue) Snapshot() model.QueueState {
	q.mu.Lock()
	defer q.mu.Unlock()

	var state model.QueueState
	for _, t := range q.file.Tasks {
		state.Total++
		switch t.Status {
		case model.StatusPending:
			state.Pending++
		case model.StatusRunning:
			state.Running++
			m := ""
			if t.AssignedModel != nil {
				m = *t.AssignedModel
			}
			state.RunningNow = append(state.RunningNow, model.RunningTask{TaskID: t.ID, Model: m})
		case model.StatusSucceeded:
			state.Succeeded++
		case model.StatusFailed:
			state.Failed++
		case model.StatusNeedsReview:
			state.NeedsReview++
		case model.StatusReviewed:
			state.Reviewed++
		}
	}
	return state
}

// HasOutstanding reports whether any task still needs dispatcher attention.
func (q *Queue) HasOutstanding() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, t := range q.file.Tasks {
		if !model.IsTerminal(t.Status) {
			return true
		}
	}
	return false
}

func (q *Queue) mutate(id string, fn func(*model.Task) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.file.Tasks {
		if q.file.Tasks[i].ID != id {
			continue
		}
		if model.IsTerminal(q.file.Tasks[i].Status) {
			return fmt.Errorf("%w: %s (%s)", model.ErrTerminalTask, id, q.file.Tasks[i].Status)
		}
		// Mutate a copy; commit only after the durable write succeeds.
		updated := q.file.Tasks[i]
		if err := fn(&updated); err != nil {
			return err
		}
		original := q.file.Tasks[i]
		q.file.Tasks[i] = updated
		if err := q.persistLocked(); err != nil {
			q.file.Tasks[i] = original
			return err
		}
		return nil
	}
	return fmt.Errorf("%w: %s", model.ErrUnknownTask, id)
}

func (q *Queue) persistLocked() error {
	if err := yaml.AtomicWrite(q.path, q.file); err != nil {
		return fmt.Errorf("persist queue: %w", err)
	}
	return nil
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
