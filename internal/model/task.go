package model

import "fmt"

type Role string

const (
	RoleImplementation Role = "implementation"
	RoleReview         Role = "review"
	RoleAnalysis       Role = "analysis"
	RoleDocumentation  Role = "documentation"
)

var validRoles = map[Role]bool{
	RoleImplementation: true,
	RoleReview:         true,
	RoleAnalysis:       true,
	RoleDocumentation:  true,
}

func ValidateRole(r Role) error {
	if !validRoles[r] {
		return fmt.Errorf("unknown role %q", r)
	}
	return nil
}

// TaskSpec is the enqueue-time payload: what external tooling submits,
// either through the CLI or as a spool file.
type TaskSpec struct {
	Description  string   `yaml:"description"`
	Role         Role     `yaml:"role"`
	PriorityTags []string `yaml:"priority_tags,omitempty"`
}

// Task is a single unit of work in the durable queue.
type Task struct {
	ID           string   `yaml:"id"`
	Description  string   `yaml:"description"`
	Role         Role     `yaml:"role"`
	PriorityTags []string `yaml:"priority_tags,omitempty"`
	Status       Status   `yaml:"status"`

	// AssignedModel is set when the task enters running and kept afterwards
	// so terminal states record which model handled the last attempt.
	AssignedModel *string `yaml:"assigned_model"`

	Attempts  int     `yaml:"attempts"`
	Result    *string `yaml:"result"`
	LastError *string `yaml:"last_error"`

	// ReviewReason records why the quality gate selected this task
	// (critical_path, sampled, cadence). Empty if never selected.
	ReviewReason *string `yaml:"review_reason,omitempty"`
	// ReviewDisagreement is set when the supervisor pass itself failed;
	// the worker result stands, the flag is advisory.
	ReviewDisagreement bool `yaml:"review_disagreement,omitempty"`

	// NotBefore delays dispatch eligibility (retry backoff, rate-limit
	// requeue). RFC3339; nil means immediately eligible.
	NotBefore *string `yaml:"not_before"`

	EnqueuedAt string  `yaml:"enqueued_at"`
	StartedAt  *string `yaml:"started_at"`
	FinishedAt *string `yaml:"finished_at"`
}

// QueueFile is the durable queue document: the single persisted aggregate.
type QueueFile struct {
	SchemaVersion int    `yaml:"schema_version"`
	FileType      string `yaml:"file_type"`
	Tasks         []Task `yaml:"tasks"`
}

const (
	CurrentSchemaVersion = 1
	QueueFileType        = "queue_task"
	SnapshotFileType     = "status_snapshot"
)

// RunningTask identifies one in-flight execution for the status snapshot.
type RunningTask struct {
	TaskID string `yaml:"task_id" json:"task_id"`
	Model  string `yaml:"model" json:"model"`
}

// QueueState is the derived projection of the queue: aggregate counts plus
// the currently running task/model pairs.
type QueueState struct {
	Pending     int           `yaml:"pending" json:"pending"`
	Running     int           `yaml:"running" json:"running"`
	Succeeded   int           `yaml:"succeeded" json:"succeeded"`
	Failed      int           `yaml:"failed" json:"failed"`
	NeedsReview int           `yaml:"needs_review" json:"needs_review"`
	Reviewed    int           `yaml:"reviewed" json:"reviewed"`
	Total       int           `yaml:"total" json:"total"`
	RunningNow  []RunningTask `yaml:"running_now,omitempty" json:"running_now,omitempty"`
}

// Snapshot is the status file document written for external observers.
type Snapshot struct {
	SchemaVersion int        `yaml:"schema_version"`
	FileType      string     `yaml:"file_type"`
	State         QueueState `yaml:"state"`
	UpdatedAt     string     `yaml:"updated_at"`
}
