// Package model defines the data structures for foreman's configuration,
// queue entries, and error taxonomy.
package model

import (
	"fmt"
	"os"

	yamlv3 "gopkg.in/yaml.v3"
)

type Config struct {
	Project  ProjectConfig  `yaml:"project"`
	Models   []ModelConfig  `yaml:"models"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Queue    QueueConfig    `yaml:"queue"`
	Status   StatusConfig   `yaml:"status"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Executor ExecutorConfig `yaml:"executor"`
	Logging  LoggingConfig  `yaml:"logging"`
	Daemon   DaemonConfig   `yaml:"daemon"`
}

type ProjectConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type ModelClass string

const (
	ClassWorker     ModelClass = "worker"
	ClassSupervisor ModelClass = "supervisor"
)

// ModelConfig describes one execution backend: capacity limits, the roles it
// may service, and the priority tags it is preferred for.
type ModelConfig struct {
	Identity          string     `yaml:"identity"`
	Provider          string     `yaml:"provider"`
	Class             ModelClass `yaml:"class"`
	MaxCallsPerMinute int        `yaml:"max_calls_per_minute"`
	MaxInputTokens    int        `yaml:"max_input_tokens"`
	MaxTokens         int        `yaml:"max_tokens"`
	Roles             []Role     `yaml:"roles"`
	PriorityTasks     []string   `yaml:"priority_tasks,omitempty"`
}

func (m ModelConfig) ServesRole(r Role) bool {
	for _, role := range m.Roles {
		if role == r {
			return true
		}
	}
	return false
}

type WorkflowConfig struct {
	ParallelTasks         int      `yaml:"parallel_tasks"`
	TaskTimeoutSec        int      `yaml:"task_timeout_sec"`
	RetryAttempts         int      `yaml:"retry_attempts"`
	RetryBaseDelaySec     int      `yaml:"retry_base_delay_sec"`
	RetryMaxDelaySec      int      `yaml:"retry_max_delay_sec"`
	RateWaitTimeoutSec    int      `yaml:"rate_wait_timeout_sec"`
	QualityCheckFrequency int      `yaml:"quality_check_frequency"`
	ReviewPercentage      int      `yaml:"review_percentage"`
	CriticalPaths         []string `yaml:"critical_paths"`
	CostSwitching         bool     `yaml:"cost_switching"`
}

type QueueConfig struct {
	Path            string `yaml:"path"`
	SpoolDir        string `yaml:"spool_dir"`
	ScanIntervalSec int    `yaml:"scan_interval_sec"`
}

type StatusConfig struct {
	Path     string `yaml:"path"`
	Schedule string `yaml:"schedule"` // cron spec, e.g. "@every 10s"
}

type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	AuditPath  string `yaml:"audit_path"`
}

// ExecutorConfig configures the default command executor: the command
// template invoked per attempt, and which exit codes classify as transient.
type ExecutorConfig struct {
	Command            []string `yaml:"command"`
	RetryableExitCodes []int    `yaml:"retryable_exit_codes"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	Path  string `yaml:"path"`
}

type DaemonConfig struct {
	ShutdownGraceSec int `yaml:"shutdown_grace_sec"`
}

// LoadConfig reads and validates a config file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate enforces the startup-time configuration invariants. A config that
// passes here guarantees every dispatchable role has at least one model.
func (c Config) Validate() error {
	if len(c.Models) == 0 {
		return fmt.Errorf("at least one model must be configured")
	}
	seen := make(map[string]bool)
	for i, m := range c.Models {
		if m.Identity == "" {
			return fmt.Errorf("models[%d]: identity is required", i)
		}
		if seen[m.Identity] {
			return fmt.Errorf("models[%d]: duplicate identity %q", i, m.Identity)
		}
		seen[m.Identity] = true
		if m.Class != ClassWorker && m.Class != ClassSupervisor {
			return fmt.Errorf("model %s: class must be worker or supervisor, got %q", m.Identity, m.Class)
		}
		if m.MaxCallsPerMinute <= 0 {
			return fmt.Errorf("model %s: max_calls_per_minute must be positive", m.Identity)
		}
		if len(m.Roles) == 0 {
			return fmt.Errorf("model %s: at least one role is required", m.Identity)
		}
		for _, r := range m.Roles {
			if err := ValidateRole(r); err != nil {
				return fmt.Errorf("model %s: %w", m.Identity, err)
			}
		}
	}
	w := c.Workflow
	if w.ParallelTasks <= 0 {
		return fmt.Errorf("workflow.parallel_tasks must be positive")
	}
	if w.TaskTimeoutSec <= 0 {
		return fmt.Errorf("workflow.task_timeout_sec must be positive")
	}
	if w.RetryAttempts <= 0 {
		return fmt.Errorf("workflow.retry_attempts must be positive")
	}
	if w.ReviewPercentage < 0 || w.ReviewPercentage > 100 {
		return fmt.Errorf("workflow.review_percentage must be in [0,100]")
	}
	if w.QualityCheckFrequency <= 0 {
		return fmt.Errorf("workflow.quality_check_frequency must be positive")
	}
	return nil
}

// SupportsRole reports whether any configured model services the role.
// This backs the enqueue-time role check.
func (c Config) SupportsRole(r Role) bool {
	for _, m := range c.Models {
		if m.ServesRole(r) {
			return true
		}
	}
	return false
}
