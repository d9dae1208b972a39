// Package setup initializes a working directory for foreman: default
// config, directory layout, and empty queue/status files.
package setup

import (
	"fmt"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/foreman/internal/model"
	"github.com/msageha/foreman/internal/yaml"
)

const ConfigFileName = "foreman.yaml"

// DefaultConfig returns the starter configuration written by Initialize.
// The model entries are placeholders the operator edits before first run.
func DefaultConfig(projectName string) model.Config {
	return model.Config{
		Project: model.ProjectConfig{
			Name:        projectName,
			Description: "AI development task orchestration",
		},
		Models: []model.ModelConfig{
			{
				Identity:          "worker-model",
				Provider:          "anthropic",
				Class:             model.ClassWorker,
				MaxCallsPerMinute: 15,
				MaxInputTokens:    200000,
				MaxTokens:         8192,
				Roles: []model.Role{
					model.RoleImplementation,
					model.RoleAnalysis,
					model.RoleDocumentation,
				},
			},
			{
				Identity:          "supervisor-model",
				Provider:          "anthropic",
				Class:             model.ClassSupervisor,
				MaxCallsPerMinute: 10,
				MaxInputTokens:    200000,
				MaxTokens:         8192,
				Roles: []model.Role{
					model.RoleReview,
					model.RoleAnalysis,
				},
			},
		},
		Workflow: model.WorkflowConfig{
			ParallelTasks:         3,
			TaskTimeoutSec:        300,
			RetryAttempts:         3,
			RetryBaseDelaySec:     2,
			RetryMaxDelaySec:      60,
			RateWaitTimeoutSec:    90,
			QualityCheckFrequency: 5,
			ReviewPercentage:      20,
			CriticalPaths:         []string{"critical"},
			CostSwitching:         true,
		},
		Queue: model.QueueConfig{
			Path:            "queue.yaml",
			SpoolDir:        "spool",
			ScanIntervalSec: 5,
		},
		Status: model.StatusConfig{
			Path:     "status.yaml",
			Schedule: "@every 10s",
		},
		Metrics: model.MetricsConfig{
			ListenAddr: "127.0.0.1:9821",
			AuditPath:  filepath.Join("logs", "audit.jsonl"),
		},
		Executor: model.ExecutorConfig{
			Command:            []string{"foreman-agent"},
			RetryableExitCodes: []int{75},
		},
		Logging: model.LoggingConfig{
			Level: "info",
			Path:  filepath.Join("logs", "daemon.log"),
		},
		Daemon: model.DaemonConfig{
			ShutdownGraceSec: 30,
		},
	}
}

// Initialize lays out dir as a foreman working directory. Existing files are
// never overwritten; re-running against an initialized directory is a no-op.
func Initialize(dir, projectName string) error {
	for _, sub := range []string{"spool", "logs", "locks"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return fmt.Errorf("create %s dir: %w", sub, err)
		}
	}

	configPath := filepath.Join(dir, ConfigFileName)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig(projectName)
		data, err := yamlv3.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshal default config: %w", err)
		}
		if err := os.WriteFile(configPath, data, 0644); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
	}

	queuePath := filepath.Join(dir, "queue.yaml")
	if _, err := os.Stat(queuePath); os.IsNotExist(err) {
		if err := yaml.GenerateSkeleton(queuePath, model.QueueFileType); err != nil {
			return fmt.Errorf("write queue skeleton: %w", err)
		}
	}

	statusPath := filepath.Join(dir, "status.yaml")
	if _, err := os.Stat(statusPath); os.IsNotExist(err) {
		if err := yaml.GenerateSkeleton(statusPath, model.SnapshotFileType); err != nil {
			return fmt.Errorf("write status skeleton: %w", err)
		}
	}

	return nil
}
