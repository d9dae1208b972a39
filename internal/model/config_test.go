package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Models: []ModelConfig{
			{
				Identity:          "worker-a",
				Class:             ClassWorker,
				MaxCallsPerMinute: 15,
				Roles:             []Role{RoleImplementation, RoleAnalysis},
			},
			{
				Identity:          "supervisor-a",
				Class:             ClassSupervisor,
				MaxCallsPerMinute: 10,
				Roles:             []Role{RoleReview},
			},
		},
		Workflow: WorkflowConfig{
			ParallelTasks:         3,
			TaskTimeoutSec:        300,
			RetryAttempts:         3,
			QualityCheckFrequency: 5,
			ReviewPercentage:      20,
		},
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestConfigValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no models", func(c *Config) { c.Models = nil }},
		{"missing identity", func(c *Config) { c.Models[0].Identity = "" }},
		{"duplicate identity", func(c *Config) { c.Models[1].Identity = c.Models[0].Identity }},
		{"bad class", func(c *Config) { c.Models[0].Class = "manager" }},
		{"zero rate", func(c *Config) { c.Models[0].MaxCallsPerMinute = 0 }},
		{"no roles", func(c *Config) { c.Models[0].Roles = nil }},
		{"unknown role", func(c *Config) { c.Models[0].Roles = []Role{"planning"} }},
		{"zero parallel", func(c *Config) { c.Workflow.ParallelTasks = 0 }},
		{"zero timeout", func(c *Config) { c.Workflow.TaskTimeoutSec = 0 }},
		{"zero retries", func(c *Config) { c.Workflow.RetryAttempts = 0 }},
		{"review percentage over 100", func(c *Config) { c.Workflow.ReviewPercentage = 101 }},
		{"negative review percentage", func(c *Config) { c.Workflow.ReviewPercentage = -1 }},
		{"zero check frequency", func(c *Config) { c.Workflow.QualityCheckFrequency = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSupportsRole(t *testing.T) {
	cfg := validConfig()
	assert.True(t, cfg.SupportsRole(RoleImplementation))
	assert.True(t, cfg.SupportsRole(RoleReview))
	assert.False(t, cfg.SupportsRole(RoleDocumentation))
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "foreman.yaml")
	content := `
models:
  - identity: worker-a
    provider: anthropic
    class: worker
    max_calls_per_minute: 15
    roles: [implementation]
workflow:
  parallel_tasks: 2
  task_timeout_sec: 120
  retry_attempts: 3
  quality_check_frequency: 5
  review_percentage: 10
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "worker-a", cfg.Models[0].Identity)
	assert.Equal(t, 2, cfg.Workflow.ParallelTasks)
}

func TestLoadConfigInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "foreman.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models: []\n"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
