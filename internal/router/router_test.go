package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/foreman/internal/model"
)

func routerConfig() model.Config {
	return model.Config{
		Models: []model.ModelConfig{
			{
				Identity:      "worker-a",
				Class:         model.ClassWorker,
				Roles:         []model.Role{model.RoleImplementation, model.RoleAnalysis},
				PriorityTasks: []string{"refactoring"},
			},
			{
				Identity: "worker-b",
				Class:    model.ClassWorker,
				Roles:    []model.Role{model.RoleImplementation, model.RoleDocumentation},
			},
			{
				Identity: "supervisor-a",
				Class:    model.ClassSupervisor,
				Roles:    []model.Role{model.RoleReview, model.RoleImplementation},
			},
		},
		Workflow: model.WorkflowConfig{
			CriticalPaths: []string{"auth", "payments"},
			CostSwitching: true,
		},
	}
}

func task(role model.Role, tags ...string) model.Task {
	return model.Task{ID: "task_1700000000_abcd1234", Role: role, PriorityTags: tags}
}

func TestSelectPrefersPriorityTaskMatch(t *testing.T) {
	r := New(routerConfig())
	m, err := r.Select(task(model.RoleImplementation, "refactoring"))
	require.NoError(t, err)
	assert.Equal(t, "worker-a", m.Identity)
}

func TestSelectCriticalPathForcesSupervisor(t *testing.T) {
	r := New(routerConfig())
	m, err := r.Select(task(model.RoleImplementation, "auth"))
	require.NoError(t, err)
	assert.Equal(t, "supervisor-a", m.Identity)
}

func TestSelectCriticalPathWithoutCostSwitching(t *testing.T) {
	cfg := routerConfig()
	cfg.Workflow.CostSwitching = false
	r := New(cfg)

	m, err := r.Select(task(model.RoleImplementation, "auth"))
	require.NoError(t, err)
	assert.Equal(t, "worker-a", m.Identity, "without cost switching the cheap worker serves critical tags too")
}

func TestSelectDefaultsToWorkerClassInConfigOrder(t *testing.T) {
	r := New(routerConfig())
	m, err := r.Select(task(model.RoleImplementation))
	require.NoError(t, err)
	assert.Equal(t, "worker-a", m.Identity)

	// Only worker-b serves documentation.
	m, err = r.Select(task(model.RoleDocumentation))
	require.NoError(t, err)
	assert.Equal(t, "worker-b", m.Identity)
}

func TestSelectReviewRolePrefersSupervisor(t *testing.T) {
	r := New(routerConfig())
	m, err := r.Select(task(model.RoleReview))
	require.NoError(t, err)
	assert.Equal(t, "supervisor-a", m.Identity)
}

func TestSelectNoEligibleModel(t *testing.T) {
	cfg := routerConfig()
	cfg.Models = cfg.Models[:1] // only worker-a: implementation and analysis
	r := New(cfg)

	_, err := r.Select(task(model.RoleDocumentation))
	assert.ErrorIs(t, err, model.ErrNoEligibleModel)
}

func TestSelectSupervisor(t *testing.T) {
	r := New(routerConfig())
	m, err := r.SelectSupervisor(task(model.RoleImplementation))
	require.NoError(t, err)
	assert.Equal(t, "supervisor-a", m.Identity)
}

func TestSelectSupervisorFallback(t *testing.T) {
	cfg := routerConfig()
	// Supervisor exists but does not serve the review role.
	cfg.Models[2].Roles = []model.Role{model.RoleImplementation}
	r := New(cfg)

	m, err := r.SelectSupervisor(task(model.RoleImplementation))
	require.NoError(t, err)
	assert.Equal(t, "supervisor-a", m.Identity)
}

func TestSelectSupervisorNoneConfigured(t *testing.T) {
	cfg := routerConfig()
	cfg.Models = cfg.Models[:2]
	r := New(cfg)

	_, err := r.SelectSupervisor(task(model.RoleImplementation))
	assert.ErrorIs(t, err, model.ErrNoEligibleModel)
}

func TestSelectIsDeterministic(t *testing.T) {
	r := New(routerConfig())
	first, err := r.Select(task(model.RoleImplementation))
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		m, err := r.Select(task(model.RoleImplementation))
		require.NoError(t, err)
		assert.Equal(t, first.Identity, m.Identity)
	}
}
