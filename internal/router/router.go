// Package router selects which configured model services a task. Policy is
// data: the decision is a pure function over the config's model registry,
// with no per-provider branching.
package router

import (
	"fmt"

	"github.com/msageha/foreman/internal/model"
)

type Router struct {
	models        []model.ModelConfig
	criticalPaths map[string]bool
	costSwitching bool
}

func New(cfg model.Config) *Router {
	critical := make(map[string]bool, len(cfg.Workflow.CriticalPaths))
	for _, tag := range cfg.Workflow.CriticalPaths {
		critical[tag] = true
	}
	return &Router{
		models:        cfg.Models,
		criticalPaths: critical,
		costSwitching: cfg.Workflow.CostSwitching,
	}
}

// Select binds a task to a model. Candidates are every model serving the
// task's role; preference order:
//  1. a model whose priority_tasks intersects the task's tags
//  2. under cost switching, critical-path tags force a supervisor-class model
//  3. the class designated for the role (review → supervisor, else worker)
//  4. the cheaper worker class, then config order
//
// Config order breaks every tie, keeping selection deterministic.
func (r *Router) Select(task model.Task) (model.ModelConfig, error) {
	var candidates []model.ModelConfig
	for _, m := range r.models {
		if m.ServesRole(task.Role) {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		// The enqueue-time role check should make this unreachable, but a
		// model can be removed from config between enqueue and dispatch.
		return model.ModelConfig{}, fmt.Errorf("%w: role %q", model.ErrNoEligibleModel, task.Role)
	}

	for _, m := range candidates {
		if intersects(m.PriorityTasks, task.PriorityTags) {
			return m, nil
		}
	}

	if r.costSwitching && r.hasCriticalTag(task.PriorityTags) {
		if m, ok := firstOfClass(candidates, model.ClassSupervisor); ok {
			return m, nil
		}
	}

	want := model.ClassWorker
	if task.Role == model.RoleReview {
		want = model.ClassSupervisor
	}
	if m, ok := firstOfClass(candidates, want); ok {
		return m, nil
	}

	if m, ok := firstOfClass(candidates, model.ClassWorker); ok {
		return m, nil
	}
	return candidates[0], nil
}

// SelectSupervisor picks the supervisor-class model for a quality-gate
// review pass: a supervisor serving the review role, falling back to any
// supervisor-class model.
func (r *Router) SelectSupervisor(task model.Task) (model.ModelConfig, error) {
	var fallback *model.ModelConfig
	for i, m := range r.models {
		if m.Class != model.ClassSupervisor {
			continue
		}
		if m.ServesRole(model.RoleReview) {
			return m, nil
		}
		if fallback == nil {
			fallback = &r.models[i]
		}
	}
	if fallback != nil {
		return *fallback, nil
	}
	return model.ModelConfig{}, fmt.Errorf("%w: no supervisor-class model for review of task %s", model.ErrNoEligibleModel, task.ID)
}

func (r *Router) hasCriticalTag(tags []string) bool {
	for _, t := range tags {
		if r.criticalPaths[t] {
			return true
		}
	}
	return false
}

func firstOfClass(candidates []model.ModelConfig, class model.ModelClass) (model.ModelConfig, bool) {
	for _, m := range candidates {
		if m.Class == class {
			return m, true
		}
	}
	return model.ModelConfig{}, false
}

func intersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[s] = true
	}
	for _, s := range b {
		if set[s] {
			return true
		}
	}
	return false
}
