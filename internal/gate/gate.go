// Package gate implements the quality gate: the policy deciding which
// successfully completed tasks get a second, supervisory execution pass.
package gate

import (
	"hash/fnv"
	"sync"

	"github.com/msageha/foreman/internal/model"
)

// Reasons recorded on the task when the gate selects it.
const (
	ReasonCriticalPath = "critical_path"
	ReasonSampled      = "sampled"
	ReasonCadence      = "cadence"
)

type Gate struct {
	criticalPaths    map[string]bool
	reviewPercentage int
	cadence          int

	mu          sync.Mutex
	sinceReview int // consecutively-unreviewed completions
}

func New(cfg model.WorkflowConfig) *Gate {
	critical := make(map[string]bool, len(cfg.CriticalPaths))
	for _, tag := range cfg.CriticalPaths {
		critical[tag] = true
	}
	return &Gate{
		criticalPaths:    critical,
		reviewPercentage: cfg.ReviewPercentage,
		cadence:          cfg.QualityCheckFrequency,
	}
}

// ShouldReview decides, per completed task, whether it routes to supervisor
// review. Critical-path tags force review unconditionally. Otherwise the
// task is sampled by a deterministic hash of its id so the selected
// fraction converges to review_percentage, and a cadence floor forces a
// review whenever quality_check_frequency completions pass unreviewed.
// Returns the decision and the reason to record on the task.
func (g *Gate) ShouldReview(task model.Task) (bool, string) {
	for _, tag := range task.PriorityTags {
		if g.criticalPaths[tag] {
			g.reset()
			return true, ReasonCriticalPath
		}
	}

	if sampleFraction(task.ID) < g.reviewPercentage {
		g.reset()
		return true, ReasonSampled
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.sinceReview++
	if g.sinceReview >= g.cadence {
		g.sinceReview = 0
		return true, ReasonCadence
	}
	return false, ""
}

func (g *Gate) reset() {
	g.mu.Lock()
	g.sinceReview = 0
	g.mu.Unlock()
}

// sampleFraction maps a task id to [0,100). FNV-1a keeps the decision
// reproducible for a given id while converging to the configured
// percentage over uniformly random ids.
func sampleFraction(id string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() % 100)
}
