package model

import "fmt"

type Status string

const (
	StatusPending     Status = "pending"
	StatusRunning     Status = "running"
	StatusSucceeded   Status = "succeeded"
	StatusFailed      Status = "failed"
	StatusNeedsReview Status = "needs_review"
	StatusReviewed    Status = "reviewed"
)

var terminalStatuses = map[Status]bool{
	StatusSucceeded: true,
	StatusFailed:    true,
	StatusReviewed:  true,
}

// Task status transitions: pending ↔ running → terminal, with a review
// detour running → needs_review → reviewed. The running → pending edge
// covers retry re-enqueue and crash recovery; attempts are tracked
// separately so the edge never erases history.
var validTaskTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusRunning: true,
		StatusFailed:  true, // fatal at dispatch (e.g. no eligible model)
	},
	StatusRunning: {
		StatusPending:     true, // retry re-enqueue / crash recovery
		StatusSucceeded:   true,
		StatusFailed:      true,
		StatusNeedsReview: true,
	},
	StatusNeedsReview: {
		StatusReviewed: true,
	},
}

func IsTerminal(s Status) bool {
	return terminalStatuses[s]
}

func ValidateTransition(from, to Status) error {
	if IsTerminal(from) {
		return fmt.Errorf("cannot transition from terminal status %q", from)
	}
	allowed, ok := validTaskTransitions[from]
	if !ok {
		return fmt.Errorf("unknown status %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid task transition: %q → %q", from, to)
	}
	return nil
}
