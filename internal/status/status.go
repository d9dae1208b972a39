// Package status renders the operator-facing queue status, reading the
// snapshot file the daemon maintains and falling back to the queue file
// itself when no daemon has written a snapshot yet.
package status

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/foreman/internal/model"
	"github.com/msageha/foreman/internal/yaml"
)

// Report is the CLI projection of queue state.
type Report struct {
	State     model.QueueState `json:"state"`
	UpdatedAt string           `json:"updated_at,omitempty"`
	Source    string           `json:"source"` // "snapshot" or "queue"
}

// Load reads the status snapshot at statusPath; if it is missing or
// unreadable, it derives the state from the queue file at queuePath.
func Load(statusPath, queuePath string) (Report, error) {
	if report, err := loadSnapshot(statusPath); err == nil {
		return report, nil
	}
	return loadFromQueue(queuePath)
}

func loadSnapshot(path string) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, err
	}
	if err := yaml.ValidateSchemaHeaderFromBytes(data, model.SnapshotFileType); err != nil {
		return Report{}, err
	}
	var snap model.Snapshot
	if err := yamlv3.Unmarshal(data, &snap); err != nil {
		return Report{}, fmt.Errorf("parse status snapshot: %w", err)
	}
	return Report{State: snap.State, UpdatedAt: snap.UpdatedAt, Source: "snapshot"}, nil
}

func loadFromQueue(path string) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, fmt.Errorf("read queue file: %w", err)
	}
	if err := yaml.ValidateSchemaHeaderFromBytes(data, model.QueueFileType); err != nil {
		return Report{}, err
	}
	var file model.QueueFile
	if err := yamlv3.Unmarshal(data, &file); err != nil {
		return Report{}, fmt.Errorf("parse queue file: %w", err)
	}

	var state model.QueueState
	for _, t := range file.Tasks {
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
	return Report{State: state, Source: "queue"}, nil
}

// WriteJSON renders the report as indented JSON.
func (r Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteText renders the human-readable status table.
func (r Report) WriteText(w io.Writer) {
	fmt.Fprintf(w, "Queue status")
	if r.UpdatedAt != "" {
		if at, err := time.Parse(time.RFC3339, r.UpdatedAt); err == nil {
			fmt.Fprintf(w, " (as of %s, %s ago)", r.UpdatedAt, time.Since(at).Round(time.Second))
		} else {
			fmt.Fprintf(w, " (as of %s)", r.UpdatedAt)
		}
	}
	fmt.Fprintln(w)

	s := r.State
	fmt.Fprintf(w, "  pending:      %d\n", s.Pending)
	fmt.Fprintf(w, "  running:      %d\n", s.Running)
	fmt.Fprintf(w, "  succeeded:    %d\n", s.Succeeded)
	fmt.Fprintf(w, "  needs_review: %d\n", s.NeedsReview)
	fmt.Fprintf(w, "  reviewed:     %d\n", s.Reviewed)
	fmt.Fprintf(w, "  failed:       %d\n", s.Failed)
	fmt.Fprintf(w, "  total:        %d\n", s.Total)

	if len(s.RunningNow) > 0 {
		fmt.Fprintln(w, "Running now:")
		for _, rt := range s.RunningNow {
			fmt.Fprintf(w, "  %s  %s\n", rt.TaskID, rt.Model)
		}
	}
}
