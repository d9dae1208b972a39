package status

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const snapshotYAML = `schema_version: 1
file_type: status_snapshot
state:
  pending: 2
  running: 1
  succeeded: 4
  failed: 1
  needs_review: 0
  reviewed: 3
  total: 11
  running_now:
    - task_id: task_1700000000_abcd1234
      model: worker-a
updated_at: "2026-08-23T10:00:00Z"
`

const queueYAML = `schema_version: 1
file_type: queue_task
tasks:
  - id: task_1700000000_00000001
    description: a
    role: implementation
    status: pending
    enqueued_at: "2026-08-23T09:00:00Z"
  - id: task_1700000000_00000002
    description: b
    role: implementation
    status: running
    assigned_model: worker-a
    attempts: 1
    enqueued_at: "2026-08-23T09:00:01Z"
  - id: task_1700000000_00000003
    description: c
    role: implementation
    status: succeeded
    attempts: 1
    enqueued_at: "2026-08-23T09:00:02Z"
`

func TestLoadPrefersSnapshot(t *testing.T) {
	dir := t.TempDir()
	statusPath := filepath.Join(dir, "status.yaml")
	require.NoError(t, os.WriteFile(statusPath, []byte(snapshotYAML), 0644))

	report, err := Load(statusPath, filepath.Join(dir, "queue.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "snapshot", report.Source)
	assert.Equal(t, 2, report.State.Pending)
	assert.Equal(t, 11, report.State.Total)
	assert.Equal(t, "2026-08-23T10:00:00Z", report.UpdatedAt)
}

func TestLoadFallsBackToQueueFile(t *testing.T) {
	dir := t.TempDir()
	queuePath := filepath.Join(dir, "queue.yaml")
	require.NoError(t, os.WriteFile(queuePath, []byte(queueYAML), 0644))

	report, err := Load(filepath.Join(dir, "missing.yaml"), queuePath)
	require.NoError(t, err)
	assert.Equal(t, "queue", report.Source)
	assert.Equal(t, 1, report.State.Pending)
	assert.Equal(t, 1, report.State.Running)
	assert.Equal(t, 1, report.State.Succeeded)
	assert.Equal(t, 3, report.State.Total)
	require.Len(t, report.State.RunningNow, 1)
	assert.Equal(t, "worker-a", report.State.RunningNow[0].Model)
}

func TestLoadErrorsWhenNeitherExists(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "status.yaml"), filepath.Join(dir, "queue.yaml"))
	assert.Error(t, err)
}

func TestWriteJSON(t *testing.T) {
	dir := t.TempDir()
	statusPath := filepath.Join(dir, "status.yaml")
	require.NoError(t, os.WriteFile(statusPath, []byte(snapshotYAML), 0644))

	report, err := Load(statusPath, "")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, report.WriteJSON(&buf))

	var round Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &round))
	assert.Equal(t, report.State, round.State)
}

func TestWriteText(t *testing.T) {
	dir := t.TempDir()
	statusPath := filepath.Join(dir, "status.yaml")
	require.NoError(t, os.WriteFile(statusPath, []byte(snapshotYAML), 0644))

	report, err := Load(statusPath, "")
	require.NoError(t, err)

	var buf bytes.Buffer
	report.WriteText(&buf)
	out := buf.String()
	assert.Contains(t, out, "pending:      2")
	assert.Contains(t, out, "reviewed:     3")
	assert.Contains(t, out, "task_1700000000_abcd1234")
	assert.Contains(t, out, "worker-a")
}
