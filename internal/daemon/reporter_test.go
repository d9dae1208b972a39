package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/foreman/internal/model"
	"github.com/msageha/foreman/internal/queue"
	"github.com/msageha/foreman/internal/yaml"
)

func TestWriteSnapshot(t *testing.T) {
	dir := t.TempDir()
	cfg := dispatcherConfig()
	q, err := queue.Open(dir, filepath.Join(dir, "queue.yaml"), cfg, zerolog.Nop())
	require.NoError(t, err)

	id, err := q.Enqueue(model.TaskSpec{Description: "a", Role: model.RoleImplementation})
	require.NoError(t, err)
	require.NoError(t, q.MarkRunning(id, "worker-a"))
	_, err = q.Enqueue(model.TaskSpec{Description: "b", Role: model.RoleImplementation})
	require.NoError(t, err)

	statusPath := filepath.Join(dir, "status.yaml")
	r := NewReporter(q, model.StatusConfig{Path: statusPath}, nil, zerolog.Nop())
	require.NoError(t, r.WriteSnapshot())

	require.NoError(t, yaml.ValidateSchemaHeader(statusPath, model.SnapshotFileType))

	data, err := os.ReadFile(statusPath)
	require.NoError(t, err)
	var snap model.Snapshot
	require.NoError(t, yamlv3.Unmarshal(data, &snap))

	assert.Equal(t, 1, snap.State.Running)
	assert.Equal(t, 1, snap.State.Pending)
	assert.Equal(t, 2, snap.State.Total)
	require.Len(t, snap.State.RunningNow, 1)
	assert.Equal(t, id, snap.State.RunningNow[0].TaskID)
	assert.NotEmpty(t, snap.UpdatedAt)
}

func TestReporterSchedule(t *testing.T) {
	dir := t.TempDir()
	cfg := dispatcherConfig()
	q, err := queue.Open(dir, filepath.Join(dir, "queue.yaml"), cfg, zerolog.Nop())
	require.NoError(t, err)

	statusPath := filepath.Join(dir, "status.yaml")
	r := NewReporter(q, model.StatusConfig{Path: statusPath}, nil, zerolog.Nop())

	require.NoError(t, r.Start("@every 1s"))
	defer r.Stop()

	// The initial snapshot lands synchronously on Start.
	_, err = os.Stat(statusPath)
	assert.NoError(t, err)
}

func TestReporterRejectsBadSchedule(t *testing.T) {
	dir := t.TempDir()
	cfg := dispatcherConfig()
	q, err := queue.Open(dir, filepath.Join(dir, "queue.yaml"), cfg, zerolog.Nop())
	require.NoError(t, err)

	r := NewReporter(q, model.StatusConfig{Path: filepath.Join(dir, "status.yaml")}, nil, zerolog.Nop())
	assert.Error(t, r.Start("not a schedule"))
}
