package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/foreman/internal/events"
	"github.com/msageha/foreman/internal/model"
	"github.com/msageha/foreman/internal/queue"
)

func newTestSpool(t *testing.T) (*Spool, *queue.Queue, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := dispatcherConfig()
	cfg.Queue = model.QueueConfig{SpoolDir: filepath.Join(dir, "spool"), ScanIntervalSec: 1}

	q, err := queue.Open(dir, filepath.Join(dir, "queue.yaml"), cfg, zerolog.Nop())
	require.NoError(t, err)

	bus := events.NewBus(16)
	t.Cleanup(bus.Close)

	s := NewSpool(cfg.Queue, q, bus, zerolog.Nop())
	require.NoError(t, os.MkdirAll(cfg.Queue.SpoolDir, 0755))
	return s, q, cfg.Queue.SpoolDir
}

func TestScanIngestsValidSpec(t *testing.T) {
	s, q, spoolDir := newTestSpool(t)

	spec := "description: implement the parser\nrole: implementation\npriority_tags: [core]\n"
	path := filepath.Join(spoolDir, "task-1.yaml")
	require.NoError(t, os.WriteFile(path, []byte(spec), 0644))

	s.Scan()

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "ingested file is consumed")

	state := q.Snapshot()
	assert.Equal(t, 1, state.Pending)

	task := q.NextReady(time.Now(), nil)
	require.NotNil(t, task)
	assert.Equal(t, "implement the parser", task.Description)
	assert.Equal(t, model.RoleImplementation, task.Role)
	assert.Equal(t, []string{"core"}, task.PriorityTags)
}

func TestScanQuarantinesMalformedFile(t *testing.T) {
	s, q, spoolDir := newTestSpool(t)

	path := filepath.Join(spoolDir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{{not yaml"), 0644))

	s.Scan()

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	entries, err := os.ReadDir(filepath.Join(spoolDir, "quarantine"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, 0, q.Snapshot().Total)
}

func TestScanQuarantinesUnservedRole(t *testing.T) {
	s, q, spoolDir := newTestSpool(t)

	// documentation is a valid role, but no configured model serves it
	spec := "description: write the manual\nrole: documentation\n"
	path := filepath.Join(spoolDir, "docs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(spec), 0644))

	s.Scan()

	entries, err := os.ReadDir(filepath.Join(spoolDir, "quarantine"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, 0, q.Snapshot().Total)
}

func TestScanIgnoresNonYAMLFiles(t *testing.T) {
	s, q, spoolDir := newTestSpool(t)

	require.NoError(t, os.WriteFile(filepath.Join(spoolDir, "README.txt"), []byte("notes"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(spoolDir, ".hidden"), []byte("x"), 0644))

	s.Scan()

	assert.Equal(t, 0, q.Snapshot().Total)
	_, err := os.Stat(filepath.Join(spoolDir, "README.txt"))
	assert.NoError(t, err, "non-yaml files are left alone")
}

func TestScanRequiresDescription(t *testing.T) {
	s, q, spoolDir := newTestSpool(t)

	spec := "role: implementation\n"
	require.NoError(t, os.WriteFile(filepath.Join(spoolDir, "empty.yaml"), []byte(spec), 0644))

	s.Scan()

	entries, err := os.ReadDir(filepath.Join(spoolDir, "quarantine"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, 0, q.Snapshot().Total)
}
