package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/foreman/internal/events"
	"github.com/msageha/foreman/internal/model"
	"github.com/msageha/foreman/internal/queue"
	"github.com/msageha/foreman/internal/yaml"
)

const defaultScanInterval = 5 * time.Second

// Spool ingests task files dropped into the spool directory. Each YAML file
// holds one task spec; on successful enqueue the file is removed, on any
// parse or validation failure it is quarantined so one bad file never wedges
// intake. A watcher reacts immediately, a periodic rescan catches anything
// the watcher missed.
type Spool struct {
	dir      string
	interval time.Duration
	queue    *queue.Queue
	bus      *events.Bus
	log      zerolog.Logger
}

func NewSpool(cfg model.QueueConfig, q *queue.Queue, bus *events.Bus, log zerolog.Logger) *Spool {
	interval := time.Duration(cfg.ScanIntervalSec) * time.Second
	if interval <= 0 {
		interval = defaultScanInterval
	}
	return &Spool{
		dir:      cfg.SpoolDir,
		interval: interval,
		queue:    q,
		bus:      bus,
		log:      log.With().Str("component", "spool").Logger(),
	}
}

// Run watches the spool directory until ctx is cancelled. It scans once on
// startup to drain files dropped while the daemon was down.
func (s *Spool) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create spool dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create spool watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watch spool dir: %w", err)
	}

	s.Scan()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				// Writers may still be mid-write on Create; ingest tolerates
				// partial files by quarantining only on the rescan pass.
				s.ingest(ev.Name, false)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn().Err(err).Msg("spool_watcher_error")
		case <-ticker.C:
			s.Scan()
		}
	}
}

// Scan ingests every spool file currently on disk. Unparseable files are
// quarantined.
func (s *Spool) Scan() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Warn().Err(err).Msg("spool_scan_failed")
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		s.ingest(filepath.Join(s.dir, e.Name()), true)
	}
}

func (s *Spool) ingest(path string, quarantineOnError bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return // already consumed by an earlier event
	}

	spec, err := readTaskSpec(path)
	if err == nil {
		var id string
		id, err = s.queue.Enqueue(spec)
		if err == nil {
			if rmErr := os.Remove(path); rmErr != nil {
				s.log.Warn().Str("file", path).Err(rmErr).Msg("spool_file_remove_failed")
			}
			s.bus.Publish(events.EventTaskEnqueued, map[string]interface{}{
				"task_id": id,
				"role":    string(spec.Role),
				"source":  filepath.Base(path),
			})
			s.log.Info().Str("task", id).Str("file", filepath.Base(path)).Msg("spool_file_ingested")
			return
		}
	}

	if !quarantineOnError {
		return
	}
	s.log.Warn().Str("file", path).Err(err).Msg("spool_file_rejected")
	if qErr := yaml.Quarantine(s.dir, path); qErr != nil {
		s.log.Error().Str("file", path).Err(qErr).Msg("spool_quarantine_failed")
	}
}

func readTaskSpec(path string) (model.TaskSpec, error) {
	var spec model.TaskSpec
	data, err := os.ReadFile(path)
	if err != nil {
		return spec, fmt.Errorf("read spool file: %w", err)
	}
	if err := yamlv3.Unmarshal(data, &spec); err != nil {
		return spec, fmt.Errorf("parse task spec: %w", err)
	}
	if strings.TrimSpace(spec.Description) == "" {
		return spec, errors.New("task spec: description is required")
	}
	return spec, nil
}
