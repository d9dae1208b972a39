package daemon

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/msageha/foreman/internal/model"
	"github.com/msageha/foreman/internal/queue"
	"github.com/msageha/foreman/internal/yaml"
)

const defaultSnapshotSchedule = "@every 10s"

// Reporter periodically projects queue state into the status snapshot file
// and refreshes the depth gauges. Reads never block dispatch: the projection
// comes from the queue's own snapshot, the write goes through the same
// atomic path as every other file.
type Reporter struct {
	queue   *queue.Queue
	path    string
	metrics *Metrics
	log     zerolog.Logger

	cron *cron.Cron
}

func NewReporter(q *queue.Queue, cfg model.StatusConfig, metrics *Metrics, log zerolog.Logger) *Reporter {
	return &Reporter{
		queue:   q,
		path:    cfg.Path,
		metrics: metrics,
		log:     log.With().Str("component", "reporter").Logger(),
	}
}

// Start writes one snapshot immediately, then on the configured schedule.
func (r *Reporter) Start(schedule string) error {
	if schedule == "" {
		schedule = defaultSnapshotSchedule
	}
	if err := r.WriteSnapshot(); err != nil {
		r.log.Error().Err(err).Msg("initial_snapshot_failed")
	}

	r.cron = cron.New()
	_, err := r.cron.AddFunc(schedule, func() {
		if err := r.WriteSnapshot(); err != nil {
			r.log.Error().Err(err).Msg("snapshot_failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid status schedule %q: %w", schedule, err)
	}
	r.cron.Start()
	r.log.Info().Str("schedule", schedule).Str("path", r.path).Msg("reporter_started")
	return nil
}

// Stop halts the schedule and writes one final snapshot so the file reflects
// the post-shutdown state.
func (r *Reporter) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
	if err := r.WriteSnapshot(); err != nil {
		r.log.Error().Err(err).Msg("final_snapshot_failed")
	}
}

func (r *Reporter) WriteSnapshot() error {
	state := r.queue.Snapshot()
	if r.metrics != nil {
		r.metrics.SetQueueDepth(state)
	}
	snap := model.Snapshot{
		SchemaVersion: model.CurrentSchemaVersion,
		FileType:      model.SnapshotFileType,
		State:         state,
		UpdatedAt:     time.Now().UTC().Format(time.RFC3339),
	}
	if err := yaml.AtomicWrite(r.path, snap); err != nil {
		return fmt.Errorf("write status snapshot: %w", err)
	}
	return nil
}
