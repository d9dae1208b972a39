// Package daemon wires the orchestration core into a long-running process:
// lock acquisition, crash recovery, spool intake, dispatch, snapshots,
// metrics, and signal-driven graceful shutdown.
package daemon

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/msageha/foreman/internal/agent"
	"github.com/msageha/foreman/internal/events"
	"github.com/msageha/foreman/internal/gate"
	"github.com/msageha/foreman/internal/lock"
	"github.com/msageha/foreman/internal/model"
	"github.com/msageha/foreman/internal/queue"
	"github.com/msageha/foreman/internal/ratelimit"
	"github.com/msageha/foreman/internal/retry"
	"github.com/msageha/foreman/internal/router"
)

// Daemon owns the process lifecycle. Construction acquires resources;
// Run blocks until a stop signal or Shutdown.
type Daemon struct {
	cfg model.Config
	dir string
	log zerolog.Logger

	fileLock   *lock.FileLock
	queue      *queue.Queue
	bus        *events.Bus
	audit      *events.AuditLogger
	metrics    *Metrics
	reporter   *Reporter
	spool      *Spool
	dispatcher *Dispatcher

	cancel       context.CancelFunc
	shutdownOnce sync.Once
	unsubscribe  []func()
}

// New builds a daemon rooted at dir. It acquires the process lock
// immediately so a second foreman in the same directory fails fast.
func New(dir string, cfg model.Config, logOut io.Writer) (*Daemon, error) {
	log := newLogger(cfg.Logging, logOut)

	fl := lock.NewFileLock(filepath.Join(dir, "locks", "foreman.pid"))
	if err := os.MkdirAll(filepath.Join(dir, "locks"), 0755); err != nil {
		return nil, fmt.Errorf("create locks dir: %w", err)
	}
	if err := fl.TryLock(); err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:      cfg,
		dir:      dir,
		log:      log,
		fileLock: fl,
	}
	if err := d.build(); err != nil {
		_ = fl.Unlock()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) build() error {
	queuePath := d.resolve(d.cfg.Queue.Path, "queue.yaml")
	q, err := queue.Open(d.dir, queuePath, d.cfg, d.log)
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	d.queue = q

	// Tasks stranded in running by a crash go back to pending before any
	// dispatch happens.
	recovered, err := q.Recover()
	if err != nil {
		return fmt.Errorf("recover queue: %w", err)
	}
	if recovered > 0 {
		d.log.Warn().Int("count", recovered).Msg("stranded_tasks_recovered")
	}

	d.bus = events.NewBus(256)

	auditPath := d.resolve(d.cfg.Metrics.AuditPath, filepath.Join("logs", "audit.jsonl"))
	audit, err := events.NewAuditLogger(auditPath, 0)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	d.audit = audit
	d.unsubscribe = append(d.unsubscribe, d.bus.SubscribeAll(func(ev events.Event) {
		if err := audit.Record(ev); err != nil {
			d.log.Warn().Err(err).Msg("audit_write_failed")
		}
	}))

	d.metrics = NewMetrics(d.log)
	d.unsubscribe = append(d.unsubscribe, d.bus.SubscribeAll(d.metrics.Observe))

	statusCfg := d.cfg.Status
	statusCfg.Path = d.resolve(statusCfg.Path, "status.yaml")
	d.reporter = NewReporter(q, statusCfg, d.metrics, d.log)

	spoolCfg := d.cfg.Queue
	spoolCfg.SpoolDir = d.resolve(spoolCfg.SpoolDir, "spool")
	d.spool = NewSpool(spoolCfg, q, d.bus, d.log)

	executor, err := agent.NewCommandExecutor(d.cfg.Executor)
	if err != nil {
		return fmt.Errorf("build executor: %w", err)
	}

	d.dispatcher = NewDispatcher(
		d.cfg,
		q,
		ratelimit.New(d.cfg.Models, time.Minute),
		router.New(d.cfg),
		retry.NewPolicy(d.cfg.Workflow),
		gate.New(d.cfg.Workflow),
		executor,
		d.bus,
		d.log,
	)
	return nil
}

// Run blocks until SIGINT/SIGTERM or Shutdown, then drains and cleans up.
// A second signal exits immediately without the grace period.
func (d *Daemon) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		sig, ok := <-sigCh
		if !ok {
			return
		}
		d.log.Info().Str("signal", sig.String()).Msg("shutdown_signal")
		cancel()
		if sig, ok := <-sigCh; ok {
			d.log.Warn().Str("signal", sig.String()).Msg("second_signal_forcing_exit")
			os.Exit(1)
		}
	}()

	d.log.Info().Str("project", d.cfg.Project.Name).Str("dir", d.dir).Msg("daemon_started")

	if err := d.reporter.Start(d.cfg.Status.Schedule); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.metrics.Serve(ctx, d.cfg.Metrics.ListenAddr)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := d.spool.Run(ctx); err != nil {
			d.log.Error().Err(err).Msg("spool_intake_failed")
			cancel()
		}
	}()

	// The dispatcher is the foreground loop; its return means draining is
	// complete (or the grace period force-cancelled the stragglers).
	d.dispatcher.Run(ctx)

	wg.Wait()
	d.cleanup()
	d.log.Info().Msg("daemon_stopped")
	return nil
}

// Shutdown requests a graceful stop. Safe to call from any goroutine,
// idempotent.
func (d *Daemon) Shutdown() {
	d.shutdownOnce.Do(func() {
		if d.cancel != nil {
			d.cancel()
		}
	})
}

func (d *Daemon) cleanup() {
	for _, u := range d.unsubscribe {
		u()
	}
	d.reporter.Stop()
	d.bus.Close()
	if err := d.audit.Close(); err != nil {
		d.log.Warn().Err(err).Msg("audit_close_failed")
	}
	if err := d.fileLock.Unlock(); err != nil {
		d.log.Warn().Err(err).Msg("lock_release_failed")
	}
}

// resolve anchors a configured path to the working directory, falling back
// to def when unset.
func (d *Daemon) resolve(path, def string) string {
	if path == "" {
		path = def
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(d.dir, path)
}

// newLogger builds the process logger: console writer to the given output,
// optionally teeing to the configured log file.
func newLogger(cfg model.LoggingConfig, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	writers := []io.Writer{zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}}
	if cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err == nil {
			if f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644); err == nil {
				writers = append(writers, f)
			}
		}
	}

	return zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()
}
