package daemon

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/msageha/foreman/internal/events"
	"github.com/msageha/foreman/internal/model"
)

// Metrics translates bus events into Prometheus series and serves the
// /metrics endpoint. It is a pure observer: dropping it changes nothing in
// dispatch behavior.
type Metrics struct {
	dispatched        *prometheus.CounterVec
	completed         *prometheus.CounterVec
	duration          *prometheus.HistogramVec
	retries           prometheus.Counter
	rateLimitTimeouts *prometheus.CounterVec
	reviews           *prometheus.CounterVec
	queueDepth        *prometheus.GaugeVec

	registry *prometheus.Registry
	log      zerolog.Logger
}

func NewMetrics(log zerolog.Logger) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		dispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "foreman_tasks_dispatched_total",
			Help: "Execution attempts started, per model.",
		}, []string{"model"}),
		completed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "foreman_tasks_completed_total",
			Help: "Tasks that reached a terminal status.",
		}, []string{"status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "foreman_task_duration_seconds",
			Help:    "Wall-clock duration of successful attempts, per model.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"model"}),
		retries: factory.NewCounter(prometheus.CounterOpts{
			Name: "foreman_retries_total",
			Help: "Failed attempts re-enqueued with backoff.",
		}),
		rateLimitTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "foreman_rate_limit_timeouts_total",
			Help: "Permit waits that expired before a rate slot opened, per model.",
		}, []string{"model"}),
		reviews: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "foreman_reviews_total",
			Help: "Completed supervisor review passes, per outcome.",
		}, []string{"outcome"}),
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "foreman_queue_depth",
			Help: "Tasks currently in each status.",
		}, []string{"status"}),
		registry: reg,
		log:      log.With().Str("component", "metrics").Logger(),
	}
}

// Observe is the bus subscriber: one call per published event.
func (m *Metrics) Observe(ev events.Event) {
	switch ev.Type {
	case events.EventTaskStarted:
		m.dispatched.WithLabelValues(stringField(ev, "model")).Inc()
	case events.EventTaskSucceeded:
		m.completed.WithLabelValues(string(model.StatusSucceeded)).Inc()
		if secs, ok := ev.Data["seconds"].(float64); ok {
			m.duration.WithLabelValues(stringField(ev, "model")).Observe(secs)
		}
	case events.EventTaskFailed:
		m.completed.WithLabelValues(string(model.StatusFailed)).Inc()
	case events.EventTaskRetried:
		m.retries.Inc()
	case events.EventRateLimitTimeout:
		m.rateLimitTimeouts.WithLabelValues(stringField(ev, "model")).Inc()
	case events.EventReviewCompleted:
		m.completed.WithLabelValues(string(model.StatusReviewed)).Inc()
		m.reviews.WithLabelValues(stringField(ev, "outcome")).Inc()
	}
}

// SetQueueDepth refreshes the per-status depth gauges from a queue
// projection. Called on the snapshot schedule.
func (m *Metrics) SetQueueDepth(state model.QueueState) {
	m.queueDepth.WithLabelValues(string(model.StatusPending)).Set(float64(state.Pending))
	m.queueDepth.WithLabelValues(string(model.StatusRunning)).Set(float64(state.Running))
	m.queueDepth.WithLabelValues(string(model.StatusSucceeded)).Set(float64(state.Succeeded))
	m.queueDepth.WithLabelValues(string(model.StatusFailed)).Set(float64(state.Failed))
	m.queueDepth.WithLabelValues(string(model.StatusNeedsReview)).Set(float64(state.NeedsReview))
	m.queueDepth.WithLabelValues(string(model.StatusReviewed)).Set(float64(state.Reviewed))
}

// Serve exposes /metrics until ctx is cancelled. An empty addr disables the
// endpoint; collection still happens for tests.
func (m *Metrics) Serve(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	m.log.Info().Str("addr", addr).Msg("metrics_listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		m.log.Error().Err(err).Msg("metrics_server_failed")
	}
}

func stringField(ev events.Event, key string) string {
	if s, ok := ev.Data[key].(string); ok {
		return s
	}
	return ""
}
