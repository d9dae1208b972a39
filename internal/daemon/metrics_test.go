package daemon

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/msageha/foreman/internal/events"
	"github.com/msageha/foreman/internal/model"
)

func ev(t events.EventType, data map[string]interface{}) events.Event {
	return events.Event{Type: t, Timestamp: time.Now().UTC(), Data: data}
}

func TestMetricsObserve(t *testing.T) {
	m := NewMetrics(zerolog.Nop())

	m.Observe(ev(events.EventTaskStarted, map[string]interface{}{"model": "worker-a"}))
	m.Observe(ev(events.EventTaskStarted, map[string]interface{}{"model": "worker-a"}))
	m.Observe(ev(events.EventTaskSucceeded, map[string]interface{}{"model": "worker-a", "seconds": 1.5}))
	m.Observe(ev(events.EventTaskFailed, map[string]interface{}{"task_id": "t"}))
	m.Observe(ev(events.EventTaskRetried, nil))
	m.Observe(ev(events.EventRateLimitTimeout, map[string]interface{}{"model": "worker-a"}))
	m.Observe(ev(events.EventReviewCompleted, map[string]interface{}{"outcome": "agreed"}))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.dispatched.WithLabelValues("worker-a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.completed.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.completed.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.completed.WithLabelValues("reviewed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimitTimeouts.WithLabelValues("worker-a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reviews.WithLabelValues("agreed")))
}

func TestMetricsQueueDepth(t *testing.T) {
	m := NewMetrics(zerolog.Nop())
	m.SetQueueDepth(model.QueueState{Pending: 3, Running: 2, Failed: 1})

	assert.Equal(t, 3.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("pending")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("failed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("succeeded")))
}
