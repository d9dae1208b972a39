package events

import (
	"sync"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// EventTaskEnqueued is published when a task enters the queue.
	EventTaskEnqueued EventType = "task_enqueued"
	// EventTaskStarted is published when an execution attempt begins.
	EventTaskStarted EventType = "task_started"
	// EventTaskSucceeded is published when an attempt completes successfully.
	EventTaskSucceeded EventType = "task_succeeded"
	// EventTaskFailed is published when a task reaches the failed state.
	EventTaskFailed EventType = "task_failed"
	// EventTaskRetried is published when a failed attempt is re-enqueued.
	EventTaskRetried EventType = "task_retried"
	// EventReviewSelected is published when the quality gate routes a task
	// to supervisor review.
	EventReviewSelected EventType = "review_selected"
	// EventReviewCompleted is published when a review pass finishes,
	// whether it agreed or not.
	EventReviewCompleted EventType = "review_completed"
	// EventRateLimitTimeout is published when a permit wait expired and the
	// task was returned to pending.
	EventRateLimitTimeout EventType = "rate_limit_timeout"
)

// Event represents a system event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]interface{}
}

// Subscriber is a function that receives events.
type Subscriber func(Event)

// Bus is a non-blocking event bus using Publish/Subscribe pattern.
// Events are delivered asynchronously via buffered channels.
// If a subscriber's channel is full, the event is dropped silently;
// observability never backpressures the orchestration loop.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
}

// NewBus creates a new event bus with the specified buffer size per subscriber.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a subscriber for a specific event type.
// The subscriber function is called asynchronously in a goroutine.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	go func() {
		for event := range ch {
			// Recover from subscriber panics to keep the bus alive
			func() {
				defer func() {
					_ = recover()
				}()
				fn(event)
			}()
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[eventType]
		for i, subCh := range subs {
			if subCh == ch {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
}

// SubscribeAll registers a subscriber for every known event type.
// Returns a single unsubscribe function covering all of them.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	types := []EventType{
		EventTaskEnqueued,
		EventTaskStarted,
		EventTaskSucceeded,
		EventTaskFailed,
		EventTaskRetried,
		EventReviewSelected,
		EventReviewCompleted,
		EventRateLimitTimeout,
	}
	unsubs := make([]func(), 0, len(types))
	for _, t := range types {
		unsubs = append(unsubs, b.Subscribe(t, fn))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Publish sends an event to all subscribers of the given type.
// Uses select with default to ensure non-blocking behavior.
func (b *Bus) Publish(eventType EventType, data map[string]interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	for _, ch := range b.subscribers[eventType] {
		select {
		case ch <- event:
		default:
			// Channel full, drop event to avoid blocking the publisher
		}
	}
}

// Close closes all subscriber channels and clears subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
}
