// Package bus provides the async observability event bus between the
// orchestration core and its push/notification sinks.
package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// EventType names an observability event.
type EventType string

const (
	EventPodStatus        EventType = "pod.status"
	EventTurnStream       EventType = "pod.turn"
	EventScheduleFired    EventType = "schedule.fired"
	EventScheduleSkipped  EventType = "schedule.skipped"
	EventTriggerFired     EventType = "trigger.fired"
	EventTriggerSkipped   EventType = "trigger.skipped"
	EventJoinWaiting      EventType = "propagation.waiting"
	EventDeciding         EventType = "propagation.deciding"
	EventRejected         EventType = "propagation.rejected"
	EventQueued           EventType = "propagation.queued"
	EventTriggered        EventType = "propagation.triggered"
	EventAbandoned        EventType = "propagation.abandoned"
	EventDispatchFailed   EventType = "propagation.error"
	EventChainCleared     EventType = "chain.cleared"
	EventWorkflowReset    EventType = "workflow.reset"
	EventSummaryFallback  EventType = "summary.fallback"
	EventConnectionStatus EventType = "connection.status"
)

// Event is one observability record. Fields that do not apply are empty.
type Event struct {
	Type         EventType      `json:"type"`
	CanvasID     string         `json:"canvas_id"`
	PodID        string         `json:"pod_id,omitempty"`
	SourceID     string         `json:"source_id,omitempty"`
	TargetID     string         `json:"target_id,omitempty"`
	ConnectionID string         `json:"connection_id,omitempty"`
	TriggerID    string         `json:"trigger_id,omitempty"`
	Status       string         `json:"status,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	PodIDs       []string       `json:"pod_ids,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Publisher is the write side of the bus.
type Publisher interface {
	Publish(ev *Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(*Event) {}

// EventBus decouples the core from event consumers. Publishing never blocks:
// when the buffer is full the event is dropped and counted.
type EventBus struct {
	events  chan *Event
	subs    []func(*Event)
	dropped atomic.Int64
	mu      sync.RWMutex
}

// NewEventBus creates a bus with the given buffer size.
func NewEventBus(buffer int) *EventBus {
	if buffer <= 0 {
		buffer = 256
	}
	return &EventBus{events: make(chan *Event, buffer)}
}

// Publish enqueues an event for dispatch.
func (b *EventBus) Publish(ev *Event) {
	if ev == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case b.events <- ev:
	default:
		b.dropped.Add(1)
	}
}

// Subscribe registers a callback for every event.
func (b *EventBus) Subscribe(callback func(*Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, callback)
}

// Dispatch delivers events to subscribers until ctx is cancelled.
// This should be run as a goroutine.
func (b *EventBus) Dispatch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-b.events:
			b.mu.RLock()
			callbacks := b.subs
			b.mu.RUnlock()

			for _, cb := range callbacks {
				cb(ev)
			}
		}
	}
}

// Pending returns the number of undelivered events.
func (b *EventBus) Pending() int {
	return len(b.events)
}

// Dropped returns how many events were discarded on a full buffer.
func (b *EventBus) Dropped() int64 {
	return b.dropped.Load()
}
