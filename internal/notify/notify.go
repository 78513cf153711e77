// Package notify delivers observability events from the bus to external sinks.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/podweave/podweave/internal/bus"
)

// Sink receives events.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev *bus.Event) error
	Close() error
}

// Filter selects events for a sink. A nil filter passes everything.
type Filter func(*bus.Event) bool

// Types passes only the listed event types. No types means everything.
func Types(types ...string) Filter {
	if len(types) == 0 {
		return nil
	}
	set := make(map[bus.EventType]bool, len(types))
	for _, t := range types {
		set[bus.EventType(t)] = true
	}
	return func(ev *bus.Event) bool { return set[ev.Type] }
}

type route struct {
	sink   Sink
	filter Filter
}

// Router fans events out to sinks. Delivery failures are logged and counted,
// never returned to the publisher.
type Router struct {
	timeout time.Duration

	mu       sync.RWMutex
	routes   []route
	failures map[string]int
}

// NewRouter creates a router with a per-delivery timeout.
func NewRouter(timeout time.Duration) *Router {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Router{timeout: timeout, failures: make(map[string]int)}
}

// Add registers a sink behind an optional filter.
func (r *Router) Add(sink Sink, filter Filter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route{sink: sink, filter: filter})
	slog.Info("Notification sink registered", "sink", sink.Name())
}

// Handle delivers one event. It matches the bus subscriber signature.
func (r *Router) Handle(ev *bus.Event) {
	r.mu.RLock()
	routes := r.routes
	r.mu.RUnlock()

	for _, rt := range routes {
		if rt.filter != nil && !rt.filter(ev) {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		err := rt.sink.Deliver(ctx, ev)
		cancel()
		if err != nil {
			slog.Warn("Notification delivery failed", "sink", rt.sink.Name(), "event", ev.Type, "error", err)
			r.mu.Lock()
			r.failures[rt.sink.Name()]++
			r.mu.Unlock()
		}
	}
}

// Failures returns the failed delivery count of a sink.
func (r *Router) Failures(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.failures[name]
}

// Close closes every sink.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for _, rt := range r.routes {
		if err := rt.sink.Close(); err != nil && first == nil {
			first = err
		}
	}
	r.routes = nil
	return first
}
