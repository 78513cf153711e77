package notify

import (
	"context"
	"log/slog"

	"github.com/podweave/podweave/internal/bus"
)

// LogSink writes events to a slog logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(ctx context.Context, ev *bus.Event) error {
	level := slog.LevelDebug
	switch ev.Type {
	case bus.EventDispatchFailed, bus.EventAbandoned:
		level = slog.LevelWarn
	case bus.EventChainCleared, bus.EventWorkflowReset, bus.EventTriggerFired, bus.EventScheduleFired:
		level = slog.LevelInfo
	}
	attrs := []any{"canvas", ev.CanvasID}
	for _, kv := range [][2]string{
		{"pod", ev.PodID},
		{"source", ev.SourceID},
		{"target", ev.TargetID},
		{"connection", ev.ConnectionID},
		{"trigger", ev.TriggerID},
		{"status", ev.Status},
		{"reason", ev.Reason},
	} {
		if kv[1] != "" {
			attrs = append(attrs, kv[0], kv[1])
		}
	}
	if len(ev.PodIDs) > 0 {
		attrs = append(attrs, "pods", ev.PodIDs)
	}
	s.logger.Log(ctx, level, "Event "+string(ev.Type), attrs...)
	return nil
}

func (s *LogSink) Close() error { return nil }
