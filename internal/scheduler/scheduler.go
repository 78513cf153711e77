// Package scheduler runs the single cadence tick that fires pod schedules and
// standalone triggers.
package scheduler

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/podweave/podweave/internal/bus"
	"github.com/podweave/podweave/internal/canvas"
	"github.com/podweave/podweave/internal/graph"
	"github.com/podweave/podweave/internal/workflow"
)

// Skip reasons reported on skipped events.
const (
	ReasonBusy        = "busy"
	ReasonConcurrency = "concurrency"
)

// Config holds scheduler settings.
type Config struct {
	Enabled            bool          `json:"enabled" envconfig:"ENABLED"`
	TickInterval       time.Duration `json:"tickInterval" envconfig:"TICK_INTERVAL"`
	MaxConcurrentFires int           `json:"maxConcurrentFires" envconfig:"MAX_CONCURRENT_FIRES"`
	// LockPath is the tick lock file. Empty disables locking.
	LockPath string `json:"lockPath" envconfig:"LOCK_PATH"`
}

// DefaultConfig returns scheduler defaults: a 1s tick and eight concurrent fires.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Enabled:            true,
		TickInterval:       time.Second,
		MaxConcurrentFires: 8,
		LockPath:           filepath.Join(home, ".podweave", "scheduler.lock"),
	}
}

// Launcher starts turns on behalf of the scheduler.
type Launcher interface {
	IsEligible(canvasID, podID string) bool
	StartTurn(ctx context.Context, ts workflow.TurnStart) bool
}

// Scheduler evaluates every pod schedule and trigger on each tick.
type Scheduler struct {
	cfg      Config
	repo     canvas.Repository
	graph    *graph.Index
	launcher Launcher
	events   bus.Publisher
	slots    *Semaphore
	lock     *FileLock
}

// New creates a Scheduler.
func New(cfg Config, repo canvas.Repository, ix *graph.Index, launcher Launcher, events bus.Publisher) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.MaxConcurrentFires <= 0 {
		cfg.MaxConcurrentFires = DefaultConfig().MaxConcurrentFires
	}
	if events == nil {
		events = bus.Nop{}
	}
	s := &Scheduler{
		cfg:      cfg,
		repo:     repo,
		graph:    ix,
		launcher: launcher,
		events:   events,
		slots:    NewSemaphore(cfg.MaxConcurrentFires),
	}
	if cfg.LockPath != "" {
		s.lock = NewFileLock(cfg.LockPath)
	}
	return s
}

// Slots exposes the fire semaphore.
func (s *Scheduler) Slots() *Semaphore { return s.slots }

// Run ticks until ctx is cancelled. Ticks are skipped while another process
// holds the lock; once acquired the lock is kept until Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("Scheduler started", "tick", s.cfg.TickInterval, "maxConcurrentFires", s.cfg.MaxConcurrentFires)
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	defer s.unlock()

	waiting := false
	for {
		select {
		case <-ctx.Done():
			slog.Info("Scheduler stopped")
			return ctx.Err()
		case t := <-ticker.C:
			held, err := s.acquire()
			if err != nil {
				slog.Warn("Scheduler lock error", "error", err)
				continue
			}
			if !held {
				if !waiting {
					slog.Warn("Scheduler waiting: lock held by another process", "lock", s.cfg.LockPath)
					waiting = true
				}
				continue
			}
			waiting = false
			s.tick(ctx, t.Truncate(time.Second))
		}
	}
}

func (s *Scheduler) acquire() (bool, error) {
	if s.lock == nil {
		return true, nil
	}
	return s.lock.TryLock()
}

func (s *Scheduler) unlock() {
	if s.lock == nil {
		return
	}
	if err := s.lock.Unlock(); err != nil {
		slog.Warn("Scheduler unlock failed", "error", err)
	}
}

// tick evaluates every enabled schedule and trigger against now.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	for _, canvasID := range s.repo.Canvases() {
		for _, pod := range s.repo.ListPods(canvasID) {
			sch := pod.Schedule
			if sch == nil || !sch.Enabled {
				continue
			}
			if ShouldFire(sch.Frequency, sch.LastTriggeredAt, now) {
				s.firePodSchedule(ctx, pod, now)
			}
		}
		for _, trig := range s.repo.ListTriggers(canvasID) {
			if trig.Enabled && ShouldFire(trig.Frequency, trig.LastTriggeredAt, now) {
				s.fireTrigger(ctx, trig, now)
			}
		}
	}
}

// firePodSchedule sends an empty turn to an idle pod. Busy pods are skipped
// silently and keep their last fire time.
func (s *Scheduler) firePodSchedule(ctx context.Context, pod canvas.Pod, now time.Time) {
	if !pod.Idle() {
		slog.Debug("Schedule skipped: pod busy", "canvas", pod.CanvasID, "pod", pod.ID, "status", pod.Status)
		return
	}
	if !s.slots.TryAcquire() {
		slog.Warn("Schedule skipped: concurrency limit", "canvas", pod.CanvasID, "pod", pod.ID)
		s.events.Publish(&bus.Event{
			Type:     bus.EventScheduleSkipped,
			CanvasID: pod.CanvasID,
			PodID:    pod.ID,
			Reason:   ReasonConcurrency,
		})
		return
	}

	started := s.launcher.StartTurn(ctx, workflow.TurnStart{
		CanvasID: pod.CanvasID,
		PodID:    pod.ID,
		Origin:   workflow.OriginSchedule,
		Done:     s.slots.Release,
	})
	if !started {
		s.slots.Release()
		return
	}

	if err := s.repo.SetScheduleLastTriggeredAt(pod.CanvasID, pod.ID, now); err != nil && !canvas.IsNotFound(err) {
		slog.Warn("Schedule fire time not recorded", "pod", pod.ID, "error", err)
	}
	slog.Info("Schedule fired", "canvas", pod.CanvasID, "pod", pod.ID, "frequency", pod.Schedule.Frequency.String())
	s.events.Publish(&bus.Event{
		Type:     bus.EventScheduleFired,
		CanvasID: pod.CanvasID,
		PodID:    pod.ID,
		Metadata: map[string]any{"frequency": pod.Schedule.Frequency.String()},
	})
}

// FireTrigger fires a trigger now, regardless of its frequency or enabled flag.
func (s *Scheduler) FireTrigger(ctx context.Context, canvasID, triggerID string) error {
	trig, err := s.repo.GetTrigger(canvasID, triggerID)
	if err != nil {
		return err
	}
	s.fireTrigger(ctx, trig, time.Now())
	return nil
}

// fireTrigger records the fire time, then starts one turn per eligible target
// without waiting for any of them. Ineligible targets are skipped, not retried.
func (s *Scheduler) fireTrigger(ctx context.Context, trig canvas.Trigger, now time.Time) {
	if err := s.repo.SetTriggerLastTriggeredAt(trig.CanvasID, trig.ID, now); err != nil {
		if canvas.IsNotFound(err) {
			return
		}
		slog.Warn("Trigger fire time not recorded", "trigger", trig.ID, "error", err)
	}

	var targets []string
	byTarget := make(map[string][]string)
	for _, c := range s.graph.Outgoing(trig.CanvasID, trig.ID) {
		if c.SourceKind != canvas.SourceTrigger {
			continue
		}
		if _, seen := byTarget[c.TargetID]; !seen {
			targets = append(targets, c.TargetID)
		}
		byTarget[c.TargetID] = append(byTarget[c.TargetID], c.ID)
	}

	slog.Info("Trigger fired", "canvas", trig.CanvasID, "trigger", trig.Name, "targets", len(targets))
	s.events.Publish(&bus.Event{
		Type:      bus.EventTriggerFired,
		CanvasID:  trig.CanvasID,
		TriggerID: trig.ID,
		PodIDs:    targets,
	})

	for _, target := range targets {
		reason := s.sendTrigger(ctx, trig, target, byTarget[target])
		if reason == "" {
			continue
		}
		slog.Info("Trigger target skipped", "trigger", trig.Name, "pod", target, "reason", reason)
		s.events.Publish(&bus.Event{
			Type:      bus.EventTriggerSkipped,
			CanvasID:  trig.CanvasID,
			TriggerID: trig.ID,
			SourceID:  trig.ID,
			TargetID:  target,
			Reason:    reason,
		})
	}
}

// sendTrigger starts the trigger turn on one target and returns the skip
// reason, or "" when the turn started.
func (s *Scheduler) sendTrigger(ctx context.Context, trig canvas.Trigger, target string, connIDs []string) string {
	if !s.launcher.IsEligible(trig.CanvasID, target) {
		return ReasonBusy
	}
	if !s.slots.TryAcquire() {
		return ReasonConcurrency
	}
	started := s.launcher.StartTurn(ctx, workflow.TurnStart{
		CanvasID:      trig.CanvasID,
		PodID:         target,
		Content:       trig.Message,
		SourceID:      trig.ID,
		TriggerID:     trig.ID,
		ConnectionIDs: connIDs,
		Origin:        workflow.OriginTrigger,
		Done:          s.slots.Release,
	})
	if !started {
		s.slots.Release()
		return ReasonBusy
	}
	s.events.Publish(&bus.Event{
		Type:         bus.EventTriggered,
		CanvasID:     trig.CanvasID,
		SourceID:     trig.ID,
		TargetID:     target,
		TriggerID:    trig.ID,
		ConnectionID: connIDs[0],
		Metadata:     map[string]any{"origin": string(workflow.OriginTrigger)},
	})
	return ""
}
