package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/podweave/podweave/internal/bus"
	"github.com/podweave/podweave/internal/canvas"
	"github.com/podweave/podweave/internal/config"
	"github.com/podweave/podweave/internal/graph"
	"github.com/podweave/podweave/internal/llm"
	"github.com/podweave/podweave/internal/notify"
	"github.com/podweave/podweave/internal/scheduler"
	"github.com/podweave/podweave/internal/session"
	"github.com/podweave/podweave/internal/store"
	"github.com/podweave/podweave/internal/workflow"
)

// queueEvents change the queue and trigger a snapshot write.
var queueEvents = map[bus.EventType]bool{
	bus.EventQueued:        true,
	bus.EventTriggered:     true,
	bus.EventWorkflowReset: true,
}

// app wires every component of one podweave process.
type app struct {
	cfg         *config.Config
	store       *store.Store
	repo        *canvas.MemoryStore
	graph       *graph.Index
	transcripts *session.Manager
	engine      *workflow.Engine
	scheduler   *scheduler.Scheduler
	events      *bus.EventBus
	router      *notify.Router

	wg sync.WaitGroup
}

type appOptions struct {
	// resetTransient returns pods and connections left mid-flight by a
	// previous process to idle before loading.
	resetTransient bool
	// provider replaces the configured model endpoint.
	provider llm.Provider
}

func newApp(cfg *config.Config, opts appOptions) (*app, error) {
	if err := config.EnsureDir(cfg.Paths.DataDir); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	if opts.resetTransient {
		if n, err := st.ResetTransientStatus(); err != nil {
			slog.Warn("Transient status reset failed", "error", err)
		} else if n > 0 {
			slog.Info("Reset transient status", "rows", n)
		}
	}
	snap, err := st.Load()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load canvases: %w", err)
	}

	ix := graph.NewIndex()
	repo := canvas.NewMemoryStore(st)
	repo.OnConnectionsChanged(ix.Rebuild)
	repo.Load(snap)

	transcripts, err := session.NewManager(cfg.Paths.TranscriptsDir)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open transcripts: %w", err)
	}

	provider := opts.provider
	if provider == nil {
		provider = llm.NewOpenAIProvider(cfg.Model.APIKey, cfg.Model.APIBase, cfg.Model.Name, cfg.Workflow.TurnTimeout)
	}
	agent := llm.NewAgent(llm.AgentOptions{
		Provider:       provider,
		Transcripts:    transcripts,
		Pods:           repo,
		Model:          cfg.Model.Name,
		MaxTokens:      cfg.Model.MaxTokens,
		Temperature:    cfg.Model.Temperature,
		HistoryLimit:   cfg.Model.HistoryLimit,
		SystemPrompt:   cfg.Model.SystemPrompt,
		SummaryTimeout: cfg.Workflow.SummaryTimeout,
	})

	events := bus.NewEventBus(cfg.Workflow.EventBuffer)
	engine := workflow.NewEngine(workflow.Options{
		Repo:        repo,
		Graph:       ix,
		Turns:       agent,
		Summarizer:  agent,
		Decider:     agent,
		Transcripts: transcripts,
		Events:      events,
	})
	sched := scheduler.New(cfg.Scheduler, repo, ix, engine, events)

	router, err := newRouter(cfg.Notify)
	if err != nil {
		st.Close()
		return nil, err
	}

	a := &app{
		cfg:         cfg,
		store:       st,
		repo:        repo,
		graph:       ix,
		transcripts: transcripts,
		engine:      engine,
		scheduler:   sched,
		events:      events,
		router:      router,
	}
	events.Subscribe(st.RecordEvent)
	events.Subscribe(a.snapshotQueue)
	events.Subscribe(router.Handle)
	return a, nil
}

func newRouter(cfg config.NotifyConfig) (*notify.Router, error) {
	router := notify.NewRouter(5 * time.Second)
	router.Add(notify.NewLogSink(nil), nil)
	if cfg.Kafka.Enabled() {
		router.Add(notify.NewKafkaSink(notify.KafkaConfig{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.Topic,
			Encoding: cfg.Kafka.Encoding,
		}), nil)
	}
	if cfg.Slack.Enabled() {
		sink, err := notify.NewSlackSink(notify.SlackConfig{
			WebhookURL: cfg.Slack.WebhookURL,
			Token:      cfg.Slack.Token,
			Channel:    cfg.Slack.Channel,
		})
		if err != nil {
			return nil, err
		}
		router.Add(sink, notify.Types(cfg.Slack.Events...))
	}
	return router, nil
}

// snapshotQueue persists the in-memory queue after events that change it.
func (a *app) snapshotQueue(ev *bus.Event) {
	if !queueEvents[ev.Type] {
		return
	}
	entries := a.engine.Queue().Snapshot()
	rows := make([]store.QueuedEntry, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, store.QueuedEntry{
			CanvasID:     e.CanvasID,
			TargetID:     e.TargetID,
			SourceID:     e.SourceID,
			ConnectionID: e.ConnectionID,
			Summarized:   e.IsSummarized,
			Joined:       len(e.Joined),
			EnqueuedAt:   e.EnqueuedAt,
		})
	}
	if err := a.store.SaveQueueSnapshot(rows); err != nil {
		slog.Warn("Queue snapshot failed", "error", err)
	}
}

// start runs the event bus and the workflow dispatcher, plus the scheduler
// when requested and enabled.
func (a *app) start(ctx context.Context, withScheduler bool) {
	a.goRun("event bus", func() error { return a.events.Dispatch(ctx) })
	a.goRun("workflow dispatcher", func() error { return a.engine.Run(ctx) })
	if withScheduler && a.cfg.Scheduler.Enabled {
		a.goRun("scheduler", func() error { return a.scheduler.Run(ctx) })
	}
}

func (a *app) goRun(name string, fn func() error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Component stopped", "component", name, "error", err)
		}
	}()
}

// settle waits for in-flight turns and propagations, then for the event bus
// to drain, bounded by timeout.
func (a *app) settle(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		a.engine.Wait()
		close(done)
	}()
	deadline := time.After(timeout)
	select {
	case <-done:
	case <-deadline:
		slog.Warn("Workflow still running at shutdown")
		return
	}
	for a.events.Pending() > 0 {
		select {
		case <-deadline:
			return
		case <-time.After(20 * time.Millisecond):
		}
	}
	// The last dequeued event may still be in its subscribers.
	time.Sleep(50 * time.Millisecond)
}

// close waits for started components and releases resources. ctx passed to
// start must already be cancelled.
func (a *app) close() error {
	a.wg.Wait()
	return errors.Join(a.router.Close(), a.store.Close())
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg.Log)
	return cfg, nil
}

func setupLogging(cfg config.LogConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

// resolveTrigger finds a trigger by id or name.
func resolveTrigger(repo canvas.Repository, canvasID, ref string) (canvas.Trigger, error) {
	if t, err := repo.GetTrigger(canvasID, ref); err == nil {
		return t, nil
	}
	for _, t := range repo.ListTriggers(canvasID) {
		if t.Name == ref {
			return t, nil
		}
	}
	return canvas.Trigger{}, fmt.Errorf("trigger %q in canvas %q: %w", ref, canvasID, canvas.ErrTriggerNotFound)
}

// resolveConnection finds a connection by id, or by "source->target" pod names.
func resolveConnection(repo canvas.Repository, canvasID, ref string) (canvas.Connection, error) {
	if c, err := repo.GetConnection(canvasID, ref); err == nil {
		return c, nil
	}
	if from, to, ok := strings.Cut(ref, "->"); ok {
		names := make(map[string]string)
		for _, p := range repo.ListPods(canvasID) {
			names[p.ID] = p.Name
		}
		for _, c := range repo.ListConnections(canvasID) {
			if names[c.SourceID] == strings.TrimSpace(from) && names[c.TargetID] == strings.TrimSpace(to) {
				return c, nil
			}
		}
	}
	return canvas.Connection{}, fmt.Errorf("connection %q in canvas %q: %w", ref, canvasID, canvas.ErrConnectionNotFound)
}

func ensureParent(path string) error {
	return config.EnsureDir(filepath.Dir(path))
}
