// Package workflow turns pod completions into downstream turns: it collects
// sources, generates transfer content, queues work for busy targets and
// clears finished autoClear chains.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/podweave/podweave/internal/bus"
	"github.com/podweave/podweave/internal/canvas"
	"github.com/podweave/podweave/internal/graph"
	"github.com/podweave/podweave/internal/llm"
)

// Transcripts is the transcript surface the pipeline reads and clears.
type Transcripts interface {
	LastAssistantMessage(canvasID, podID string) (string, bool)
	ClearPod(canvasID, podID string) error
}

// Origin says what started a turn.
type Origin string

const (
	OriginSchedule    Origin = "schedule"
	OriginTrigger     Origin = "trigger"
	OriginPropagation Origin = "propagation"
	OriginQueue       Origin = "queue"
	OriginManual      Origin = "manual"
)

// TurnStart describes a turn to launch on an idle pod.
type TurnStart struct {
	CanvasID      string
	PodID         string
	Content       string
	SourceID      string
	TriggerID     string
	ConnectionIDs []string
	Origin        Origin
	// Done runs once the turn has returned, before completion handling.
	Done func()
}

// Options wires the engine's collaborators. Decider and Collector are optional.
type Options struct {
	Repo        canvas.Repository
	Graph       *graph.Index
	Turns       llm.TurnSender
	Summarizer  llm.Summarizer
	Decider     llm.Decider
	Transcripts Transcripts
	Events      bus.Publisher
	Collector   Collector
}

// Engine is the workflow pipeline plus its completion dispatcher.
//
// Every completion, whatever started the turn, goes through one mailbox and is
// handled sequentially by Run. Turns, decisions and summaries run in their own
// goroutines and never block the dispatcher.
type Engine struct {
	repo        canvas.Repository
	graph       *graph.Index
	turns       llm.TurnSender
	summarizer  llm.Summarizer
	decider     llm.Decider
	transcripts Transcripts
	events      bus.Publisher
	collector   Collector

	queue   *Queue
	tracker *Tracker
	mail    *mailbox

	// work counts mailbox events and in-flight goroutines.
	work sync.WaitGroup

	mu          sync.Mutex
	running     map[podKey]TurnStart
	summarizing map[podKey]*summaryHold
}

type summaryHold struct {
	refs  int
	moved bool
}

// NewEngine creates an engine. Run must be running for completions to be handled.
func NewEngine(opts Options) *Engine {
	if opts.Events == nil {
		opts.Events = bus.Nop{}
	}
	if opts.Collector == nil {
		opts.Collector = NewJoinCollector(opts.Graph)
	}
	return &Engine{
		repo:        opts.Repo,
		graph:       opts.Graph,
		turns:       opts.Turns,
		summarizer:  opts.Summarizer,
		decider:     opts.Decider,
		transcripts: opts.Transcripts,
		events:      opts.Events,
		collector:   opts.Collector,
		queue:       NewQueue(),
		tracker:     NewTracker(opts.Graph),
		mail:        newMailbox(),
		running:     make(map[podKey]TurnStart),
		summarizing: make(map[podKey]*summaryHold),
	}
}

// Queue exposes the per-target queue.
func (e *Engine) Queue() *Queue { return e.queue }

// Tracker exposes the terminal completion tracker.
func (e *Engine) Tracker() *Tracker { return e.tracker }

// Run processes completion events until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("Workflow dispatcher started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("Workflow dispatcher stopped")
			return ctx.Err()
		case <-e.mail.signal:
			for _, ev := range e.mail.take() {
				e.handle(ctx, ev)
				e.work.Done()
			}
		}
	}
}

// Wait blocks until no turn, propagation or completion event is outstanding.
func (e *Engine) Wait() {
	e.work.Wait()
}

func (e *Engine) post(ev event) {
	e.work.Add(1)
	e.mail.push(ev)
}

func (e *Engine) spawn(fn func()) {
	e.work.Add(1)
	go func() {
		defer e.work.Done()
		fn()
	}()
}

// OnPodCompleted is the single re-entry point for a finished turn, whatever
// started it. Safe to call from any goroutine.
func (e *Engine) OnPodCompleted(canvasID, podID string) {
	e.post(event{kind: evCompleted, canvasID: canvasID, podID: podID})
}

// IsEligible reports whether a pod and every pod in its auto closure are idle.
// Pods that no longer exist are ignored in the closure.
func (e *Engine) IsEligible(canvasID, podID string) bool {
	p, err := e.repo.GetPod(canvasID, podID)
	if err != nil || !p.Idle() {
		return false
	}
	for id := range e.graph.DownstreamClosure(canvasID, podID, graph.AutoEdges) {
		q, err := e.repo.GetPod(canvasID, id)
		if err != nil {
			continue
		}
		if !q.Idle() {
			return false
		}
	}
	return true
}

// StartTurn moves an idle pod to chatting and dispatches content to it in the
// background. It returns false when the pod was not idle.
func (e *Engine) StartTurn(ctx context.Context, ts TurnStart) bool {
	return e.startTurnFrom(ctx, ts, canvas.PodIdle)
}

func (e *Engine) startTurnFrom(ctx context.Context, ts TurnStart, from canvas.PodStatus) bool {
	ok, err := e.repo.TransitionPodStatus(ts.CanvasID, ts.PodID, from, canvas.PodChatting)
	if err != nil || !ok {
		return false
	}
	e.publishPodStatus(ts.CanvasID, ts.PodID, canvas.PodChatting)
	for _, id := range ts.ConnectionIDs {
		e.setConnectionStatus(ts.CanvasID, id, canvas.ConnActive)
	}

	e.mu.Lock()
	e.running[podKey{ts.CanvasID, ts.PodID}] = ts
	e.mu.Unlock()

	slog.Debug("Turn started", "canvas", ts.CanvasID, "pod", ts.PodID, "origin", ts.Origin)
	e.spawn(func() {
		_, err := e.turns.SendTurn(ctx, llm.TurnRequest{
			CanvasID: ts.CanvasID,
			PodID:    ts.PodID,
			Content:  ts.Content,
			SourceID: ts.SourceID,
		}, func(ev llm.TurnEvent) {
			e.events.Publish(&bus.Event{
				Type:     bus.EventTurnStream,
				CanvasID: ts.CanvasID,
				PodID:    ts.PodID,
				Status:   string(ev.Kind),
				Reason:   ev.Err,
			})
		})
		if ts.Done != nil {
			ts.Done()
		}
		e.post(event{kind: evCompleted, canvasID: ts.CanvasID, podID: ts.PodID, err: err})
	})
	return true
}

func (e *Engine) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case evCompleted:
		if ev.err != nil {
			e.handleFailure(ctx, ev)
			return
		}
		e.handleCompletion(ctx, ev.canvasID, ev.podID)
	case evIdle:
		e.drainEligible(ctx, ev.canvasID)
	}
}

func (e *Engine) takeRunning(canvasID, podID string) (TurnStart, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := podKey{canvasID, podID}
	ts, ok := e.running[k]
	delete(e.running, k)
	return ts, ok
}

// handleFailure marks the pod as errored and hands it the next queued entry,
// so one failed dispatch does not stall the chain. The failure is not counted
// as a terminal completion.
func (e *Engine) handleFailure(ctx context.Context, ev event) {
	ts, _ := e.takeRunning(ev.canvasID, ev.podID)
	slog.Warn("Turn dispatch failed", "canvas", ev.canvasID, "pod", ev.podID, "error", ev.err)

	if err := e.repo.SetPodStatus(ev.canvasID, ev.podID, canvas.PodError); err != nil {
		if !canvas.IsNotFound(err) {
			slog.Warn("Pod status update failed", "pod", ev.podID, "error", err)
		}
		return
	}
	e.publishPodStatus(ev.canvasID, ev.podID, canvas.PodError)
	for _, id := range ts.ConnectionIDs {
		e.setConnectionStatus(ev.canvasID, id, canvas.ConnError)
	}
	e.events.Publish(&bus.Event{
		Type:     bus.EventDispatchFailed,
		CanvasID: ev.canvasID,
		PodID:    ev.podID,
		SourceID: ts.SourceID,
		TargetID: ev.podID,
		Reason:   ev.err.Error(),
	})

	if next, ok := e.queue.DrainNext(ev.canvasID, ev.podID); ok {
		if !e.admitQueued(ctx, next, canvas.PodError) {
			e.queue.pushFront(next)
		}
	}
	e.drainEligible(ctx, ev.canvasID)
}

// handleCompletion runs the completion steps in order: idle, tracking,
// propagation, terminal accounting, cascade clear, draining.
func (e *Engine) handleCompletion(ctx context.Context, canvasID, podID string) {
	ts, _ := e.takeRunning(canvasID, podID)

	pod, err := e.repo.GetPod(canvasID, podID)
	if err != nil {
		slog.Debug("Completed pod vanished", "canvas", canvasID, "pod", podID)
		return
	}
	if moved, _ := e.repo.TransitionPodStatus(canvasID, podID, canvas.PodChatting, canvas.PodIdle); moved {
		e.publishPodStatus(canvasID, podID, canvas.PodIdle)
	}
	for _, id := range ts.ConnectionIDs {
		e.setConnectionStatus(canvasID, id, canvas.ConnIdle)
	}

	if pod.AutoClear && e.graph.HasOutgoing(canvasID, podID, graph.AutoEdges) {
		if terminals := e.tracker.FindTerminalPods(canvasID, podID); len(terminals) > 0 {
			e.tracker.InitializeTracking(canvasID, podID, terminals)
			slog.Debug("Chain tracking started", "canvas", canvasID, "source", podID, "terminals", terminals)
		}
	}

	for _, c := range e.graph.Outgoing(canvasID, podID) {
		if !c.FromPod() || c.Mode == canvas.ModeDirect {
			continue
		}
		conn := c
		e.holdSummarizing(canvasID, podID)
		e.spawn(func() {
			defer e.releaseSummarizing(canvasID, podID)
			e.Propagate(ctx, conn)
		})
	}

	for _, chain := range e.tracker.RecordCompletion(canvasID, podID) {
		e.clearChain(chain)
	}

	e.drainNext(ctx, canvasID, podID)
	e.drainEligible(ctx, canvasID)
}

func (e *Engine) clearChain(chain Chain) {
	for _, id := range chain.Members {
		if err := e.transcripts.ClearPod(chain.CanvasID, id); err != nil {
			slog.Warn("Transcript clear failed", "canvas", chain.CanvasID, "pod", id, "error", err)
		}
	}
	slog.Info("Chain cleared", "canvas", chain.CanvasID, "source", chain.SourceID, "pods", chain.Members)
	e.events.Publish(&bus.Event{
		Type:     bus.EventChainCleared,
		CanvasID: chain.CanvasID,
		SourceID: chain.SourceID,
		PodIDs:   chain.Members,
	})
}

// drainNext hands the oldest queued entry to targetID if it is eligible.
func (e *Engine) drainNext(ctx context.Context, canvasID, targetID string) bool {
	if e.queue.Len(canvasID, targetID) == 0 || !e.IsEligible(canvasID, targetID) {
		return false
	}
	next, ok := e.queue.DrainNext(canvasID, targetID)
	if !ok {
		return false
	}
	if !e.admitQueued(ctx, next, canvas.PodIdle) {
		e.queue.pushFront(next)
		return false
	}
	return true
}

// drainEligible gives every queued target of the canvas one chance to drain.
func (e *Engine) drainEligible(ctx context.Context, canvasID string) {
	for _, target := range e.queue.Targets(canvasID) {
		e.drainNext(ctx, canvasID, target)
	}
}

func (e *Engine) admitQueued(ctx context.Context, next Entry, from canvas.PodStatus) bool {
	if _, err := e.repo.GetPod(next.CanvasID, next.TargetID); err != nil {
		// Target vanished while waiting; drop the entry.
		return true
	}
	ok := e.startTurnFrom(ctx, TurnStart{
		CanvasID:      next.CanvasID,
		PodID:         next.TargetID,
		Content:       next.Content,
		SourceID:      next.SourceID,
		ConnectionIDs: next.connectionIDs(),
		Origin:        OriginQueue,
	}, from)
	if ok {
		e.publishTriggered(next.CanvasID, next.SourceID, next.TargetID, next.ConnectionID, OriginQueue)
	}
	return ok
}

// FireConnection fires one pod-sourced connection by hand. It is the only way
// a direct connection propagates.
func (e *Engine) FireConnection(ctx context.Context, canvasID, connectionID string) error {
	conn, err := e.repo.GetConnection(canvasID, connectionID)
	if err != nil {
		return err
	}
	if !conn.FromPod() {
		return fmt.Errorf("connection %s starts at a trigger, fire the trigger instead", connectionID)
	}
	if _, err := e.repo.GetPod(canvasID, conn.SourceID); err != nil {
		return err
	}
	e.holdSummarizing(canvasID, conn.SourceID)
	e.spawn(func() {
		defer e.releaseSummarizing(canvasID, conn.SourceID)
		e.Propagate(ctx, conn)
	})
	return nil
}

// ResetWorkflow drops queued work, open join rounds and chain tracking of a
// canvas, and returns connections and errored pods to idle.
func (e *Engine) ResetWorkflow(canvasID string) error {
	queued := e.queue.ClearCanvas(canvasID)
	joins := e.collector.ClearCanvas(canvasID)
	chains := e.tracker.ClearCanvas(canvasID)

	var errs []error
	for _, c := range e.repo.ListConnections(canvasID) {
		if c.Status == canvas.ConnIdle && c.DecideStatus == canvas.DecideNone {
			continue
		}
		if err := e.repo.UpdateConnectionStatus(canvasID, c.ID, canvas.ConnIdle); err != nil && !canvas.IsNotFound(err) {
			errs = append(errs, err)
		}
		if err := e.repo.SetDecideStatus(canvasID, c.ID, canvas.DecideNone, ""); err != nil && !canvas.IsNotFound(err) {
			errs = append(errs, err)
		}
	}
	for _, p := range e.repo.ListPods(canvasID) {
		if p.Status != canvas.PodError {
			continue
		}
		if _, err := e.repo.TransitionPodStatus(canvasID, p.ID, canvas.PodError, canvas.PodIdle); err != nil && !canvas.IsNotFound(err) {
			errs = append(errs, err)
		}
	}

	slog.Info("Workflow reset", "canvas", canvasID, "queued", queued, "joins", joins, "chains", chains)
	e.events.Publish(&bus.Event{
		Type:     bus.EventWorkflowReset,
		CanvasID: canvasID,
		Metadata: map[string]any{"queued": queued, "joins": joins, "chains": chains},
	})
	return errors.Join(errs...)
}

// holdSummarizing marks a source pod as summarizing while at least one of its
// propagations is generating content. Only an idle pod is moved.
func (e *Engine) holdSummarizing(canvasID, podID string) {
	e.mu.Lock()
	k := podKey{canvasID, podID}
	h, ok := e.summarizing[k]
	if !ok {
		h = &summaryHold{}
		e.summarizing[k] = h
	}
	h.refs++
	first := h.refs == 1
	e.mu.Unlock()

	if !first {
		return
	}
	moved, _ := e.repo.TransitionPodStatus(canvasID, podID, canvas.PodIdle, canvas.PodSummarizing)
	if moved {
		e.mu.Lock()
		h.moved = true
		e.mu.Unlock()
		e.publishPodStatus(canvasID, podID, canvas.PodSummarizing)
	}
}

func (e *Engine) releaseSummarizing(canvasID, podID string) {
	e.mu.Lock()
	k := podKey{canvasID, podID}
	h, ok := e.summarizing[k]
	if !ok {
		e.mu.Unlock()
		return
	}
	h.refs--
	if h.refs > 0 {
		e.mu.Unlock()
		return
	}
	delete(e.summarizing, k)
	moved := h.moved
	e.mu.Unlock()

	if !moved {
		return
	}
	if back, _ := e.repo.TransitionPodStatus(canvasID, podID, canvas.PodSummarizing, canvas.PodIdle); back {
		e.publishPodStatus(canvasID, podID, canvas.PodIdle)
		e.post(event{kind: evIdle, canvasID: canvasID, podID: podID})
	}
}

func (e *Engine) setConnectionStatus(canvasID, connectionID string, status canvas.ConnectionStatus) {
	if err := e.repo.UpdateConnectionStatus(canvasID, connectionID, status); err != nil {
		if !canvas.IsNotFound(err) {
			slog.Warn("Connection status update failed", "connection", connectionID, "error", err)
		}
		return
	}
	e.events.Publish(&bus.Event{
		Type:         bus.EventConnectionStatus,
		CanvasID:     canvasID,
		ConnectionID: connectionID,
		Status:       string(status),
	})
}

func (e *Engine) publishPodStatus(canvasID, podID string, status canvas.PodStatus) {
	e.events.Publish(&bus.Event{
		Type:     bus.EventPodStatus,
		CanvasID: canvasID,
		PodID:    podID,
		Status:   string(status),
	})
}

func (e *Engine) publishTriggered(canvasID, sourceID, targetID, connectionID string, origin Origin) {
	e.events.Publish(&bus.Event{
		Type:         bus.EventTriggered,
		CanvasID:     canvasID,
		SourceID:     sourceID,
		TargetID:     targetID,
		ConnectionID: connectionID,
		Metadata:     map[string]any{"origin": string(origin)},
	})
}
