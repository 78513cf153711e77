package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/podweave/podweave/internal/bus"
	"github.com/podweave/podweave/internal/canvas"
)

// Propagate runs one connection through the pipeline: decide (ai-decide only),
// collect, generate and admit. Vanished entities end it silently.
func (e *Engine) Propagate(ctx context.Context, conn canvas.Connection) {
	canvasID := conn.CanvasID
	current, err := e.repo.GetConnection(canvasID, conn.ID)
	if err != nil {
		slog.Debug("Propagation dropped: connection gone", "canvas", canvasID, "connection", conn.ID)
		return
	}
	conn = current
	if _, err := e.repo.GetPod(canvasID, conn.TargetID); err != nil {
		slog.Debug("Propagation dropped: target gone", "canvas", canvasID, "target", conn.TargetID)
		return
	}

	arrival := Arrival{
		SourceID:     conn.SourceID,
		TargetID:     conn.TargetID,
		ConnectionID: conn.ID,
		Mode:         conn.Mode,
	}
	if conn.Mode == canvas.ModeAIDecide && !e.decide(ctx, conn) {
		e.collector.Reject(canvasID, arrival)
		return
	}

	batch, ok := e.collect(canvasID, conn, arrival)
	if !ok {
		return
	}
	entry, ok := e.generate(ctx, canvasID, batch)
	if !ok {
		return
	}
	e.admit(ctx, entry)
}

func (e *Engine) decide(ctx context.Context, conn canvas.Connection) bool {
	canvasID := conn.CanvasID
	e.setConnectionStatus(canvasID, conn.ID, canvas.ConnDeciding)
	_ = e.repo.SetDecideStatus(canvasID, conn.ID, canvas.DecidePending, "")
	e.events.Publish(&bus.Event{
		Type:         bus.EventDeciding,
		CanvasID:     canvasID,
		SourceID:     conn.SourceID,
		TargetID:     conn.TargetID,
		ConnectionID: conn.ID,
	})

	if e.decider == nil {
		_ = e.repo.SetDecideStatus(canvasID, conn.ID, canvas.DecideApproved, "no decider configured")
		e.setConnectionStatus(canvasID, conn.ID, canvas.ConnApproved)
		return true
	}

	d, err := e.decider.Decide(ctx, canvasID, conn.SourceID, conn.TargetID)
	switch {
	case err != nil:
		slog.Warn("Decision failed", "connection", conn.ID, "error", err)
		_ = e.repo.SetDecideStatus(canvasID, conn.ID, canvas.DecideError, err.Error())
		e.setConnectionStatus(canvasID, conn.ID, canvas.ConnError)
		e.publishRejected(conn, err.Error())
		return false
	case !d.Approve:
		slog.Info("Propagation rejected", "connection", conn.ID, "reason", d.Reason)
		_ = e.repo.SetDecideStatus(canvasID, conn.ID, canvas.DecideRejected, d.Reason)
		e.setConnectionStatus(canvasID, conn.ID, canvas.ConnRejected)
		e.publishRejected(conn, d.Reason)
		return false
	}
	_ = e.repo.SetDecideStatus(canvasID, conn.ID, canvas.DecideApproved, d.Reason)
	e.setConnectionStatus(canvasID, conn.ID, canvas.ConnApproved)
	return true
}

func (e *Engine) publishRejected(conn canvas.Connection, reason string) {
	e.events.Publish(&bus.Event{
		Type:         bus.EventRejected,
		CanvasID:     conn.CanvasID,
		SourceID:     conn.SourceID,
		TargetID:     conn.TargetID,
		ConnectionID: conn.ID,
		Reason:       reason,
	})
}

// collect reports the arrival and returns the batch once it is complete.
func (e *Engine) collect(canvasID string, conn canvas.Connection, a Arrival) (Batch, bool) {
	batch, state := e.collector.Collect(canvasID, a)
	switch state {
	case CollectWaiting:
		e.setConnectionStatus(canvasID, conn.ID, canvas.ConnWaiting)
		e.events.Publish(&bus.Event{
			Type:         bus.EventJoinWaiting,
			CanvasID:     canvasID,
			SourceID:     conn.SourceID,
			TargetID:     conn.TargetID,
			ConnectionID: conn.ID,
		})
		return Batch{}, false
	case CollectAbsorbed:
		e.setConnectionStatus(canvasID, conn.ID, canvas.ConnIdle)
		e.publishRejected(conn, "join round rejected")
		return Batch{}, false
	}
	return batch, true
}

// generate builds the transfer content of a batch. A joined batch merges one
// section per source. Any source without content abandons the whole batch.
func (e *Engine) generate(ctx context.Context, canvasID string, batch Batch) (Entry, bool) {
	first := batch.Arrivals[0]
	entry := Entry{
		CanvasID:     canvasID,
		TargetID:     batch.TargetID,
		SourceID:     first.SourceID,
		ConnectionID: first.ConnectionID,
		Mode:         first.Mode,
		IsSummarized: true,
	}

	sections := make([]string, 0, len(batch.Arrivals))
	for _, a := range batch.Arrivals {
		content, summarized, ok := e.contentFor(ctx, canvasID, a)
		if !ok {
			e.abandon(canvasID, batch, a)
			return Entry{}, false
		}
		entry.IsSummarized = entry.IsSummarized && summarized
		if len(batch.Arrivals) > 1 {
			entry.Joined = append(entry.Joined, a.ConnectionID)
			content = fmt.Sprintf("## From %s\n\n%s", e.podName(canvasID, a.SourceID), content)
		}
		sections = append(sections, content)
	}
	entry.Content = strings.Join(sections, "\n\n")
	return entry, true
}

// contentFor asks for a target-tailored summary, falling back to the source's
// last assistant message. Direct connections always carry the raw message.
func (e *Engine) contentFor(ctx context.Context, canvasID string, a Arrival) (string, bool, bool) {
	if a.Mode != canvas.ModeDirect && e.summarizer != nil {
		e.holdSummarizing(canvasID, a.SourceID)
		res, err := e.summarizer.SummarizeForTarget(ctx, canvasID, a.SourceID, a.TargetID)
		e.releaseSummarizing(canvasID, a.SourceID)

		if err == nil && res.Success && strings.TrimSpace(res.Summary) != "" {
			return res.Summary, true, true
		}
		reason := "empty summary"
		if err != nil {
			reason = err.Error()
		}
		slog.Warn("Summary failed, using last message", "canvas", canvasID, "source", a.SourceID, "target", a.TargetID, "reason", reason)
		e.events.Publish(&bus.Event{
			Type:         bus.EventSummaryFallback,
			CanvasID:     canvasID,
			SourceID:     a.SourceID,
			TargetID:     a.TargetID,
			ConnectionID: a.ConnectionID,
			Reason:       reason,
		})
	}

	raw, ok := e.transcripts.LastAssistantMessage(canvasID, a.SourceID)
	if !ok || strings.TrimSpace(raw) == "" {
		return "", false, false
	}
	return raw, false, true
}

func (e *Engine) abandon(canvasID string, batch Batch, missing Arrival) {
	slog.Warn("Propagation abandoned: no content", "canvas", canvasID, "source", missing.SourceID, "target", batch.TargetID)
	for _, a := range batch.Arrivals {
		e.setConnectionStatus(canvasID, a.ConnectionID, canvas.ConnIdle)
	}
	e.events.Publish(&bus.Event{
		Type:         bus.EventAbandoned,
		CanvasID:     canvasID,
		SourceID:     missing.SourceID,
		TargetID:     batch.TargetID,
		ConnectionID: missing.ConnectionID,
		Reason:       "no summary and no assistant message",
	})
}

// admit triggers the target when it is eligible and nothing is queued ahead of
// the entry. Otherwise the entry is queued and drained in order.
func (e *Engine) admit(ctx context.Context, entry Entry) {
	if e.queue.Len(entry.CanvasID, entry.TargetID) == 0 && e.IsEligible(entry.CanvasID, entry.TargetID) {
		started := e.StartTurn(ctx, TurnStart{
			CanvasID:      entry.CanvasID,
			PodID:         entry.TargetID,
			Content:       entry.Content,
			SourceID:      entry.SourceID,
			ConnectionIDs: entry.connectionIDs(),
			Origin:        OriginPropagation,
		})
		if started {
			e.publishTriggered(entry.CanvasID, entry.SourceID, entry.TargetID, entry.ConnectionID, OriginPropagation)
			return
		}
	}

	n := e.queue.Enqueue(entry)
	for _, id := range entry.connectionIDs() {
		e.setConnectionStatus(entry.CanvasID, id, canvas.ConnQueued)
	}
	slog.Info("Propagation queued", "canvas", entry.CanvasID, "source", entry.SourceID, "target", entry.TargetID, "depth", n)
	e.events.Publish(&bus.Event{
		Type:         bus.EventQueued,
		CanvasID:     entry.CanvasID,
		SourceID:     entry.SourceID,
		TargetID:     entry.TargetID,
		ConnectionID: entry.ConnectionID,
		Metadata:     map[string]any{"depth": n},
	})
	// The target may have gone idle between the check and the enqueue.
	e.post(event{kind: evIdle, canvasID: entry.CanvasID, podID: entry.TargetID})
}

func (e *Engine) podName(canvasID, podID string) string {
	p, err := e.repo.GetPod(canvasID, podID)
	if err != nil || p.Name == "" {
		return podID
	}
	return p.Name
}
