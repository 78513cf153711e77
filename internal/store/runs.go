package store

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/podweave/podweave/internal/bus"
)

// Run is one propagation outcome in the run log.
type Run struct {
	ID           int64     `json:"id"`
	RunID        string    `json:"runId"`
	CanvasID     string    `json:"canvasId"`
	Kind         string    `json:"kind"`
	SourceID     string    `json:"sourceId,omitempty"`
	TargetID     string    `json:"targetId,omitempty"`
	ConnectionID string    `json:"connectionId,omitempty"`
	TriggerID    string    `json:"triggerId,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	PodIDs       []string  `json:"podIds,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// loggedEvents are the outcomes kept in the run log.
var loggedEvents = map[bus.EventType]bool{
	bus.EventScheduleFired:   true,
	bus.EventScheduleSkipped: true,
	bus.EventTriggerFired:    true,
	bus.EventTriggerSkipped:  true,
	bus.EventTriggered:       true,
	bus.EventQueued:          true,
	bus.EventRejected:        true,
	bus.EventAbandoned:       true,
	bus.EventDispatchFailed:  true,
	bus.EventChainCleared:    true,
	bus.EventWorkflowReset:   true,
}

// RecordRun appends a run. Missing RunID and CreatedAt are filled in.
func (s *Store) RecordRun(r Run) error {
	if r.RunID == "" {
		r.RunID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	podIDs, err := json.Marshal(r.PodIDs)
	if err != nil {
		return err
	}
	if r.PodIDs == nil {
		podIDs = []byte("[]")
	}
	_, err = s.db.Exec(`INSERT INTO propagation_runs (run_id, canvas_id, kind, source_id, target_id,
			connection_id, trigger_id, reason, pod_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.CanvasID, r.Kind, r.SourceID, r.TargetID,
		r.ConnectionID, r.TriggerID, r.Reason, string(podIDs), formatTime(r.CreatedAt))
	return err
}

// ListRuns returns the most recent runs of a canvas, newest first.
// An empty canvasID lists every canvas.
func (s *Store) ListRuns(canvasID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT id, run_id, canvas_id, kind, source_id, target_id,
		connection_id, trigger_id, reason, pod_ids, created_at
		FROM propagation_runs
		WHERE ? = '' OR canvas_id = ?
		ORDER BY id DESC LIMIT ?`, canvasID, canvasID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var podIDs, created string
		if err := rows.Scan(&r.ID, &r.RunID, &r.CanvasID, &r.Kind, &r.SourceID, &r.TargetID,
			&r.ConnectionID, &r.TriggerID, &r.Reason, &podIDs, &created); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(podIDs), &r.PodIDs)
		if t := parseTime(created); t != nil {
			r.CreatedAt = *t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordEvent is a bus subscriber that appends outcome events to the run log.
// Other event types are ignored; write errors are logged.
func (s *Store) RecordEvent(ev *bus.Event) {
	if ev == nil || !loggedEvents[ev.Type] {
		return
	}
	err := s.RecordRun(Run{
		CanvasID:     ev.CanvasID,
		Kind:         string(ev.Type),
		SourceID:     ev.SourceID,
		TargetID:     firstNonEmpty(ev.TargetID, ev.PodID),
		ConnectionID: ev.ConnectionID,
		TriggerID:    ev.TriggerID,
		Reason:       ev.Reason,
		PodIDs:       ev.PodIDs,
		CreatedAt:    ev.Timestamp,
	})
	if err != nil {
		slog.Warn("Run log write failed", "kind", ev.Type, "error", err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
