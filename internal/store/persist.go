package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/podweave/podweave/internal/canvas"
)

// SavePod upserts a pod.
func (s *Store) SavePod(p canvas.Pod) error {
	var schedule any
	var enabled bool
	var lastTriggered *time.Time
	if p.Schedule != nil {
		raw, err := json.Marshal(p.Schedule.Frequency)
		if err != nil {
			return fmt.Errorf("encode schedule: %w", err)
		}
		schedule = string(raw)
		enabled = p.Schedule.Enabled
		lastTriggered = p.Schedule.LastTriggeredAt
	}
	var lastActive any
	if !p.LastActiveAt.IsZero() {
		lastActive = formatTime(p.LastActiveAt)
	}

	_, err := s.db.Exec(`INSERT INTO pods (canvas_id, id, name, status, auto_clear, schedule,
			schedule_enabled, schedule_last_triggered_at, last_active_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(canvas_id, id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			auto_clear = excluded.auto_clear,
			schedule = excluded.schedule,
			schedule_enabled = excluded.schedule_enabled,
			schedule_last_triggered_at = excluded.schedule_last_triggered_at,
			last_active_at = excluded.last_active_at,
			updated_at = excluded.updated_at`,
		p.CanvasID, p.ID, p.Name, string(p.Status), p.AutoClear, schedule,
		enabled, nullableTime(lastTriggered), lastActive, formatTime(time.Now()))
	return err
}

// DeletePod removes a pod row. Connections are deleted by the caller.
func (s *Store) DeletePod(canvasID, podID string) error {
	_, err := s.db.Exec(`DELETE FROM pods WHERE canvas_id = ? AND id = ?`, canvasID, podID)
	return err
}

// SaveConnection upserts a connection.
func (s *Store) SaveConnection(c canvas.Connection) error {
	_, err := s.db.Exec(`INSERT INTO connections (canvas_id, id, source_id, source_kind, target_id,
			mode, status, decide_status, decide_reason, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(canvas_id, id) DO UPDATE SET
			source_id = excluded.source_id,
			source_kind = excluded.source_kind,
			target_id = excluded.target_id,
			mode = excluded.mode,
			status = excluded.status,
			decide_status = excluded.decide_status,
			decide_reason = excluded.decide_reason,
			updated_at = excluded.updated_at`,
		c.CanvasID, c.ID, c.SourceID, string(c.SourceKind), c.TargetID,
		string(c.Mode), string(c.Status), string(c.DecideStatus), c.DecideReason, formatTime(time.Now()))
	return err
}

// DeleteConnection removes a connection row.
func (s *Store) DeleteConnection(canvasID, connectionID string) error {
	_, err := s.db.Exec(`DELETE FROM connections WHERE canvas_id = ? AND id = ?`, canvasID, connectionID)
	return err
}

// SaveTrigger upserts a trigger.
func (s *Store) SaveTrigger(t canvas.Trigger) error {
	raw, err := json.Marshal(t.Frequency)
	if err != nil {
		return fmt.Errorf("encode frequency: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO triggers (canvas_id, id, name, frequency, enabled, message,
			last_triggered_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(canvas_id, id) DO UPDATE SET
			name = excluded.name,
			frequency = excluded.frequency,
			enabled = excluded.enabled,
			message = excluded.message,
			last_triggered_at = excluded.last_triggered_at,
			updated_at = excluded.updated_at`,
		t.CanvasID, t.ID, t.Name, string(raw), t.Enabled, t.Message,
		nullableTime(t.LastTriggeredAt), formatTime(time.Now()))
	return err
}

// DeleteTrigger removes a trigger row.
func (s *Store) DeleteTrigger(canvasID, triggerID string) error {
	_, err := s.db.Exec(`DELETE FROM triggers WHERE canvas_id = ? AND id = ?`, canvasID, triggerID)
	return err
}
