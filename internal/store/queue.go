package store

import (
	"fmt"
	"time"
)

// QueuedEntry is one row of the persisted queue snapshot. The snapshot is for
// inspection only; queued content is never restored on startup.
type QueuedEntry struct {
	CanvasID     string    `json:"canvasId"`
	TargetID     string    `json:"targetId"`
	Position     int       `json:"position"`
	SourceID     string    `json:"sourceId"`
	ConnectionID string    `json:"connectionId"`
	Summarized   bool      `json:"summarized"`
	Joined       int       `json:"joined"`
	EnqueuedAt   time.Time `json:"enqueuedAt"`
}

// SaveQueueSnapshot replaces the stored snapshot with entries. Positions are
// assigned per target in slice order.
func (s *Store) SaveQueueSnapshot(entries []QueuedEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM queue_entries`); err != nil {
		return fmt.Errorf("clear queue snapshot: %w", err)
	}
	pos := make(map[[2]string]int)
	for _, e := range entries {
		k := [2]string{e.CanvasID, e.TargetID}
		_, err := tx.Exec(`INSERT INTO queue_entries (canvas_id, target_id, position, source_id,
				connection_id, summarized, joined, enqueued_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.CanvasID, e.TargetID, pos[k], e.SourceID, e.ConnectionID, e.Summarized, e.Joined,
			formatTime(e.EnqueuedAt))
		if err != nil {
			return fmt.Errorf("save queue entry: %w", err)
		}
		pos[k]++
	}
	return tx.Commit()
}

// ListQueue returns the stored snapshot. An empty canvasID lists every canvas.
func (s *Store) ListQueue(canvasID string) ([]QueuedEntry, error) {
	rows, err := s.db.Query(`SELECT canvas_id, target_id, position, source_id, connection_id,
			summarized, joined, enqueued_at
		FROM queue_entries WHERE (? = '' OR canvas_id = ?)
		ORDER BY canvas_id, target_id, position`, canvasID, canvasID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QueuedEntry
	for rows.Next() {
		var e QueuedEntry
		var at string
		if err := rows.Scan(&e.CanvasID, &e.TargetID, &e.Position, &e.SourceID, &e.ConnectionID,
			&e.Summarized, &e.Joined, &at); err != nil {
			return nil, err
		}
		if t := parseTime(at); t != nil {
			e.EnqueuedAt = *t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
