// Package store persists canvases to SQLite and keeps the propagation run log.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/podweave/podweave/internal/canvas"
)

// Supported database/sql driver names.
const (
	DriverModernc = "sqlite"  // modernc.org/sqlite, pure Go
	DriverCgo     = "sqlite3" // github.com/mattn/go-sqlite3
)

// Schema is applied on every open.
const Schema = `
CREATE TABLE IF NOT EXISTS pods (
	canvas_id TEXT NOT NULL,
	id TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'idle',
	auto_clear BOOLEAN NOT NULL DEFAULT 0,
	schedule TEXT,
	schedule_enabled BOOLEAN NOT NULL DEFAULT 0,
	schedule_last_triggered_at TEXT,
	last_active_at TEXT,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (canvas_id, id)
);

CREATE TABLE IF NOT EXISTS connections (
	canvas_id TEXT NOT NULL,
	id TEXT NOT NULL,
	source_id TEXT NOT NULL,
	source_kind TEXT NOT NULL DEFAULT 'pod',
	target_id TEXT NOT NULL,
	mode TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'idle',
	decide_status TEXT NOT NULL DEFAULT '',
	decide_reason TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL,
	PRIMARY KEY (canvas_id, id)
);
CREATE INDEX IF NOT EXISTS idx_connections_source ON connections(canvas_id, source_id);
CREATE INDEX IF NOT EXISTS idx_connections_target ON connections(canvas_id, target_id);

CREATE TABLE IF NOT EXISTS triggers (
	canvas_id TEXT NOT NULL,
	id TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	frequency TEXT NOT NULL,
	enabled BOOLEAN NOT NULL DEFAULT 1,
	message TEXT NOT NULL DEFAULT '',
	last_triggered_at TEXT,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (canvas_id, id)
);

CREATE TABLE IF NOT EXISTS propagation_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT UNIQUE NOT NULL,
	canvas_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	source_id TEXT NOT NULL DEFAULT '',
	target_id TEXT NOT NULL DEFAULT '',
	connection_id TEXT NOT NULL DEFAULT '',
	trigger_id TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	pod_ids TEXT NOT NULL DEFAULT '[]',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_canvas ON propagation_runs(canvas_id, id);

CREATE TABLE IF NOT EXISTS queue_entries (
	canvas_id TEXT NOT NULL,
	target_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	source_id TEXT NOT NULL DEFAULT '',
	connection_id TEXT NOT NULL DEFAULT '',
	summarized BOOLEAN NOT NULL DEFAULT 0,
	joined INTEGER NOT NULL DEFAULT 0,
	enqueued_at TEXT NOT NULL,
	PRIMARY KEY (canvas_id, target_id, position)
);
`

var _ canvas.Persister = (*Store)(nil)

// Store is the SQLite persistence layer.
type Store struct {
	db     *sql.DB
	driver string
}

// Open opens (creating if needed) the database at path with the given driver.
// An empty driver selects the pure Go driver.
func Open(driver, path string) (*Store, error) {
	var dsn string
	switch driver {
	case "", DriverModernc:
		driver = DriverModernc
		dsn = "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	case DriverCgo:
		dsn = "file:" + path + "?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000"
	default:
		return nil, fmt.Errorf("unknown sqlite driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	// Best-effort migration for databases created before the pod_ids column.
	_, _ = db.Exec(`ALTER TABLE propagation_runs ADD COLUMN pod_ids TEXT NOT NULL DEFAULT '[]'`)
	return &Store{db: db, driver: driver}, nil
}

// Driver returns the database/sql driver in use.
func (s *Store) Driver() string { return s.driver }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load reads every pod, connection and trigger.
func (s *Store) Load() (canvas.Snapshot, error) {
	var snap canvas.Snapshot
	var err error
	if snap.Pods, err = s.loadPods(); err != nil {
		return snap, err
	}
	if snap.Connections, err = s.loadConnections(); err != nil {
		return snap, err
	}
	if snap.Triggers, err = s.loadTriggers(); err != nil {
		return snap, err
	}
	return snap, nil
}

func (s *Store) loadPods() ([]canvas.Pod, error) {
	rows, err := s.db.Query(`SELECT canvas_id, id, name, status, auto_clear,
		COALESCE(schedule, ''), schedule_enabled, COALESCE(schedule_last_triggered_at, ''),
		COALESCE(last_active_at, '')
		FROM pods ORDER BY canvas_id, id`)
	if err != nil {
		return nil, fmt.Errorf("query pods: %w", err)
	}
	defer rows.Close()

	var out []canvas.Pod
	for rows.Next() {
		var p canvas.Pod
		var status, schedule, lastTriggered, lastActive string
		var enabled bool
		if err := rows.Scan(&p.CanvasID, &p.ID, &p.Name, &status, &p.AutoClear,
			&schedule, &enabled, &lastTriggered, &lastActive); err != nil {
			return nil, err
		}
		p.Status = canvas.PodStatus(status)
		if schedule != "" {
			var f canvas.Frequency
			if err := json.Unmarshal([]byte(schedule), &f); err != nil {
				return nil, fmt.Errorf("pod %s schedule: %w", p.ID, err)
			}
			p.Schedule = &canvas.Schedule{Frequency: f, Enabled: enabled, LastTriggeredAt: parseTime(lastTriggered)}
		}
		if t := parseTime(lastActive); t != nil {
			p.LastActiveAt = *t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) loadConnections() ([]canvas.Connection, error) {
	rows, err := s.db.Query(`SELECT canvas_id, id, source_id, source_kind, target_id, mode,
		status, decide_status, decide_reason
		FROM connections ORDER BY canvas_id, id`)
	if err != nil {
		return nil, fmt.Errorf("query connections: %w", err)
	}
	defer rows.Close()

	var out []canvas.Connection
	for rows.Next() {
		var c canvas.Connection
		var kind, mode, status, decide string
		if err := rows.Scan(&c.CanvasID, &c.ID, &c.SourceID, &kind, &c.TargetID, &mode,
			&status, &decide, &c.DecideReason); err != nil {
			return nil, err
		}
		c.SourceKind = canvas.SourceKind(kind)
		c.Mode = canvas.PropagationMode(mode)
		c.Status = canvas.ConnectionStatus(status)
		c.DecideStatus = canvas.DecideStatus(decide)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) loadTriggers() ([]canvas.Trigger, error) {
	rows, err := s.db.Query(`SELECT canvas_id, id, name, frequency, enabled, message,
		COALESCE(last_triggered_at, '')
		FROM triggers ORDER BY canvas_id, id`)
	if err != nil {
		return nil, fmt.Errorf("query triggers: %w", err)
	}
	defer rows.Close()

	var out []canvas.Trigger
	for rows.Next() {
		var t canvas.Trigger
		var freq, last string
		if err := rows.Scan(&t.CanvasID, &t.ID, &t.Name, &freq, &t.Enabled, &t.Message, &last); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(freq), &t.Frequency); err != nil {
			return nil, fmt.Errorf("trigger %s frequency: %w", t.ID, err)
		}
		t.LastTriggeredAt = parseTime(last)
		out = append(out, t)
	}
	return out, rows.Err()
}

// ResetTransientStatus returns pods left chatting or summarizing by a previous
// process to idle and reports how many were reset.
func (s *Store) ResetTransientStatus() (int64, error) {
	res, err := s.db.Exec(`UPDATE pods SET status = 'idle', updated_at = ?
		WHERE status IN ('chatting', 'summarizing')`, formatTime(time.Now()))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Canvases returns the ids of every canvas with at least one pod.
func (s *Store) Canvases() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT canvas_id FROM pods ORDER BY canvas_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// DeleteCanvas removes every row of a canvas, run log included.
func (s *Store) DeleteCanvas(canvasID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for _, table := range []string{"pods", "connections", "triggers", "propagation_runs", "queue_entries"} {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE canvas_id = ?`, canvasID); err != nil {
			tx.Rollback()
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}
