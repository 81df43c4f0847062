// Package store manages all SQLite persistence for cyclepool.
//
// The scheduler is the only writer. Once per iteration it flushes the
// task state changes, job events and a full snapshot of the task pool, so
// that a restart can rebuild the pool exactly as it was. SQLite runs in
// WAL mode so the CLI can read status and history while a run is live.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/daviddao/cyclepool/pkg/cycling"
	"github.com/daviddao/cyclepool/pkg/model"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// Store manages all SQLite operations with WAL mode for concurrent access.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database and initializes the schema.
func New(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// retryOnContention wraps retryOp from retry.go with the default config.
// All store write operations use this to ride out transient SQLite
// errors while the CLI reads concurrently.
func retryOnContention(fn func() error) error {
	return retryOp(defaultRetryConfig, fn)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS task_states (
		name         TEXT NOT NULL,
		cycle        INTEGER NOT NULL,
		time_created TEXT NOT NULL,
		time_updated TEXT NOT NULL,
		submit_num   INTEGER NOT NULL DEFAULT 0,
		status       TEXT NOT NULL,
		PRIMARY KEY (name, cycle)
	);

	CREATE TABLE IF NOT EXISTS task_pool (
		cycle      INTEGER NOT NULL,
		name       TEXT NOT NULL,
		status     TEXT NOT NULL,
		is_held    INTEGER NOT NULL DEFAULT 0,
		submit_num INTEGER NOT NULL DEFAULT 0,
		satisfied  TEXT NOT NULL DEFAULT '[]',
		outputs    TEXT NOT NULL DEFAULT '[]',
		PRIMARY KEY (name, cycle)
	);

	CREATE TABLE IF NOT EXISTS task_events (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		name       TEXT NOT NULL,
		cycle      INTEGER NOT NULL,
		time       TEXT NOT NULL,
		submit_num INTEGER NOT NULL DEFAULT 0,
		event      TEXT NOT NULL,
		message    TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_task_events_task ON task_events(name, cycle);

	CREATE TABLE IF NOT EXISTS suite_params (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// ---------------------------------------------------------------------------
// Task states
// ---------------------------------------------------------------------------

// PutInsertTaskStates records newly spawned tasks. Rows that already
// exist are left alone.
func (s *Store) PutInsertTaskStates(rows []TaskState) error {
	if len(rows) == 0 {
		return nil
	}
	return retryOnContention(func() error {
		return s.inTx(func(tx *sql.Tx) error {
			stmt, err := tx.Prepare(
				`INSERT OR IGNORE INTO task_states (name, cycle, time_created, time_updated, submit_num, status)
				 VALUES (?, ?, ?, ?, ?, ?)`)
			if err != nil {
				return err
			}
			defer stmt.Close()
			for _, r := range rows {
				if _, err := stmt.Exec(r.Name, int64(r.Point), formatTime(r.Created), formatTime(r.Updated), r.SubmitNum, r.Status.String()); err != nil {
					return fmt.Errorf("insert %s: %w", model.TaskID(r.Name, r.Point), err)
				}
			}
			return nil
		})
	})
}

// PutUpdateTaskStates updates the status and submit number of existing
// task rows.
func (s *Store) PutUpdateTaskStates(rows []TaskState) error {
	if len(rows) == 0 {
		return nil
	}
	return retryOnContention(func() error {
		return s.inTx(func(tx *sql.Tx) error {
			stmt, err := tx.Prepare(
				`UPDATE task_states SET time_updated = ?, submit_num = ?, status = ?
				 WHERE name = ? AND cycle = ?`)
			if err != nil {
				return err
			}
			defer stmt.Close()
			for _, r := range rows {
				if _, err := stmt.Exec(formatTime(r.Updated), r.SubmitNum, r.Status.String(), r.Name, int64(r.Point)); err != nil {
					return fmt.Errorf("update %s: %w", model.TaskID(r.Name, r.Point), err)
				}
			}
			return nil
		})
	})
}

// SelectSubmitNums returns the recorded submit number of each key that
// has a task_states row.
func (s *Store) SelectSubmitNums(keys []TaskKey) (map[TaskKey]int, error) {
	out := make(map[TaskKey]int, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	var (
		conds []string
		args  []any
	)
	for _, k := range keys {
		conds = append(conds, "(name = ? AND cycle = ?)")
		args = append(args, k.Name, int64(k.Point))
	}
	rows, err := s.db.Query(
		`SELECT name, cycle, submit_num FROM task_states WHERE `+strings.Join(conds, " OR "), args...)
	if err != nil {
		return nil, fmt.Errorf("select submit nums: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			k     TaskKey
			cycle int64
			n     int
		)
		if err := rows.Scan(&k.Name, &cycle, &n); err != nil {
			return nil, err
		}
		k.Point = cycling.Point(cycle)
		out[k] = n
	}
	return out, rows.Err()
}

// ListTaskStates returns every task_states row ordered by cycle and name.
func (s *Store) ListTaskStates() ([]TaskState, error) {
	rows, err := s.db.Query(
		`SELECT name, cycle, time_created, time_updated, submit_num, status
		 FROM task_states ORDER BY cycle, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TaskState
	for rows.Next() {
		var (
			r                TaskState
			cycle            int64
			created, updated string
			status           string
		)
		if err := rows.Scan(&r.Name, &cycle, &created, &updated, &r.SubmitNum, &status); err != nil {
			return nil, err
		}
		r.Point = cycling.Point(cycle)
		r.Created = parseTime(created)
		r.Updated = parseTime(updated)
		if r.Status, err = model.ParseStatus(status); err != nil {
			return nil, fmt.Errorf("task %s: %w", model.TaskID(r.Name, r.Point), err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Task pool snapshot
// ---------------------------------------------------------------------------

// PutTaskPool replaces the pool snapshot with rows.
func (s *Store) PutTaskPool(rows []PoolRow) error {
	return retryOnContention(func() error {
		return s.inTx(func(tx *sql.Tx) error {
			if _, err := tx.Exec(`DELETE FROM task_pool`); err != nil {
				return err
			}
			stmt, err := tx.Prepare(
				`INSERT INTO task_pool (cycle, name, status, is_held, submit_num, satisfied, outputs)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`)
			if err != nil {
				return err
			}
			defer stmt.Close()
			for _, r := range rows {
				sat, err := encodeList(r.Satisfied)
				if err != nil {
					return err
				}
				outs, err := encodeList(r.Outputs)
				if err != nil {
					return err
				}
				if _, err := stmt.Exec(int64(r.Point), r.Name, r.Status.String(), boolToInt(r.Held), r.SubmitNum, sat, outs); err != nil {
					return fmt.Errorf("pool row %s: %w", model.TaskID(r.Name, r.Point), err)
				}
			}
			return nil
		})
	})
}

// SelectTaskPool returns the last pool snapshot ordered by cycle and name.
func (s *Store) SelectTaskPool() ([]PoolRow, error) {
	rows, err := s.db.Query(
		`SELECT cycle, name, status, is_held, submit_num, satisfied, outputs
		 FROM task_pool ORDER BY cycle, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PoolRow
	for rows.Next() {
		var (
			r         PoolRow
			cycle     int64
			status    string
			held      int
			sat, outs string
		)
		if err := rows.Scan(&cycle, &r.Name, &status, &held, &r.SubmitNum, &sat, &outs); err != nil {
			return nil, err
		}
		r.Point = cycling.Point(cycle)
		r.Held = held != 0
		if r.Status, err = model.ParseStatus(status); err != nil {
			return nil, fmt.Errorf("pool row %s: %w", model.TaskID(r.Name, r.Point), err)
		}
		if r.Satisfied, err = decodeList(sat); err != nil {
			return nil, fmt.Errorf("pool row %s satisfied: %w", model.TaskID(r.Name, r.Point), err)
		}
		if r.Outputs, err = decodeList(outs); err != nil {
			return nil, fmt.Errorf("pool row %s outputs: %w", model.TaskID(r.Name, r.Point), err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Task events
// ---------------------------------------------------------------------------

// PutTaskEvents appends job and lifecycle events.
func (s *Store) PutTaskEvents(evs []TaskEvent) error {
	if len(evs) == 0 {
		return nil
	}
	return retryOnContention(func() error {
		return s.inTx(func(tx *sql.Tx) error {
			stmt, err := tx.Prepare(
				`INSERT INTO task_events (name, cycle, time, submit_num, event, message)
				 VALUES (?, ?, ?, ?, ?, ?)`)
			if err != nil {
				return err
			}
			defer stmt.Close()
			for _, e := range evs {
				if _, err := stmt.Exec(e.Name, int64(e.Point), formatTime(e.Time), e.SubmitNum, e.Event, e.Message); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// ListTaskEvents returns the most recent events in chronological order.
// An empty id lists events of every task; otherwise only those of the
// task "name.point". limit <= 0 means no limit.
func (s *Store) ListTaskEvents(id string, limit int) ([]TaskEvent, error) {
	q := `SELECT id, name, cycle, time, submit_num, event, COALESCE(message, '') FROM task_events`
	var args []any
	if id != "" {
		name, p, err := model.ParseTaskID(id)
		if err != nil {
			return nil, err
		}
		q += ` WHERE name = ? AND cycle = ?`
		args = append(args, name, int64(p))
	}
	q += ` ORDER BY id DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TaskEvent
	for rows.Next() {
		var (
			e     TaskEvent
			cycle int64
			ts    string
		)
		if err := rows.Scan(&e.ID, &e.Name, &cycle, &ts, &e.SubmitNum, &e.Event, &e.Message); err != nil {
			return nil, err
		}
		e.Point = cycling.Point(cycle)
		e.Time = parseTime(ts)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Suite params
// ---------------------------------------------------------------------------

// SetParam stores a suite-level key/value pair.
func (s *Store) SetParam(key, value string) error {
	return retryOnContention(func() error {
		_, err := s.db.Exec(
			`INSERT INTO suite_params (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			key, value,
		)
		return err
	})
}

// GetParam returns the value stored under key, or ErrNotFound.
func (s *Store) GetParam(key string) (string, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM suite_params WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("param %q: %w", key, ErrNotFound)
	}
	return v, err
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func (s *Store) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func encodeList(items []string) (string, error) {
	if len(items) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeList(s string) ([]string, error) {
	if s == "" || s == "[]" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
