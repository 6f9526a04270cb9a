// Package store provides the durable task queue backing the chimera
// pipeline. Every workflow task is one row in a SQLite database; all
// mutations go through transactional operations so a partially applied
// update is never observable.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	// ioRetries bounds how often a busy database is retried before the
	// failure surfaces as a StorageError.
	ioRetries = 3
	// ioBackoff is the initial retry delay; it doubles per attempt.
	ioBackoff = 50 * time.Millisecond
)

// Store provides access to the chimera queue database.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at the given path.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}

	// Enable WAL mode for better concurrent access.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, &StorageError{Op: "open", Err: fmt.Errorf("set WAL mode: %w", err)}
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, &StorageError{Op: "open", Err: fmt.Errorf("set busy timeout: %w", err)}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, &StorageError{Op: "migrate", Err: err}
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS workflows (
		id           TEXT PRIMARY KEY,
		feature      TEXT NOT NULL,
		target_url   TEXT NOT NULL DEFAULT '',
		priority     INTEGER NOT NULL DEFAULT 0,
		status       TEXT NOT NULL DEFAULT 'QUEUED',
		phase        TEXT NOT NULL DEFAULT 'E2E_TEST_GENERATION',
		context      TEXT NOT NULL DEFAULT '{}',
		retry_count  INTEGER NOT NULL DEFAULT 0,
		created_at   DATETIME NOT NULL,
		updated_at   DATETIME NOT NULL,
		claimed_at   DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_workflows_ready
		ON workflows(status, priority DESC, created_at);

	CREATE TABLE IF NOT EXISTS events (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id     TEXT NOT NULL REFERENCES workflows(id),
		event_type  TEXT NOT NULL,
		content     TEXT DEFAULT '',
		timestamp   DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// retryBusy runs fn, retrying with doubling backoff while SQLite reports a
// locked or busy database. Any error left after the budget is wrapped in a
// StorageError.
func retryBusy(op string, fn func() error) error {
	var err error
	delay := ioBackoff
	for attempt := 0; attempt <= ioRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !isBusy(err) {
			break
		}
		time.Sleep(delay)
		delay *= 2
	}
	return &StorageError{Op: op, Err: err}
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked")
}

// Enqueue inserts a new workflow task with status QUEUED at the entry phase.
// Returns ErrDuplicateTask if the ID is already taken.
func (s *Store) Enqueue(id, feature, targetURL string, priority int) (*WorkflowTask, error) {
	now := time.Now().UTC()

	err := retryBusy("enqueue", func() error {
		_, err := s.db.Exec(
			`INSERT INTO workflows (id, feature, target_url, priority, status, phase, context, retry_count, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, '{}', 0, ?, ?)`,
			id, feature, targetURL, priority,
			string(StatusQueued), string(PhaseTestGeneration), now, now,
		)
		return err
	})
	if err != nil {
		var se *StorageError
		if errors.As(err, &se) && strings.Contains(se.Err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("enqueue %s: %w", id, ErrDuplicateTask)
		}
		return nil, err
	}

	s.AddEvent(id, "enqueued", fmt.Sprintf("Workflow enqueued: %s", feature))

	return &WorkflowTask{
		ID:        id,
		Feature:   feature,
		TargetURL: targetURL,
		Priority:  priority,
		Status:    StatusQueued,
		Phase:     PhaseTestGeneration,
		Context:   map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// taskColumns is the standard column list for workflow queries.
const taskColumns = `id, feature, target_url, priority, status, phase, context, retry_count, created_at, updated_at, claimed_at`

// DequeueReady claims up to limit QUEUED tasks, ordered by priority (highest
// first) then creation time, and marks each RUNNING. The per-row claim is a
// single guarded UPDATE, so concurrent callers never receive the same task.
func (s *Store) DequeueReady(limit int) ([]WorkflowTask, error) {
	if limit <= 0 {
		return nil, nil
	}

	var ids []string
	err := retryBusy("dequeue", func() error {
		rows, err := s.db.Query(
			`SELECT id FROM workflows WHERE status = ?
			 ORDER BY priority DESC, created_at ASC, id ASC LIMIT ?`,
			string(StatusQueued), limit,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		ids = ids[:0]
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var claimed []WorkflowTask
	for _, id := range ids {
		var n int64
		err := retryBusy("claim", func() error {
			res, err := s.db.Exec(
				`UPDATE workflows SET status = ?, claimed_at = ?, updated_at = ?
				 WHERE id = ? AND status = ?`,
				string(StatusRunning), now, now, id, string(StatusQueued),
			)
			if err != nil {
				return err
			}
			n, err = res.RowsAffected()
			return err
		})
		if err != nil {
			return claimed, err
		}
		if n == 0 {
			// Another caller claimed it first.
			continue
		}

		t, err := s.Get(id)
		if err != nil {
			return claimed, err
		}
		claimed = append(claimed, *t)
		s.AddEvent(id, "admitted", "Workflow admitted by executor")
	}
	return claimed, nil
}

// UpdatePhase persists a forward phase transition and merges patch into the
// workflow context. Repeating the stored phase is a no-op; any other
// non-adjacent target returns ErrInvalidTransition. PhaseFailed is reachable
// from every phase.
func (s *Store) UpdatePhase(id string, next Phase, patch map[string]any) error {
	return s.inTx("update phase", func(tx *sql.Tx) error {
		var phaseStr, ctxJSON string
		err := tx.QueryRow(`SELECT phase, context FROM workflows WHERE id = ?`, id).
			Scan(&phaseStr, &ctxJSON)
		if err == sql.ErrNoRows {
			return fmt.Errorf("update phase %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}

		current := Phase(phaseStr)
		if current == next {
			return nil // idempotent repeat
		}
		if current.Terminal() {
			return fmt.Errorf("update phase %s: %s is terminal: %w", id, current, ErrInvalidTransition)
		}
		if next != PhaseFailed {
			succ, ok := current.Next()
			if !ok || succ != next {
				return fmt.Errorf("update phase %s: %s -> %s: %w", id, current, next, ErrInvalidTransition)
			}
		}

		merged, err := mergeContext(ctxJSON, patch)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		_, err = tx.Exec(
			`UPDATE workflows SET phase = ?, context = ?, updated_at = ? WHERE id = ?`,
			string(next), merged, now, id,
		)
		if err != nil {
			return err
		}
		s.addEventTx(tx, id, "phase_advanced", fmt.Sprintf("Phase %s -> %s", current, next))
		return nil
	})
}

// mergeContext merges patch into the stored context JSON. The context is
// append-only: keys already present keep their stored value.
func mergeContext(stored string, patch map[string]any) (string, error) {
	ctx := map[string]any{}
	if stored != "" {
		if err := json.Unmarshal([]byte(stored), &ctx); err != nil {
			return "", fmt.Errorf("decode context: %w", err)
		}
	}
	for k, v := range patch {
		if _, exists := ctx[k]; !exists {
			ctx[k] = v
		}
	}
	out, err := json.Marshal(ctx)
	if err != nil {
		return "", fmt.Errorf("encode context: %w", err)
	}
	return string(out), nil
}

// RecordRetry increments the retry counter and records the last error in the
// workflow context. Returns the new retry count.
func (s *Store) RecordRetry(id string, lastErr string) (int, error) {
	var count int
	err := s.inTx("record retry", func(tx *sql.Tx) error {
		var ctxJSON string
		err := tx.QueryRow(`SELECT retry_count, context FROM workflows WHERE id = ?`, id).
			Scan(&count, &ctxJSON)
		if err == sql.ErrNoRows {
			return fmt.Errorf("record retry %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}

		count++

		// last_error is deliberately overwritten on every retry.
		ctx := map[string]any{}
		if ctxJSON != "" {
			if err := json.Unmarshal([]byte(ctxJSON), &ctx); err != nil {
				return fmt.Errorf("decode context: %w", err)
			}
		}
		ctx["last_error"] = lastErr
		merged, err := json.Marshal(ctx)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		_, err = tx.Exec(
			`UPDATE workflows SET retry_count = ?, context = ?, updated_at = ? WHERE id = ?`,
			count, string(merged), now, id,
		)
		if err != nil {
			return err
		}
		s.addEventTx(tx, id, "retried", fmt.Sprintf("Retry %d: %s", count, lastErr))
		return nil
	})
	return count, err
}

// Complete sets the terminal status for a RUNNING task. Terminal states are
// write-once: completing a task that is not RUNNING returns ErrNotRunning.
func (s *Store) Complete(id string, succeeded bool) error {
	status := StatusCompleted
	event := "completed"
	if !succeeded {
		status = StatusFailed
		event = "failed"
	}

	return s.inTx("complete", func(tx *sql.Tx) error {
		var cur string
		err := tx.QueryRow(`SELECT status FROM workflows WHERE id = ?`, id).Scan(&cur)
		if err == sql.ErrNoRows {
			return fmt.Errorf("complete %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if WorkflowStatus(cur) != StatusRunning {
			return fmt.Errorf("complete %s (status %s): %w", id, cur, ErrNotRunning)
		}

		now := time.Now().UTC()
		_, err = tx.Exec(
			`UPDATE workflows SET status = ?, claimed_at = NULL, updated_at = ? WHERE id = ?`,
			string(status), now, id,
		)
		if err != nil {
			return err
		}
		s.addEventTx(tx, id, event, fmt.Sprintf("Workflow %s", status))
		return nil
	})
}

// Get returns a single workflow task by ID.
func (s *Store) Get(id string) (*WorkflowTask, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM workflows WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, &StorageError{Op: "get", Err: err}
	}
	return t, nil
}

// List returns all workflow tasks, optionally filtered by status, newest
// queued first within priority order.
func (s *Store) List(status WorkflowStatus) ([]WorkflowTask, error) {
	query := `SELECT ` + taskColumns + ` FROM workflows`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY priority DESC, created_at ASC`

	var tasks []WorkflowTask
	err := retryBusy("list", func() error {
		rows, err := s.db.Query(query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		tasks = tasks[:0]
		for rows.Next() {
			t, err := scanTaskRows(rows)
			if err != nil {
				return err
			}
			tasks = append(tasks, *t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// SetPriority re-prioritizes a queued task.
func (s *Store) SetPriority(id string, priority int) error {
	now := time.Now().UTC()
	return retryBusy("set priority", func() error {
		_, err := s.db.Exec(
			`UPDATE workflows SET priority = ?, updated_at = ? WHERE id = ?`,
			priority, now, id,
		)
		return err
	})
}

// ReclaimStale flips RUNNING tasks whose claim is older than olderThan back
// to QUEUED. Called on executor startup so tasks orphaned by a crashed
// worker are re-admitted instead of staying RUNNING forever.
func (s *Store) ReclaimStale(olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	var n int64
	err := retryBusy("reclaim stale", func() error {
		res, err := s.db.Exec(
			`UPDATE workflows SET status = ?, claimed_at = NULL, updated_at = ?
			 WHERE status = ? AND claimed_at IS NOT NULL AND claimed_at < ?`,
			string(StatusQueued), time.Now().UTC(), string(StatusRunning), cutoff,
		)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// AddEvent records an event for a task. Best-effort: audit trail failures
// never fail the operation that produced them.
func (s *Store) AddEvent(taskID, eventType, content string) {
	now := time.Now().UTC()
	s.db.Exec(
		`INSERT INTO events (task_id, event_type, content, timestamp) VALUES (?, ?, ?, ?)`,
		taskID, eventType, content, now,
	)
}

func (s *Store) addEventTx(tx *sql.Tx, taskID, eventType, content string) {
	now := time.Now().UTC()
	tx.Exec(
		`INSERT INTO events (task_id, event_type, content, timestamp) VALUES (?, ?, ?, ?)`,
		taskID, eventType, content, now,
	)
}

// GetEvents returns all events for a task in chronological order.
func (s *Store) GetEvents(taskID string) ([]Event, error) {
	rows, err := s.db.Query(
		`SELECT id, task_id, event_type, content, timestamp FROM events WHERE task_id = ? ORDER BY id`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Type, &e.Content, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// inTx runs fn inside a transaction, retrying the whole transaction while
// the database is busy. Logical errors (ErrNotFound etc.) pass through
// unwrapped.
func (s *Store) inTx(op string, fn func(tx *sql.Tx) error) error {
	run := func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	}

	var err error
	delay := ioBackoff
	for attempt := 0; attempt <= ioRetries; attempt++ {
		if err = run(); err == nil {
			return nil
		}
		if !isBusy(err) {
			return err
		}
		time.Sleep(delay)
		delay *= 2
	}
	return &StorageError{Op: op, Err: err}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInto(sc rowScanner) (*WorkflowTask, error) {
	var t WorkflowTask
	var ctxJSON string
	var claimedAt sql.NullTime
	err := sc.Scan(
		&t.ID, &t.Feature, &t.TargetURL, &t.Priority, &t.Status, &t.Phase,
		&ctxJSON, &t.RetryCount, &t.CreatedAt, &t.UpdatedAt, &claimedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Context = map[string]any{}
	if ctxJSON != "" {
		if err := json.Unmarshal([]byte(ctxJSON), &t.Context); err != nil {
			return nil, fmt.Errorf("decode context: %w", err)
		}
	}
	if claimedAt.Valid {
		at := claimedAt.Time
		t.ClaimedAt = &at
	}
	return &t, nil
}

func scanTask(row *sql.Row) (*WorkflowTask, error) { return scanInto(row) }

func scanTaskRows(rows *sql.Rows) (*WorkflowTask, error) { return scanInto(rows) }
