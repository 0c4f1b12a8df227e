// Package queue provides the durable FIFO mutation queue.
//
// Each entry records one pending remote effect (create, update, or delete)
// keyed to a local record. Entries are appended in call order and drained
// in that same order: a child's create can depend on its parent's create
// having already produced a server ID within the same drain pass.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lukejkirsten91/riverwalks-sub003/internal/schema"
)

// MaxAttempts is the retry budget per entry. An entry that fails this many
// drain attempts is dropped and the owning record flagged with a sync
// error; it is never retried again.
const MaxAttempts = 3

// Op is the pending remote operation kind.
type Op string

const (
	// OpCreate creates the record remotely and assigns its server ID.
	OpCreate Op = "create"
	// OpUpdate updates the remote record by server ID.
	OpUpdate Op = "update"
	// OpDelete deletes the remote record by server ID.
	OpDelete Op = "delete"
)

// Valid reports whether op names a known operation.
func (op Op) Valid() bool {
	return op == OpCreate || op == OpUpdate || op == OpDelete
}

// Entry is one pending remote effect.
type Entry struct {
	// ID is assigned on enqueue and orders the queue (FIFO).
	ID int64

	Op      Op
	Table   schema.Table
	LocalID string

	// Payload is the wire payload captured at enqueue time. For deletes it
	// carries the server ID under "server_id" when one was known.
	Payload map[string]any

	EnqueuedAt time.Time
	Attempts   int
}

// Queue is the durable mutation queue, persisted in the same SQLite file
// as the record store.
type Queue struct {
	conn *sql.DB
}

// New wires a queue onto an open store connection, creating its table if
// missing.
func New(conn *sql.DB) (*Queue, error) {
	if conn == nil {
		return nil, fmt.Errorf("conn cannot be nil")
	}
	ddl := `
	CREATE TABLE IF NOT EXISTS sync_queue (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		op          TEXT NOT NULL,
		table_name  TEXT NOT NULL,
		local_id    TEXT NOT NULL,
		payload     TEXT,
		enqueued_at TEXT NOT NULL,
		attempts    INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_queue_local ON sync_queue(local_id);
	`
	if _, err := conn.Exec(ddl); err != nil {
		return nil, fmt.Errorf("failed to initialize queue schema: %w", err)
	}
	return &Queue{conn: conn}, nil
}

// Enqueue appends an entry. The entry's ID and EnqueuedAt are filled in.
func (q *Queue) Enqueue(ctx context.Context, e *Entry) error {
	if !e.Op.Valid() {
		return fmt.Errorf("unknown queue op %q", e.Op)
	}
	if !e.Table.Valid() {
		return fmt.Errorf("unknown table %q", e.Table)
	}
	if e.LocalID == "" {
		return fmt.Errorf("local_id is required")
	}

	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal queue payload: %w", err)
	}
	e.EnqueuedAt = time.Now()

	res, err := q.conn.ExecContext(ctx, `
		INSERT INTO sync_queue (op, table_name, local_id, payload, enqueued_at, attempts)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(e.Op), string(e.Table), e.LocalID, string(payload),
		e.EnqueuedAt.Format(time.RFC3339Nano), e.Attempts,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s for %s: %w", e.Op, e.LocalID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read queue entry id: %w", err)
	}
	e.ID = id
	return nil
}

// PeekAll returns a snapshot of all pending entries in FIFO order.
func (q *Queue) PeekAll(ctx context.Context) ([]Entry, error) {
	rows, err := q.conn.QueryContext(ctx, `
		SELECT id, op, table_name, local_id, payload, enqueued_at, attempts
		FROM sync_queue ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			op, tbl    string
			payload    sql.NullString
			enqueuedAt string
		)
		if err := rows.Scan(&e.ID, &op, &tbl, &e.LocalID, &payload, &enqueuedAt, &e.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		e.Op = Op(op)
		e.Table = schema.Table(tbl)
		if payload.Valid && payload.String != "" && payload.String != "null" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload for entry %d: %w", e.ID, err)
			}
		}
		if t, err := time.Parse(time.RFC3339Nano, enqueuedAt); err == nil {
			e.EnqueuedAt = t
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue: %w", err)
	}
	return entries, nil
}

// Remove deletes an entry by ID. Removing a missing entry is not an error.
func (q *Queue) Remove(ctx context.Context, id int64) error {
	if _, err := q.conn.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove queue entry %d: %w", id, err)
	}
	return nil
}

// RemoveFor deletes every pending entry referencing the given local ID.
// Used when a duplicate record is discarded before its entries replay.
func (q *Queue) RemoveFor(ctx context.Context, localID string) error {
	if _, err := q.conn.ExecContext(ctx, `DELETE FROM sync_queue WHERE local_id = ?`, localID); err != nil {
		return fmt.Errorf("failed to remove queue entries for %s: %w", localID, err)
	}
	return nil
}

// IncrementAttempts bumps an entry's attempt counter and returns the new
// count.
func (q *Queue) IncrementAttempts(ctx context.Context, id int64) (int, error) {
	if _, err := q.conn.ExecContext(ctx,
		`UPDATE sync_queue SET attempts = attempts + 1 WHERE id = ?`, id); err != nil {
		return 0, fmt.Errorf("failed to increment attempts for entry %d: %w", id, err)
	}
	var attempts int
	err := q.conn.QueryRowContext(ctx,
		`SELECT attempts FROM sync_queue WHERE id = ?`, id).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("queue entry %d not found", id)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read attempts for entry %d: %w", id, err)
	}
	return attempts, nil
}

// Len returns the number of pending entries.
func (q *Queue) Len(ctx context.Context) (int, error) {
	var count int
	if err := q.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count queue entries: %w", err)
	}
	return count, nil
}

// HasEntryFor reports whether any pending entry references the given local
// ID. The photo orphan detector uses this to classify dangling references.
func (q *Queue) HasEntryFor(ctx context.Context, localID string) (bool, error) {
	var count int
	err := q.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue WHERE local_id = ?`, localID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check queue for %s: %w", localID, err)
	}
	return count > 0, nil
}

// Clear drops every pending entry. Used on sign-out.
func (q *Queue) Clear(ctx context.Context) error {
	if _, err := q.conn.ExecContext(ctx, `DELETE FROM sync_queue`); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	return nil
}
