// Package store provides the durable on-device record store.
//
// The store is an embedded SQLite database (WAL mode for concurrent reads)
// holding the four synchronized record kinds as JSON documents alongside
// indexed sync metadata. Records are addressable by either their local ID
// or their server ID; callers that only know one of the two do not need to
// care which they hold.
//
// No transactions span tables. Callers write in dependency order (parent
// before child) and rely on the reconciliation sweep to repair partial
// multi-record writes.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/lukejkirsten91/riverwalks-sub003/internal/schema"
)

// ErrNotFound is returned when no record matches the given identifier.
var ErrNotFound = errors.New("record not found")

// DB wraps the embedded SQLite connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates or opens the store database at the given path.
//
// The database is opened in embedded mode with WAL enabled. The schema is
// created if missing. The caller must Close() when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping store database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.conn.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	if err := db.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection. The mutation queue
// shares this connection so queue entries and records live in one file.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close store database: %w", err)
	}
	db.conn = nil
	return nil
}

func (db *DB) initSchema(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS records (
		table_name  TEXT NOT NULL,
		local_id    TEXT NOT NULL,
		server_id   TEXT,
		parent_ref  TEXT,
		synced      INTEGER NOT NULL DEFAULT 0,
		sync_error  TEXT,
		updated_at  TEXT NOT NULL,
		doc         TEXT NOT NULL,
		PRIMARY KEY (table_name, local_id)
	);

	CREATE INDEX IF NOT EXISTS idx_records_server
	    ON records(table_name, server_id) WHERE server_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_records_parent
	    ON records(table_name, parent_ref);
	CREATE INDEX IF NOT EXISTS idx_records_synced
	    ON records(table_name, synced);
	`
	if _, err := db.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize store schema: %w", err)
	}
	return nil
}

// Put inserts or overwrites a record, keyed by its local ID.
func (db *DB) Put(ctx context.Context, rec schema.Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid %s record: %w", rec.Table(), err)
	}

	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record %s: %w", rec.Meta().LocalID, err)
	}

	meta := rec.Meta()
	query := `
	INSERT INTO records (table_name, local_id, server_id, parent_ref, synced, sync_error, updated_at, doc)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(table_name, local_id) DO UPDATE SET
		server_id  = excluded.server_id,
		parent_ref = excluded.parent_ref,
		synced     = excluded.synced,
		sync_error = excluded.sync_error,
		updated_at = excluded.updated_at,
		doc        = excluded.doc
	`
	_, err = db.conn.ExecContext(ctx, query,
		string(rec.Table()),
		meta.LocalID,
		nullable(meta.ServerID),
		nullable(rec.ParentRef()),
		boolToInt(meta.Synced),
		nullable(meta.SyncError),
		meta.UpdatedAt.Format(time.RFC3339Nano),
		string(doc),
	)
	if err != nil {
		return fmt.Errorf("failed to put record %s: %w", meta.LocalID, err)
	}
	return nil
}

// Get looks up a record by local ID or server ID.
// Returns ErrNotFound if no record matches.
func (db *DB) Get(ctx context.Context, t schema.Table, id string) (schema.Record, error) {
	query := `
	SELECT doc FROM records
	WHERE table_name = ? AND (local_id = ? OR server_id = ?)
	`
	var doc string
	err := db.conn.QueryRowContext(ctx, query, string(t), id, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", id, err)
	}
	return decodeDoc(t, doc)
}

// Delete removes a record by local ID or server ID.
// Deleting a record that does not exist is not an error.
func (db *DB) Delete(ctx context.Context, t schema.Table, id string) error {
	query := `DELETE FROM records WHERE table_name = ? AND (local_id = ? OR server_id = ?)`
	if _, err := db.conn.ExecContext(ctx, query, string(t), id, id); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", id, err)
	}
	return nil
}

// ListByParent returns records in t whose parent reference matches any of
// the given refs. Callers pass both the parent's local and server ID when
// both are known. Results are ordered by updated_at.
func (db *DB) ListByParent(ctx context.Context, t schema.Table, refs ...string) ([]schema.Record, error) {
	var nonEmpty []string
	for _, r := range refs {
		if r != "" {
			nonEmpty = append(nonEmpty, r)
		}
	}
	if len(nonEmpty) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(nonEmpty)), ",")
	query := `
	SELECT doc FROM records
	WHERE table_name = ? AND parent_ref IN (` + placeholders + `)
	ORDER BY updated_at ASC
	`
	args := make([]any, 0, len(nonEmpty)+1)
	args = append(args, string(t))
	for _, r := range nonEmpty {
		args = append(args, r)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s by parent: %w", t, err)
	}
	defer rows.Close()

	return scanRecords(t, rows)
}

// ListAll returns every record in t, ordered by updated_at.
func (db *DB) ListAll(ctx context.Context, t schema.Table) ([]schema.Record, error) {
	query := `SELECT doc FROM records WHERE table_name = ? ORDER BY updated_at ASC`
	rows, err := db.conn.QueryContext(ctx, query, string(t))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", t, err)
	}
	defer rows.Close()

	return scanRecords(t, rows)
}

// CountUnsynced returns how many records across all tables are not yet
// known to match the remote store.
func (db *DB) CountUnsynced(ctx context.Context) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE synced = 0`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unsynced records: %w", err)
	}
	return count, nil
}

// Clear removes every record from every table. Used on sign-out and
// account switch.
func (db *DB) Clear(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return fmt.Errorf("failed to clear records: %w", err)
	}
	return nil
}

func scanRecords(t schema.Table, rows *sql.Rows) ([]schema.Record, error) {
	var out []schema.Record
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec, err := decodeDoc(t, doc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return out, nil
}

func decodeDoc(t schema.Table, doc string) (schema.Record, error) {
	var rec schema.Record
	switch t {
	case schema.TableWalks:
		rec = &schema.RiverWalk{}
	case schema.TableSites:
		rec = &schema.Site{}
	case schema.TablePoints:
		rec = &schema.MeasurementPoint{}
	case schema.TablePhotos:
		rec = &schema.Photo{}
	default:
		return nil, fmt.Errorf("unknown table %q", t)
	}
	if err := json.Unmarshal([]byte(doc), rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s record: %w", t, err)
	}
	return rec, nil
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
