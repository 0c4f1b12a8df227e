// Package backup writes and restores the local store as JSONL, one
// record per line. Used for device migration and as a safety copy before
// a destructive operation like clearing local data.
package backup

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/lukejkirsten91/riverwalks-sub003/internal/schema"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/store"
)

// line is the JSONL envelope: the table tag plus the record document.
type line struct {
	Table  schema.Table    `json:"table"`
	Record json.RawMessage `json:"record"`
}

// RestoreOptions contains configuration for a restore.
type RestoreOptions struct {
	// DryRun parses and validates without writing to the store.
	DryRun bool

	// ResetSync strips server IDs and synced flags so restored records
	// are treated as never having reached the remote store. Used when
	// restoring onto a different account.
	ResetSync bool
}

// RestoreResult contains statistics about a restore.
type RestoreResult struct {
	RecordsRestored int
	Skipped         []string
}

// Export writes every record of every table to w as JSONL, walks first
// so a restore always sees parents before children.
func Export(ctx context.Context, db *store.DB, w io.Writer) (int, error) {
	enc := json.NewEncoder(w)
	count := 0

	for _, table := range schema.Tables() {
		recs, err := db.ListAll(ctx, table)
		if err != nil {
			return count, fmt.Errorf("failed to list %s: %w", table, err)
		}
		for _, rec := range recs {
			doc, err := json.Marshal(rec)
			if err != nil {
				return count, fmt.Errorf("failed to encode %s/%s: %w", table, rec.Meta().LocalID, err)
			}
			if err := enc.Encode(line{Table: table, Record: doc}); err != nil {
				return count, fmt.Errorf("failed to write backup line: %w", err)
			}
			count++
		}
	}
	return count, nil
}

// Restore reads JSONL from r and writes the records into the store.
// Lines that fail to parse or validate are skipped and reported, never
// fatal; a partially damaged backup restores what it can.
func Restore(ctx context.Context, db *store.DB, r io.Reader, opts RestoreOptions) (*RestoreResult, error) {
	result := &RestoreResult{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var l line
		if err := json.Unmarshal(raw, &l); err != nil {
			result.Skipped = append(result.Skipped, fmt.Sprintf("line %d: invalid JSON: %v", lineNum, err))
			continue
		}

		rec, err := schema.New(l.Table)
		if err != nil {
			result.Skipped = append(result.Skipped, fmt.Sprintf("line %d: unknown table %q", lineNum, l.Table))
			continue
		}
		if err := json.Unmarshal(l.Record, rec); err != nil {
			result.Skipped = append(result.Skipped, fmt.Sprintf("line %d: bad %s record: %v", lineNum, l.Table, err))
			continue
		}

		meta := rec.Meta()
		if meta.LocalID == "" {
			result.Skipped = append(result.Skipped, fmt.Sprintf("line %d: %s record has no local ID", lineNum, l.Table))
			continue
		}
		if opts.ResetSync {
			meta.ServerID = ""
			meta.Synced = false
			meta.SyncError = ""
		}
		if err := rec.Validate(); err != nil {
			result.Skipped = append(result.Skipped, fmt.Sprintf("line %d: invalid %s %s: %v", lineNum, l.Table, meta.LocalID, err))
			continue
		}

		if !opts.DryRun {
			if err := db.Put(ctx, rec); err != nil {
				return result, fmt.Errorf("failed to restore %s/%s: %w", l.Table, meta.LocalID, err)
			}
		}
		result.RecordsRestored++
	}

	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("failed to read backup: %w", err)
	}
	return result, nil
}
