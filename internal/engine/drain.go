package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lukejkirsten91/riverwalks-sub003/internal/events"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/photos"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/queue"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/remote"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/schema"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/store"
)

// errAbortPass stops the current drain without touching remaining entries.
// Raised on auth failures: every later entry would fail the same way.
var errAbortPass = errors.New("sync pass aborted")

// DrainQueue runs one full sync pass: replay queued mutations oldest
// first, then download the authoritative snapshot and reconcile. At most
// one pass runs at a time; a trigger arriving mid-pass is a no-op.
//
// Entry failures are isolated. A failed entry stays queued (transient,
// up to the attempt cap) or is dropped with a sync error on its record
// (validation, corruption); either way the pass moves on. Only an auth
// failure aborts the pass, since every remaining call would be rejected
// identically.
func (e *Engine) DrainQueue(ctx context.Context) error {
	if !e.monitor.IsOnline() {
		return ErrOffline
	}
	if !e.syncing.CompareAndSwap(false, true) {
		e.logger.Println("Sync already in progress, skipping")
		return nil
	}
	defer e.syncing.Store(false)

	e.emitter.Emit(events.Event{Type: events.SyncStarted, At: time.Now()})

	entries, err := e.queue.PeekAll(ctx)
	if err != nil {
		e.setLastError(err.Error())
		return fmt.Errorf("failed to read queue: %w", err)
	}

	// Server IDs assigned earlier in this pass, so a child created after
	// its parent resolves the reference without a second pass.
	idMap := make(map[string]string)
	var permanent bool

	for i := range entries {
		err := e.processEntry(ctx, &entries[i], idMap)
		if err == nil {
			continue
		}
		if errors.Is(err, errAbortPass) {
			e.setLastError("authentication failed")
			e.emitter.Emit(events.Event{Type: events.SyncFailed, Reason: "auth", At: time.Now()})
			return fmt.Errorf("sync pass aborted: authentication failed")
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		// Entry-level failure already handled (retry or drop); note
		// whether it was permanent and keep going.
		if remote.IsValidation(err) {
			permanent = true
		}
		e.logger.Printf("Entry %d (%s %s %s) failed: %v",
			entries[i].ID, entries[i].Op, entries[i].Table, entries[i].LocalID, err)
	}

	if err := e.Reconcile(ctx); err != nil {
		// The local store is left as-is; the next trigger retries the
		// whole pass.
		e.logger.Printf("Reconciliation failed: %v", err)
		e.setLastError(err.Error())
		e.emitter.Emit(events.Event{Type: events.SyncFailed, Reason: "reconcile", At: time.Now()})
		return fmt.Errorf("reconciliation failed: %w", err)
	}

	if permanent {
		e.emitter.Emit(events.Event{Type: events.SyncFailed, Reason: "validation", At: time.Now()})
	} else {
		e.setLastError("")
	}
	e.emitter.Emit(events.Event{Type: events.SyncCompleted, At: time.Now()})
	return nil
}

// processEntry replays one queued mutation. A nil return means the entry
// was resolved (sent, or discarded as moot); a non-nil return means it
// failed and was dispositioned (kept for retry, or dropped).
func (e *Engine) processEntry(ctx context.Context, entry *queue.Entry, idMap map[string]string) error {
	rec, err := e.store.Get(ctx, entry.Table, entry.LocalID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if entry.Op == queue.OpDelete {
			// Expected: the record is destroyed locally at delete time.
			rec = nil
		} else {
			// Corruption: a create or update whose record vanished. The
			// entry can never succeed, so drop it.
			e.logger.Printf("Dropping %s entry for missing record %s/%s",
				entry.Op, entry.Table, entry.LocalID)
			return e.queue.Remove(ctx, entry.ID)
		}
	case err != nil:
		return fmt.Errorf("failed to load record for entry %d: %w", entry.ID, err)
	}

	switch entry.Op {
	case queue.OpCreate:
		err = e.replayCreate(ctx, entry, rec, idMap)
	case queue.OpUpdate:
		err = e.replayUpdate(ctx, entry, rec, idMap)
	case queue.OpDelete:
		err = e.replayDelete(ctx, entry)
	default:
		e.logger.Printf("Dropping entry %d with unknown op %q", entry.ID, entry.Op)
		return e.queue.Remove(ctx, entry.ID)
	}
	if err != nil {
		return e.dispositionFailure(ctx, entry, rec, err)
	}
	return nil
}

func (e *Engine) replayCreate(ctx context.Context, entry *queue.Entry, rec schema.Record, idMap map[string]string) error {
	if entry.Table == schema.TablePhotos {
		return e.replayPhotoCreate(ctx, entry, rec)
	}

	meta := rec.Meta()
	if meta.HasServerID() {
		// Replay of an already-applied create: the record reached the
		// remote store on a previous pass but the entry removal never
		// landed. Resolve without a second remote create.
		idMap[meta.LocalID] = meta.ServerID
		meta.Synced = true
		meta.SyncError = ""
		if err := e.store.Put(ctx, rec); err != nil {
			return err
		}
		return e.queue.Remove(ctx, entry.ID)
	}

	if err := e.resolveParent(ctx, rec, idMap); err != nil {
		return err
	}

	// Payload is derived from the live record, not the enqueue-time
	// snapshot, so edits made while queued ride the create.
	sr, err := e.remote.Create(ctx, entry.Table, rec.Payload())
	if err != nil {
		return err
	}

	meta.ServerID = sr.ServerID
	meta.Synced = true
	meta.SyncError = ""
	idMap[meta.LocalID] = sr.ServerID
	if err := e.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("created remotely but failed to save server ID for %s: %w", meta.LocalID, err)
	}
	return e.queue.Remove(ctx, entry.ID)
}

// replayPhotoCreate hands a queued photo create to the uploader, which
// owns the binary upload protocol and the owner reference patch.
func (e *Engine) replayPhotoCreate(ctx context.Context, entry *queue.Entry, rec schema.Record) error {
	photo := rec.(*schema.Photo)
	if photo.OwnerID != "" && schema.IsLocalID(photo.OwnerID) {
		// Upload needs the owner's server identity for attribution; wait
		// for the owner's create, earlier in the queue, to assign it.
		owner, err := e.store.Get(ctx, schema.TableSites, photo.OwnerID)
		if err == nil && owner.Meta().HasServerID() {
			photo.OwnerID = owner.Meta().ServerID
			if err := e.store.Put(ctx, photo); err != nil {
				return err
			}
		}
	}
	if err := e.uploader.Upload(ctx, entry.LocalID); err != nil {
		return err
	}
	return e.queue.Remove(ctx, entry.ID)
}

func (e *Engine) replayUpdate(ctx context.Context, entry *queue.Entry, rec schema.Record, idMap map[string]string) error {
	meta := rec.Meta()
	if !meta.HasServerID() {
		// Ordering anomaly: an update queued for a record that never
		// reached the remote store. Replace it with a create.
		e.logger.Printf("Update for %s has no server ID, re-queuing as create", meta.LocalID)
		if err := e.queue.Enqueue(ctx, &queue.Entry{
			Op:      queue.OpCreate,
			Table:   entry.Table,
			LocalID: entry.LocalID,
			Payload: rec.Payload(),
		}); err != nil {
			return fmt.Errorf("failed to re-queue %s as create: %w", meta.LocalID, err)
		}
		return e.queue.Remove(ctx, entry.ID)
	}

	if err := e.resolveParent(ctx, rec, idMap); err != nil {
		return err
	}

	if _, err := e.remote.Update(ctx, entry.Table, meta.ServerID, rec.Payload()); err != nil {
		return err
	}

	meta.Synced = true
	meta.SyncError = ""
	if err := e.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("updated remotely but failed to mark %s synced: %w", meta.LocalID, err)
	}
	return e.queue.Remove(ctx, entry.ID)
}

func (e *Engine) replayDelete(ctx context.Context, entry *queue.Entry) error {
	serverID, _ := entry.Payload["server_id"].(string)
	if serverID == "" {
		// The record never reached the remote store; nothing to delete.
		return e.queue.Remove(ctx, entry.ID)
	}
	if err := e.remote.Delete(ctx, entry.Table, serverID); err != nil {
		return err
	}
	return e.queue.Remove(ctx, entry.ID)
}

// resolveParent rewrites the record's parent reference to a server ID
// before the payload goes over the wire. The parent's identity comes from
// this pass's ID map, or from the stored parent record when the parent
// synced on an earlier pass. A parent that still has no server identity
// is a transient condition: the parent's own create is queued ahead and
// a later pass resolves the child.
func (e *Engine) resolveParent(ctx context.Context, rec schema.Record, idMap map[string]string) error {
	ref := rec.ParentRef()
	if ref == "" || !schema.IsLocalID(ref) {
		return nil
	}

	serverID, ok := idMap[ref]
	if !ok {
		parentTable, err := parentTableOf(rec.Table())
		if err != nil {
			return err
		}
		parent, err := e.store.Get(ctx, parentTable, ref)
		if errors.Is(err, store.ErrNotFound) {
			return &remote.Error{
				Kind:    remote.KindValidation,
				Message: fmt.Sprintf("parent %s of %s no longer exists", ref, rec.Meta().LocalID),
			}
		}
		if err != nil {
			return err
		}
		if !parent.Meta().HasServerID() {
			return &remote.Error{
				Kind:    remote.KindTransient,
				Message: fmt.Sprintf("parent %s of %s not yet created remotely", ref, rec.Meta().LocalID),
			}
		}
		serverID = parent.Meta().ServerID
	}

	schema.SetParentRef(rec, serverID)
	return e.store.Put(ctx, rec)
}

func parentTableOf(t schema.Table) (schema.Table, error) {
	switch t {
	case schema.TableSites:
		return schema.TableWalks, nil
	case schema.TablePoints:
		return schema.TableSites, nil
	case schema.TablePhotos:
		return schema.TableSites, nil
	default:
		return "", fmt.Errorf("table %q has no parent", t)
	}
}

// dispositionFailure decides what happens to an entry whose replay
// failed: keep for retry, drop with a sync error, or abort the pass.
func (e *Engine) dispositionFailure(ctx context.Context, entry *queue.Entry, rec schema.Record, cause error) error {
	switch {
	case remote.IsAuth(cause):
		return fmt.Errorf("%w: %v", errAbortPass, cause)

	case remote.IsValidation(cause), errors.Is(cause, photos.ErrBinaryMissing):
		// The entry can never succeed; drop it and surface the failure
		// on the record.
		if err := e.queue.Remove(ctx, entry.ID); err != nil {
			return err
		}
		e.markSyncError(ctx, rec, cause)
		e.setLastError(cause.Error())
		return &remote.Error{Kind: remote.KindValidation, Message: cause.Error(), Err: cause}

	default:
		// Transient (or unclassified, treated as transient). The entry
		// stays queued until the attempt cap.
		attempts, err := e.queue.IncrementAttempts(ctx, entry.ID)
		if err != nil {
			return err
		}
		if attempts >= queue.MaxAttempts {
			e.logger.Printf("Entry %d for %s exhausted %d attempts, dropping",
				entry.ID, entry.LocalID, attempts)
			if err := e.queue.Remove(ctx, entry.ID); err != nil {
				return err
			}
			e.markSyncError(ctx, rec, cause)
		}
		e.setLastError(cause.Error())
		return cause
	}
}

// markSyncError surfaces a dropped entry's failure on its record so the
// caller's UI can show it. Best effort; the record may already be gone.
func (e *Engine) markSyncError(ctx context.Context, rec schema.Record, cause error) {
	if rec == nil {
		return
	}
	meta := rec.Meta()
	meta.Synced = false
	meta.SyncError = cause.Error()
	if err := e.store.Put(ctx, rec); err != nil {
		e.logger.Printf("Failed to record sync error on %s: %v", meta.LocalID, err)
	}
}
