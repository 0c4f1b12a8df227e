package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lukejkirsten91/riverwalks-sub003/internal/events"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/schema"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/store"
)

// Reconcile downloads the authoritative snapshot for the signed-in user
// and folds it into the local store, table by table in parent-before-child
// order. Server rows overwrite their local counterparts (the local ID is
// preserved as a lookup alias), rows that disappeared from the server are
// swept, and local-only records are never touched.
//
// Photos are not downloaded: a photo's remote existence is its URL on the
// owning site, which arrives with the sites table.
func (e *Engine) Reconcile(ctx context.Context) error {
	userID, err := e.identity.CurrentUserID(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve current user: %w", err)
	}
	if userID == "" {
		// Signed out: nothing to download, and sweeping against an empty
		// snapshot would destroy everything. Leave the store alone.
		e.logger.Println("No signed-in user, skipping reconciliation")
		return nil
	}

	changed := false
	for _, t := range []schema.Table{schema.TableWalks, schema.TableSites, schema.TablePoints} {
		tableChanged, err := e.reconcileTable(ctx, t, userID)
		if err != nil {
			return fmt.Errorf("failed to reconcile %s: %w", t, err)
		}
		changed = changed || tableChanged
	}

	deduped, err := e.dedupeDownloadedSites(ctx)
	if err != nil {
		return fmt.Errorf("failed to dedupe sites: %w", err)
	}
	changed = changed || deduped

	if changed {
		e.emitter.Emit(events.Event{Type: events.DataChanged, At: time.Now()})
	}
	return nil
}

func (e *Engine) reconcileTable(ctx context.Context, t schema.Table, userID string) (bool, error) {
	rows, err := e.remote.List(ctx, t, map[string]string{"user_id": userID})
	if err != nil {
		return false, err
	}

	changed := false
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		if row.ServerID == "" {
			e.logger.Printf("Skipping %s row with no server ID", t)
			continue
		}
		seen[row.ServerID] = true
		applied, err := e.applyServerRow(ctx, t, row.ServerID, row.Fields)
		if err != nil {
			return changed, err
		}
		changed = changed || applied
	}

	swept, err := e.sweepTombstones(ctx, t, seen)
	if err != nil {
		return changed, err
	}
	return changed || swept, nil
}

// dedupeDownloadedSites collapses local/server copies of the same logical
// site after a download. The classic source is a lost create ack: the site
// exists locally with its create still queued, and the download brings the
// server's copy in as a second record under the same walk and number. The
// server copy wins; the queued entries for the discarded one are dropped so
// the drain does not recreate it.
func (e *Engine) dedupeDownloadedSites(ctx context.Context) (bool, error) {
	walks, err := e.store.ListAll(ctx, schema.TableWalks)
	if err != nil {
		return false, err
	}

	changed := false
	for _, walk := range walks {
		removed, err := e.rules.DedupeSites(ctx, refsOf(walk))
		if err != nil {
			return changed, err
		}
		for _, site := range removed {
			if err := e.queue.RemoveFor(ctx, site.LocalID); err != nil {
				return changed, err
			}
		}
		changed = changed || len(removed) > 0
	}
	return changed, nil
}

// applyServerRow folds one downloaded row into the local store. The server
// copy wins, except over a record whose local edit is still queued; that
// edit has not been pushed yet and overwriting it would silently lose it.
func (e *Engine) applyServerRow(ctx context.Context, t schema.Table, serverID string, fields map[string]any) (bool, error) {
	incoming, err := schema.DecodeRemote(t, serverID, fields)
	if err != nil {
		e.logger.Printf("Skipping undecodable %s row %s: %v", t, serverID, err)
		return false, nil
	}

	existing, err := e.store.Get(ctx, t, serverID)
	switch {
	case err == nil:
		meta := existing.Meta()
		pending, qerr := e.queue.HasEntryFor(ctx, meta.LocalID)
		if qerr != nil {
			return false, qerr
		}
		if pending {
			return false, nil
		}
		// Keep the local ID alias and local-only fields.
		incoming.Meta().LocalID = meta.LocalID
		if walk, ok := existing.(*schema.RiverWalk); ok {
			incoming.(*schema.RiverWalk).HasPendingChanges = walk.HasPendingChanges
		}
	case errors.Is(err, store.ErrNotFound):
		incoming.Meta().LocalID = schema.NewLocalID(t)
	default:
		return false, err
	}

	if err := e.store.Put(ctx, incoming); err != nil {
		return false, err
	}
	return true, nil
}

// sweepTombstones removes local records that carry a server ID the
// download no longer contains: they were deleted from another device.
// Local-only records (no server ID) are never swept.
func (e *Engine) sweepTombstones(ctx context.Context, t schema.Table, seen map[string]bool) (bool, error) {
	locals, err := e.store.ListAll(ctx, t)
	if err != nil {
		return false, err
	}

	swept := false
	for _, rec := range locals {
		meta := rec.Meta()
		if !meta.HasServerID() || seen[meta.ServerID] {
			continue
		}
		e.logger.Printf("Sweeping %s %s (server copy %s gone)", t, meta.LocalID, meta.ServerID)
		if err := e.store.Delete(ctx, t, meta.LocalID); err != nil {
			return swept, err
		}
		swept = true
	}
	return swept, nil
}
