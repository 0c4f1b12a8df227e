package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"sort"
	"time"

	"github.com/lukejkirsten91/riverwalks-sub003/internal/events"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/queue"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/schema"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/store"
)

// Status is a point-in-time snapshot of sync health for UI surfaces.
type Status struct {
	// PendingCount is the number of queued mutations not yet replayed.
	PendingCount int `json:"pending_count"`

	// IsOnline mirrors the connectivity monitor's current belief.
	IsOnline bool `json:"is_online"`

	// IsSyncing is true while a drain pass is in flight.
	IsSyncing bool `json:"is_syncing"`

	// LastError holds the most recent pass failure, or "" after a clean
	// pass.
	LastError string `json:"last_error,omitempty"`
}

// GetSyncStatus reports current sync health. PendingCount is derived from
// the queue, never cached, so it cannot drift from the durable state.
func (e *Engine) GetSyncStatus(ctx context.Context) (Status, error) {
	pending, err := e.queue.Len(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("failed to count pending mutations: %w", err)
	}
	return Status{
		PendingCount: pending,
		IsOnline:     e.monitor.IsOnline(),
		IsSyncing:    e.syncing.Load(),
		LastError:    e.lastError(),
	}, nil
}

// ForceSync re-probes connectivity and, if the probe succeeds, runs a
// full drain pass synchronously.
func (e *Engine) ForceSync(ctx context.Context) error {
	if !e.monitor.CheckNow(ctx) {
		return ErrOffline
	}
	return e.DrainQueue(ctx)
}

// CreateRecord validates and stores a new record, then pushes it to the
// remote store: immediately when online, otherwise via the queue. The
// local write always succeeds or fails on its own; remote failure never
// unwinds it.
func (e *Engine) CreateRecord(ctx context.Context, rec schema.Record) error {
	if rec.Table() == schema.TablePhotos {
		return fmt.Errorf("photos are created via AttachPhoto")
	}
	meta := rec.Meta()
	if meta.LocalID == "" {
		meta.LocalID = schema.NewLocalID(rec.Table())
	}

	if site, ok := rec.(*schema.Site); ok {
		if err := e.applySiteDefaults(ctx, site); err != nil {
			return err
		}
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	meta.Touch()
	if err := e.store.Put(ctx, rec); err != nil {
		return err
	}
	e.markOwnerPending(ctx, rec)

	if err := e.pushCreate(ctx, rec); err != nil {
		return err
	}
	e.emitter.Emit(events.Event{Type: events.DataChanged, At: time.Now()})
	return nil
}

// pushCreate tries the immediate remote create and falls back to the
// queue. The immediate path is skipped when the parent has no server
// identity yet; the queue's FIFO order handles that case.
func (e *Engine) pushCreate(ctx context.Context, rec schema.Record) error {
	meta := rec.Meta()
	if e.monitor.IsOnline() && e.parentResolved(ctx, rec) {
		sr, err := e.remote.Create(ctx, rec.Table(), rec.Payload())
		if err == nil {
			meta.ServerID = sr.ServerID
			meta.Synced = true
			return e.store.Put(ctx, rec)
		}
		e.logger.Printf("Immediate create of %s failed, queuing: %v", meta.LocalID, err)
	}
	return e.queue.Enqueue(ctx, &queue.Entry{
		Op:      queue.OpCreate,
		Table:   rec.Table(),
		LocalID: meta.LocalID,
		Payload: rec.Payload(),
	})
}

// UpdateRecord validates and stores changed field values, then pushes
// them remotely or queues them.
func (e *Engine) UpdateRecord(ctx context.Context, rec schema.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	meta := rec.Meta()
	meta.Touch()
	if err := e.store.Put(ctx, rec); err != nil {
		return err
	}
	e.markOwnerPending(ctx, rec)

	if err := e.pushUpdate(ctx, rec); err != nil {
		return err
	}
	e.emitter.Emit(events.Event{Type: events.DataChanged, At: time.Now()})
	return nil
}

func (e *Engine) pushUpdate(ctx context.Context, rec schema.Record) error {
	meta := rec.Meta()
	if !meta.HasServerID() {
		// The record has not reached the remote store. Its pending create
		// carries the edit (the drain derives payloads from live records);
		// only ensure such a create is actually queued.
		return e.ensureCreateQueued(ctx, rec)
	}

	if e.monitor.IsOnline() && e.parentResolved(ctx, rec) {
		if _, err := e.remote.Update(ctx, rec.Table(), meta.ServerID, rec.Payload()); err == nil {
			meta.Synced = true
			return e.store.Put(ctx, rec)
		} else {
			e.logger.Printf("Immediate update of %s failed, queuing: %v", meta.LocalID, err)
		}
	}
	return e.queue.Enqueue(ctx, &queue.Entry{
		Op:      queue.OpUpdate,
		Table:   rec.Table(),
		LocalID: meta.LocalID,
		Payload: rec.Payload(),
	})
}

func (e *Engine) ensureCreateQueued(ctx context.Context, rec schema.Record) error {
	meta := rec.Meta()
	queued, err := e.queue.HasEntryFor(ctx, meta.LocalID)
	if err != nil {
		return err
	}
	if queued {
		return nil
	}
	return e.queue.Enqueue(ctx, &queue.Entry{
		Op:      queue.OpCreate,
		Table:   rec.Table(),
		LocalID: meta.LocalID,
		Payload: rec.Payload(),
	})
}

// DeleteRecord destroys a record and its descendants locally and queues
// the corresponding remote deletes, children before parents. Deleting a
// site renumbers its surviving siblings.
func (e *Engine) DeleteRecord(ctx context.Context, t schema.Table, id string) error {
	rec, err := e.store.Get(ctx, t, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	victims, err := e.collectSubtree(ctx, rec)
	if err != nil {
		return err
	}

	// Children first, so no remote parent row ever outlives a dangling
	// child reference on our account.
	for i := len(victims) - 1; i >= 0; i-- {
		if err := e.destroyOne(ctx, victims[i]); err != nil {
			return err
		}
	}

	switch v := rec.(type) {
	case *schema.Site:
		if err := e.renumberSiblings(ctx, v); err != nil {
			return err
		}
		e.markOwnerPending(ctx, rec)
	case *schema.MeasurementPoint, *schema.Photo:
		e.markOwnerPending(ctx, rec)
	}

	e.emitter.Emit(events.Event{Type: events.DataChanged, At: time.Now()})
	return nil
}

// collectSubtree returns rec and its descendants in parent-before-child
// order.
func (e *Engine) collectSubtree(ctx context.Context, rec schema.Record) ([]schema.Record, error) {
	out := []schema.Record{rec}
	switch rec.Table() {
	case schema.TableWalks:
		sites, err := e.store.ListByParent(ctx, schema.TableSites, refsOf(rec)...)
		if err != nil {
			return nil, err
		}
		for _, site := range sites {
			sub, err := e.collectSubtree(ctx, site)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
	case schema.TableSites:
		for _, child := range []schema.Table{schema.TablePoints, schema.TablePhotos} {
			recs, err := e.store.ListByParent(ctx, child, refsOf(rec)...)
			if err != nil {
				return nil, err
			}
			out = append(out, recs...)
		}
	}
	return out, nil
}

// destroyOne removes one record locally and queues its remote delete. A
// record that never reached the remote store needs no delete entry; any
// still-pending create for it is dropped during the next drain when the
// record turns up missing.
func (e *Engine) destroyOne(ctx context.Context, rec schema.Record) error {
	meta := rec.Meta()
	if err := e.store.Delete(ctx, rec.Table(), meta.LocalID); err != nil {
		return err
	}
	if rec.Table() == schema.TablePhotos {
		if err := e.blobs.Delete(meta.LocalID); err != nil {
			e.logger.Printf("Failed to delete photo binary %s: %v", meta.LocalID, err)
		}
	}
	if !meta.HasServerID() {
		return nil
	}

	if e.monitor.IsOnline() {
		if err := e.remote.Delete(ctx, rec.Table(), meta.ServerID); err == nil {
			return nil
		} else {
			e.logger.Printf("Immediate delete of %s failed, queuing: %v", meta.LocalID, err)
		}
	}
	return e.queue.Enqueue(ctx, &queue.Entry{
		Op:      queue.OpDelete,
		Table:   rec.Table(),
		LocalID: meta.LocalID,
		Payload: map[string]any{"server_id": meta.ServerID},
	})
}

// renumberSiblings closes the numbering gap a deleted site leaves behind
// and pushes the shifted siblings remotely.
func (e *Engine) renumberSiblings(ctx context.Context, deleted *schema.Site) error {
	walkRefs, err := e.bothRefs(ctx, schema.TableWalks, deleted.RiverWalkID)
	if err != nil {
		return err
	}
	shifted, err := e.rules.RenumberAfterDelete(ctx, walkRefs, deleted.Number)
	if err != nil {
		return err
	}
	for _, site := range shifted {
		if err := e.pushUpdate(ctx, site); err != nil {
			return err
		}
	}
	return nil
}

// applySiteDefaults assigns the next free site number and the matching
// default name when the caller left them unset.
func (e *Engine) applySiteDefaults(ctx context.Context, site *schema.Site) error {
	if site.Number == 0 {
		walkRefs, err := e.bothRefs(ctx, schema.TableWalks, site.RiverWalkID)
		if err != nil {
			return err
		}
		siblings, err := e.store.ListByParent(ctx, schema.TableSites, walkRefs...)
		if err != nil {
			return err
		}
		max := 0
		for _, rec := range siblings {
			if s, ok := rec.(*schema.Site); ok && s.Number > max {
				max = s.Number
			}
		}
		site.Number = max + 1
	}
	if site.Name == "" {
		site.Name = schema.DefaultSiteName(site.Number)
	}
	return nil
}

// markOwnerPending flags the enclosing walk as having local changes the
// remote store has not seen. Best effort; a failure here never blocks the
// user's write.
func (e *Engine) markOwnerPending(ctx context.Context, rec schema.Record) {
	walkRef := ""
	switch v := rec.(type) {
	case *schema.Site:
		walkRef = v.RiverWalkID
	case *schema.MeasurementPoint:
		site, err := e.store.Get(ctx, schema.TableSites, v.SiteID)
		if err == nil {
			walkRef = site.(*schema.Site).RiverWalkID
		}
	case *schema.Photo:
		site, err := e.store.Get(ctx, schema.TableSites, v.OwnerID)
		if err == nil {
			walkRef = site.(*schema.Site).RiverWalkID
		}
	}
	if walkRef == "" {
		return
	}
	if err := e.rules.MarkWalkPending(ctx, walkRef); err != nil {
		e.logger.Printf("Failed to mark walk %s pending: %v", walkRef, err)
	}
}

// parentResolved reports whether the record's parent reference is usable
// on the wire: either absent or already a server identity.
func (e *Engine) parentResolved(ctx context.Context, rec schema.Record) bool {
	ref := rec.ParentRef()
	if ref == "" || !schema.IsLocalID(ref) {
		return true
	}
	parentTable, err := parentTableOf(rec.Table())
	if err != nil {
		return false
	}
	parent, err := e.store.Get(ctx, parentTable, ref)
	if err != nil || !parent.Meta().HasServerID() {
		return false
	}
	schema.SetParentRef(rec, parent.Meta().ServerID)
	return true
}

// AttachPhoto stores a photo binary, creates its record, points the
// owning site at it, and queues the upload. When online the upload also
// starts immediately in the background.
func (e *Engine) AttachPhoto(ctx context.Context, ownerRef string, kind schema.PhotoKind, fileName string, r io.Reader) (*schema.Photo, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown photo kind %q", kind)
	}
	rec, err := e.store.Get(ctx, schema.TableSites, ownerRef)
	if err != nil {
		return nil, fmt.Errorf("failed to load photo owner %s: %w", ownerRef, err)
	}
	site := rec.(*schema.Site)

	photo := &schema.Photo{
		SyncMeta:    schema.SyncMeta{LocalID: schema.NewLocalID(schema.TablePhotos)},
		OwnerID:     site.LocalID,
		Kind:        kind,
		FileName:    fileName,
		ContentType: mime.TypeByExtension(filepath.Ext(fileName)),
	}

	size, err := e.blobs.Put(photo.LocalID, r)
	if err != nil {
		return nil, fmt.Errorf("failed to spool photo binary: %w", err)
	}
	photo.SizeBytes = size
	photo.Touch()
	if err := e.store.Put(ctx, photo); err != nil {
		return nil, err
	}

	site.SetPhotoRef(kind, photo.LocalID)
	site.Touch()
	if err := e.store.Put(ctx, site); err != nil {
		return nil, err
	}

	// The queue entry keeps the upload durable across restarts even if
	// the background attempt below never finishes.
	if err := e.queue.Enqueue(ctx, &queue.Entry{
		Op:      queue.OpCreate,
		Table:   schema.TablePhotos,
		LocalID: photo.LocalID,
		Payload: photo.Payload(),
	}); err != nil {
		return nil, err
	}
	e.markOwnerPending(ctx, photo)

	if e.monitor.IsOnline() {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.uploader.Upload(e.ctx, photo.LocalID); err != nil {
				e.logger.Printf("Background upload of %s failed, queue retries: %v", photo.LocalID, err)
			}
		}()
	}

	e.emitter.Emit(events.Event{Type: events.DataChanged, At: time.Now()})
	return photo, nil
}

// ClearAllLocalData wipes the record store, the mutation queue, and the
// photo blob store. Used on sign-out and account switch.
func (e *Engine) ClearAllLocalData(ctx context.Context) error {
	if err := e.store.Clear(ctx); err != nil {
		return err
	}
	if err := e.queue.Clear(ctx); err != nil {
		return err
	}
	if err := e.blobs.Clear(); err != nil {
		return err
	}
	if inv, ok := e.identity.(interface{ Invalidate() }); ok {
		inv.Invalidate()
	}
	e.setLastError("")
	e.emitter.Emit(events.Event{Type: events.DataChanged, At: time.Now()})
	e.logger.Println("Cleared all local data")
	return nil
}

// ListWalks returns all river walks, most recently updated first.
func (e *Engine) ListWalks(ctx context.Context) ([]*schema.RiverWalk, error) {
	recs, err := e.store.ListAll(ctx, schema.TableWalks)
	if err != nil {
		return nil, err
	}
	walks := make([]*schema.RiverWalk, 0, len(recs))
	for _, rec := range recs {
		walks = append(walks, rec.(*schema.RiverWalk))
	}
	sort.Slice(walks, func(i, j int) bool {
		return walks[i].UpdatedAt.After(walks[j].UpdatedAt)
	})
	return walks, nil
}

// ListSites returns a walk's sites ordered by site number.
func (e *Engine) ListSites(ctx context.Context, walkRef string) ([]*schema.Site, error) {
	refs, err := e.bothRefs(ctx, schema.TableWalks, walkRef)
	if err != nil {
		return nil, err
	}
	recs, err := e.store.ListByParent(ctx, schema.TableSites, refs...)
	if err != nil {
		return nil, err
	}
	sites := make([]*schema.Site, 0, len(recs))
	for _, rec := range recs {
		sites = append(sites, rec.(*schema.Site))
	}
	sort.Slice(sites, func(i, j int) bool { return sites[i].Number < sites[j].Number })
	return sites, nil
}

// ListPoints returns a site's measurement points ordered by number.
func (e *Engine) ListPoints(ctx context.Context, siteRef string) ([]*schema.MeasurementPoint, error) {
	refs, err := e.bothRefs(ctx, schema.TableSites, siteRef)
	if err != nil {
		return nil, err
	}
	recs, err := e.store.ListByParent(ctx, schema.TablePoints, refs...)
	if err != nil {
		return nil, err
	}
	points := make([]*schema.MeasurementPoint, 0, len(recs))
	for _, rec := range recs {
		points = append(points, rec.(*schema.MeasurementPoint))
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Number < points[j].Number })
	return points, nil
}

// GetRecord looks a record up by local or server ID.
func (e *Engine) GetRecord(ctx context.Context, t schema.Table, id string) (schema.Record, error) {
	return e.store.Get(ctx, t, id)
}

// bothRefs resolves an ID to the record's local and server identities, so
// child lookups match rows referencing either.
func (e *Engine) bothRefs(ctx context.Context, t schema.Table, id string) ([]string, error) {
	rec, err := e.store.Get(ctx, t, id)
	if errors.Is(err, store.ErrNotFound) {
		return []string{id}, nil
	}
	if err != nil {
		return nil, err
	}
	return refsOf(rec), nil
}

func refsOf(rec schema.Record) []string {
	meta := rec.Meta()
	refs := []string{meta.LocalID}
	if meta.HasServerID() {
		refs = append(refs, meta.ServerID)
	}
	return refs
}
