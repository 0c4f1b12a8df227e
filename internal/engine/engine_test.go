package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lukejkirsten91/riverwalks-sub003/internal/connectivity"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/photos"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/queue"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/remote"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/schema"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/store"
)

// fakeRemote is an in-memory remote store with scriptable failures
type fakeRemote struct {
	mu     sync.Mutex
	nextID int
	rows   map[schema.Table]map[string]map[string]any

	createCalls int
	createOrder []schema.Table

	// failWith, when set, is returned by every mutating call
	failWith error
}

func newFakeRemote() *fakeRemote {
	rows := make(map[schema.Table]map[string]map[string]any)
	for _, t := range schema.Tables() {
		rows[t] = make(map[string]map[string]any)
	}
	return &fakeRemote{rows: rows}
}

func (f *fakeRemote) fail(err error) {
	f.mu.Lock()
	f.failWith = err
	f.mu.Unlock()
}

func (f *fakeRemote) Create(ctx context.Context, table schema.Table, payload map[string]any) (remote.ServerRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.failWith != nil {
		return remote.ServerRecord{}, f.failWith
	}
	f.nextID++
	id := fmt.Sprintf("srv-%d", f.nextID)
	f.rows[table][id] = clonePayload(payload)
	f.createOrder = append(f.createOrder, table)
	return remote.ServerRecord{ServerID: id, Fields: clonePayload(payload)}, nil
}

func (f *fakeRemote) Update(ctx context.Context, table schema.Table, serverID string, payload map[string]any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	if _, ok := f.rows[table][serverID]; !ok {
		return nil, &remote.Error{Kind: remote.KindValidation, Status: 404, Message: "no such row"}
	}
	f.rows[table][serverID] = clonePayload(payload)
	return clonePayload(payload), nil
}

func (f *fakeRemote) Delete(ctx context.Context, table schema.Table, serverID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	delete(f.rows[table], serverID)
	return nil
}

func (f *fakeRemote) List(ctx context.Context, table schema.Table, filter map[string]string) ([]remote.ServerRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []remote.ServerRecord
	for id, fields := range f.rows[table] {
		out = append(out, remote.ServerRecord{ServerID: id, Fields: clonePayload(fields)})
	}
	return out, nil
}

func (f *fakeRemote) Upload(ctx context.Context, file io.Reader, kind schema.PhotoKind, ownerID, fileName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return "", f.failWith
	}
	return "https://cdn.example.com/" + fileName, nil
}

func (f *fakeRemote) row(table schema.Table, serverID string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return clonePayload(f.rows[table][serverID])
}

func (f *fakeRemote) rowCount(table schema.Table) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows[table])
}

func clonePayload(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// fixture wires an engine against the fake remote. The monitor starts
// offline; tests flip it with goOnline.
type fixture struct {
	engine  *Engine
	store   *store.DB
	queue   *queue.Queue
	monitor *connectivity.Monitor
	remote  *fakeRemote
	online  *bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	q, err := queue.New(db.RawDB())
	if err != nil {
		t.Fatalf("queue.New() failed: %v", err)
	}
	blobs, err := photos.NewBlobStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBlobStore() failed: %v", err)
	}

	online := false
	monitor, err := connectivity.New(
		func(ctx context.Context) error {
			if online {
				return nil
			}
			return fmt.Errorf("unreachable")
		},
		&connectivity.Config{
			HeartbeatInterval: time.Hour,
			SettleDelay:       0,
			Logger:            log.New(io.Discard, "", 0),
		},
	)
	if err != nil {
		t.Fatalf("connectivity.New() failed: %v", err)
	}

	rs := newFakeRemote()
	identity := remote.TokenFunc(func(ctx context.Context) (string, error) { return "user-1", nil })

	eng, err := New(db, q, monitor, rs, identity, blobs, &Config{
		UploadBackoff: []time.Duration{time.Millisecond},
		Logger:        log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(eng.Stop)

	return &fixture{engine: eng, store: db, queue: q, monitor: monitor, remote: rs, online: &online}
}

func (fx *fixture) goOnline(t *testing.T) {
	t.Helper()
	*fx.online = true
	if !fx.monitor.CheckNow(context.Background()) {
		t.Fatal("monitor did not come online")
	}
}

func (fx *fixture) goOffline() {
	*fx.online = false
	fx.monitor.SignalOffline()
}

func (fx *fixture) createWalk(t *testing.T, name string) *schema.RiverWalk {
	t.Helper()
	rec, _ := schema.New(schema.TableWalks)
	walk := rec.(*schema.RiverWalk)
	walk.Name = name
	walk.WalkDate = time.Date(2026, 7, 2, 0, 0, 0, 0, time.UTC)
	if err := fx.engine.CreateRecord(context.Background(), walk); err != nil {
		t.Fatalf("CreateRecord(walk) failed: %v", err)
	}
	return walk
}

func (fx *fixture) createSite(t *testing.T, walkRef string) *schema.Site {
	t.Helper()
	rec, _ := schema.New(schema.TableSites)
	site := rec.(*schema.Site)
	site.RiverWalkID = walkRef
	if err := fx.engine.CreateRecord(context.Background(), site); err != nil {
		t.Fatalf("CreateRecord(site) failed: %v", err)
	}
	return site
}

func (fx *fixture) createPoint(t *testing.T, siteRef string, number int, dist, depth float64) *schema.MeasurementPoint {
	t.Helper()
	rec, _ := schema.New(schema.TablePoints)
	point := rec.(*schema.MeasurementPoint)
	point.SiteID = siteRef
	point.Number = number
	point.DistanceM = dist
	point.DepthM = depth
	if err := fx.engine.CreateRecord(context.Background(), point); err != nil {
		t.Fatalf("CreateRecord(point) failed: %v", err)
	}
	return point
}

func (fx *fixture) pending(t *testing.T) int {
	t.Helper()
	n, err := fx.queue.Len(context.Background())
	if err != nil {
		t.Fatalf("queue.Len() failed: %v", err)
	}
	return n
}

// TestCreateRecord_OfflineQueues tests the offline write path: local
// store write succeeds and the mutation is queued
func TestCreateRecord_OfflineQueues(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	walk := fx.createWalk(t, "Survey")

	rec, err := fx.store.Get(ctx, schema.TableWalks, walk.LocalID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if rec.Meta().Synced {
		t.Error("offline create marked synced")
	}
	if fx.pending(t) != 1 {
		t.Errorf("pending = %d, want 1", fx.pending(t))
	}
	if fx.remote.createCalls != 0 {
		t.Errorf("remote create called %d times while offline", fx.remote.createCalls)
	}
}

// TestCreateRecord_OnlineImmediate tests the immediate write path
func TestCreateRecord_OnlineImmediate(t *testing.T) {
	fx := newFixture(t)
	fx.goOnline(t)

	walk := fx.createWalk(t, "Survey")

	if !walk.HasServerID() {
		t.Error("online create did not assign a server ID")
	}
	if fx.pending(t) != 0 {
		t.Errorf("pending = %d, want 0", fx.pending(t))
	}
}

// TestCreateRecord_SiteNumbersSpanWalkAliases tests that sites added to an
// already-synced walk by its local ID still number contiguously, even
// though earlier siblings reference the walk by its server ID
func TestCreateRecord_SiteNumbersSpanWalkAliases(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.goOnline(t)

	walk := fx.createWalk(t, "Survey")
	first := fx.createSite(t, walk.LocalID)
	second := fx.createSite(t, walk.LocalID)

	if first.Number != 1 {
		t.Errorf("first site number = %d, want 1", first.Number)
	}
	if second.Number != 2 {
		t.Errorf("second site number = %d, want 2", second.Number)
	}

	sites, err := fx.engine.ListSites(ctx, walk.LocalID)
	if err != nil {
		t.Fatalf("ListSites() failed: %v", err)
	}
	if len(sites) != 2 {
		t.Fatalf("have %d sites, want 2", len(sites))
	}
}

// TestDrainQueue_Offline tests the precondition
func TestDrainQueue_Offline(t *testing.T) {
	fx := newFixture(t)
	if err := fx.engine.DrainQueue(context.Background()); err != ErrOffline {
		t.Errorf("DrainQueue() offline = %v, want ErrOffline", err)
	}
}

// TestDrainQueue_ParentBeforeChild tests FIFO replay with server ID
// substitution into child references
func TestDrainQueue_ParentBeforeChild(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	walk := fx.createWalk(t, "Survey")
	site := fx.createSite(t, walk.LocalID)
	fx.createPoint(t, site.LocalID, 1, 0, 0.4)

	fx.goOnline(t)
	if err := fx.engine.DrainQueue(ctx); err != nil {
		t.Fatalf("DrainQueue() failed: %v", err)
	}

	wantOrder := []schema.Table{schema.TableWalks, schema.TableSites, schema.TablePoints}
	if len(fx.remote.createOrder) != 3 {
		t.Fatalf("created %d rows, want 3", len(fx.remote.createOrder))
	}
	for i, want := range wantOrder {
		if fx.remote.createOrder[i] != want {
			t.Errorf("createOrder[%d] = %s, want %s", i, fx.remote.createOrder[i], want)
		}
	}

	// The site's uploaded parent reference must be the walk's server ID,
	// never a local ID.
	wrec, _ := fx.store.Get(ctx, schema.TableWalks, walk.LocalID)
	srec, _ := fx.store.Get(ctx, schema.TableSites, site.LocalID)
	row := fx.remote.row(schema.TableSites, srec.Meta().ServerID)
	if got := row["river_walk_id"]; got != wrec.Meta().ServerID {
		t.Errorf("uploaded river_walk_id = %v, want %v", got, wrec.Meta().ServerID)
	}

	if fx.pending(t) != 0 {
		t.Errorf("pending = %d after drain, want 0", fx.pending(t))
	}
}

// TestDrainQueue_IdempotentReplay tests that a second pass creates
// nothing twice
func TestDrainQueue_IdempotentReplay(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.createWalk(t, "Survey")
	fx.goOnline(t)

	if err := fx.engine.DrainQueue(ctx); err != nil {
		t.Fatalf("first DrainQueue() failed: %v", err)
	}
	if err := fx.engine.DrainQueue(ctx); err != nil {
		t.Fatalf("second DrainQueue() failed: %v", err)
	}

	if fx.remote.createCalls != 1 {
		t.Errorf("remote creates = %d, want 1", fx.remote.createCalls)
	}
	if fx.remote.rowCount(schema.TableWalks) != 1 {
		t.Errorf("remote walks = %d, want 1", fx.remote.rowCount(schema.TableWalks))
	}
}

// TestDrainQueue_TransientRetryCap tests the attempt counter: three
// failed passes drop the entry and surface the error on the record
func TestDrainQueue_TransientRetryCap(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	walk := fx.createWalk(t, "Survey")
	fx.goOnline(t)
	fx.remote.fail(&remote.Error{Kind: remote.KindTransient, Status: 503, Message: "down"})

	for i := 1; i <= queue.MaxAttempts; i++ {
		fx.engine.DrainQueue(ctx)
	}

	if fx.pending(t) != 0 {
		t.Errorf("pending = %d after %d failed passes, want 0 (dropped)",
			fx.pending(t), queue.MaxAttempts)
	}
	rec, _ := fx.store.Get(ctx, schema.TableWalks, walk.LocalID)
	if rec.Meta().SyncError == "" {
		t.Error("dropped entry left no sync error on the record")
	}

	// Recovery: a later successful pass clears the way.
	fx.remote.fail(nil)
	if err := fx.engine.UpdateRecord(ctx, rec); err != nil {
		t.Fatalf("UpdateRecord() failed: %v", err)
	}
	if err := fx.engine.DrainQueue(ctx); err != nil {
		t.Fatalf("recovery DrainQueue() failed: %v", err)
	}
	rec, _ = fx.store.Get(ctx, schema.TableWalks, walk.LocalID)
	if !rec.Meta().Synced || rec.Meta().SyncError != "" {
		t.Errorf("record not recovered: %+v", rec.Meta())
	}
}

// TestDrainQueue_ValidationDropsImmediately tests that a rejected payload
// never blocks the queue
func TestDrainQueue_ValidationDropsImmediately(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	walk := fx.createWalk(t, "Survey")
	fx.goOnline(t)
	fx.remote.fail(&remote.Error{Kind: remote.KindValidation, Status: 422, Message: "bad field"})

	fx.engine.DrainQueue(ctx)

	if fx.pending(t) != 0 {
		t.Errorf("pending = %d, want 0 (validation drop)", fx.pending(t))
	}
	rec, _ := fx.store.Get(ctx, schema.TableWalks, walk.LocalID)
	if !strings.Contains(rec.Meta().SyncError, "bad field") {
		t.Errorf("SyncError = %q, want the rejection message", rec.Meta().SyncError)
	}
}

// TestDrainQueue_AuthAbortsPass tests that an expired session stops the
// pass without consuming attempts
func TestDrainQueue_AuthAbortsPass(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.createWalk(t, "One")
	fx.createWalk(t, "Two")
	fx.goOnline(t)
	fx.remote.fail(&remote.Error{Kind: remote.KindAuth, Status: 401, Message: "expired"})

	if err := fx.engine.DrainQueue(ctx); err == nil {
		t.Fatal("DrainQueue() succeeded despite auth failure")
	}

	if fx.pending(t) != 2 {
		t.Errorf("pending = %d, want 2 (entries kept)", fx.pending(t))
	}
	entries, _ := fx.queue.PeekAll(ctx)
	for _, e := range entries {
		if e.Attempts != 0 {
			t.Errorf("entry %d consumed %d attempts on auth abort", e.ID, e.Attempts)
		}
	}
}

// TestReconcile_TombstoneSweep tests removal of records deleted from
// another device
func TestReconcile_TombstoneSweep(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.goOnline(t)
	synced := fx.createWalk(t, "Synced")
	localOnly := func() *schema.RiverWalk {
		fx.goOffline()
		defer fx.goOnline(t)
		return fx.createWalk(t, "Draft")
	}()

	// The synced walk disappears from the server.
	fx.remote.mu.Lock()
	fx.remote.rows[schema.TableWalks] = map[string]map[string]any{}
	fx.remote.mu.Unlock()

	if err := fx.engine.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}

	if _, err := fx.store.Get(ctx, schema.TableWalks, synced.LocalID); err != store.ErrNotFound {
		t.Errorf("swept walk still present: %v", err)
	}
	if _, err := fx.store.Get(ctx, schema.TableWalks, localOnly.LocalID); err != nil {
		t.Errorf("local-only walk swept: %v", err)
	}
}

// TestReconcile_PreservesLocalAlias tests that downloads keep the local
// ID usable and apply server field values
func TestReconcile_PreservesLocalAlias(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.goOnline(t)
	walk := fx.createWalk(t, "Survey")

	// Another device renames the walk.
	srv := fx.remote.row(schema.TableWalks, walk.ServerID)
	srv["name"] = "Renamed elsewhere"
	fx.remote.mu.Lock()
	fx.remote.rows[schema.TableWalks][walk.ServerID] = srv
	fx.remote.mu.Unlock()

	if err := fx.engine.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}

	rec, err := fx.store.Get(ctx, schema.TableWalks, walk.LocalID)
	if err != nil {
		t.Fatalf("Get(local ID) after reconcile failed: %v", err)
	}
	if got := rec.(*schema.RiverWalk).Name; got != "Renamed elsewhere" {
		t.Errorf("Name = %q, want the server value", got)
	}
}

// TestReconcile_CollapsesLostAckSite tests the lost-ack case: a site whose
// create is still queued comes down from the server as a second copy, and
// the duplicate merges away without the drain recreating it
func TestReconcile_CollapsesLostAckSite(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.goOnline(t)
	walk := fx.createWalk(t, "Survey")

	fx.goOffline()
	draft := fx.createSite(t, walk.LocalID) // create still queued

	// The create reached the server on an earlier attempt but the ack was
	// lost: the download now carries the server's copy of site 1.
	fx.remote.mu.Lock()
	fx.remote.rows[schema.TableSites]["srv-site-9"] = map[string]any{
		"river_walk_id": walk.ServerID,
		"site_number":   1,
		"site_name":     schema.DefaultSiteName(1),
		"river_width_m": 0.0,
	}
	fx.remote.mu.Unlock()

	fx.goOnline(t)
	if err := fx.engine.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}

	sites, err := fx.engine.ListSites(ctx, walk.LocalID)
	if err != nil {
		t.Fatalf("ListSites() failed: %v", err)
	}
	if len(sites) != 1 {
		t.Fatalf("have %d sites after reconcile, want 1", len(sites))
	}
	if sites[0].ServerID != "srv-site-9" {
		t.Errorf("surviving site ServerID = %q, want the server copy", sites[0].ServerID)
	}
	if _, err := fx.store.Get(ctx, schema.TableSites, draft.LocalID); err != store.ErrNotFound {
		t.Errorf("duplicate local copy still present: %v", err)
	}
	if fx.pending(t) != 0 {
		t.Errorf("pending = %d, want 0 after dropping the duplicate's entries", fx.pending(t))
	}

	calls := fx.remote.createCalls
	if err := fx.engine.DrainQueue(ctx); err != nil {
		t.Fatalf("DrainQueue() failed: %v", err)
	}
	if fx.remote.createCalls != calls {
		t.Error("drain recreated the discarded duplicate remotely")
	}
}

// TestDeleteRecord_SiteRenumbering tests cascade delete plus contiguous
// renumbering of survivors
func TestDeleteRecord_SiteRenumbering(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	walk := fx.createWalk(t, "Survey")
	var sites []*schema.Site
	for i := 0; i < 5; i++ {
		sites = append(sites, fx.createSite(t, walk.LocalID))
	}

	if err := fx.engine.DeleteRecord(ctx, schema.TableSites, sites[2].LocalID); err != nil {
		t.Fatalf("DeleteRecord() failed: %v", err)
	}

	remaining, err := fx.engine.ListSites(ctx, walk.LocalID)
	if err != nil {
		t.Fatalf("ListSites() failed: %v", err)
	}
	if len(remaining) != 4 {
		t.Fatalf("have %d sites, want 4", len(remaining))
	}
	for i, s := range remaining {
		if s.Number != i+1 {
			t.Errorf("site %d has number %d, want %d", i, s.Number, i+1)
		}
		if s.Name != schema.DefaultSiteName(i+1) {
			t.Errorf("site %d has name %q, want %q", i, s.Name, schema.DefaultSiteName(i+1))
		}
	}
}

// TestDeleteRecord_WalkCascades tests that deleting a walk destroys its
// descendants locally and remotely
func TestDeleteRecord_WalkCascades(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.goOnline(t)
	walk := fx.createWalk(t, "Survey")
	site := fx.createSite(t, walk.LocalID)
	fx.createPoint(t, site.LocalID, 1, 0, 0.3)

	if err := fx.engine.DeleteRecord(ctx, schema.TableWalks, walk.LocalID); err != nil {
		t.Fatalf("DeleteRecord() failed: %v", err)
	}

	for _, tb := range []schema.Table{schema.TableWalks, schema.TableSites, schema.TablePoints} {
		recs, _ := fx.store.ListAll(ctx, tb)
		if len(recs) != 0 {
			t.Errorf("%s has %d local records after cascade, want 0", tb, len(recs))
		}
		if n := fx.remote.rowCount(tb); n != 0 {
			t.Errorf("%s has %d remote rows after cascade, want 0", tb, n)
		}
	}
}

// TestCreateThenDeleteOffline tests that a record born and destroyed
// offline produces no remote traffic
func TestCreateThenDeleteOffline(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	walk := fx.createWalk(t, "Ephemeral")
	if err := fx.engine.DeleteRecord(ctx, schema.TableWalks, walk.LocalID); err != nil {
		t.Fatalf("DeleteRecord() failed: %v", err)
	}

	fx.goOnline(t)
	if err := fx.engine.DrainQueue(ctx); err != nil {
		t.Fatalf("DrainQueue() failed: %v", err)
	}

	if fx.remote.createCalls != 0 {
		t.Errorf("remote create called %d times for a record deleted before sync", fx.remote.createCalls)
	}
	if fx.pending(t) != 0 {
		t.Errorf("pending = %d, want 0", fx.pending(t))
	}
}

// TestUpdate_RidesPendingCreate tests that edits made while queued are
// carried by the original create
func TestUpdate_RidesPendingCreate(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	walk := fx.createWalk(t, "Draft name")
	walk.Name = "Final name"
	if err := fx.engine.UpdateRecord(ctx, walk); err != nil {
		t.Fatalf("UpdateRecord() failed: %v", err)
	}
	if fx.pending(t) != 1 {
		t.Errorf("pending = %d, want 1 (no extra update entry)", fx.pending(t))
	}

	fx.goOnline(t)
	if err := fx.engine.DrainQueue(ctx); err != nil {
		t.Fatalf("DrainQueue() failed: %v", err)
	}

	rec, _ := fx.store.Get(ctx, schema.TableWalks, walk.LocalID)
	row := fx.remote.row(schema.TableWalks, rec.Meta().ServerID)
	if row["name"] != "Final name" {
		t.Errorf("uploaded name = %v, want the edited value", row["name"])
	}
	if fx.remote.createCalls != 1 {
		t.Errorf("remote creates = %d, want 1", fx.remote.createCalls)
	}
}

// TestAttachPhoto_OfflineThenDrain tests the attachment flow: queued
// offline, uploaded on drain, owner reference patched to the URL
func TestAttachPhoto_OfflineThenDrain(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	walk := fx.createWalk(t, "Survey")
	site := fx.createSite(t, walk.LocalID)

	photo, err := fx.engine.AttachPhoto(ctx, site.LocalID, schema.KindSitePhoto,
		"bank.jpg", bytes.NewReader([]byte("jpeg")))
	if err != nil {
		t.Fatalf("AttachPhoto() failed: %v", err)
	}

	// Offline: the owner references the photo by local ID.
	srec, _ := fx.store.Get(ctx, schema.TableSites, site.LocalID)
	if got := srec.(*schema.Site).SitePhotoID; got != photo.LocalID {
		t.Errorf("SitePhotoID = %q, want %q", got, photo.LocalID)
	}

	fx.goOnline(t)
	if err := fx.engine.DrainQueue(ctx); err != nil {
		t.Fatalf("DrainQueue() failed: %v", err)
	}

	prec, _ := fx.store.Get(ctx, schema.TablePhotos, photo.LocalID)
	if !prec.(*schema.Photo).Uploaded() {
		t.Error("photo not uploaded after drain")
	}
	srec, _ = fx.store.Get(ctx, schema.TableSites, site.LocalID)
	if got := srec.(*schema.Site).SitePhotoID; !strings.HasPrefix(got, "https://") {
		t.Errorf("SitePhotoID = %q, want remote URL", got)
	}
	if fx.pending(t) != 0 {
		t.Errorf("pending = %d, want 0", fx.pending(t))
	}
}

// TestGetSyncStatus tests that pending count is derived from the queue
func TestGetSyncStatus(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.createWalk(t, "One")
	fx.createWalk(t, "Two")

	status, err := fx.engine.GetSyncStatus(ctx)
	if err != nil {
		t.Fatalf("GetSyncStatus() failed: %v", err)
	}
	if status.PendingCount != 2 {
		t.Errorf("PendingCount = %d, want 2", status.PendingCount)
	}
	if status.IsOnline || status.IsSyncing {
		t.Errorf("status = %+v, want offline and idle", status)
	}
}

// TestClearAllLocalData tests the account-switch wipe
func TestClearAllLocalData(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	walk := fx.createWalk(t, "Survey")
	site := fx.createSite(t, walk.LocalID)
	if _, err := fx.engine.AttachPhoto(ctx, site.LocalID, schema.KindSitePhoto,
		"bank.jpg", bytes.NewReader([]byte("jpeg"))); err != nil {
		t.Fatalf("AttachPhoto() failed: %v", err)
	}

	if err := fx.engine.ClearAllLocalData(ctx); err != nil {
		t.Fatalf("ClearAllLocalData() failed: %v", err)
	}

	for _, tb := range schema.Tables() {
		recs, _ := fx.store.ListAll(ctx, tb)
		if len(recs) != 0 {
			t.Errorf("%s has %d records after clear", tb, len(recs))
		}
	}
	if fx.pending(t) != 0 {
		t.Errorf("pending = %d after clear, want 0", fx.pending(t))
	}
}

// TestExportCSV tests offline export of a walk's measurements
func TestExportCSV(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	walk := fx.createWalk(t, "Survey")
	site := fx.createSite(t, walk.LocalID)
	fx.createPoint(t, site.LocalID, 1, 0, 0.2)
	fx.createPoint(t, site.LocalID, 2, 2.5, 0.55)

	var buf bytes.Buffer
	if err := fx.engine.ExportCSV(ctx, walk.LocalID, &buf); err != nil {
		t.Fatalf("ExportCSV() failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("export has %d lines, want header plus 2 points:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[2], "2.5") || !strings.Contains(lines[2], "0.55") {
		t.Errorf("point row = %q", lines[2])
	}
}
