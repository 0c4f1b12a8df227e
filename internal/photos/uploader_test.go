package photos

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

	"github.com/lukejkirsten91/riverwalks-sub003/internal/queue"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/remote"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/schema"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/store"
)

// fakeRemote implements remote.Store with scriptable upload failures
type fakeRemote struct {
	mu          sync.Mutex
	uploadFails int // upload errors to return before succeeding
	uploadKind  remote.Kind
	uploads     int
	updates     map[string]map[string]any
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{uploadKind: remote.KindTransient, updates: make(map[string]map[string]any)}
}

func (f *fakeRemote) Create(ctx context.Context, table schema.Table, payload map[string]any) (remote.ServerRecord, error) {
	return remote.ServerRecord{ServerID: "srv-created"}, nil
}

func (f *fakeRemote) Update(ctx context.Context, table schema.Table, serverID string, payload map[string]any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[serverID] = payload
	return payload, nil
}

func (f *fakeRemote) Delete(ctx context.Context, table schema.Table, serverID string) error {
	return nil
}

func (f *fakeRemote) List(ctx context.Context, table schema.Table, filter map[string]string) ([]remote.ServerRecord, error) {
	return nil, nil
}

func (f *fakeRemote) Upload(ctx context.Context, file io.Reader, kind schema.PhotoKind, ownerID, fileName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	if f.uploadFails > 0 {
		f.uploadFails--
		return "", &remote.Error{Kind: f.uploadKind, Message: "scripted failure"}
	}
	return fmt.Sprintf("https://cdn.example.com/%s", fileName), nil
}

type uploaderFixture struct {
	db       *store.DB
	blobs    *BlobStore
	queue    *queue.Queue
	remote   *fakeRemote
	uploader *Uploader
}

func newFixture(t *testing.T) *uploaderFixture {
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
	blobs, err := NewBlobStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBlobStore() failed: %v", err)
	}

	rs := newFakeRemote()
	backoff := []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	return &uploaderFixture{
		db:       db,
		blobs:    blobs,
		queue:    q,
		remote:   rs,
		uploader: NewUploader(db, blobs, rs, q, backoff, log.New(io.Discard, "", 0)),
	}
}

// addSitePhoto seeds a site plus an unuploaded photo referencing it
func (fx *uploaderFixture) addSitePhoto(t *testing.T) (*schema.Site, *schema.Photo) {
	t.Helper()
	ctx := context.Background()

	rec, _ := schema.New(schema.TableSites)
	site := rec.(*schema.Site)
	site.RiverWalkID = "walk-1"
	site.Number = 1
	site.Name = "Site 1"

	prec, _ := schema.New(schema.TablePhotos)
	photo := prec.(*schema.Photo)
	photo.OwnerID = site.LocalID
	photo.Kind = schema.KindSitePhoto
	photo.FileName = "bank.jpg"

	site.SetPhotoRef(schema.KindSitePhoto, photo.LocalID)

	if err := fx.db.Put(ctx, site); err != nil {
		t.Fatalf("Put(site) failed: %v", err)
	}
	if err := fx.db.Put(ctx, photo); err != nil {
		t.Fatalf("Put(photo) failed: %v", err)
	}
	if _, err := fx.blobs.Put(photo.LocalID, bytes.NewReader([]byte("jpeg"))); err != nil {
		t.Fatalf("blobs.Put() failed: %v", err)
	}
	return site, photo
}

// TestUpload_Success tests the happy path: URL recorded, owner patched
func TestUpload_Success(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	site, photo := fx.addSitePhoto(t)

	if err := fx.uploader.Upload(ctx, photo.LocalID); err != nil {
		t.Fatalf("Upload() failed: %v", err)
	}

	rec, err := fx.db.Get(ctx, schema.TablePhotos, photo.LocalID)
	if err != nil {
		t.Fatalf("Get(photo) failed: %v", err)
	}
	got := rec.(*schema.Photo)
	if !got.Uploaded() || !got.Synced {
		t.Errorf("photo not marked uploaded: %+v", got.SyncMeta)
	}

	srec, err := fx.db.Get(ctx, schema.TableSites, site.LocalID)
	if err != nil {
		t.Fatalf("Get(site) failed: %v", err)
	}
	ref := srec.(*schema.Site).SitePhotoID
	if !strings.HasPrefix(ref, "https://") {
		t.Errorf("owner ref = %q, want remote URL", ref)
	}
}

// TestUpload_RetriesTransient tests the backoff loop
func TestUpload_RetriesTransient(t *testing.T) {
	fx := newFixture(t)
	fx.remote.uploadFails = 2
	_, photo := fx.addSitePhoto(t)

	if err := fx.uploader.Upload(context.Background(), photo.LocalID); err != nil {
		t.Fatalf("Upload() failed despite retries: %v", err)
	}
	if fx.remote.uploads != 3 {
		t.Errorf("upload attempts = %d, want 3", fx.remote.uploads)
	}
}

// TestUpload_ExhaustsBackoff tests giving up after the delay table
func TestUpload_ExhaustsBackoff(t *testing.T) {
	fx := newFixture(t)
	fx.remote.uploadFails = 10
	_, photo := fx.addSitePhoto(t)

	if err := fx.uploader.Upload(context.Background(), photo.LocalID); err == nil {
		t.Fatal("Upload() succeeded, want exhaustion error")
	}
	if fx.remote.uploads != len(fx.uploader.backoff) {
		t.Errorf("upload attempts = %d, want %d", fx.remote.uploads, len(fx.uploader.backoff))
	}
}

// TestUpload_AuthFailsFast tests that auth errors skip the retry loop
func TestUpload_AuthFailsFast(t *testing.T) {
	fx := newFixture(t)
	fx.remote.uploadFails = 10
	fx.remote.uploadKind = remote.KindAuth
	_, photo := fx.addSitePhoto(t)

	err := fx.uploader.Upload(context.Background(), photo.LocalID)
	if !remote.IsAuth(err) {
		t.Fatalf("Upload() error = %v, want auth", err)
	}
	if fx.remote.uploads != 1 {
		t.Errorf("upload attempts = %d, want 1", fx.remote.uploads)
	}
}

// TestUpload_MissingBinary tests the corrupt-state error
func TestUpload_MissingBinary(t *testing.T) {
	fx := newFixture(t)
	_, photo := fx.addSitePhoto(t)
	if err := fx.blobs.Delete(photo.LocalID); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	err := fx.uploader.Upload(context.Background(), photo.LocalID)
	if err != ErrBinaryMissing {
		t.Errorf("Upload() error = %v, want ErrBinaryMissing", err)
	}
}

// TestUpload_SkipsStalePatch tests the optimistic guard: an owner edited
// mid-upload keeps its new reference
func TestUpload_SkipsStalePatch(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	site, photo := fx.addSitePhoto(t)

	// Owner re-pointed at a different photo before the upload finished.
	site.SetPhotoRef(schema.KindSitePhoto, "photo-other")
	if err := fx.db.Put(ctx, site); err != nil {
		t.Fatalf("Put(site) failed: %v", err)
	}

	if err := fx.uploader.Upload(ctx, photo.LocalID); err != nil {
		t.Fatalf("Upload() failed: %v", err)
	}

	rec, _ := fx.db.Get(ctx, schema.TableSites, site.LocalID)
	if got := rec.(*schema.Site).SitePhotoID; got != "photo-other" {
		t.Errorf("owner ref = %q, stale patch overwrote an edit", got)
	}
}

// TestScanOrphans_RequeuesWithBinary tests repair of a dangling local ref
// whose binary survives
func TestScanOrphans_RequeuesWithBinary(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	_, photo := fx.addSitePhoto(t)

	report, err := fx.uploader.ScanOrphans(ctx)
	if err != nil {
		t.Fatalf("ScanOrphans() failed: %v", err)
	}
	if len(report.Requeued) != 1 || report.Requeued[0] != photo.LocalID {
		t.Errorf("Requeued = %v, want [%s]", report.Requeued, photo.LocalID)
	}

	queued, err := fx.queue.HasEntryFor(ctx, photo.LocalID)
	if err != nil {
		t.Fatalf("HasEntryFor() failed: %v", err)
	}
	if !queued {
		t.Error("no queue entry after requeue")
	}
}

// TestScanOrphans_ClearsWithoutBinary tests that an unuploadable ref is
// dropped rather than left dangling forever
func TestScanOrphans_ClearsWithoutBinary(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	site, photo := fx.addSitePhoto(t)
	if err := fx.blobs.Delete(photo.LocalID); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	report, err := fx.uploader.ScanOrphans(ctx)
	if err != nil {
		t.Fatalf("ScanOrphans() failed: %v", err)
	}
	if len(report.Cleared) != 1 {
		t.Fatalf("Cleared = %v, want one entry", report.Cleared)
	}

	rec, _ := fx.db.Get(ctx, schema.TableSites, site.LocalID)
	if got := rec.(*schema.Site).SitePhotoID; got != "" {
		t.Errorf("owner ref = %q, want cleared", got)
	}
	if _, err := fx.db.Get(ctx, schema.TablePhotos, photo.LocalID); err != store.ErrNotFound {
		t.Errorf("photo record survives clear: %v", err)
	}
}

// TestScanOrphans_IgnoresQueuedAndRemote tests that healthy refs are
// left alone
func TestScanOrphans_IgnoresQueuedAndRemote(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	_, photo := fx.addSitePhoto(t)

	// A queued upload is not an orphan.
	if err := fx.queue.Enqueue(ctx, &queue.Entry{
		Op: queue.OpCreate, Table: schema.TablePhotos, LocalID: photo.LocalID,
	}); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	report, err := fx.uploader.ScanOrphans(ctx)
	if err != nil {
		t.Fatalf("ScanOrphans() failed: %v", err)
	}
	if len(report.Requeued)+len(report.Cleared) != 0 {
		t.Errorf("report = %+v, want empty", report)
	}
}
