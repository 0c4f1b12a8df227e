package photos

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/lukejkirsten91/riverwalks-sub003/internal/queue"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/remote"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/schema"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/store"
)

// DefaultBackoff is the delay table between upload attempts. Its length
// caps the attempt count; this budget is independent of the mutation
// queue's own attempt counter.
var DefaultBackoff = []time.Duration{time.Second, 2 * time.Second, 5 * time.Second}

// ErrBinaryMissing is returned when a photo record has no stored binary
// to upload.
var ErrBinaryMissing = errors.New("photo binary missing from blob store")

// Uploader pushes photo binaries to the remote store and patches owner
// references from local IDs to remote URLs.
type Uploader struct {
	store   *store.DB
	blobs   *BlobStore
	remote  remote.Store
	queue   *queue.Queue
	backoff []time.Duration
	logger  *log.Logger
}

// NewUploader wires an uploader. A nil backoff uses DefaultBackoff; a nil
// logger gets a default stderr logger.
func NewUploader(db *store.DB, blobs *BlobStore, rs remote.Store, q *queue.Queue, backoff []time.Duration, logger *log.Logger) *Uploader {
	if backoff == nil {
		backoff = DefaultBackoff
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[photos] ", log.LstdFlags)
	}
	return &Uploader{store: db, blobs: blobs, remote: rs, queue: q, backoff: backoff, logger: logger}
}

// Upload uploads the photo identified by localID, retrying transient
// failures against the backoff table. On success the photo record gains
// its URL and synced flag, and the owner's reference field is patched from
// the local ID to the URL.
//
// Auth and validation failures abort immediately; only transient failures
// consume backoff slots.
func (u *Uploader) Upload(ctx context.Context, localID string) error {
	rec, err := u.store.Get(ctx, schema.TablePhotos, localID)
	if err != nil {
		return fmt.Errorf("failed to load photo %s: %w", localID, err)
	}
	photo, ok := rec.(*schema.Photo)
	if !ok {
		return fmt.Errorf("record %s is not a photo", localID)
	}
	if photo.Uploaded() {
		// Already uploaded; make sure the owner patch happened too.
		return u.patchOwner(ctx, photo)
	}
	if !u.blobs.Exists(photo.LocalID) {
		return ErrBinaryMissing
	}

	var url string
	for attempt := 0; ; attempt++ {
		url, err = u.uploadOnce(ctx, photo)
		if err == nil {
			break
		}
		if !remote.IsTransient(err) || attempt >= len(u.backoff)-1 {
			return fmt.Errorf("upload of %s failed after %d attempts: %w", localID, attempt+1, err)
		}
		u.logger.Printf("Upload attempt %d for %s failed, retrying in %s: %v",
			attempt+1, localID, u.backoff[attempt], err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(u.backoff[attempt]):
		}
	}

	photo.URL = url
	photo.Synced = true
	photo.SyncError = ""
	photo.UpdatedAt = time.Now()
	if err := u.store.Put(ctx, photo); err != nil {
		return fmt.Errorf("failed to record upload of %s: %w", localID, err)
	}

	u.logger.Printf("Uploaded photo %s -> %s", localID, url)
	return u.patchOwner(ctx, photo)
}

func (u *Uploader) uploadOnce(ctx context.Context, photo *schema.Photo) (string, error) {
	f, err := u.blobs.Open(photo.LocalID)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return u.remote.Upload(ctx, f, photo.Kind, photo.OwnerID, photo.FileName)
}

// patchOwner rewrites the owning site's reference from the photo's local
// ID to its URL. The patch only applies while the owner still references
// that exact local ID: an edit made during the upload wins and the stale
// patch is skipped.
func (u *Uploader) patchOwner(ctx context.Context, photo *schema.Photo) error {
	rec, err := u.store.Get(ctx, schema.TableSites, photo.OwnerID)
	if errors.Is(err, store.ErrNotFound) {
		u.logger.Printf("Owner %s of photo %s no longer exists; skipping patch", photo.OwnerID, photo.LocalID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load owner of photo %s: %w", photo.LocalID, err)
	}
	site, ok := rec.(*schema.Site)
	if !ok {
		return fmt.Errorf("owner %s of photo %s is not a site", photo.OwnerID, photo.LocalID)
	}

	patched := false
	for kind, ref := range site.PhotoRefs() {
		if kind == photo.Kind && ref == photo.LocalID {
			site.SetPhotoRef(kind, photo.URL)
			patched = true
		}
	}
	if !patched {
		// Optimistic guard: the owner was edited to point elsewhere while
		// the upload was in flight. Leave it alone.
		return nil
	}

	site.Touch()
	if err := u.store.Put(ctx, site); err != nil {
		return fmt.Errorf("failed to patch owner %s: %w", site.LocalID, err)
	}

	if site.HasServerID() {
		if _, err := u.remote.Update(ctx, schema.TableSites, site.ServerID, site.Payload()); err != nil {
			u.logger.Printf("Warning: remote patch of %s deferred: %v", site.LocalID, err)
			return u.enqueueOwnerUpdate(ctx, site)
		}
		site.Synced = true
		if err := u.store.Put(ctx, site); err != nil {
			return fmt.Errorf("failed to mark owner %s synced: %w", site.LocalID, err)
		}
		return nil
	}
	// Owner itself is still local-only; its pending create carries the
	// patched reference when it drains.
	return nil
}

func (u *Uploader) enqueueOwnerUpdate(ctx context.Context, site *schema.Site) error {
	err := u.queue.Enqueue(ctx, &queue.Entry{
		Op:      queue.OpUpdate,
		Table:   schema.TableSites,
		LocalID: site.LocalID,
		Payload: site.Payload(),
	})
	if err != nil {
		return fmt.Errorf("failed to queue owner patch for %s: %w", site.LocalID, err)
	}
	return nil
}
