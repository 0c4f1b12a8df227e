package photos

import (
	"context"
	"fmt"

	"github.com/lukejkirsten91/riverwalks-sub003/internal/queue"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/schema"
)

// OrphanReport summarizes one detector sweep.
type OrphanReport struct {
	// Requeued photo local IDs: reference dangling but binary present, so
	// the upload was re-queued.
	Requeued []string
	// Cleared photo references: no queue entry and no binary, so the
	// owner's reference was set to empty.
	Cleared []string
}

// ScanOrphans sweeps all sites for photo references that are local IDs
// with no corresponding queue entry. A dangling reference whose binary is
// still stored is re-queued for upload; one whose binary is gone is
// cleared from the owner with a best-effort remote patch.
func (u *Uploader) ScanOrphans(ctx context.Context) (OrphanReport, error) {
	var report OrphanReport

	recs, err := u.store.ListAll(ctx, schema.TableSites)
	if err != nil {
		return report, fmt.Errorf("failed to list sites: %w", err)
	}

	for _, rec := range recs {
		site, ok := rec.(*schema.Site)
		if !ok {
			continue
		}
		for kind, ref := range site.PhotoRefs() {
			if ref == "" || schema.IsRemoteRef(ref) {
				continue
			}
			queued, err := u.queue.HasEntryFor(ctx, ref)
			if err != nil {
				return report, err
			}
			if queued {
				continue
			}

			// Dangling local reference. Repair or clear.
			if u.blobs.Exists(ref) {
				err := u.queue.Enqueue(ctx, &queue.Entry{
					Op:      queue.OpCreate,
					Table:   schema.TablePhotos,
					LocalID: ref,
				})
				if err != nil {
					return report, fmt.Errorf("failed to re-queue orphan %s: %w", ref, err)
				}
				u.logger.Printf("Re-queued orphan photo %s (binary present)", ref)
				report.Requeued = append(report.Requeued, ref)
				continue
			}

			site.SetPhotoRef(kind, "")
			site.Touch()
			if err := u.store.Put(ctx, site); err != nil {
				return report, fmt.Errorf("failed to clear orphan reference on %s: %w", site.LocalID, err)
			}
			if site.HasServerID() {
				if _, err := u.remote.Update(ctx, schema.TableSites, site.ServerID, site.Payload()); err != nil {
					// Best effort; the next drain carries the cleared field.
					u.logger.Printf("Warning: remote clear of orphan on %s deferred: %v", site.LocalID, err)
					if err := u.enqueueOwnerUpdate(ctx, site); err != nil {
						return report, err
					}
				}
			}
			u.logger.Printf("Cleared orphan photo reference %s from site %s (binary missing)", ref, site.LocalID)
			report.Cleared = append(report.Cleared, ref)

			// The photo record, if any, is unrecoverable without its binary.
			if err := u.store.Delete(ctx, schema.TablePhotos, ref); err != nil {
				return report, err
			}
		}
	}
	return report, nil
}
