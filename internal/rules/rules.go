// Package rules implements cross-record invariants triggered by user
// actions: contiguous site numbering after a delete, deduplication of
// server/local copies of the same logical site, and parent-modified
// propagation.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/lukejkirsten91/riverwalks-sub003/internal/schema"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/store"
)

// Rules applies business invariants against the local store. Remote
// effects (queue entries for shifted sites, remote deletes for duplicate
// copies) are the caller's responsibility; this layer only mutates local
// state and reports what changed.
type Rules struct {
	store  *store.DB
	logger *log.Logger
}

// New creates a Rules layer. A nil logger gets a default stderr logger.
func New(db *store.DB, logger *log.Logger) *Rules {
	if logger == nil {
		logger = log.New(os.Stderr, "[rules] ", log.LstdFlags)
	}
	return &Rules{store: db, logger: logger}
}

// RenumberAfterDelete closes the numbering gap left by deleting a site.
// Every site in the walk with a number greater than deletedNumber is
// decremented and persisted locally; derived display names ("Site N") are
// kept in step, custom names are left alone. The shifted sites are
// returned so the caller can enqueue or send the matching remote updates.
//
// This runs whether or not the deleted site ever reached the remote store.
func (r *Rules) RenumberAfterDelete(ctx context.Context, walkRefs []string, deletedNumber int) ([]*schema.Site, error) {
	sites, err := r.walkSites(ctx, walkRefs)
	if err != nil {
		return nil, err
	}

	var shifted []*schema.Site
	for _, site := range sites {
		if site.Number <= deletedNumber {
			continue
		}
		oldNumber := site.Number
		site.Number--
		if site.Name == schema.DefaultSiteName(oldNumber) {
			site.Name = schema.DefaultSiteName(site.Number)
		}
		site.Touch()
		if err := r.store.Put(ctx, site); err != nil {
			return shifted, fmt.Errorf("failed to renumber site %s: %w", site.LocalID, err)
		}
		shifted = append(shifted, site)
	}

	if len(shifted) > 0 {
		r.logger.Printf("Renumbered %d sites after deleting number %d", len(shifted), deletedNumber)
	}
	return shifted, nil
}

// DedupeSites removes local store copies that represent the same logical
// site, detected by equal {walk, site number}. The copy without a server
// ID loses to the copy with one; if neither has one, the most recently
// modified wins. Copies that both carry server IDs are distinct remote
// rows and are left for the reconciliation download to settle.
//
// Returns the discarded sites so the caller can drop any queue entries
// still referencing them.
func (r *Rules) DedupeSites(ctx context.Context, walkRefs []string) ([]*schema.Site, error) {
	sites, err := r.walkSites(ctx, walkRefs)
	if err != nil {
		return nil, err
	}

	byNumber := make(map[int][]*schema.Site)
	for _, s := range sites {
		byNumber[s.Number] = append(byNumber[s.Number], s)
	}

	var removed []*schema.Site
	for _, group := range byNumber {
		if len(group) < 2 {
			continue
		}
		keep, losers := pickSurvivor(group)
		if keep == nil {
			continue
		}
		for _, loser := range losers {
			if err := r.reparentChildren(ctx, loser.LocalID, keep.LocalID); err != nil {
				return removed, err
			}
			if err := r.store.Delete(ctx, schema.TableSites, loser.LocalID); err != nil {
				return removed, fmt.Errorf("failed to remove duplicate site %s: %w", loser.LocalID, err)
			}
			r.logger.Printf("Discarded duplicate site %s (kept %s, number %d)",
				loser.LocalID, keep.LocalID, keep.Number)
			removed = append(removed, loser)
		}
	}
	return removed, nil
}

// reparentChildren moves the measurement points and photos of a discarded
// site copy onto the surviving one, so their own pending uploads still
// resolve a parent. Duplicate losers never carry a server ID, so children
// can only reference them by local ID.
func (r *Rules) reparentChildren(ctx context.Context, from, to string) error {
	for _, t := range []schema.Table{schema.TablePoints, schema.TablePhotos} {
		children, err := r.store.ListByParent(ctx, t, from)
		if err != nil {
			return fmt.Errorf("failed to list %s of duplicate site %s: %w", t, from, err)
		}
		for _, child := range children {
			schema.SetParentRef(child, to)
			child.Meta().Touch()
			if err := r.store.Put(ctx, child); err != nil {
				return fmt.Errorf("failed to reparent %s %s: %w", t, child.Meta().LocalID, err)
			}
		}
	}
	return nil
}

// pickSurvivor chooses which copy of a duplicated site to keep. Returns
// nil when more than one copy carries a server ID (not a local dup).
func pickSurvivor(group []*schema.Site) (keep *schema.Site, losers []*schema.Site) {
	var withServer []*schema.Site
	for _, s := range group {
		if s.HasServerID() {
			withServer = append(withServer, s)
		}
	}
	switch {
	case len(withServer) > 1:
		return nil, nil
	case len(withServer) == 1:
		keep = withServer[0]
	default:
		sort.Slice(group, func(i, j int) bool {
			return group[i].UpdatedAt.After(group[j].UpdatedAt)
		})
		keep = group[0]
	}

	for _, s := range group {
		if s != keep {
			losers = append(losers, s)
		}
	}
	return keep, losers
}

// MarkWalkPending flags the walk referenced by ref as having pending
// structural changes (a child site was added or edited). The flag is
// local-only UI state and does not mark the walk unsynced.
func (r *Rules) MarkWalkPending(ctx context.Context, ref string) error {
	rec, err := r.store.Get(ctx, schema.TableWalks, ref)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	walk, ok := rec.(*schema.RiverWalk)
	if !ok || walk.HasPendingChanges {
		return nil
	}
	walk.HasPendingChanges = true
	if err := r.store.Put(ctx, walk); err != nil {
		return fmt.Errorf("failed to flag walk %s: %w", ref, err)
	}
	return nil
}

// walkSites loads a walk's sites ordered by site number.
func (r *Rules) walkSites(ctx context.Context, walkRefs []string) ([]*schema.Site, error) {
	recs, err := r.store.ListByParent(ctx, schema.TableSites, walkRefs...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sites: %w", err)
	}
	sites := make([]*schema.Site, 0, len(recs))
	for _, rec := range recs {
		if s, ok := rec.(*schema.Site); ok {
			sites = append(sites, s)
		}
	}
	sort.Slice(sites, func(i, j int) bool { return sites[i].Number < sites[j].Number })
	return sites, nil
}
