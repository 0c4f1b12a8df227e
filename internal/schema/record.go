// Package schema provides the record types shared by the local store,
// mutation queue, and sync engine.
//
// Every record kind carries a dual identity: a client-generated local ID
// assigned at creation time, and a server ID assigned by the remote store
// on first successful create. The local ID remains valid as a lookup alias
// after the server ID is known.
package schema

import (
	"fmt"
	"time"
)

// Table identifies one of the four synchronized record kinds.
type Table string

const (
	// TableWalks holds top-level river walk records.
	TableWalks Table = "river_walks"
	// TableSites holds numbered measurement sites within a walk.
	TableSites Table = "sites"
	// TablePoints holds individual depth measurements within a site.
	TablePoints Table = "measurement_points"
	// TablePhotos holds photo attachment records.
	TablePhotos Table = "photos"
)

// Tables returns all synchronized tables in parent-before-child order.
func Tables() []Table {
	return []Table{TableWalks, TableSites, TablePoints, TablePhotos}
}

// Valid reports whether t names a known table.
func (t Table) Valid() bool {
	switch t {
	case TableWalks, TableSites, TablePoints, TablePhotos:
		return true
	default:
		return false
	}
}

// LocalIDPrefix returns the prefix used for local IDs in this table.
func (t Table) LocalIDPrefix() string {
	switch t {
	case TableWalks:
		return "walk"
	case TableSites:
		return "site"
	case TablePoints:
		return "point"
	case TablePhotos:
		return "photo"
	default:
		return "rec"
	}
}

// ParentField returns the payload field that references the parent record,
// or "" for top-level tables. The sync engine substitutes server IDs into
// this field during a drain pass.
func (t Table) ParentField() string {
	switch t {
	case TableSites:
		return "river_walk_id"
	case TablePoints:
		return "site_id"
	case TablePhotos:
		return "owner_id"
	default:
		return ""
	}
}

// SyncMeta is the sync bookkeeping embedded in every record kind.
type SyncMeta struct {
	// LocalID is the client-generated key for this record. Always set.
	LocalID string `json:"local_id"`

	// ServerID is assigned by the remote store on first successful create.
	// Empty until the record has reached the remote store.
	ServerID string `json:"server_id,omitempty"`

	// Synced is true only when the record's current field values are known
	// to match what the remote store holds.
	Synced bool `json:"synced"`

	// SyncError carries a user-visible failure message after a queue entry
	// for this record was dropped. Cleared on the next successful sync.
	SyncError string `json:"sync_error,omitempty"`

	// UpdatedAt is the local wall-clock time of the last local mutation.
	// Used for staleness signaling only, never for conflict resolution.
	UpdatedAt time.Time `json:"updated_at"`
}

// Meta returns the embedded sync metadata.
func (m *SyncMeta) Meta() *SyncMeta { return m }

// HasServerID reports whether the record has reached the remote store.
func (m *SyncMeta) HasServerID() bool { return m.ServerID != "" }

// Touch records a local mutation and clears the synced flag.
func (m *SyncMeta) Touch() {
	m.UpdatedAt = time.Now()
	m.Synced = false
}

// Record is the tagged union over the four synchronized record kinds.
type Record interface {
	// Meta returns the record's sync bookkeeping.
	Meta() *SyncMeta

	// Table returns which table the record belongs to.
	Table() Table

	// ParentRef returns the record's reference to its parent: the parent's
	// server ID once known, otherwise the parent's local ID. Top-level
	// records return "".
	ParentRef() string

	// Validate checks field values before a store write or remote send.
	Validate() error

	// Payload returns the record's remote wire representation. Parent
	// references appear under Table().ParentField() and may still hold a
	// local ID; the sync engine substitutes server IDs before sending.
	Payload() map[string]any
}

// SetParentRef rewrites the record's parent reference. The sync engine
// calls this once the parent's server ID becomes known, so the child never
// keeps referencing a local ID the remote store cannot resolve.
func SetParentRef(rec Record, ref string) {
	switch r := rec.(type) {
	case *Site:
		r.RiverWalkID = ref
	case *MeasurementPoint:
		r.SiteID = ref
	case *Photo:
		r.OwnerID = ref
	}
}

// New returns an empty record of the given table kind with a fresh local ID.
func New(t Table) (Record, error) {
	switch t {
	case TableWalks:
		return &RiverWalk{SyncMeta: newMeta(t)}, nil
	case TableSites:
		return &Site{SyncMeta: newMeta(t)}, nil
	case TablePoints:
		return &MeasurementPoint{SyncMeta: newMeta(t)}, nil
	case TablePhotos:
		return &Photo{SyncMeta: newMeta(t)}, nil
	default:
		return nil, fmt.Errorf("unknown table %q", t)
	}
}

func newMeta(t Table) SyncMeta {
	return SyncMeta{
		LocalID:   NewLocalID(t),
		UpdatedAt: time.Now(),
	}
}
