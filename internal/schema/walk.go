package schema

import (
	"fmt"
	"time"
)

// RiverWalk is a top-level study: one field visit to a river, owning zero
// or more numbered sites.
type RiverWalk struct {
	SyncMeta

	Name      string    `json:"name"`
	RiverName string    `json:"river_name,omitempty"`
	Location  string    `json:"location,omitempty"`
	WalkDate  time.Time `json:"walk_date"`
	Notes     string    `json:"notes,omitempty"`

	// Archived is the soft-delete path; archived walks stay in the store
	// and on the remote but are hidden from active lists.
	Archived bool `json:"archived"`

	// HasPendingChanges is set when a child site is added or edited, so
	// the UI can flag the walk as modified without the walk record itself
	// changing. Local-only, never sent to the remote store.
	HasPendingChanges bool `json:"has_pending_changes,omitempty"`
}

// Table implements Record.
func (w *RiverWalk) Table() Table { return TableWalks }

// ParentRef implements Record. Walks are top-level.
func (w *RiverWalk) ParentRef() string { return "" }

// Validate implements Record.
func (w *RiverWalk) Validate() error {
	if w.LocalID == "" {
		return fmt.Errorf("local_id is required")
	}
	if w.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(w.Name) > 200 {
		return fmt.Errorf("name must be 200 characters or less (got %d)", len(w.Name))
	}
	if w.WalkDate.IsZero() {
		return fmt.Errorf("walk_date is required")
	}
	return nil
}

// Payload implements Record.
func (w *RiverWalk) Payload() map[string]any {
	p := map[string]any{
		"name":      w.Name,
		"walk_date": w.WalkDate.Format(time.RFC3339),
		"archived":  w.Archived,
	}
	if w.RiverName != "" {
		p["river_name"] = w.RiverName
	}
	if w.Location != "" {
		p["location"] = w.Location
	}
	if w.Notes != "" {
		p["notes"] = w.Notes
	}
	return p
}
