package schema

import "fmt"

// Site is a numbered measurement site within a river walk. Site numbers
// form a contiguous run 1..N within their walk; deleting a site renumbers
// the ones after it in the same operation.
type Site struct {
	SyncMeta

	// RiverWalkID references the owning walk: the walk's server ID once
	// known, otherwise the walk's local ID.
	RiverWalkID string `json:"river_walk_id"`

	Number     int     `json:"site_number"`
	Name       string  `json:"site_name"`
	RiverWidth float64 `json:"river_width_m"`
	Notes      string  `json:"notes,omitempty"`

	// SitePhotoID and SedimentPhotoID each hold either a photo's local ID
	// (not yet uploaded) or its remote URL (uploaded). Empty when unset.
	SitePhotoID     string `json:"site_photo_id,omitempty"`
	SedimentPhotoID string `json:"sediment_photo_id,omitempty"`
}

// DefaultSiteName returns the display name derived from a site number.
func DefaultSiteName(number int) string {
	return fmt.Sprintf("Site %d", number)
}

// Table implements Record.
func (s *Site) Table() Table { return TableSites }

// ParentRef implements Record.
func (s *Site) ParentRef() string { return s.RiverWalkID }

// Validate implements Record.
func (s *Site) Validate() error {
	if s.LocalID == "" {
		return fmt.Errorf("local_id is required")
	}
	if s.RiverWalkID == "" {
		return fmt.Errorf("river_walk_id is required")
	}
	if s.Number < 1 {
		return fmt.Errorf("site_number must be 1 or greater (got %d)", s.Number)
	}
	if s.RiverWidth < 0 {
		return fmt.Errorf("river_width_m cannot be negative (got %g)", s.RiverWidth)
	}
	return nil
}

// Payload implements Record.
func (s *Site) Payload() map[string]any {
	p := map[string]any{
		"river_walk_id": s.RiverWalkID,
		"site_number":   s.Number,
		"site_name":     s.Name,
		"river_width_m": s.RiverWidth,
	}
	if s.Notes != "" {
		p["notes"] = s.Notes
	}
	if s.SitePhotoID != "" {
		p["site_photo_id"] = s.SitePhotoID
	}
	if s.SedimentPhotoID != "" {
		p["sediment_photo_id"] = s.SedimentPhotoID
	}
	return p
}

// PhotoRefs returns the site's photo reference fields as named slots.
// The attachment engine patches these from local IDs to remote URLs.
func (s *Site) PhotoRefs() map[PhotoKind]string {
	return map[PhotoKind]string{
		KindSitePhoto:     s.SitePhotoID,
		KindSedimentPhoto: s.SedimentPhotoID,
	}
}

// SetPhotoRef stores ref in the slot for the given kind.
func (s *Site) SetPhotoRef(kind PhotoKind, ref string) {
	switch kind {
	case KindSitePhoto:
		s.SitePhotoID = ref
	case KindSedimentPhoto:
		s.SedimentPhotoID = ref
	}
}
