package schema

import (
	"fmt"
	"strings"
)

// PhotoKind tags what a photo shows.
type PhotoKind string

const (
	// KindSitePhoto is a photo of the measurement site.
	KindSitePhoto PhotoKind = "site_photo"
	// KindSedimentPhoto is a close-up of the river bed sediment.
	KindSedimentPhoto PhotoKind = "sediment_photo"
)

// Valid reports whether k names a known photo kind.
func (k PhotoKind) Valid() bool {
	return k == KindSitePhoto || k == KindSedimentPhoto
}

// Photo is a binary attachment record. The binary payload itself lives in
// the on-disk photo store keyed by local ID; this record tracks upload
// state and which site the photo belongs to.
type Photo struct {
	SyncMeta

	// OwnerID references the site the photo is attached to.
	OwnerID string `json:"owner_id"`

	Kind        PhotoKind `json:"kind"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type,omitempty"`
	SizeBytes   int64     `json:"size_bytes"`

	// URL is the remote location after a successful upload. A photo's
	// public identifier is its local ID until then, the URL afterward.
	URL string `json:"url,omitempty"`
}

// Table implements Record.
func (p *Photo) Table() Table { return TablePhotos }

// ParentRef implements Record.
func (p *Photo) ParentRef() string { return p.OwnerID }

// Validate implements Record.
func (p *Photo) Validate() error {
	if p.LocalID == "" {
		return fmt.Errorf("local_id is required")
	}
	if p.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if !p.Kind.Valid() {
		return fmt.Errorf("unknown photo kind %q", p.Kind)
	}
	if p.FileName == "" {
		return fmt.Errorf("file_name is required")
	}
	return nil
}

// Payload implements Record.
func (p *Photo) Payload() map[string]any {
	out := map[string]any{
		"owner_id":   p.OwnerID,
		"kind":       string(p.Kind),
		"file_name":  p.FileName,
		"size_bytes": p.SizeBytes,
	}
	if p.ContentType != "" {
		out["content_type"] = p.ContentType
	}
	if p.URL != "" {
		out["url"] = p.URL
	}
	return out
}

// Uploaded reports whether the photo's binary has reached the remote store.
func (p *Photo) Uploaded() bool { return p.URL != "" }

// IsRemoteRef reports whether a photo reference held by an owner record is
// a remote URL rather than a local ID.
func IsRemoteRef(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}
