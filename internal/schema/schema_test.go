package schema

import (
	"math"
	"strings"
	"testing"
	"time"
)

// TestNewLocalID_Format tests the {prefix}-{millis}-{suffix} shape
func TestNewLocalID_Format(t *testing.T) {
	for _, table := range Tables() {
		id := NewLocalID(table)
		parts := strings.SplitN(id, "-", 3)
		if len(parts) != 3 {
			t.Fatalf("NewLocalID(%s) = %q, want three dash-separated parts", table, id)
		}
		if parts[0] != table.LocalIDPrefix() {
			t.Errorf("prefix = %q, want %q", parts[0], table.LocalIDPrefix())
		}
		if len(parts[2]) != 8 {
			t.Errorf("suffix %q has length %d, want 8", parts[2], len(parts[2]))
		}
		if !IsLocalID(id) {
			t.Errorf("IsLocalID(%q) = false", id)
		}
	}
}

// TestNewLocalID_Unique tests collision resistance across rapid calls
func TestNewLocalID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewLocalID(TablePoints)
		if seen[id] {
			t.Fatalf("duplicate local ID %q", id)
		}
		seen[id] = true
	}
}

// TestIsLocalID tests recognition of server IDs and URLs as non-local
func TestIsLocalID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"walk-1748000000000-a1b2c3d4", true},
		{"site-1-x", true},
		{"", false},
		{"550e8400-e29b-41d4-a716-446655440000", false},
		{"https://cdn.example.com/p.jpg", false},
		{"srv-42", false},
	}
	for _, tt := range tests {
		if got := IsLocalID(tt.id); got != tt.want {
			t.Errorf("IsLocalID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

// TestTouch_ClearsSynced tests mutation bookkeeping
func TestTouch_ClearsSynced(t *testing.T) {
	m := SyncMeta{Synced: true}
	m.Touch()
	if m.Synced {
		t.Error("Touch() left Synced true")
	}
	if m.UpdatedAt.IsZero() {
		t.Error("Touch() left UpdatedAt zero")
	}
}

// TestSetParentRef tests reference rewriting per record kind
func TestSetParentRef(t *testing.T) {
	site := &Site{}
	SetParentRef(site, "srv-walk")
	if site.RiverWalkID != "srv-walk" {
		t.Errorf("site parent = %q", site.RiverWalkID)
	}

	point := &MeasurementPoint{}
	SetParentRef(point, "srv-site")
	if point.SiteID != "srv-site" {
		t.Errorf("point parent = %q", point.SiteID)
	}

	photo := &Photo{}
	SetParentRef(photo, "srv-site")
	if photo.OwnerID != "srv-site" {
		t.Errorf("photo parent = %q", photo.OwnerID)
	}
}

// TestSite_PhotoRefs tests the kind-to-reference mapping both ways
func TestSite_PhotoRefs(t *testing.T) {
	site := &Site{}
	site.SetPhotoRef(KindSitePhoto, "photo-a")
	site.SetPhotoRef(KindSedimentPhoto, "photo-b")

	refs := site.PhotoRefs()
	if refs[KindSitePhoto] != "photo-a" || refs[KindSedimentPhoto] != "photo-b" {
		t.Errorf("PhotoRefs() = %v", refs)
	}
}

// TestEvenDistances tests the linspace helper used for site setup
func TestEvenDistances(t *testing.T) {
	got := EvenDistances(10, 5)
	want := []float64{0, 2.5, 5, 7.5, 10}
	if len(got) != len(want) {
		t.Fatalf("EvenDistances(10, 5) has %d values, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Errorf("got[%d] = %g, want %g", i, got[i], want[i])
		}
	}

	if got := EvenDistances(10, 0); got != nil {
		t.Errorf("EvenDistances(10, 0) = %v, want nil", got)
	}
	if got := EvenDistances(10, 1); len(got) != 1 || got[0] != 0 {
		t.Errorf("EvenDistances(10, 1) = %v, want [0]", got)
	}
}

// TestDecodeRemote_Walk tests download decoding
func TestDecodeRemote_Walk(t *testing.T) {
	rec, err := DecodeRemote(TableWalks, "srv-1", map[string]any{
		"name":      "Survey",
		"walk_date": "2026-05-14T00:00:00Z",
		"archived":  true,
	})
	if err != nil {
		t.Fatalf("DecodeRemote() failed: %v", err)
	}
	walk := rec.(*RiverWalk)
	if walk.ServerID != "srv-1" || !walk.Synced {
		t.Errorf("meta = %+v, want synced with server ID", walk.SyncMeta)
	}
	if walk.Name != "Survey" || !walk.Archived {
		t.Errorf("fields = %+v", walk)
	}
	want := time.Date(2026, 5, 14, 0, 0, 0, 0, time.UTC)
	if !walk.WalkDate.Equal(want) {
		t.Errorf("WalkDate = %v, want %v", walk.WalkDate, want)
	}
}

// TestDecodeRemote_NumericTolerance tests int-vs-float JSON numbers
func TestDecodeRemote_NumericTolerance(t *testing.T) {
	rec, err := DecodeRemote(TablePoints, "srv-p", map[string]any{
		"site_id":              "srv-s",
		"point_number":         float64(3),
		"distance_from_bank_m": 2.5,
		"depth_m":              1,
	})
	if err != nil {
		t.Fatalf("DecodeRemote() failed: %v", err)
	}
	point := rec.(*MeasurementPoint)
	if point.Number != 3 || point.DistanceM != 2.5 || point.DepthM != 1 {
		t.Errorf("decoded point = %+v", point)
	}
}

// TestDecodeRemote_RejectsPhotos tests that photos never come from the
// download path
func TestDecodeRemote_RejectsPhotos(t *testing.T) {
	if _, err := DecodeRemote(TablePhotos, "srv-x", nil); err == nil {
		t.Error("DecodeRemote() accepted a photo row")
	}
}

// TestValidate_Sites tests site field constraints
func TestValidate_Sites(t *testing.T) {
	valid := &Site{
		SyncMeta:    SyncMeta{LocalID: "site-1-a"},
		RiverWalkID: "walk-1-a",
		Number:      1,
		Name:        "Site 1",
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() rejected a valid site: %v", err)
	}

	bad := *valid
	bad.Number = 0
	if err := bad.Validate(); err == nil {
		t.Error("Validate() accepted site_number 0")
	}

	bad = *valid
	bad.RiverWidth = -1
	if err := bad.Validate(); err == nil {
		t.Error("Validate() accepted a negative river width")
	}
}
