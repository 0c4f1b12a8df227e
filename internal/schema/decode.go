package schema

import (
	"fmt"
	"time"
)

// DecodeRemote converts a row from the reconciliation download into a
// Record. The returned record carries the server ID, is marked synced, and
// has no local ID; the store layer preserves an existing local alias when
// overwriting a matching record.
//
// Photos are not part of the reconciliation download; their upload state is
// tracked by the attachment engine.
func DecodeRemote(t Table, serverID string, fields map[string]any) (Record, error) {
	if serverID == "" {
		return nil, fmt.Errorf("server id is required")
	}
	meta := SyncMeta{
		ServerID:  serverID,
		Synced:    true,
		UpdatedAt: time.Now(),
	}

	switch t {
	case TableWalks:
		w := &RiverWalk{
			SyncMeta:  meta,
			Name:      str(fields, "name"),
			RiverName: str(fields, "river_name"),
			Location:  str(fields, "location"),
			Notes:     str(fields, "notes"),
			Archived:  boolean(fields, "archived"),
		}
		if d, err := time.Parse(time.RFC3339, str(fields, "walk_date")); err == nil {
			w.WalkDate = d
		}
		return w, nil

	case TableSites:
		return &Site{
			SyncMeta:        meta,
			RiverWalkID:     str(fields, "river_walk_id"),
			Number:          integer(fields, "site_number"),
			Name:            str(fields, "site_name"),
			RiverWidth:      float(fields, "river_width_m"),
			Notes:           str(fields, "notes"),
			SitePhotoID:     str(fields, "site_photo_id"),
			SedimentPhotoID: str(fields, "sediment_photo_id"),
		}, nil

	case TablePoints:
		return &MeasurementPoint{
			SyncMeta:  meta,
			SiteID:    str(fields, "site_id"),
			Number:    integer(fields, "point_number"),
			DistanceM: float(fields, "distance_from_bank_m"),
			DepthM:    float(fields, "depth_m"),
		}, nil

	case TablePhotos:
		return nil, fmt.Errorf("photos are not part of the reconciliation download")

	default:
		return nil, fmt.Errorf("unknown table %q", t)
	}
}

func str(fields map[string]any, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

func boolean(fields map[string]any, key string) bool {
	if v, ok := fields[key].(bool); ok {
		return v
	}
	return false
}

// float handles both float64 (JSON numbers) and int payloads.
func float(fields map[string]any, key string) float64 {
	switch v := fields[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func integer(fields map[string]any, key string) int {
	return int(float(fields, key))
}
