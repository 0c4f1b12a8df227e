package schema

import "fmt"

// MeasurementPoint is a single depth reading within a site: distance from
// the bank and measured depth. Pure value record with no children.
type MeasurementPoint struct {
	SyncMeta

	// SiteID references the owning site by server ID once known,
	// otherwise by local ID.
	SiteID string `json:"site_id"`

	Number    int     `json:"point_number"`
	DistanceM float64 `json:"distance_from_bank_m"`
	DepthM    float64 `json:"depth_m"`
}

// Table implements Record.
func (p *MeasurementPoint) Table() Table { return TablePoints }

// ParentRef implements Record.
func (p *MeasurementPoint) ParentRef() string { return p.SiteID }

// Validate implements Record.
func (p *MeasurementPoint) Validate() error {
	if p.LocalID == "" {
		return fmt.Errorf("local_id is required")
	}
	if p.SiteID == "" {
		return fmt.Errorf("site_id is required")
	}
	if p.Number < 1 {
		return fmt.Errorf("point_number must be 1 or greater (got %d)", p.Number)
	}
	if p.DistanceM < 0 {
		return fmt.Errorf("distance_from_bank_m cannot be negative (got %g)", p.DistanceM)
	}
	if p.DepthM < 0 {
		return fmt.Errorf("depth_m cannot be negative (got %g)", p.DepthM)
	}
	return nil
}

// Payload implements Record.
func (p *MeasurementPoint) Payload() map[string]any {
	return map[string]any{
		"site_id":              p.SiteID,
		"point_number":         p.Number,
		"distance_from_bank_m": p.DistanceM,
		"depth_m":              p.DepthM,
	}
}

// EvenDistances returns n distances evenly spaced across a river width,
// starting at the bank (0) and ending at width. Used to pre-populate a
// site's measurement points.
func EvenDistances(width float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{0}
	}
	out := make([]float64, n)
	step := width / float64(n-1)
	for i := range out {
		out[i] = step * float64(i)
	}
	return out
}
