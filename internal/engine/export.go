package engine

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/lukejkirsten91/riverwalks-sub003/internal/schema"
)

// ExportCSV writes one walk's measurement data as CSV: a row per
// measurement point, with site context repeated on each row. Reads only
// the local store, so export works offline.
func (e *Engine) ExportCSV(ctx context.Context, walkRef string, w io.Writer) error {
	rec, err := e.store.Get(ctx, schema.TableWalks, walkRef)
	if err != nil {
		return fmt.Errorf("failed to load walk %s: %w", walkRef, err)
	}
	walk := rec.(*schema.RiverWalk)

	sites, err := e.ListSites(ctx, walk.LocalID)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	header := []string{
		"walk_name", "river_name", "walk_date",
		"site_number", "site_name", "river_width_m",
		"point_number", "distance_m", "depth_m",
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, site := range sites {
		points, err := e.ListPoints(ctx, site.LocalID)
		if err != nil {
			return err
		}
		if len(points) == 0 {
			// A site without measurements still exports its context row.
			row := siteRow(walk, site)
			row = append(row, "", "", "")
			if err := cw.Write(row); err != nil {
				return err
			}
			continue
		}
		for _, p := range points {
			row := siteRow(walk, site)
			row = append(row,
				strconv.Itoa(p.Number),
				formatMeters(p.DistanceM),
				formatMeters(p.DepthM),
			)
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}

	cw.Flush()
	return cw.Error()
}

func siteRow(walk *schema.RiverWalk, site *schema.Site) []string {
	return []string{
		walk.Name,
		walk.RiverName,
		walk.WalkDate.Format("2006-01-02"),
		strconv.Itoa(site.Number),
		site.Name,
		formatMeters(site.RiverWidth),
	}
}

func formatMeters(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
