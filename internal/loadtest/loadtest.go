// Package loadtest provides load testing utilities for the local store.
//
// This package simulates the access pattern of a field device UI: many
// concurrent list queries (sites of a walk, points of a site) running
// against a store that keeps taking offline writes. It validates that
// list latency stays low while a drain-sized backlog accumulates.
package loadtest

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/lukejkirsten91/riverwalks-sub003/internal/schema"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/store"
)

// TestDatabase represents a populated store for load testing.
type TestDatabase struct {
	DB           *store.DB
	WalkIDs      []string
	SiteIDs      []string
	TotalRecords int
}

// LatencyStats captures performance metrics from load tests.
type LatencyStats struct {
	Min          time.Duration
	Max          time.Duration
	Mean         time.Duration
	P50          time.Duration // Median
	P95          time.Duration
	P99          time.Duration
	TotalQueries int
	Errors       int
	Durations    []time.Duration
}

// Seed creates a store populated with a realistic field dataset:
// numWalks walks, each with sitesPerWalk numbered sites, each site with
// pointsPerSite evenly spaced measurement points. Roughly a third of the
// records are left unsynced to mimic a device mid-fieldwork.
func Seed(dbPath string, numWalks, sitesPerWalk, pointsPerSite int) (*TestDatabase, error) {
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	td := &TestDatabase{
		DB:      db,
		WalkIDs: make([]string, 0, numWalks),
		SiteIDs: make([]string, 0, numWalks*sitesPerWalk),
	}

	// Deterministic random for reproducibility.
	rng := rand.New(rand.NewSource(42))
	ctx := context.Background()
	baseTime := time.Now().Add(-30 * 24 * time.Hour)

	for w := 0; w < numWalks; w++ {
		walk := &schema.RiverWalk{
			Name:      fmt.Sprintf("Walk %d", w+1),
			RiverName: fmt.Sprintf("River %d", w%7),
			WalkDate:  baseTime.Add(time.Duration(w) * 24 * time.Hour),
		}
		walk.LocalID = schema.NewLocalID(schema.TableWalks)
		walk.UpdatedAt = baseTime.Add(time.Duration(w) * time.Hour)
		if w%3 != 0 {
			walk.ServerID = fmt.Sprintf("srv-walk-%d", w)
			walk.Synced = true
		}
		if err := db.Put(ctx, walk); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to insert walk %s: %w", walk.LocalID, err)
		}
		td.WalkIDs = append(td.WalkIDs, walk.LocalID)
		td.TotalRecords++

		for s := 0; s < sitesPerWalk; s++ {
			width := 2 + rng.Float64()*10
			site := &schema.Site{
				RiverWalkID: walk.LocalID,
				Number:      s + 1,
				Name:        schema.DefaultSiteName(s + 1),
				RiverWidth:  width,
			}
			site.LocalID = schema.NewLocalID(schema.TableSites)
			site.UpdatedAt = walk.UpdatedAt
			site.Synced = walk.Synced
			site.ServerID = serverIDIf(walk.Synced, "srv-site-%d-%d", w, s)
			if err := db.Put(ctx, site); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("failed to insert site %s: %w", site.LocalID, err)
			}
			td.SiteIDs = append(td.SiteIDs, site.LocalID)
			td.TotalRecords++

			for p, dist := range schema.EvenDistances(width, pointsPerSite) {
				point := &schema.MeasurementPoint{
					SiteID:    site.LocalID,
					Number:    p + 1,
					DistanceM: dist,
					DepthM:    rng.Float64() * 2,
				}
				point.LocalID = schema.NewLocalID(schema.TablePoints)
				point.UpdatedAt = site.UpdatedAt
				point.Synced = site.Synced
				point.ServerID = serverIDIf(site.Synced, "srv-point-%d-%d-%d", w, s, p)
				if err := db.Put(ctx, point); err != nil {
					_ = db.Close()
					return nil, fmt.Errorf("failed to insert point %s: %w", point.LocalID, err)
				}
				td.TotalRecords++
			}
		}
	}

	return td, nil
}

func serverIDIf(synced bool, format string, args ...any) string {
	if !synced {
		return ""
	}
	return fmt.Sprintf(format, args...)
}

// Close closes the test store.
func (td *TestDatabase) Close() error {
	if td.DB != nil {
		return td.DB.Close()
	}
	return nil
}

// RunConcurrentReads simulates N concurrent UI readers listing walk
// contents. Each reader performs queriesPerReader site-then-point list
// pairs against random walks, recording latency for each pair.
func (td *TestDatabase) RunConcurrentReads(numReaders, queriesPerReader int) (*LatencyStats, error) {
	var wg sync.WaitGroup

	resultsChan := make(chan []time.Duration, numReaders)
	errorsChan := make(chan error, numReaders)

	for i := 0; i < numReaders; i++ {
		wg.Add(1)
		go func(readerID int) {
			defer wg.Done()

			rng := rand.New(rand.NewSource(int64(readerID)))
			durations := make([]time.Duration, 0, queriesPerReader)
			ctx := context.Background()

			for j := 0; j < queriesPerReader; j++ {
				walkID := td.WalkIDs[rng.Intn(len(td.WalkIDs))]
				siteID := td.SiteIDs[rng.Intn(len(td.SiteIDs))]

				start := time.Now()
				_, err := td.DB.ListByParent(ctx, schema.TableSites, walkID)
				if err == nil {
					_, err = td.DB.ListByParent(ctx, schema.TablePoints, siteID)
				}
				durations = append(durations, time.Since(start))

				if err != nil {
					errorsChan <- fmt.Errorf("reader %d query %d failed: %w", readerID, j, err)
					return
				}
			}

			resultsChan <- durations
		}(i)
	}

	wg.Wait()
	close(resultsChan)
	close(errorsChan)

	errorCount := 0
	for err := range errorsChan {
		if err != nil {
			errorCount++
			fmt.Printf("Error: %v\n", err)
		}
	}

	var allDurations []time.Duration
	for durations := range resultsChan {
		allDurations = append(allDurations, durations...)
	}

	if len(allDurations) == 0 {
		return nil, fmt.Errorf("no successful queries completed")
	}

	stats := computeLatencyStats(allDurations)
	stats.Errors = errorCount
	return stats, nil
}

// VerifyConcurrentAccess runs concurrent readers against a writer that
// keeps touching measurement points, verifying that reads stay
// consistent while offline edits land.
func (td *TestDatabase) VerifyConcurrentAccess(numReaders int, duration time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var wg sync.WaitGroup
	errorsChan := make(chan error, numReaders+1)

	// Writer: keeps editing point depths, the way a surveyor correcting
	// entries would.
	wg.Add(1)
	go func() {
		defer wg.Done()

		rng := rand.New(rand.NewSource(1))
		for ctx.Err() == nil {
			siteID := td.SiteIDs[rng.Intn(len(td.SiteIDs))]
			points, err := td.DB.ListByParent(ctx, schema.TablePoints, siteID)
			if err != nil || len(points) == 0 {
				continue
			}
			point := points[rng.Intn(len(points))].(*schema.MeasurementPoint)
			point.DepthM = rng.Float64() * 2
			point.Touch()
			if err := td.DB.Put(ctx, point); err != nil && ctx.Err() == nil {
				errorsChan <- fmt.Errorf("writer update failed: %w", err)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	for i := 0; i < numReaders; i++ {
		wg.Add(1)
		go func(readerID int) {
			defer wg.Done()

			rng := rand.New(rand.NewSource(int64(100 + readerID)))
			for ctx.Err() == nil {
				walkID := td.WalkIDs[rng.Intn(len(td.WalkIDs))]
				sites, err := td.DB.ListByParent(ctx, schema.TableSites, walkID)
				if err != nil && ctx.Err() == nil {
					errorsChan <- fmt.Errorf("reader %d list failed: %w", readerID, err)
					return
				}

				// Verify data consistency.
				for _, rec := range sites {
					site := rec.(*schema.Site)
					if site.LocalID == "" {
						errorsChan <- fmt.Errorf("reader %d found site with empty local ID", readerID)
						return
					}
					if site.Number < 1 {
						errorsChan <- fmt.Errorf("reader %d found site %s with number %d", readerID, site.LocalID, site.Number)
						return
					}
				}

				time.Sleep(time.Millisecond)
			}
		}(i)
	}

	wg.Wait()
	close(errorsChan)

	for err := range errorsChan {
		if err != nil {
			return err
		}
	}
	return nil
}

// GetStats returns statistics about the seeded dataset.
func (td *TestDatabase) GetStats() map[string]interface{} {
	ctx := context.Background()
	unsynced, _ := td.DB.CountUnsynced(ctx)
	return map[string]interface{}{
		"total_records": td.TotalRecords,
		"walks":         len(td.WalkIDs),
		"sites":         len(td.SiteIDs),
		"unsynced":      unsynced,
	}
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	mean := sum / time.Duration(len(durations))

	return &LatencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         mean,
		P50:          sorted[len(sorted)*50/100],
		P95:          sorted[len(sorted)*95/100],
		P99:          sorted[len(sorted)*99/100],
		TotalQueries: len(durations),
		Durations:    sorted,
	}
}

// PrintStats formats and prints latency statistics.
func (s *LatencyStats) PrintStats() {
	fmt.Printf("Latency Statistics:\n")
	fmt.Printf("  Total Queries: %d\n", s.TotalQueries)
	fmt.Printf("  Errors:        %d\n", s.Errors)
	fmt.Printf("  Min:           %v\n", s.Min)
	fmt.Printf("  P50 (Median):  %v\n", s.P50)
	fmt.Printf("  Mean:          %v\n", s.Mean)
	fmt.Printf("  P95:           %v\n", s.P95)
	fmt.Printf("  P99:           %v\n", s.P99)
	fmt.Printf("  Max:           %v\n", s.Max)
}
