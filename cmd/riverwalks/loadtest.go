package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lukejkirsten91/riverwalks-sub003/internal/loadtest"
)

var loadtestCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Measure local store read latency under concurrent load",
	Long: `Seed a throwaway store with a synthetic field dataset and run
concurrent list queries against it, the access pattern of a device UI
refreshing while a sync backlog accumulates.

Reports min/median/p95/p99 latency.

Examples:
  # Default: 50 walks, 5 sites each, 10 points per site, 20 readers
  riverwalks loadtest

  # Heavier dataset and more readers
  riverwalks loadtest --walks 200 --readers 100

  # Output results as JSON
  riverwalks loadtest --json`,
	RunE: runLoadtest,
}

func init() {
	loadtestCmd.Flags().Int("walks", 50, "Number of walks to seed")
	loadtestCmd.Flags().Int("sites", 5, "Sites per walk")
	loadtestCmd.Flags().Int("points", 10, "Measurement points per site")
	loadtestCmd.Flags().Int("readers", 20, "Number of concurrent readers")
	loadtestCmd.Flags().Int("queries", 50, "Query pairs per reader")
	loadtestCmd.Flags().Bool("json", false, "Output results as JSON")
	rootCmd.AddCommand(loadtestCmd)
}

func runLoadtest(cmd *cobra.Command, args []string) error {
	walks, _ := cmd.Flags().GetInt("walks")
	sites, _ := cmd.Flags().GetInt("sites")
	points, _ := cmd.Flags().GetInt("points")
	readers, _ := cmd.Flags().GetInt("readers")
	queries, _ := cmd.Flags().GetInt("queries")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	tmpDir, err := os.MkdirTemp("", "riverwalks-loadtest-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	if !jsonOutput {
		fmt.Printf("Seeding %d walks x %d sites x %d points...\n", walks, sites, points)
	}
	td, err := loadtest.Seed(filepath.Join(tmpDir, "loadtest.db"), walks, sites, points)
	if err != nil {
		return fmt.Errorf("seed failed: %w", err)
	}
	defer td.Close()

	stats, err := td.RunConcurrentReads(readers, queries)
	if err != nil {
		return fmt.Errorf("load test failed: %w", err)
	}

	if jsonOutput {
		out := map[string]interface{}{
			"dataset": td.GetStats(),
			"readers": readers,
			"latency": map[string]interface{}{
				"min_us":  stats.Min.Microseconds(),
				"p50_us":  stats.P50.Microseconds(),
				"mean_us": stats.Mean.Microseconds(),
				"p95_us":  stats.P95.Microseconds(),
				"p99_us":  stats.P99.Microseconds(),
				"max_us":  stats.Max.Microseconds(),
			},
			"total_queries": stats.TotalQueries,
			"errors":        stats.Errors,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("Dataset: %v\n\n", td.GetStats())
	stats.PrintStats()
	return nil
}
