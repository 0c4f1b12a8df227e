package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "riverwalks",
	Short: "Offline-first field data client for river studies",
	Long: `riverwalks records river study data (walks, sites, measurement points,
photos) into a local SQLite store and synchronizes it with the remote
store whenever connectivity allows.

All data entry works fully offline. Mutations are queued durably and
replayed in order once the device is back online.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: riverwalks.yaml in data dir)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
