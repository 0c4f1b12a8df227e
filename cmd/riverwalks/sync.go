package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lukejkirsten91/riverwalks-sub003/internal/engine"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one full sync pass now",
	Long: `Probe connectivity and, if the remote store is reachable, replay all
queued mutations and download the latest server state.

Exits non-zero when offline or when the pass fails.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(log.Default())
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		fmt.Println("Starting sync...")
		start := time.Now()
		if err := a.engine.ForceSync(ctx); err != nil {
			if errors.Is(err, engine.ErrOffline) {
				return fmt.Errorf("remote store is unreachable")
			}
			return err
		}

		status, err := a.engine.GetSyncStatus(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Sync completed in %s (%d mutations still pending)\n",
			time.Since(start).Round(time.Millisecond), status.PendingCount)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status",
	Long: `Display current sync health:

  - Connectivity state
  - Pending mutation count
  - Last sync failure, if any`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(log.New(os.Stderr, "", 0))
		if err != nil {
			return err
		}
		defer a.close()

		// One probe so the report reflects reality, not a cold monitor.
		online := a.monitor.CheckNow(cmd.Context())

		status, err := a.engine.GetSyncStatus(cmd.Context())
		if err != nil {
			return err
		}

		unsynced, err := a.store.CountUnsynced(cmd.Context())
		if err != nil {
			return err
		}

		state := "offline"
		if online {
			state = "online"
		}
		fmt.Printf("\nSync Status\n\n")
		fmt.Printf("Connectivity: %s\n", state)
		fmt.Printf("Pending mutations: %d\n", status.PendingCount)
		fmt.Printf("Unsynced records: %d\n", unsynced)
		if status.LastError != "" {
			fmt.Printf("Last error: %s\n", status.LastError)
		}
		fmt.Println()
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Wipe all local data",
	Long: `Delete the local record store, the mutation queue, and all photo
binaries. Used when switching accounts.

Unsynced data is lost. Pass --force to skip the confirmation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		a, err := openApp(log.Default())
		if err != nil {
			return err
		}
		defer a.close()

		pending, err := a.queue.Len(cmd.Context())
		if err != nil {
			return err
		}
		if pending > 0 && !force {
			return fmt.Errorf("%d mutations have not reached the remote store; re-run with --force to discard them", pending)
		}

		if err := a.engine.ClearAllLocalData(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("All local data cleared")
		return nil
	},
}

func init() {
	clearCmd.Flags().Bool("force", false, "discard unsynced data without confirmation")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(clearCmd)
}
