package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/lukejkirsten91/riverwalks-sub003/internal/backup"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write all local records to a JSONL file",
	Long: `Export every local record (walks, sites, measurement points, photo
metadata) as JSONL, one record per line. Photo binaries are not included;
they re-sync from the remote store or re-import from the spool.

Writes to stdout unless --out is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		outPath, _ := cmd.Flags().GetString("out")

		a, err := openApp(log.New(os.Stderr, "", 0))
		if err != nil {
			return err
		}
		defer a.close()

		out := os.Stdout
		if outPath != "" {
			f, err := os.Create(outPath)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}

		n, err := backup.Export(cmd.Context(), a.store, out)
		if err != nil {
			return err
		}
		if outPath != "" {
			fmt.Printf("Backed up %d records to %s\n", n, outPath)
		}
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <file>",
	Short: "Restore local records from a JSONL backup",
	Long: `Read a JSONL backup and write its records into the local store.
Existing records with the same local ID are overwritten. Damaged lines
are skipped and reported.

Pass --reset-sync when restoring onto a different account so the records
re-sync as new instead of claiming another account's server IDs.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		resetSync, _ := cmd.Flags().GetBool("reset-sync")

		a, err := openApp(log.Default())
		if err != nil {
			return err
		}
		defer a.close()

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		result, err := backup.Restore(cmd.Context(), a.store, f, backup.RestoreOptions{
			DryRun:    dryRun,
			ResetSync: resetSync,
		})
		if err != nil {
			return err
		}

		verb := "Restored"
		if dryRun {
			verb = "Would restore"
		}
		fmt.Printf("%s %d records\n", verb, result.RecordsRestored)
		for _, skip := range result.Skipped {
			fmt.Fprintf(os.Stderr, "Skipped %s\n", skip)
		}
		return nil
	},
}

func init() {
	backupCmd.Flags().String("out", "", "output file (default stdout)")
	restoreCmd.Flags().Bool("dry-run", false, "parse and validate without writing")
	restoreCmd.Flags().Bool("reset-sync", false, "strip server IDs so records re-sync as new")

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
}
