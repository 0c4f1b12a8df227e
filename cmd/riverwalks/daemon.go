package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/lukejkirsten91/riverwalks-sub003/internal/dashboard"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/photos"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync engine continuously (foreground)",
	Long: `Run the sync engine as a long-lived process.

The daemon:
  1. Probes connectivity on a heartbeat and syncs on reconnect
  2. Retries queued mutations on a timer
  3. Sweeps orphaned photo references periodically
  4. Imports photos dropped into the spool directory (if configured)
  5. Serves a WebSocket status dashboard (if enabled)

Logs rotate via the configured log file. Stop with Ctrl+C or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logToFile, _ := cmd.Flags().GetBool("log-file")

		logger := log.Default()
		a, err := openApp(logger)
		if err != nil {
			return err
		}
		defer a.close()

		if logToFile {
			logger.SetOutput(&lumberjack.Logger{
				Filename:   a.cfg.LogFile(),
				MaxSize:    a.cfg.Log.MaxSizeMB,
				MaxBackups: a.cfg.Log.MaxBackups,
			})
		}

		a.monitor.Start()
		a.engine.Start()
		defer a.engine.Stop()

		var server *dashboard.Server
		if a.cfg.Dashboard.Enabled {
			server = dashboard.NewServer(&dashboard.Config{
				Port:   a.cfg.Dashboard.Port,
				Logger: log.New(logger.Writer(), "[dashboard] ", log.LstdFlags),
			})
			if err := server.Start(); err != nil {
				return fmt.Errorf("failed to start dashboard: %w", err)
			}
			handler := dashboard.NewHandler(server, a.engine, logger)
			handler.Start()
			defer func() {
				handler.Stop()
				if err := server.Stop(); err != nil {
					logger.Printf("Dashboard shutdown error: %v", err)
				}
			}()
			fmt.Printf("Dashboard: ws://localhost:%d/ws\n", a.cfg.Dashboard.Port)
		}

		if a.cfg.Spool.Dir != "" {
			watcher, err := photos.NewSpoolWatcher(a.cfg.Spool.Dir, a.engine, nil)
			if err != nil {
				return fmt.Errorf("failed to create spool watcher: %w", err)
			}
			if err := watcher.Start(); err != nil {
				return fmt.Errorf("failed to watch spool dir: %w", err)
			}
			defer func() {
				if err := watcher.Stop(); err != nil {
					logger.Printf("Spool watcher shutdown error: %v", err)
				}
			}()
			fmt.Printf("Watching spool directory: %s\n", a.cfg.Spool.Dir)
		}

		fmt.Println("Sync daemon running. Press Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		<-ctx.Done()

		fmt.Println("\nShutting down...")
		return nil
	},
}

func init() {
	daemonCmd.Flags().Bool("log-file", false, "log to the rotating log file instead of stderr")

	rootCmd.AddCommand(daemonCmd)
}
