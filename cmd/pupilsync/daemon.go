package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/bridgelabs/pupilsync/internal/config"
	"github.com/bridgelabs/pupilsync/internal/daemon"
	"github.com/bridgelabs/pupilsync/internal/dashboard"
	"github.com/bridgelabs/pupilsync/internal/location"
	"github.com/bridgelabs/pupilsync/internal/store"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background sync daemon",
	Long: `Run the periodic sync daemon in the foreground.

The daemon reconciles the local roster with the server immediately on start
and then on the configured interval (default 30m) whenever the roster host
is reachable, backing off exponentially after failures. Touching
"sync.trigger" in the state directory forces an immediate pass. The
location cache is pruned once a day.

With --dashboard (or dashboard.enabled in the config), a local observation
server broadcasts status transitions over WebSocket and serves /status and
/metrics.

Example usage:
  pupilsync daemon
  pupilsync daemon --dashboard`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		db := openStore(cfg)
		defer db.Close()

		logger := daemonLogger(cfg)

		engine, status := newEngine(cfg, db)
		resolver := location.NewResolver(db, newGeoClient(cfg), logger)

		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		var server *dashboard.Server
		if withDashboard || cfg.Dashboard.Enabled {
			server = startDashboard(cfg, db, status, logger)
			defer func() {
				if err := server.Stop(); err != nil {
					logger.Printf("Error stopping observation server: %v", err)
				}
			}()
		}

		daemonCfg := &daemon.Config{
			SyncInterval:    cfg.Sync.Interval,
			BackoffBase:     cfg.Sync.BackoffBase,
			BackoffMax:      cfg.Sync.BackoffMax,
			CleanupInterval: daemon.DefaultConfig().CleanupInterval,
			StateDir:        cfg.StateDir,
			Online:          onlineProbe(cfg),
			Logger:          logger,
		}
		if server != nil {
			daemonCfg.OnSyncResult = func(ok bool, elapsed time.Duration) {
				server.BroadcastSyncComplete(ok, elapsed)
			}
		}

		d, err := daemon.New(engine, resolver, daemonCfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
			os.Exit(1)
		}

		if err := d.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting daemon: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Daemon running (state dir: %s). Press Ctrl+C to stop.\n", cfg.StateDir)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		fmt.Println("\nShutting down...")
		d.Stop()
	},
}

// daemonLogger logs to stderr, and also to a rotated file when configured.
func daemonLogger(cfg *config.Config) *log.Logger {
	var out io.Writer = os.Stderr
	if cfg.Log.File != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
		})
	}
	return log.New(out, "[daemon] ", log.LstdFlags)
}

// startDashboard wires the observation server to the status store.
func startDashboard(cfg *config.Config, db *store.DB, status *store.StatusStore, logger *log.Logger) *dashboard.Server {
	server := dashboard.NewServer(&dashboard.Config{
		Addr:   cfg.Dashboard.Addr,
		Logger: logger,
	}, func(ctx context.Context) (dashboard.Snapshot, error) {
		current, err := status.Get(ctx)
		if err != nil {
			return dashboard.Snapshot{}, err
		}
		count, err := db.CountPupils(ctx)
		if err != nil {
			return dashboard.Snapshot{}, err
		}
		pending, err := db.CountPendingPupils(ctx)
		if err != nil {
			return dashboard.Snapshot{}, err
		}
		return dashboard.Snapshot{
			Status:       string(current),
			RosterCount:  count,
			PendingCount: pending,
		}, nil
	})

	if err := server.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting observation server: %v\n", err)
		os.Exit(1)
	}

	// process-lifetime watcher, no cancel needed
	ch, _ := status.Watch()
	go func() {
		for s := range ch {
			server.BroadcastStatus(string(s))
		}
	}()

	fmt.Printf("Observation server on http://%s (ws://%s/ws)\n", server.Addr(), server.Addr())
	return server
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "also serve the local observation endpoint")
	rootCmd.AddCommand(daemonCmd)
}
