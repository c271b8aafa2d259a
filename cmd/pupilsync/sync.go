package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconciliation pass now",
	Long: `Run a single reconciliation pass against the roster service.

The pass replays every queued local mutation (adds, edits, deletes made
while offline), then replaces the local roster with a full fetch from the
server. If another pass is already in flight, this one is rejected.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		db := openStore(cfg)
		defer db.Close()

		engine, status := newEngine(cfg, db)

		ctx, cancel := commandContext()
		defer cancel()

		start := time.Now()
		ok := engine.Sync(ctx)
		elapsed := time.Since(start).Round(time.Millisecond)

		current, _ := status.Get(ctx)
		count, _ := db.CountPupils(ctx)
		pending, _ := db.CountPendingPupils(ctx)

		if !ok {
			fmt.Fprintf(os.Stderr, "Sync did not complete (status: %s, pending: %d)\n", current, pending)
			os.Exit(1)
		}

		fmt.Printf("Sync complete in %v\n", elapsed)
		fmt.Printf("   Pupils:  %d\n", count)
		fmt.Printf("   Pending: %d\n", pending)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
