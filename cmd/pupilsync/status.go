package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bridgelabs/pupilsync/internal/daemon"
	"github.com/bridgelabs/pupilsync/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the local roster sync status",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		db := openStore(cfg)
		defer db.Close()

		ctx, cancel := commandContext()
		defer cancel()

		status := store.NewStatusStore(db, nil)
		current, err := status.Get(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading sync status: %v\n", err)
			os.Exit(1)
		}

		count, _ := db.CountPupils(ctx)
		pending, _ := db.CountPendingPupils(ctx)

		fmt.Printf("Status:  %s\n", current)
		fmt.Printf("Pupils:  %d\n", count)
		fmt.Printf("Pending: %d\n", pending)
	},
}

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Ask a running daemon for an immediate sync pass",
	Long: `Touch the trigger file in the state directory.

A running daemon watches the state directory and starts a reconciliation
pass as soon as the file appears or changes. Without a running daemon this
is a no-op.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating state directory: %v\n", err)
			os.Exit(1)
		}
		path := filepath.Join(cfg.StateDir, daemon.TriggerFile)
		if err := os.WriteFile(path, []byte{}, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing trigger file: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Sync requested via %s\n", path)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(triggerCmd)
}
