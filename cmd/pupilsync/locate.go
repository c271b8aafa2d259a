package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bridgelabs/pupilsync/internal/location"
)

var locateCmd = &cobra.Command{
	Use:   "locate <lat> <lng>",
	Short: "Resolve a coordinate to a place name",
	Long: `Resolve a coordinate to a place name through the local geocoding
cache. A cached result within 1 km answers without a network call;
otherwise the geocoding API is queried and the result cached.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		lat, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid latitude %q\n", args[0])
			os.Exit(1)
		}
		lng, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid longitude %q\n", args[1])
			os.Exit(1)
		}

		cfg := loadConfig()
		db := openStore(cfg)
		defer db.Close()

		ctx, cancel := commandContext()
		defer cancel()

		resolver := location.NewResolver(db, newGeoClient(cfg), nil)
		name, ok := resolver.Resolve(ctx, lat, lng)
		if !ok {
			fmt.Printf("(%v, %v): unknown location\n", lat, lng)
			return
		}
		fmt.Printf("(%v, %v): %s\n", lat, lng, name)
	},
}

var cacheCleanupCmd = &cobra.Command{
	Use:   "cache-cleanup",
	Short: "Remove stale geocoding cache entries",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		db := openStore(cfg)
		defer db.Close()

		ctx, cancel := commandContext()
		defer cancel()

		resolver := location.NewResolver(db, newGeoClient(cfg), nil)
		resolver.CleanupOldCache(ctx)
		fmt.Println("Location cache cleanup complete")
	},
}

func init() {
	rootCmd.AddCommand(locateCmd)
	rootCmd.AddCommand(cacheCleanupCmd)
}
