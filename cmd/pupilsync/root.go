// pupilsync keeps a local copy of a remote pupil roster, queues offline
// mutations, and reconciles them with the server in the background.
package main

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bridgelabs/pupilsync/internal/api"
	"github.com/bridgelabs/pupilsync/internal/config"
	"github.com/bridgelabs/pupilsync/internal/store"
	"github.com/bridgelabs/pupilsync/internal/syncer"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "pupilsync",
	Short: "Offline-first pupil roster synchronizer",
	Long: `pupilsync maintains a local pupil roster that stays usable offline.

Local adds, edits, and deletes are written immediately and pushed to the
remote roster service when connectivity allows; anything the server hasn't
confirmed yet is queued and replayed by the sync engine. Coordinates are
resolved to place names through a local geocoding cache.

State lives under the configured state directory (default ~/.pupilsync).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ./pupilsync.yaml, ~/.config/pupilsync/pupilsync.yaml)")
}

// loadConfig reads the configuration for the current invocation.
func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// openStore opens the roster database and makes sure the schema exists.
func openStore(cfg *config.Config) *store.DB {
	db, err := store.Open(cfg.DBPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		fmt.Fprintf(os.Stderr, "Error initializing schema: %v\n", err)
		os.Exit(1)
	}
	return db
}

// newRosterClient builds the roster service client from config.
func newRosterClient(cfg *config.Config) *api.Client {
	return api.NewClient(api.Config{
		BaseURL:   cfg.API.BaseURL,
		RequestID: cfg.API.RequestID,
		UserAgent: cfg.API.UserAgent,
		Timeout:   cfg.API.Timeout,
	})
}

// newGeoClient builds the geocoding client from config.
func newGeoClient(cfg *config.Config) *api.GeoClient {
	return api.NewGeoClient(api.GeoConfig{
		BaseURL:   cfg.Geocoding.BaseURL,
		APIKey:    cfg.Geocoding.APIKey,
		UserAgent: cfg.API.UserAgent,
	})
}

// newEngine wires the reconciliation engine over an open database.
func newEngine(cfg *config.Config, db *store.DB) (*syncer.Engine, *store.StatusStore) {
	status := store.NewStatusStore(db, nil)
	engine := syncer.New(db, status, newRosterClient(cfg), nil)
	return engine, status
}

// onlineProbe returns a connectivity check that dials the roster host.
func onlineProbe(cfg *config.Config) func(ctx context.Context) bool {
	u, err := url.Parse(cfg.API.BaseURL)
	if err != nil || u.Host == "" {
		return nil
	}
	host := u.Host
	if u.Port() == "" {
		port := "443"
		if u.Scheme == "http" {
			port = "80"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}

	return func(ctx context.Context) bool {
		d := net.Dialer{}
		conn, err := d.DialContext(ctx, "tcp", host)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}
}

// formatPupil renders one pupil for list output.
func formatPupil(p *store.Pupil) string {
	remote := "-"
	if p.RemoteID != nil {
		remote = fmt.Sprintf("%d", *p.RemoteID)
	}
	state := "synced"
	if p.PendingSync {
		state = "pending " + string(p.SyncType)
	}
	return fmt.Sprintf("%-6d %-8s %-24s %-16s %9.4f %9.4f  %s",
		p.LocalID, remote, p.Name, p.Country, p.Latitude, p.Longitude, state)
}

// commandContext returns a context bounded to a generous CLI deadline.
func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Minute)
}
