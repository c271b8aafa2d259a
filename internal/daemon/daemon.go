// Package daemon provides the background trigger that keeps the local
// roster reconciled.
//
// The daemon:
//  1. Runs one reconciliation pass immediately on start
//  2. Repeats on a fixed interval while the device has connectivity
//  3. Retries with exponential backoff after a failed pass
//  4. Watches a trigger file so the UI can request an immediate pass
//  5. Prunes the location cache once a day
//  6. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// TriggerFile is the name of the file whose creation or modification inside
// the watched state directory requests an immediate sync pass.
const TriggerFile = "sync.trigger"

// SyncRunner is the slice of the reconciliation engine the daemon drives.
type SyncRunner interface {
	// Sync runs one pass and reports whether it completed fully.
	Sync(ctx context.Context) bool
	// ResetStale clears a SYNCING status left behind by a dead process.
	ResetStale(ctx context.Context) error
}

// CacheCleaner prunes stale entries from the location cache.
type CacheCleaner interface {
	CleanupOldCache(ctx context.Context)
}

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often to run a pass on the happy path.
	SyncInterval time.Duration

	// BackoffBase is the first retry delay after a failed pass. Each
	// further failure doubles it, up to BackoffMax.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// CleanupInterval is how often to prune the location cache.
	CleanupInterval time.Duration

	// StateDir is the directory watched for TriggerFile. Empty disables
	// the trigger watcher.
	StateDir string

	// Online gates each pass on connectivity. Nil means always online.
	Online func(ctx context.Context) bool

	// OnSyncResult, when non-nil, is called after every pass with its
	// outcome and duration. Passes skipped for being offline do not
	// report.
	OnSyncResult func(ok bool, elapsed time.Duration)

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:    30 * time.Minute,
		BackoffBase:     5 * time.Second,
		BackoffMax:      5 * time.Minute,
		CleanupInterval: 24 * time.Hour,
		Logger:          log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon schedules reconciliation passes and cache maintenance.
type Daemon struct {
	runner  SyncRunner
	cleaner CacheCleaner
	config  *Config

	trigger chan struct{}
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	// wg belongs to the current Start; a fresh group per schedule keeps a
	// Stop still waiting on the old goroutines independent of a new Start.
	wg *sync.WaitGroup
}

// New creates a daemon. The cleaner may be nil to disable cache pruning.
func New(runner SyncRunner, cleaner CacheCleaner, config *Config) (*Daemon, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if config.SyncInterval <= 0 {
		return nil, fmt.Errorf("sync interval must be positive")
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = 5 * time.Second
	}
	if config.BackoffMax < config.BackoffBase {
		config.BackoffMax = config.BackoffBase
	}

	return &Daemon{
		runner:  runner,
		cleaner: cleaner,
		config:  config,
		trigger: make(chan struct{}, 1),
	}, nil
}

// Start begins scheduling in the background. Starting a running daemon is a
// no-op: the existing schedule is kept, not replaced. Use Stop to cancel it
// and Start again to re-create it.
func (d *Daemon) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		d.config.Logger.Println("Daemon already running, keeping existing schedule")
		return nil
	}

	// The loops receive the context as an argument rather than reading a
	// struct field: a Stop racing a later Start must not swap the context
	// out from under a goroutine that is still selecting on it.
	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	d.cancel = cancel
	d.wg = wg

	// A SYNCING status persisted by a killed process would reject every
	// pass from here on.
	if err := d.runner.ResetStale(ctx); err != nil {
		d.config.Logger.Printf("Failed to reset stale sync status: %v", err)
	}

	if d.config.StateDir != "" {
		if err := d.startTriggerWatcher(ctx, wg); err != nil {
			cancel()
			return err
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.runLoop(ctx)
	}()

	if d.cleaner != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.cleanupLoop(ctx)
		}()
	}

	d.running = true
	d.config.Logger.Printf("Daemon started (interval %v)", d.config.SyncInterval)
	return nil
}

// Stop cancels the schedule and waits for in-flight work to finish. An
// in-flight pass is not force-aborted beyond context cancellation of its
// network calls.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	cancel := d.cancel
	watcher := d.watcher
	wg := d.wg
	d.watcher = nil
	d.mu.Unlock()

	cancel()
	if watcher != nil {
		if err := watcher.Close(); err != nil {
			d.config.Logger.Printf("Error closing trigger watcher: %v", err)
		}
	}
	wg.Wait()
	d.config.Logger.Println("Daemon stopped")
}

// IsRunning reports whether the daemon is currently scheduled.
func (d *Daemon) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// TriggerSync requests an immediate pass, coalescing with any request
// already queued.
func (d *Daemon) TriggerSync() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// runLoop runs passes on the schedule: immediately on start, then every
// SyncInterval, with exponential backoff while passes fail and immediate
// reruns on trigger requests.
func (d *Daemon) runLoop(ctx context.Context) {
	backoff := d.config.BackoffBase
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-d.trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			d.config.Logger.Println("Manual sync requested")
		}

		var next time.Duration
		if !d.online(ctx) {
			d.config.Logger.Println("Offline, skipping sync pass")
			next = d.config.SyncInterval
		} else {
			start := time.Now()
			ok := d.runner.Sync(ctx)
			if d.config.OnSyncResult != nil {
				d.config.OnSyncResult(ok, time.Since(start))
			}
			if ok {
				backoff = d.config.BackoffBase
				next = d.config.SyncInterval
			} else {
				d.config.Logger.Printf("Sync pass failed, retrying in %v", backoff)
				next = backoff
				backoff *= 2
				if backoff > d.config.BackoffMax {
					backoff = d.config.BackoffMax
				}
			}
		}

		timer.Reset(next)
	}
}

func (d *Daemon) online(ctx context.Context) bool {
	if d.config.Online == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return d.config.Online(ctx)
}

// cleanupLoop prunes the location cache on its own schedule.
func (d *Daemon) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(d.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.cleaner.CleanupOldCache(ctx)
		}
	}
}

// startTriggerWatcher watches the state directory for the trigger file.
func (d *Daemon) startTriggerWatcher(ctx context.Context, wg *sync.WaitGroup) error {
	if err := os.MkdirAll(d.config.StateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create trigger watcher: %w", err)
	}
	if err := watcher.Add(d.config.StateDir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch state directory: %w", err)
	}
	d.watcher = watcher

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.watchTrigger(ctx, watcher)
	}()
	return nil
}

func (d *Daemon) watchTrigger(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != TriggerFile {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Chmod) == 0 {
				continue
			}
			d.TriggerSync()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Trigger watcher error: %v", err)
		}
	}
}
