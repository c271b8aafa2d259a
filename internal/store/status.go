package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"sync"
)

// SyncStatus is the tri-state roster sync status shown to the UI.
type SyncStatus string

const (
	// StatusUpToDate means the last reconciliation pass completed fully.
	StatusUpToDate SyncStatus = "UP_TO_DATE"
	// StatusOutOfDate means local state may diverge from the server.
	StatusOutOfDate SyncStatus = "OUT_OF_DATE"
	// StatusSyncing means a reconciliation pass is in flight.
	StatusSyncing SyncStatus = "SYNCING"
)

// Valid reports whether the status is one of the known values.
func (s SyncStatus) Valid() bool {
	switch s {
	case StatusUpToDate, StatusOutOfDate, StatusSyncing:
		return true
	}
	return false
}

// StatusStore persists the sync status and fans out changes to watchers.
//
// The status survives process restarts; a missing or unparseable persisted
// value reads as OUT_OF_DATE, the fail-safe default. Watchers receive every
// Set after it has been durably written.
type StatusStore struct {
	db     *DB
	logger *log.Logger

	mu       sync.Mutex
	watchers map[int]chan SyncStatus
	nextID   int
}

// NewStatusStore creates a status store over the given database.
// If logger is nil, a default logger writing to stderr is used.
func NewStatusStore(db *DB, logger *log.Logger) *StatusStore {
	if logger == nil {
		logger = log.New(os.Stderr, "[status] ", log.LstdFlags)
	}
	return &StatusStore{
		db:       db,
		logger:   logger,
		watchers: make(map[int]chan SyncStatus),
	}
}

// Get returns the persisted sync status.
func (s *StatusStore) Get(ctx context.Context) (SyncStatus, error) {
	var raw string
	err := s.db.conn.QueryRowContext(ctx,
		`SELECT status FROM sync_state WHERE id = 1`).Scan(&raw)
	if err == sql.ErrNoRows {
		return StatusOutOfDate, nil
	}
	if err != nil {
		return StatusOutOfDate, fmt.Errorf("failed to read sync status: %w", err)
	}

	status := SyncStatus(raw)
	if !status.Valid() {
		s.logger.Printf("Unparseable persisted sync status %q, treating as OUT_OF_DATE", raw)
		return StatusOutOfDate, nil
	}
	return status, nil
}

// Set persists the sync status, then notifies watchers.
func (s *StatusStore) Set(ctx context.Context, status SyncStatus) error {
	if !status.Valid() {
		return fmt.Errorf("unknown sync status %q", status)
	}

	_, err := s.db.conn.ExecContext(ctx, `
	INSERT INTO sync_state (id, status) VALUES (1, ?)
	ON CONFLICT(id) DO UPDATE SET status = excluded.status`,
		string(status),
	)
	if err != nil {
		return fmt.Errorf("failed to persist sync status: %w", err)
	}

	s.notify(status)
	return nil
}

// Watch registers a watcher and returns its channel together with a cancel
// function. The channel is buffered; a watcher that falls behind misses
// intermediate transitions rather than blocking a sync pass.
func (s *StatusStore) Watch() (<-chan SyncStatus, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan SyncStatus, 8)
	s.watchers[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (s *StatusStore) notify(status SyncStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.watchers {
		select {
		case ch <- status:
		default:
			// watcher backed up, drop the transition
		}
	}
}
