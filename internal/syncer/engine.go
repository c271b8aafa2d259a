package syncer

import (
	"context"
	"log"
	"os"
	"sync"

	"github.com/bridgelabs/pupilsync/internal/api"
	"github.com/bridgelabs/pupilsync/internal/metrics"
	"github.com/bridgelabs/pupilsync/internal/store"
)

// Engine runs reconciliation passes against the roster service.
type Engine struct {
	db     *store.DB
	status *store.StatusStore
	client RosterClient
	logger *log.Logger

	// mu makes the single-flight check-and-transition on the persisted
	// status atomic. Without it two near-simultaneous callers could both
	// observe a non-SYNCING status and both start a pass.
	mu sync.Mutex
}

// New creates an engine over the given store, status store, and client.
// If logger is nil, a default logger writing to stderr is used.
func New(db *store.DB, status *store.StatusStore, client RosterClient, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[syncer] ", log.LstdFlags)
	}
	return &Engine{
		db:     db,
		status: status,
		client: client,
		logger: logger,
	}
}

// Sync runs one reconciliation pass: replay queued mutations, then pull the
// full roster. Reports whether the pass completed fully.
//
// If a pass is already in flight the call returns false immediately without
// touching the network or the status. Every other outcome transitions the
// persisted status: SYNCING while running, then UP_TO_DATE on full success
// or OUT_OF_DATE on any failure. Sync never propagates an error to its
// caller; failures are absorbed into the false return.
func (e *Engine) Sync(ctx context.Context) bool {
	e.mu.Lock()
	current, err := e.status.Get(ctx)
	if err != nil {
		e.mu.Unlock()
		e.logger.Printf("Failed to read sync status: %v", err)
		metrics.SyncRuns.WithLabelValues("failure").Inc()
		return false
	}
	if current == store.StatusSyncing {
		e.mu.Unlock()
		e.logger.Printf("Sync already in progress, skipping new sync request")
		metrics.SyncRuns.WithLabelValues("skipped").Inc()
		return false
	}
	if err := e.status.Set(ctx, store.StatusSyncing); err != nil {
		e.mu.Unlock()
		e.logger.Printf("Failed to set sync status: %v", err)
		metrics.SyncRuns.WithLabelValues("failure").Inc()
		return false
	}
	e.mu.Unlock()

	ok := e.run(ctx)

	final := store.StatusOutOfDate
	result := "failure"
	if ok {
		final = store.StatusUpToDate
		result = "success"
	}
	if err := e.status.Set(ctx, final); err != nil {
		e.logger.Printf("Failed to persist sync status %s: %v", final, err)
	}
	metrics.SyncRuns.WithLabelValues(result).Inc()
	return ok
}

// ResetStale clears a SYNCING status left behind by a process that died
// mid-pass. Called by the daemon before its first pass; a stale SYNCING
// would otherwise reject every future sync.
func (e *Engine) ResetStale(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	current, err := e.status.Get(ctx)
	if err != nil {
		return err
	}
	if current != store.StatusSyncing {
		return nil
	}
	e.logger.Printf("Clearing stale SYNCING status from a previous run")
	return e.status.Set(ctx, store.StatusOutOfDate)
}

// run executes the replay and pull phases. The replay phase processes every
// queued row even after a failure, so as many mutations as possible reach
// the server; the pull phase only runs when all replays succeeded.
func (e *Engine) run(ctx context.Context) bool {
	pending, err := e.db.ListPendingPupils(ctx)
	if err != nil {
		e.logger.Printf("Failed to list pending pupils: %v", err)
		return false
	}
	metrics.PendingMutations.Set(float64(len(pending)))
	if len(pending) > 0 {
		e.logger.Printf("Replaying %d pending mutations", len(pending))
	}

	allOK := true
	for i := range pending {
		if !e.replay(ctx, &pending[i]) {
			metrics.ReplayFailures.Inc()
			allOK = false
		}
	}
	if !allOK {
		e.logger.Printf("Replay phase incomplete, skipping pull")
		return false
	}

	return e.pull(ctx)
}

// replay pushes one queued mutation to the server. On success the row's
// pending state is cleared (or the row removed, for deletes) as a side
// effect; on failure the row stays queued for the next pass.
func (e *Engine) replay(ctx context.Context, p *store.Pupil) bool {
	if !p.PendingSync || p.SyncType == store.SyncNone {
		return true
	}

	switch p.SyncType {
	case store.SyncAdd:
		return e.replayCreate(ctx, p)

	case store.SyncUpdate:
		if p.RemoteID == nil {
			// never created remotely, nothing to update
			return e.replayCreate(ctx, p)
		}
		info, err := e.client.UpdatePupil(ctx, *p.RemoteID, requestFor(p))
		if err == nil {
			p.RemoteID = &info.PupilID
			p.ClearPending()
			return e.persist(ctx, p)
		}
		if api.IsNotFound(err) {
			// the server lost the row, recreate it
			e.logger.Printf("Pupil %d vanished remotely, recreating", *p.RemoteID)
			return e.replayCreate(ctx, p)
		}
		e.logger.Printf("Failed to replay update for pupil %d: %v", p.LocalID, err)
		return false

	case store.SyncDelete:
		if p.RemoteID == nil {
			// never visible to the server
			if err := e.db.DeletePupil(ctx, p); err != nil {
				e.logger.Printf("Failed to delete local-only pupil %d: %v", p.LocalID, err)
				return false
			}
			return true
		}
		err := e.client.DeletePupil(ctx, *p.RemoteID)
		if err == nil || api.IsNotFound(err) {
			if err := e.db.DeletePupil(ctx, p); err != nil {
				e.logger.Printf("Failed to delete pupil %d after remote confirm: %v", p.LocalID, err)
				return false
			}
			return true
		}
		e.logger.Printf("Failed to replay delete for pupil %d: %v", p.LocalID, err)
		return false
	}

	e.logger.Printf("Unknown sync type %q on pupil %d, leaving queued", p.SyncType, p.LocalID)
	return false
}

// replayCreate pushes a row to the server as a new pupil and stores the
// assigned remote id.
func (e *Engine) replayCreate(ctx context.Context, p *store.Pupil) bool {
	info, err := e.client.CreatePupil(ctx, requestFor(p))
	if err != nil {
		e.logger.Printf("Failed to replay create for pupil %d: %v", p.LocalID, err)
		return false
	}
	p.RemoteID = &info.PupilID
	p.ClearPending()
	return e.persist(ctx, p)
}

func (e *Engine) persist(ctx context.Context, p *store.Pupil) bool {
	if err := e.db.UpsertPupil(ctx, p); err != nil {
		e.logger.Printf("Failed to persist pupil %d: %v", p.LocalID, err)
		return false
	}
	return true
}

// pull replaces the synced part of the local roster with the server's.
//
// Rows without a queued mutation are dropped first; pending rows survive
// untouched. Pages are fetched sequentially, and a failure on any page
// aborts the pull without rolling back earlier pages. A 404 means the
// server ran out of pupils: on page 1 the roster is simply empty.
func (e *Engine) pull(ctx context.Context) bool {
	if err := e.db.DeleteSyncedPupils(ctx); err != nil {
		e.logger.Printf("Failed to clear synced rows before pull: %v", err)
		return false
	}

	page, err := e.client.ListPupils(ctx, 1)
	if api.IsNotFound(err) {
		e.logger.Printf("Server has no pupils")
		return true
	}
	if err != nil {
		e.logger.Printf("Failed to fetch roster page 1: %v", err)
		return false
	}
	if !e.storePage(ctx, page) {
		return false
	}

	for n := 2; n <= page.TotalPages; n++ {
		next, err := e.client.ListPupils(ctx, n)
		if api.IsNotFound(err) {
			// no more pupils on the server
			break
		}
		if err != nil {
			e.logger.Printf("Failed to fetch roster page %d: %v", n, err)
			return false
		}
		if !e.storePage(ctx, next) {
			return false
		}
	}

	return true
}

func (e *Engine) storePage(ctx context.Context, page *api.PupilPage) bool {
	for i := range page.Items {
		item := &page.Items[i]
		remoteID := item.PupilID
		p := &store.Pupil{
			RemoteID:  &remoteID,
			Name:      item.Name,
			Country:   item.Country,
			Image:     item.Image,
			Latitude:  item.Latitude,
			Longitude: item.Longitude,
		}
		if err := e.db.UpsertRemotePupil(ctx, p); err != nil {
			e.logger.Printf("Failed to store remote pupil %d: %v", remoteID, err)
			return false
		}
	}
	return true
}

// requestFor builds the create/update body for a local row.
func requestFor(p *store.Pupil) api.PupilRequest {
	return api.PupilRequest{
		Name:      p.Name,
		Country:   p.Country,
		Image:     p.Image,
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
	}
}
