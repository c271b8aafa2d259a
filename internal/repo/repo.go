// Package repo exposes pupil CRUD to application code with optimistic
// writes: every mutation lands in the local store durably, an immediate
// best-effort remote call shortens the pending window when the network is
// up, and failures queue the mutation for the reconciliation engine instead
// of surfacing to the caller.
package repo

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os"

	"github.com/bridgelabs/pupilsync/internal/api"
	"github.com/bridgelabs/pupilsync/internal/store"
	"github.com/bridgelabs/pupilsync/internal/syncer"
)

// Scheduler controls the periodic sync trigger on behalf of the caller.
type Scheduler interface {
	Start() error
	Stop()
}

// Repository is the application-facing pupil store.
type Repository struct {
	db        *store.DB
	client    syncer.RosterClient
	scheduler Scheduler
	logger    *log.Logger
}

// New creates a repository. The scheduler may be nil when the caller
// manages sync scheduling itself (one-shot CLI commands do).
// If logger is nil, a default logger writing to stderr is used.
func New(db *store.DB, client syncer.RosterClient, scheduler Scheduler, logger *log.Logger) *Repository {
	if logger == nil {
		logger = log.New(os.Stderr, "[repo] ", log.LstdFlags)
	}
	return &Repository{
		db:        db,
		client:    client,
		scheduler: scheduler,
		logger:    logger,
	}
}

// Pupils returns the user-facing roster: every local row except those
// queued for delete.
func (r *Repository) Pupils(ctx context.Context) ([]store.Pupil, error) {
	return r.db.ListVisiblePupils(ctx)
}

// GetPupil returns the pupil with the given local id, or nil when no such
// row exists.
func (r *Repository) GetPupil(ctx context.Context, localID int64) (*store.Pupil, error) {
	p, err := r.db.GetPupilByID(ctx, localID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// AddPupil creates a pupil. The remote create is attempted immediately; on
// any remote failure (validation errors included) the row is stored queued
// as an add instead, and the call still succeeds from the caller's point of
// view. Only a local store failure is returned.
func (r *Repository) AddPupil(ctx context.Context, p *store.Pupil) error {
	info, err := r.client.CreatePupil(ctx, requestFor(p))
	if err == nil {
		p.RemoteID = &info.PupilID
		p.ClearPending()
		return r.db.UpsertPupil(ctx, p)
	}

	if api.IsValidation(err) {
		r.logger.Printf("Validation error adding pupil, queueing: %v", err)
	} else {
		r.logger.Printf("Failed to add pupil remotely, queueing: %v", err)
	}
	p.MarkPending(store.SyncAdd)
	return r.db.UpsertPupil(ctx, p)
}

// UpdatePupil edits a pupil. A row that was never created remotely is added
// instead; a remote 404 means the server lost the row, so it is re-created.
// Other remote failures queue the row as an update.
func (r *Repository) UpdatePupil(ctx context.Context, p *store.Pupil) error {
	if p.RemoteID == nil {
		return r.AddPupil(ctx, p)
	}

	info, err := r.client.UpdatePupil(ctx, *p.RemoteID, requestFor(p))
	if err == nil {
		p.RemoteID = &info.PupilID
		p.ClearPending()
		return r.db.UpsertPupil(ctx, p)
	}

	if api.IsNotFound(err) {
		r.logger.Printf("Pupil %d not found remotely, adding as new", *p.RemoteID)
		return r.AddPupil(ctx, p)
	}

	if api.IsValidation(err) {
		r.logger.Printf("Validation error updating pupil, queueing: %v", err)
	} else {
		r.logger.Printf("Failed to update pupil remotely, queueing: %v", err)
	}
	p.MarkPending(store.SyncUpdate)
	return r.db.UpsertPupil(ctx, p)
}

// DeletePupil removes a pupil by local id. A missing row is a no-op. A row
// the server never saw is deleted locally without a network call; a remote
// 404 counts as already deleted. Other remote failures queue the row for
// delete, which also hides it from Pupils until the engine retries.
func (r *Repository) DeletePupil(ctx context.Context, localID int64) error {
	p, err := r.db.GetPupilByID(ctx, localID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	if p.RemoteID == nil {
		return r.db.DeletePupilByID(ctx, localID)
	}

	err = r.client.DeletePupil(ctx, *p.RemoteID)
	if err == nil {
		return r.db.DeletePupilByID(ctx, localID)
	}
	if api.IsNotFound(err) {
		r.logger.Printf("Pupil %d already gone remotely, removing locally", *p.RemoteID)
		return r.db.DeletePupilByID(ctx, localID)
	}

	r.logger.Printf("Failed to delete pupil remotely, queueing: %v", err)
	return r.db.MarkPupilPending(ctx, localID, store.SyncDelete)
}

// StartSync starts the periodic sync trigger.
func (r *Repository) StartSync() error {
	if r.scheduler == nil {
		return nil
	}
	return r.scheduler.Start()
}

// StopSync cancels the periodic sync trigger.
func (r *Repository) StopSync() {
	if r.scheduler != nil {
		r.scheduler.Stop()
	}
}

func requestFor(p *store.Pupil) api.PupilRequest {
	return api.PupilRequest{
		Name:      p.Name,
		Country:   p.Country,
		Image:     p.Image,
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
	}
}
