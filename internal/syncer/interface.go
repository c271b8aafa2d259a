// Package syncer implements the reconciliation engine that keeps the local
// pupil roster in agreement with the remote roster service.
//
// One reconciliation pass replays every queued local mutation against the
// server, then replaces the synced part of the local roster with a full
// authoritative fetch. At most one pass runs at a time; a pass requested
// while another is in flight is rejected, not queued.
package syncer

import (
	"context"

	"github.com/bridgelabs/pupilsync/internal/api"
)

// RosterClient is the slice of the roster service client the engine needs.
// The production implementation is *api.Client.
type RosterClient interface {
	// ListPupils fetches one page of the roster. A 404 on page 1 means
	// the server holds no pupils at all.
	ListPupils(ctx context.Context, page int) (*api.PupilPage, error)

	// CreatePupil creates a pupil and returns the server's copy with the
	// assigned remote id.
	CreatePupil(ctx context.Context, req api.PupilRequest) (*api.PupilInfo, error)

	// UpdatePupil replaces the pupil with the given remote id.
	UpdatePupil(ctx context.Context, id int64, req api.PupilRequest) (*api.PupilInfo, error)

	// DeletePupil removes the pupil with the given remote id.
	DeletePupil(ctx context.Context, id int64) error
}
