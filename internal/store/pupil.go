package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SyncType identifies the queued local operation that still has to be
// replayed against the remote roster.
type SyncType string

const (
	// SyncNone means the row carries no queued operation.
	SyncNone SyncType = ""
	// SyncAdd queues a remote create.
	SyncAdd SyncType = "add"
	// SyncUpdate queues a remote update.
	SyncUpdate SyncType = "update"
	// SyncDelete queues a remote delete.
	SyncDelete SyncType = "delete"
)

// Valid reports whether the sync type is one of the known values.
func (t SyncType) Valid() bool {
	switch t {
	case SyncNone, SyncAdd, SyncUpdate, SyncDelete:
		return true
	}
	return false
}

// Pupil is the local roster entity.
//
// LocalID is assigned by the store and stable for the lifetime of the row.
// RemoteID is nil until the row has been created on the server. A row with
// PendingSync set carries exactly one queued operation in SyncType; the two
// fields always change together.
type Pupil struct {
	LocalID     int64
	RemoteID    *int64
	Name        string
	Country     string
	Image       *string
	Latitude    float64
	Longitude   float64
	PendingSync bool
	SyncType    SyncType
}

// Validate checks the pending-mutation invariant and the sync type value.
// Name, country, and coordinate ranges are deliberately not enforced here;
// that validation belongs to the form layer and the server.
func (p *Pupil) Validate() error {
	if !p.SyncType.Valid() {
		return fmt.Errorf("unknown sync type %q", p.SyncType)
	}
	if p.PendingSync != (p.SyncType != SyncNone) {
		return fmt.Errorf("pending_sync=%v inconsistent with sync_type=%q", p.PendingSync, p.SyncType)
	}
	return nil
}

// ClearPending removes the queued operation from the row (in memory only;
// persist with Upsert).
func (p *Pupil) ClearPending() {
	p.PendingSync = false
	p.SyncType = SyncNone
}

// MarkPending queues an operation on the row (in memory only; persist with
// Upsert). A row already queued as an add stays an add: the net-new creation
// has still not happened, whatever was edited since.
func (p *Pupil) MarkPending(t SyncType) {
	if p.SyncType == SyncAdd && t == SyncUpdate {
		t = SyncAdd
	}
	p.PendingSync = true
	p.SyncType = t
}

const pupilColumns = `local_id, remote_id, name, country, image, latitude, longitude, pending_sync, sync_type`

// ListPupils returns all rows ordered by name.
func (db *DB) ListPupils(ctx context.Context) ([]Pupil, error) {
	return db.queryPupils(ctx, `SELECT `+pupilColumns+` FROM pupils ORDER BY name ASC`)
}

// ListVisiblePupils returns all rows except those queued for delete, ordered
// by name. This is the user-facing roster: a pending delete is already gone
// from the user's point of view even though the row survives until the
// server confirms.
func (db *DB) ListVisiblePupils(ctx context.Context) ([]Pupil, error) {
	return db.queryPupils(ctx,
		`SELECT `+pupilColumns+` FROM pupils WHERE sync_type IS NULL OR sync_type != ? ORDER BY name ASC`,
		string(SyncDelete))
}

// ListPendingPupils returns every row with a queued operation.
func (db *DB) ListPendingPupils(ctx context.Context) ([]Pupil, error) {
	return db.queryPupils(ctx,
		`SELECT `+pupilColumns+` FROM pupils WHERE pending_sync = 1 OR sync_type IS NOT NULL`)
}

// GetPupilByID retrieves a single pupil by local id.
// Returns sql.ErrNoRows if the row is not found.
func (db *DB) GetPupilByID(ctx context.Context, localID int64) (*Pupil, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+pupilColumns+` FROM pupils WHERE local_id = ?`, localID)

	p, err := scanPupil(row)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// UpsertPupil inserts or updates a pupil keyed by local id.
//
// A pupil with LocalID == 0 is inserted as a new row and its LocalID is
// filled in from the assigned rowid.
func (db *DB) UpsertPupil(ctx context.Context, p *Pupil) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid pupil: %w", err)
	}

	if p.LocalID == 0 {
		res, err := db.conn.ExecContext(ctx, `
		INSERT INTO pupils (remote_id, name, country, image, latitude, longitude, pending_sync, sync_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.RemoteID, p.Name, p.Country, p.Image, p.Latitude, p.Longitude,
			boolToInt(p.PendingSync), syncTypeToNull(p.SyncType),
		)
		if err != nil {
			return fmt.Errorf("failed to insert pupil: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read inserted pupil id: %w", err)
		}
		p.LocalID = id
		return nil
	}

	_, err := db.conn.ExecContext(ctx, `
	INSERT INTO pupils (local_id, remote_id, name, country, image, latitude, longitude, pending_sync, sync_type)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(local_id) DO UPDATE SET
		remote_id = excluded.remote_id,
		name = excluded.name,
		country = excluded.country,
		image = excluded.image,
		latitude = excluded.latitude,
		longitude = excluded.longitude,
		pending_sync = excluded.pending_sync,
		sync_type = excluded.sync_type`,
		p.LocalID, p.RemoteID, p.Name, p.Country, p.Image, p.Latitude, p.Longitude,
		boolToInt(p.PendingSync), syncTypeToNull(p.SyncType),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert pupil %d: %w", p.LocalID, err)
	}
	return nil
}

// UpsertPupils inserts or updates a batch of pupils in one transaction.
func (db *DB) UpsertPupils(ctx context.Context, pupils []Pupil) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i := range pupils {
		p := &pupils[i]
		if err := p.Validate(); err != nil {
			return fmt.Errorf("invalid pupil: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
		INSERT INTO pupils (remote_id, name, country, image, latitude, longitude, pending_sync, sync_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.RemoteID, p.Name, p.Country, p.Image, p.Latitude, p.Longitude,
			boolToInt(p.PendingSync), syncTypeToNull(p.SyncType),
		)
		if err != nil {
			return fmt.Errorf("failed to insert pupil: %w", err)
		}
		if id, err := res.LastInsertId(); err == nil {
			p.LocalID = id
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpsertRemotePupil inserts or updates a row keyed by remote id, as received
// from the server during the pull phase.
//
// Rows with a queued local operation are left untouched: the local mutation
// has not been confirmed yet and the next replay decides its fate.
func (db *DB) UpsertRemotePupil(ctx context.Context, p *Pupil) error {
	if p.RemoteID == nil {
		return fmt.Errorf("remote upsert requires a remote id")
	}

	_, err := db.conn.ExecContext(ctx, `
	INSERT INTO pupils (remote_id, name, country, image, latitude, longitude, pending_sync, sync_type)
	VALUES (?, ?, ?, ?, ?, ?, 0, NULL)
	ON CONFLICT(remote_id) DO UPDATE SET
		name = excluded.name,
		country = excluded.country,
		image = excluded.image,
		latitude = excluded.latitude,
		longitude = excluded.longitude
	WHERE pupils.pending_sync = 0`,
		*p.RemoteID, p.Name, p.Country, p.Image, p.Latitude, p.Longitude,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert remote pupil %d: %w", *p.RemoteID, err)
	}
	return nil
}

// DeletePupilByID removes a pupil by local id.
// Returns nil if the row doesn't exist (idempotent).
func (db *DB) DeletePupilByID(ctx context.Context, localID int64) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM pupils WHERE local_id = ?`, localID)
	if err != nil {
		return fmt.Errorf("failed to delete pupil %d: %w", localID, err)
	}
	return nil
}

// DeletePupil removes the given pupil row.
func (db *DB) DeletePupil(ctx context.Context, p *Pupil) error {
	return db.DeletePupilByID(ctx, p.LocalID)
}

// MarkPupilPending flags an existing row with a queued operation.
func (db *DB) MarkPupilPending(ctx context.Context, localID int64, t SyncType) error {
	if t == SyncNone || !t.Valid() {
		return fmt.Errorf("cannot mark pending with sync type %q", t)
	}
	_, err := db.conn.ExecContext(ctx,
		`UPDATE pupils SET pending_sync = 1, sync_type = ? WHERE local_id = ?`,
		string(t), localID)
	if err != nil {
		return fmt.Errorf("failed to mark pupil %d pending: %w", localID, err)
	}
	return nil
}

// ClearAllPupils removes every row.
func (db *DB) ClearAllPupils(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM pupils`); err != nil {
		return fmt.Errorf("failed to clear pupils: %w", err)
	}
	return nil
}

// DeleteSyncedPupils removes every row without a queued operation. The pull
// phase uses this to make room for the authoritative roster while preserving
// unconfirmed local mutations.
func (db *DB) DeleteSyncedPupils(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM pupils WHERE pending_sync = 0`); err != nil {
		return fmt.Errorf("failed to delete synced pupils: %w", err)
	}
	return nil
}

// CountPupils returns the total number of roster rows.
func (db *DB) CountPupils(ctx context.Context) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM pupils`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pupils: %w", err)
	}
	return count, nil
}

// CountPendingPupils returns the number of rows with a queued operation.
func (db *DB) CountPendingPupils(ctx context.Context) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM pupils WHERE pending_sync = 1`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending pupils: %w", err)
	}
	return count, nil
}

func (db *DB) queryPupils(ctx context.Context, query string, args ...interface{}) ([]Pupil, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pupils: %w", err)
	}
	defer rows.Close()

	var pupils []Pupil
	for rows.Next() {
		p, err := scanPupil(rows)
		if err != nil {
			return nil, err
		}
		pupils = append(pupils, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pupils: %w", err)
	}
	return pupils, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPupil(s scanner) (*Pupil, error) {
	var (
		p        Pupil
		remoteID sql.NullInt64
		image    sql.NullString
		pending  int
		syncType sql.NullString
	)

	err := s.Scan(
		&p.LocalID,
		&remoteID,
		&p.Name,
		&p.Country,
		&image,
		&p.Latitude,
		&p.Longitude,
		&pending,
		&syncType,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan pupil: %w", err)
	}

	if remoteID.Valid {
		id := remoteID.Int64
		p.RemoteID = &id
	}
	if image.Valid {
		img := image.String
		p.Image = &img
	}
	p.PendingSync = pending != 0
	if syncType.Valid {
		p.SyncType = SyncType(syncType.String)
	}

	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func syncTypeToNull(t SyncType) sql.NullString {
	if t == SyncNone {
		return sql.NullString{}
	}
	return sql.NullString{String: string(t), Valid: true}
}
