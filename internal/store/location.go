package store

import (
	"context"
	"fmt"
	"time"
)

// LocationSample is a cached reverse-geocoding result. The coordinate is the
// one that was queried, not the canonical coordinate of the returned place,
// so nearby queries resolve against it by distance rather than by key.
type LocationSample struct {
	ID        int64
	Latitude  float64
	Longitude float64
	CityName  string
	// Timestamp is the creation time in epoch milliseconds.
	Timestamp int64
}

// InsertLocation stores a new cache sample. If Timestamp is zero it is set
// to the current time. The assigned id is filled in on the sample.
func (db *DB) InsertLocation(ctx context.Context, s *LocationSample) error {
	if s.Timestamp == 0 {
		s.Timestamp = time.Now().UnixMilli()
	}

	res, err := db.conn.ExecContext(ctx, `
	INSERT INTO location_cache (latitude, longitude, city_name, timestamp)
	VALUES (?, ?, ?, ?)`,
		s.Latitude, s.Longitude, s.CityName, s.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert location sample: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		s.ID = id
	}
	return nil
}

// FindLocationsInBox returns cache samples whose stored coordinate lies in
// the given bounding box, newest first.
func (db *DB) FindLocationsInBox(ctx context.Context, minLat, maxLat, minLng, maxLng float64) ([]LocationSample, error) {
	rows, err := db.conn.QueryContext(ctx, `
	SELECT id, latitude, longitude, city_name, timestamp
	FROM location_cache
	WHERE latitude BETWEEN ? AND ?
	  AND longitude BETWEEN ? AND ?
	ORDER BY timestamp DESC`,
		minLat, maxLat, minLng, maxLng,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query location cache: %w", err)
	}
	defer rows.Close()

	var samples []LocationSample
	for rows.Next() {
		var s LocationSample
		if err := rows.Scan(&s.ID, &s.Latitude, &s.Longitude, &s.CityName, &s.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan location sample: %w", err)
		}
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating location samples: %w", err)
	}
	return samples, nil
}

// DeleteLocationsBefore removes cache samples older than the cutoff
// (epoch milliseconds). Returns the number of rows removed.
func (db *DB) DeleteLocationsBefore(ctx context.Context, cutoffMillis int64) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM location_cache WHERE timestamp < ?`, cutoffMillis)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old location samples: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted location samples: %w", err)
	}
	return n, nil
}
