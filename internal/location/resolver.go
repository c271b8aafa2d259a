// Package location resolves coordinates to human-readable place names,
// backed by a local spatial cache so repeated lookups for nearby points
// never hit the geocoding API twice.
package location

import (
	"context"
	"log"
	"os"
	"strings"
	"time"

	"github.com/bridgelabs/pupilsync/internal/api"
	"github.com/bridgelabs/pupilsync/internal/metrics"
	"github.com/bridgelabs/pupilsync/internal/store"
)

const (
	// cacheRadiusKm is how close a cached sample must be to answer a query.
	cacheRadiusKm = 1.0
	// cacheRetention is how long cache samples are kept before the
	// maintenance sweep removes them.
	cacheRetention = 30 * 24 * time.Hour
)

// Geocoder is the slice of the geocoding client the resolver needs.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64, limit int) ([]api.Place, error)
}

// Resolver maps a coordinate to a place name, preferring the local cache.
//
// Resolve degrades to "not found" on any failure; it never propagates an
// error to the caller. Display code treats an unresolved location the same
// as a location the geocoder doesn't know.
type Resolver struct {
	db     *store.DB
	geo    Geocoder
	logger *log.Logger
	now    func() time.Time
}

// NewResolver creates a resolver over the given store and geocoding client.
// If logger is nil, a default logger writing to stderr is used.
func NewResolver(db *store.DB, geo Geocoder, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.New(os.Stderr, "[location] ", log.LstdFlags)
	}
	return &Resolver{
		db:     db,
		geo:    geo,
		logger: logger,
		now:    time.Now,
	}
}

// Resolve maps a coordinate to a place name.
//
// A cached sample within cacheRadiusKm answers the query without a network
// call. Otherwise the geocoding API is asked for one place, the joined
// name is cached at the queried coordinate, and the name is returned.
// Returns ok == false when nothing resolves, for any reason.
func (r *Resolver) Resolve(ctx context.Context, lat, lng float64) (name string, ok bool) {
	if cached := r.findNearby(ctx, lat, lng); cached != nil {
		metrics.GeocodeCacheHits.Inc()
		return cached.CityName, true
	}
	metrics.GeocodeCacheMisses.Inc()

	name, ok = r.resolveFromAPI(ctx, lat, lng)
	if !ok {
		metrics.GeocodeFailures.Inc()
		r.logger.Printf("Failed to resolve location for (%v, %v)", lat, lng)
		return "", false
	}

	r.cache(ctx, lat, lng, name)
	return name, true
}

// findNearby returns the first cached sample within cacheRadiusKm of the
// query point, or nil. Store failures count as a miss.
func (r *Resolver) findNearby(ctx context.Context, lat, lng float64) *store.LocationSample {
	box := BoundingBox(lat, lng, cacheRadiusKm)

	samples, err := r.db.FindLocationsInBox(ctx, box.MinLat, box.MaxLat, box.MinLng, box.MaxLng)
	if err != nil {
		r.logger.Printf("Location cache lookup failed: %v", err)
		return nil
	}

	for i := range samples {
		s := &samples[i]
		if DistanceKm(lat, lng, s.Latitude, s.Longitude) <= cacheRadiusKm {
			return s
		}
	}
	return nil
}

// resolveFromAPI asks the geocoder for one place and joins its non-blank
// name, state, and country components with commas.
func (r *Resolver) resolveFromAPI(ctx context.Context, lat, lng float64) (string, bool) {
	places, err := r.geo.ReverseGeocode(ctx, lat, lng, 1)
	if err != nil {
		r.logger.Printf("Geocoding API error for (%v, %v): %v", lat, lng, err)
		return "", false
	}
	if len(places) == 0 {
		r.logger.Printf("Empty response from geocoding API for (%v, %v)", lat, lng)
		return "", false
	}

	place := places[0]
	var parts []string
	for _, part := range []string{place.Name, place.State, place.Country} {
		if strings.TrimSpace(part) != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, ", "), true
}

// cache stores a resolved name keyed by the queried coordinate. Failures
// are logged and swallowed; the name was still resolved.
func (r *Resolver) cache(ctx context.Context, lat, lng float64, name string) {
	sample := &store.LocationSample{
		Latitude:  lat,
		Longitude: lng,
		CityName:  name,
		Timestamp: r.now().UnixMilli(),
	}
	if err := r.db.InsertLocation(ctx, sample); err != nil {
		r.logger.Printf("Failed to cache location: %v", err)
	}
}

// CleanupOldCache removes cache samples older than the retention window.
// Failures are logged and swallowed.
func (r *Resolver) CleanupOldCache(ctx context.Context) {
	cutoff := r.now().Add(-cacheRetention).UnixMilli()
	n, err := r.db.DeleteLocationsBefore(ctx, cutoff)
	if err != nil {
		r.logger.Printf("Failed to clean up location cache: %v", err)
		return
	}
	if n > 0 {
		r.logger.Printf("Removed %d stale location cache entries", n)
	}
}
