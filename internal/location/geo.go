package location

import "math"

// earthRadiusKm is the mean Earth radius used by both the bounding box and
// the haversine distance.
const earthRadiusKm = 6371.0

// Box is a rectangular lat/lng region used to prefilter spatial-cache
// candidates before the exact distance check.
type Box struct {
	MinLat float64
	MaxLat float64
	MinLng float64
	MaxLng float64
}

// BoundingBox returns the box of radiusKm around the given point.
//
// The latitude extent is the plain angular radius; the longitude extent is
// widened for the latitude so the box still contains the full circle away
// from the equator. At radiusKm == 0 the box degenerates to the point.
func BoundingBox(lat, lng, radiusKm float64) Box {
	radiusRad := radiusKm / earthRadiusKm

	latRad := degToRad(lat)
	lngRad := degToRad(lng)

	deltaLng := math.Asin(math.Sin(radiusRad) / math.Cos(latRad))

	return Box{
		MinLat: radToDeg(latRad - radiusRad),
		MaxLat: radToDeg(latRad + radiusRad),
		MinLng: radToDeg(lngRad - deltaLng),
		MaxLng: radToDeg(lngRad + deltaLng),
	}
}

// DistanceKm returns the great-circle distance between two coordinates
// using the haversine formula.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := degToRad(lat2 - lat1)
	dLng := degToRad(lng2 - lng1)

	lat1Rad := degToRad(lat1)
	lat2Rad := degToRad(lat2)

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)

	a := sinLat*sinLat + sinLng*sinLng*math.Cos(lat1Rad)*math.Cos(lat2Rad)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}

func degToRad(d float64) float64 {
	return d * math.Pi / 180
}

func radToDeg(r float64) float64 {
	return r * 180 / math.Pi
}
