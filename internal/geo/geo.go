// Package geo provides great-circle distance helpers for report matching.
package geo

import "math"

// EarthRadiusMeters is the mean earth radius used by Haversine
const EarthRadiusMeters = 6371000.0

// Haversine returns the great-circle distance in meters between two points
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// Box is a lat/lng rectangle used to pre-filter candidates before Haversine
type Box struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// BoundingBox returns a box that contains every point within radius meters
// of the center. The box is clamped to valid ranges and does not wrap
// across the antimeridian.
func BoundingBox(lat, lng, radius float64) Box {
	dLat := radius / EarthRadiusMeters * 180 / math.Pi

	cosLat := math.Cos(toRad(lat))
	dLng := 180.0
	if cosLat > 1e-6 {
		dLng = math.Min(180, dLat/cosLat)
	}

	return Box{
		MinLat: math.Max(-90, lat-dLat),
		MaxLat: math.Min(90, lat+dLat),
		MinLng: math.Max(-180, lng-dLng),
		MaxLng: math.Min(180, lng+dLng),
	}
}

// Contains reports whether the point lies inside the box
func (b Box) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// OffsetNorth returns the latitude reached by moving meters north from lat.
// Used to place points at known distances.
func OffsetNorth(lat, meters float64) float64 {
	return lat + meters/EarthRadiusMeters*180/math.Pi
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
