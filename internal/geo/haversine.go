// Package geo evaluates great-circle distances for geofencing.
package geo

import (
	"math"

	"github.com/and161185/attendgate/internal/model"
)

// EarthRadiusM is the mean Earth radius in meters.
const EarthRadiusM = 6371000.0

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

// hav returns the haversine term a for two points, clamped to [0, 1].
// Rounding pushes it slightly past 1 near antipodes.
func hav(a, b model.Coordinates) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	s1 := math.Sin(dLat / 2)
	s2 := math.Sin(dLng / 2)
	h := s1*s1 + math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*s2*s2
	return math.Min(1, math.Max(0, h))
}

// Distance returns the Haversine distance in meters using the atan2 form.
func Distance(a, b model.Coordinates) float64 {
	h := hav(a, b)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusM * c
}

// DistanceAsin is the arcsine form of Distance. Same value within float tolerance.
func DistanceAsin(a, b model.Coordinates) float64 {
	return 2 * EarthRadiusM * math.Asin(math.Sqrt(hav(a, b)))
}

// Valid reports whether c is a finite, in-range coordinate.
func Valid(c model.Coordinates) bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}
