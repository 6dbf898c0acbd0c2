package geo

import (
	"math"

	"github.com/example/cargo-dispatch/internal/models"
)

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two points in
// kilometers.
func HaversineKm(a, b models.Coord) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c
}

// Interpolate returns n evenly spaced points from start to end inclusive,
// linear in coordinate space. n < 2 collapses to the endpoints.
func Interpolate(start, end models.Coord, n int) []models.Coord {
	if n < 2 {
		return []models.Coord{start, end}
	}
	latStep := (end.Lat - start.Lat) / float64(n-1)
	lngStep := (end.Lng - start.Lng) / float64(n-1)
	pts := make([]models.Coord, 0, n)
	for i := 0; i < n; i++ {
		pts = append(pts, models.Coord{
			Lat: start.Lat + latStep*float64(i),
			Lng: start.Lng + lngStep*float64(i),
		})
	}
	return pts
}
