package profile

import (
	"math"

	"github.com/velocols/colprofile/internal/constants"
	"github.com/velocols/colprofile/internal/models"
)

// Haversine returns the great-circle distance in km between two lat/lng pairs.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return constants.EarthRadiusKm * c
}

func pointDistance(a, b models.ElevationPoint) float64 {
	return Haversine(a.Lat, a.Lng, b.Lat, b.Lng)
}

// PathLength returns the haversine length of a coordinate path in km.
func PathLength(path []models.Coordinate) float64 {
	total := 0.0
	for i := 1; i < len(path); i++ {
		total += Haversine(path[i-1].Lat, path[i-1].Lng, path[i].Lat, path[i].Lng)
	}
	return total
}

// Densify linearly interpolates path so that it holds n evenly spaced vertices
// (by cumulative distance). Paths with fewer than 2 vertices or n <= len(path)
// are returned unchanged.
func Densify(path []models.Coordinate, n int) []models.Coordinate {
	if len(path) < 2 || n <= len(path) {
		return path
	}

	cum := make([]float64, len(path))
	for i := 1; i < len(path); i++ {
		cum[i] = cum[i-1] + Haversine(path[i-1].Lat, path[i-1].Lng, path[i].Lat, path[i].Lng)
	}
	total := cum[len(cum)-1]
	if total == 0 {
		return path
	}

	out := make([]models.Coordinate, 0, n)
	seg := 1
	for k := 0; k < n; k++ {
		target := total * float64(k) / float64(n-1)
		for seg < len(path)-1 && cum[seg] < target {
			seg++
		}
		span := cum[seg] - cum[seg-1]
		t := 0.0
		if span > 0 {
			t = (target - cum[seg-1]) / span
		}
		if t < 0 {
			t = 0
		} else if t > 1 {
			t = 1
		}
		a, b := path[seg-1], path[seg]
		out = append(out, models.Coordinate{
			Lat: a.Lat + (b.Lat-a.Lat)*t,
			Lng: a.Lng + (b.Lng-a.Lng)*t,
		})
	}
	return out
}
