package profile

import (
	"math"
	"time"

	"github.com/velocols/colprofile/internal/models"
)

// Summary holds the aggregate figures of a point list.
type Summary struct {
	TotalAscent  float64
	TotalDescent float64
	MinElevation float64
	MaxElevation float64
	TotalLength  float64 // km
}

// Summarize computes ascent, descent, elevation bounds and length. Empty input yields zeros.
func Summarize(points []models.ElevationPoint) Summary {
	if len(points) == 0 {
		return Summary{}
	}

	s := Summary{
		MinElevation: math.Inf(1),
		MaxElevation: math.Inf(-1),
	}
	for i, p := range points {
		s.MinElevation = math.Min(s.MinElevation, p.Elevation)
		s.MaxElevation = math.Max(s.MaxElevation, p.Elevation)
		if i == 0 {
			continue
		}
		diff := p.Elevation - points[i-1].Elevation
		if diff > 0 {
			s.TotalAscent += diff
		} else {
			s.TotalDescent -= diff
		}
		s.TotalLength += pointDistance(points[i-1], p)
	}
	return s
}

// Build derives a complete profile from provider points using the given segmenter.
// The input slice is not modified; the profile carries a copy with cumulative distances.
func (s Segmenter) Build(points []models.ElevationPoint, generatedAt time.Time) *models.ElevationProfile {
	withDist := make([]models.ElevationPoint, len(points))
	copy(withDist, points)
	cum := CumulativeDistances(withDist)
	for i := range withDist {
		withDist[i].Distance = cum[i]
	}

	sum := Summarize(withDist)
	avg := 0.0
	if len(withDist) >= 2 {
		avg = Gradient(withDist[0].Elevation, withDist[len(withDist)-1].Elevation, sum.TotalLength)
	}

	segments := s.Segment(withDist)
	if segments == nil {
		segments = []models.ElevationSegment{}
	}

	return &models.ElevationProfile{
		Points:       withDist,
		Segments:     segments,
		TotalAscent:  sum.TotalAscent,
		TotalDescent: sum.TotalDescent,
		MinElevation: sum.MinElevation,
		MaxElevation: sum.MaxElevation,
		TotalLength:  sum.TotalLength,
		AvgGradient:  avg,
		GeneratedAt:  generatedAt,
	}
}

// Build runs the default segmenter.
func Build(points []models.ElevationPoint, generatedAt time.Time) *models.ElevationProfile {
	return DefaultSegmenter().Build(points, generatedAt)
}
