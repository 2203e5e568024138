// Package profile derives elevation profiles and climb segments from sampled points.
//
// Everything here is pure: the same point list always yields the same segments.
package profile

import (
	"math"

	"github.com/velocols/colprofile/internal/constants"
	"github.com/velocols/colprofile/internal/models"
)

// Segmenter splits a climb at significant gradient changes.
type Segmenter struct {
	// Threshold is the gradient delta, in percentage points, that closes a segment.
	Threshold float64
	// MinLength is the shortest segment emitted, in km. Shorter trailing residue is dropped.
	MinLength float64
}

// DefaultSegmenter uses a 2-point threshold and a 0.5 km minimum.
func DefaultSegmenter() Segmenter {
	return Segmenter{
		Threshold: constants.SignificantGradientChange,
		MinLength: constants.MinSegmentLengthKm,
	}
}

// Segment runs the default segmenter.
func Segment(points []models.ElevationPoint) []models.ElevationSegment {
	return DefaultSegmenter().Segment(points)
}

// Segment walks the points keeping the start of the open segment. At each interior
// point i it compares the gradient of [start, i] with the gradient of the next step
// [i, i+1]; a difference above Threshold on a span of at least MinLength closes the
// segment at i. The trailing span is emitted only if it reaches MinLength.
func (s Segmenter) Segment(points []models.ElevationPoint) []models.ElevationSegment {
	if len(points) < 2 {
		return nil
	}

	cum := CumulativeDistances(points)
	last := len(points) - 1

	var segments []models.ElevationSegment
	start := 0
	for i := 1; i < last; i++ {
		spanLen := cum[i] - cum[start]
		current := Gradient(points[start].Elevation, points[i].Elevation, spanLen)
		next := Gradient(points[i].Elevation, points[i+1].Elevation, cum[i+1]-cum[i])

		if math.Abs(current-next) > s.Threshold && spanLen >= s.MinLength {
			segments = append(segments, newSegment(points, cum, start, i))
			start = i
		}
	}

	if cum[last]-cum[start] >= s.MinLength {
		segments = append(segments, newSegment(points, cum, start, last))
	}
	return segments
}

func newSegment(points []models.ElevationPoint, cum []float64, start, end int) models.ElevationSegment {
	length := cum[end] - cum[start]
	grad := Gradient(points[start].Elevation, points[end].Elevation, length)
	return models.ElevationSegment{
		StartIndex:    start,
		EndIndex:      end,
		StartDistance: cum[start],
		EndDistance:   cum[end],
		Length:        length,
		Gradient:      grad,
		Difficulty:    Classify(grad),
	}
}

// Gradient returns the slope in % of an elevation change over distanceKm.
// A zero-length span has gradient 0.
func Gradient(fromElevation, toElevation, distanceKm float64) float64 {
	if distanceKm <= 0 {
		return 0
	}
	return (toElevation - fromElevation) / (distanceKm * 1000) * 100
}

// Classify maps a gradient to a difficulty. Upper bounds are inclusive:
// 3.0 is easy, 6.0 moderate, 9.0 challenging, 12.0 difficult.
func Classify(gradient float64) models.Difficulty {
	switch {
	case gradient <= constants.EasyMaxGradient:
		return models.DifficultyEasy
	case gradient <= constants.ModerateMaxGradient:
		return models.DifficultyModerate
	case gradient <= constants.ChallengingMaxGradient:
		return models.DifficultyChallenging
	case gradient <= constants.DifficultMaxGradient:
		return models.DifficultyDifficult
	default:
		return models.DifficultyExtreme
	}
}

// CumulativeDistances returns the haversine distance in km from the first point to each point.
func CumulativeDistances(points []models.ElevationPoint) []float64 {
	cum := make([]float64, len(points))
	for i := 1; i < len(points); i++ {
		cum[i] = cum[i-1] + pointDistance(points[i-1], points[i])
	}
	return cum
}
