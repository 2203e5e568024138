package models

import "time"

// Difficulty classifies a segment by its average gradient.
type Difficulty string

const (
	DifficultyEasy        Difficulty = "easy"
	DifficultyModerate    Difficulty = "moderate"
	DifficultyChallenging Difficulty = "challenging"
	DifficultyDifficult   Difficulty = "difficult"
	DifficultyExtreme     Difficulty = "extreme"
)

// ElevationPoint is one sample returned by the elevation provider.
// Distance is the cumulative distance from the first point in km.
type ElevationPoint struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Elevation float64 `json:"elevation"`
	Distance  float64 `json:"distance"`
}

// ElevationSegment is a contiguous span of a climb with a roughly uniform gradient.
type ElevationSegment struct {
	StartIndex    int        `json:"startIndex"`
	EndIndex      int        `json:"endIndex"`
	StartDistance float64    `json:"startDistance"`
	EndDistance   float64    `json:"endDistance"`
	Length        float64    `json:"length"`   // km
	Gradient      float64    `json:"gradient"` // %
	Difficulty    Difficulty `json:"difficulty"`
}

// ElevationProfile is the full derived dataset for one col.
type ElevationProfile struct {
	Points       []ElevationPoint   `json:"points"`
	Segments     []ElevationSegment `json:"segments"`
	TotalAscent  float64            `json:"totalAscent"`
	TotalDescent float64            `json:"totalDescent"`
	MinElevation float64            `json:"minElevation"`
	MaxElevation float64            `json:"maxElevation"`
	TotalLength  float64            `json:"totalLength"` // km
	AvgGradient  float64            `json:"averageGradient"`
	GeneratedAt  time.Time          `json:"generatedAt"`
}
