// Package models defines the catalogue and elevation profile data structures.
package models

import "time"

// Coordinate is a single lat/lng vertex of a col's catalogued path.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Col is a catalogued mountain-pass climb.
type Col struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Region    string  `json:"region,omitempty"`
	Elevation float64 `json:"elevation"`       // Summit elevation in metres
	Length    float64 `json:"length"`          // Climb length in km
	AvgGrade  float64 `json:"averageGradient"` // Catalogued average gradient in %

	Path    []Coordinate      `json:"coordinates"`
	Profile *ElevationProfile `json:"elevationProfile,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasPath reports whether the col has enough coordinates to sample a profile.
func (c *Col) HasPath() bool {
	return len(c.Path) >= 2
}
