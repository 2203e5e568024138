// Package elevation fetches raw elevation samples along a col's path.
package elevation

import (
	"context"

	"github.com/velocols/colprofile/internal/http"
	"github.com/velocols/colprofile/internal/models"
)

// FetchResult is the raw provider answer for one path.
type FetchResult struct {
	Points       []models.ElevationPoint
	TotalAscent  float64
	TotalDescent float64
	MinElevation float64
	MaxElevation float64
}

// Request is one profile lookup. LengthKm is the catalogued road length; a
// path drawn with few vertices across switchbacks is shorter than the road,
// so the sample count follows whichever of the two is longer.
type Request struct {
	Path     []models.Coordinate
	LengthKm float64
}

// Provider returns elevation samples along a path.
//
// Failures wrap http.ErrRateLimited when quota is exhausted and
// http.ErrProvider for transient failures; anything else is fatal.
type Provider interface {
	FetchProfile(ctx context.Context, req Request) (*FetchResult, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request) (*FetchResult, error)

// FetchProfile calls f.
func (f ProviderFunc) FetchProfile(ctx context.Context, req Request) (*FetchResult, error) {
	return f(ctx, req)
}

// IsRateLimited reports whether err signals provider quota exhaustion.
func IsRateLimited(err error) bool {
	return http.ClassifyError(err) == http.ErrorTypeRateLimited
}
