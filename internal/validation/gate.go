// Package validation holds the checks a freshly computed profile must pass
// before it may replace the catalogued one, plus name checks for snapshots.
package validation

import (
	"fmt"
	"math"
	"strings"

	"github.com/velocols/colprofile/internal/constants"
	"github.com/velocols/colprofile/internal/models"
)

// Reason prefixes, stable so callers and tests can match on them.
const (
	ReasonLowDensity        = "insufficient point density"
	ReasonNoSegments        = "no segments produced"
	ReasonElevationMismatch = "inconsistent maximum elevation"
	ReasonMissingProfile    = "missing profile"
)

// Gate sanity-checks a profile against its catalogue record.
type Gate struct {
	MinPointsPerKm     float64
	MaxElevationDeltaM float64
}

// DefaultGate requires 10 points per km and a max elevation within 50 m.
func DefaultGate() Gate {
	return Gate{
		MinPointsPerKm:     constants.MinPointsPerKm,
		MaxElevationDeltaM: constants.MaxElevationDeltaM,
	}
}

// Result is the gate verdict. Reasons is empty when Passed.
type Result struct {
	Passed  bool
	Reasons []string
}

// Err returns nil when the result passed, a *Error otherwise.
func (r Result) Err(colID string) error {
	if r.Passed {
		return nil
	}
	return &Error{ColID: colID, Reasons: r.Reasons}
}

// Error reports a rejected profile.
type Error struct {
	ColID   string
	Reasons []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("profile for col %s rejected: %s", e.ColID, strings.Join(e.Reasons, "; "))
}

// Check runs every check and collects all failures.
//
// Density is measured against the catalogued length, or the profile's own
// length when the catalogue has none. The elevation check is skipped when the
// catalogue elevation is unknown (zero).
func (g Gate) Check(profile *models.ElevationProfile, col *models.Col) Result {
	if profile == nil {
		return Result{Reasons: []string{ReasonMissingProfile}}
	}

	var reasons []string

	lengthKm := col.Length
	if lengthKm <= 0 {
		lengthKm = profile.TotalLength
	}
	if lengthKm > 0 {
		density := float64(len(profile.Points)) / lengthKm
		if density < g.MinPointsPerKm {
			reasons = append(reasons, fmt.Sprintf("%s: %.1f points/km over %.2f km, need %.0f",
				ReasonLowDensity, density, lengthKm, g.MinPointsPerKm))
		}
	}

	if len(profile.Segments) == 0 {
		reasons = append(reasons, ReasonNoSegments)
	}

	if col.Elevation > 0 {
		delta := math.Abs(profile.MaxElevation - col.Elevation)
		if delta > g.MaxElevationDeltaM {
			reasons = append(reasons, fmt.Sprintf("%s: computed %.0f m, catalogued %.0f m (delta %.0f m)",
				ReasonElevationMismatch, profile.MaxElevation, col.Elevation, delta))
		}
	}

	return Result{Passed: len(reasons) == 0, Reasons: reasons}
}

// Check runs the default gate.
func Check(profile *models.ElevationProfile, col *models.Col) Result {
	return DefaultGate().Check(profile, col)
}
