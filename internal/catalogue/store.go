// Package catalogue persists cols and their elevation profiles.
package catalogue

import (
	"context"
	"errors"

	"github.com/velocols/colprofile/internal/models"
)

var (
	// ErrNotFound is returned when a col or backup does not exist.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("catalogue store is closed")
)

// Store is the persistence contract used by the regeneration pipeline.
//
// UpdateProfile replaces a col's profile atomically: on any error or a false
// result the previously stored profile is untouched.
type Store interface {
	GetAll(ctx context.Context) ([]models.Col, error)
	GetByID(ctx context.Context, id string) (*models.Col, error)
	UpdateProfile(ctx context.Context, id string, profile *models.ElevationProfile) (bool, error)

	// PutCols inserts or replaces whole col records (import and restore).
	PutCols(ctx context.Context, cols []models.Col) error

	CreateBackup(ctx context.Context, name string, cols []models.Col) error
	ListBackups(ctx context.Context) ([]models.BackupInfo, error)
	LoadBackup(ctx context.Context, name string) (*models.Snapshot, error)

	Close() error
}

// cloneCol returns a copy that shares no slices with c. Profiles are
// immutable once built, so the pointer is shared.
func cloneCol(c models.Col) models.Col {
	out := c
	if c.Path != nil {
		out.Path = make([]models.Coordinate, len(c.Path))
		copy(out.Path, c.Path)
	}
	return out
}

func cloneCols(cols []models.Col) []models.Col {
	out := make([]models.Col, len(cols))
	for i, c := range cols {
		out[i] = cloneCol(c)
	}
	return out
}
