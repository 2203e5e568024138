// Package cache is the key/value store consulted before spending provider quota.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/velocols/colprofile/internal/constants"
	"github.com/velocols/colprofile/internal/models"
)

// Cache stores opaque values with a time-to-live.
type Cache interface {
	// Get returns the value and true, or false when absent or expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// ProfileKey is the cache key of a col's profile.
func ProfileKey(colID string) string {
	return constants.ProfileCachePrefix + colID
}

// GetProfile loads a cached profile. Undecodable entries are reported as misses.
func GetProfile(ctx context.Context, c Cache, colID string) (*models.ElevationProfile, bool, error) {
	data, ok, err := c.Get(ctx, ProfileKey(colID))
	if err != nil || !ok {
		return nil, false, err
	}
	var p models.ElevationProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, false, nil
	}
	return &p, true, nil
}

// SetProfile caches a profile for ttl.
func SetProfile(ctx context.Context, c Cache, colID string, p *models.ElevationProfile, ttl time.Duration) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode profile for col %s: %w", colID, err)
	}
	return c.Set(ctx, ProfileKey(colID), data, ttl)
}
