package models

import "time"

// Snapshot is a full copy of the catalogue taken before a destructive run.
type Snapshot struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	Cols      []Col     `json:"cols"`
}

// BackupInfo describes a stored snapshot without its contents.
type BackupInfo struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	ColCount  int       `json:"colCount"`
	// Location is where the snapshot lives (store, file path, bucket URL)
	Location string `json:"location"`
}
