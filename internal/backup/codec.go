// Package backup snapshots the catalogue before destructive runs and restores it.
package backup

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"github.com/velocols/colprofile/internal/models"
)

// fileExt is appended to snapshot names by the external sinks.
const fileExt = ".json.gz"

// Encode writes snap as gzip-compressed JSON.
func Encode(snap *models.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(snap); err != nil {
		return nil, fmt.Errorf("encode snapshot %s: %w", snap.Name, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress snapshot %s: %w", snap.Name, err)
	}
	return buf.Bytes(), nil
}

// Decode reads a snapshot written by Encode.
func Decode(r io.Reader) (*models.Snapshot, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer zr.Close()

	var snap models.Snapshot
	if err := json.NewDecoder(zr).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func objectName(name string) string {
	return name + fileExt
}

func snapshotName(object string) (string, bool) {
	if !strings.HasSuffix(object, fileExt) {
		return "", false
	}
	return strings.TrimSuffix(object, fileExt), true
}
