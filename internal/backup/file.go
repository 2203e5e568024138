package backup

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/velocols/colprofile/internal/models"
	"github.com/velocols/colprofile/internal/validation"
)

// FileSink keeps snapshots as gzip JSON files in one directory.
type FileSink struct {
	dir string
}

// NewFileSink creates dir if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("backup directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

func (s *FileSink) Kind() string { return "file" }

// Write stores snap atomically through a temp file and rename.
func (s *FileSink) Write(ctx context.Context, snap *models.Snapshot) (string, error) {
	target, err := validation.ResolveInDirectory(s.dir, objectName(snap.Name))
	if err != nil {
		return "", err
	}
	data, err := Encode(snap)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, ".snapshot-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to move snapshot into place: %w", err)
	}
	return target, nil
}

func (s *FileSink) Read(ctx context.Context, name string) (*models.Snapshot, error) {
	path, err := validation.ResolveInDirectory(s.dir, objectName(name))
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", name, err)
	}
	return Decode(bytes.NewReader(data))
}

// List decodes every snapshot in the directory, newest first. Unreadable
// files are skipped.
func (s *FileSink) List(ctx context.Context) ([]models.BackupInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var infos []models.BackupInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name, ok := snapshotName(entry.Name())
		if !ok {
			continue
		}
		snap, err := s.Read(ctx, name)
		if err != nil {
			continue
		}
		infos = append(infos, models.BackupInfo{
			Name:      snap.Name,
			CreatedAt: snap.CreatedAt,
			ColCount:  len(snap.Cols),
			Location:  filepath.Join(s.dir, entry.Name()),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.After(infos[j].CreatedAt) })
	return infos, nil
}
