package backup

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/velocols/colprofile/internal/models"
	"github.com/velocols/colprofile/internal/validation"
)

// colCountKey is the object metadata entry holding a snapshot's col count.
const colCountKey = "col-count"

// objectEntry is one listed object.
type objectEntry struct {
	Key          string
	LastModified time.Time
	Metadata     map[string]string
}

// objectStore is the part of a blob service the object sink needs.
type objectStore interface {
	Put(ctx context.Context, key string, data []byte, metadata map[string]string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]objectEntry, error)
	// Location renders key as a URL for listings.
	Location(key string) string
}

// ObjectSink keeps snapshots in an S3 bucket or Azure container under a prefix.
type ObjectSink struct {
	kind   string
	store  objectStore
	prefix string
}

func newObjectSink(kind string, store objectStore, prefix string) *ObjectSink {
	return &ObjectSink{kind: kind, store: store, prefix: strings.Trim(prefix, "/")}
}

func (s *ObjectSink) Kind() string { return s.kind }

func (s *ObjectSink) key(name string) string {
	if s.prefix == "" {
		return objectName(name)
	}
	return path.Join(s.prefix, objectName(name))
}

func (s *ObjectSink) Write(ctx context.Context, snap *models.Snapshot) (string, error) {
	if err := validation.ValidateSnapshotName(snap.Name); err != nil {
		return "", err
	}
	data, err := Encode(snap)
	if err != nil {
		return "", err
	}
	key := s.key(snap.Name)
	meta := map[string]string{colCountKey: strconv.Itoa(len(snap.Cols))}
	if err := s.store.Put(ctx, key, data, meta); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return s.store.Location(key), nil
}

func (s *ObjectSink) Read(ctx context.Context, name string) (*models.Snapshot, error) {
	if err := validation.ValidateSnapshotName(name); err != nil {
		return nil, err
	}
	key := s.key(name)
	body, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}
	defer body.Close()
	return Decode(body)
}

// List uses object metadata only; snapshots are not downloaded. ColCount is
// -1 when the metadata is missing.
func (s *ObjectSink) List(ctx context.Context) ([]models.BackupInfo, error) {
	prefix := ""
	if s.prefix != "" {
		prefix = s.prefix + "/"
	}
	entries, err := s.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	infos := make([]models.BackupInfo, 0, len(entries))
	for _, e := range entries {
		name, ok := snapshotName(strings.TrimPrefix(e.Key, prefix))
		if !ok || validation.ValidateSnapshotName(name) != nil {
			continue
		}
		infos = append(infos, models.BackupInfo{
			Name:      name,
			CreatedAt: e.LastModified,
			ColCount:  metadataColCount(e.Metadata),
			Location:  s.store.Location(e.Key),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.After(infos[j].CreatedAt) })
	return infos, nil
}

// metadataColCount looks the key up case-insensitively; services differ in
// how they return metadata names.
func metadataColCount(meta map[string]string) int {
	for k, v := range meta {
		if strings.EqualFold(k, colCountKey) {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}
	return -1
}
