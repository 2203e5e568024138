package backup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/velocols/colprofile/internal/catalogue"
	"github.com/velocols/colprofile/internal/logging"
	"github.com/velocols/colprofile/internal/models"
	"github.com/velocols/colprofile/internal/validation"
)

// ErrSnapshotFailed marks any failure while taking a snapshot. A regeneration
// run must not start when it is returned.
var ErrSnapshotFailed = errors.New("snapshot failed")

// Sink is an external copy of snapshots, kept outside the catalogue store.
type Sink interface {
	// Kind names the sink in logs and listings ("file", "s3", "azure").
	Kind() string
	// Write stores snap and returns where it went.
	Write(ctx context.Context, snap *models.Snapshot) (string, error)
	Read(ctx context.Context, name string) (*models.Snapshot, error)
	List(ctx context.Context) ([]models.BackupInfo, error)
}

// Manager takes and restores catalogue snapshots.
//
// Every snapshot is written to the store itself; when a sink is configured
// a second copy goes there too. Either write failing fails the snapshot.
type Manager struct {
	sink   Sink
	logger *logging.Logger
	now    func() time.Time
	newID  func() string
}

// NewManager creates a manager. sink and logger may be nil.
func NewManager(sink Sink, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Manager{
		sink:   sink,
		logger: logger,
		now:    time.Now,
		newID:  func() string { return uuid.NewString()[:8] },
	}
}

// NewName returns a unique, sortable snapshot name.
func (m *Manager) NewName() string {
	return fmt.Sprintf("cols-%s-%s", m.now().UTC().Format("20060102T150405Z"), m.newID())
}

// Snapshot copies the full catalogue of store.
func (m *Manager) Snapshot(ctx context.Context, store catalogue.Store) (*models.BackupInfo, error) {
	cols, err := store.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read catalogue: %w", ErrSnapshotFailed, err)
	}

	name := m.NewName()
	if err := store.CreateBackup(ctx, name, cols); err != nil {
		return nil, fmt.Errorf("%w: failed to store %s: %w", ErrSnapshotFailed, name, err)
	}
	info := &models.BackupInfo{Name: name, CreatedAt: m.now(), ColCount: len(cols), Location: "store"}

	if m.sink != nil {
		location, err := m.sink.Write(ctx, &models.Snapshot{Name: name, CreatedAt: info.CreatedAt, Cols: cols})
		if err != nil {
			return nil, fmt.Errorf("%w: failed to write %s to %s: %w", ErrSnapshotFailed, name, m.sink.Kind(), err)
		}
		info.Location = location
	}

	m.logger.Info().
		Str("backup", name).
		Int("cols", len(cols)).
		Str("location", info.Location).
		Msg("Catalogue snapshot created")

	return info, nil
}

// List merges the store's snapshots with the sink's, newest first.
// A name present in both is listed once with the sink location.
func (m *Manager) List(ctx context.Context, store catalogue.Store) ([]models.BackupInfo, error) {
	infos, err := store.ListBackups(ctx)
	if err != nil {
		return nil, err
	}
	if m.sink == nil {
		return infos, nil
	}

	external, err := m.sink.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list %s backups: %w", m.sink.Kind(), err)
	}

	byName := make(map[string]int, len(infos))
	for i, info := range infos {
		byName[info.Name] = i
	}
	for _, info := range external {
		if i, ok := byName[info.Name]; ok {
			infos[i].Location = info.Location
			continue
		}
		infos = append(infos, info)
	}

	sort.SliceStable(infos, func(i, j int) bool {
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})
	return infos, nil
}

// Load finds a snapshot in the store, falling back to the sink.
func (m *Manager) Load(ctx context.Context, store catalogue.Store, name string) (*models.Snapshot, error) {
	if err := validation.ValidateSnapshotName(name); err != nil {
		return nil, err
	}

	snap, err := store.LoadBackup(ctx, name)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, catalogue.ErrNotFound) || m.sink == nil {
		return nil, err
	}
	return m.sink.Read(ctx, name)
}

// Restore writes every col of the named snapshot back into store and
// returns how many were restored. Cols added after the snapshot are kept.
func (m *Manager) Restore(ctx context.Context, store catalogue.Store, name string) (int, error) {
	snap, err := m.Load(ctx, store, name)
	if err != nil {
		return 0, fmt.Errorf("restore %s: %w", name, err)
	}
	if err := store.PutCols(ctx, snap.Cols); err != nil {
		return 0, fmt.Errorf("restore %s: %w", name, err)
	}

	m.logger.Info().Str("backup", name).Int("cols", len(snap.Cols)).Msg("Catalogue restored")
	return len(snap.Cols), nil
}
