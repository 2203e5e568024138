package catalogue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/velocols/colprofile/internal/models"
)

// Memory is an in-process Store. It backs tests and dry runs.
type Memory struct {
	mu      sync.RWMutex
	cols    map[string]models.Col
	order   []string
	backups map[string]models.Snapshot
	closed  bool
	now     func() time.Time
}

// NewMemory creates a store seeded with cols.
func NewMemory(cols ...models.Col) *Memory {
	m := &Memory{
		cols:    make(map[string]models.Col),
		backups: make(map[string]models.Snapshot),
		now:     time.Now,
	}
	for _, c := range cols {
		m.put(c)
	}
	return m
}

func (m *Memory) put(c models.Col) {
	if _, exists := m.cols[c.ID]; !exists {
		m.order = append(m.order, c.ID)
	}
	m.cols[c.ID] = cloneCol(c)
}

// GetAll returns cols in insertion order.
func (m *Memory) GetAll(_ context.Context) ([]models.Col, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	out := make([]models.Col, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, cloneCol(m.cols[id]))
	}
	return out, nil
}

// GetByID implements Store.
func (m *Memory) GetByID(_ context.Context, id string) (*models.Col, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	c, ok := m.cols[id]
	if !ok {
		return nil, fmt.Errorf("col %s: %w", id, ErrNotFound)
	}
	out := cloneCol(c)
	return &out, nil
}

// UpdateProfile implements Store. Unknown ids return false.
func (m *Memory) UpdateProfile(_ context.Context, id string, profile *models.ElevationProfile) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}

	c, ok := m.cols[id]
	if !ok {
		return false, nil
	}
	c.Profile = profile
	c.UpdatedAt = m.now()
	m.cols[id] = c
	return true, nil
}

// PutCols implements Store.
func (m *Memory) PutCols(_ context.Context, cols []models.Col) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	for _, c := range cols {
		m.put(c)
	}
	return nil
}

// CreateBackup implements Store.
func (m *Memory) CreateBackup(_ context.Context, name string, cols []models.Col) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, exists := m.backups[name]; exists {
		return fmt.Errorf("backup %s already exists", name)
	}

	m.backups[name] = models.Snapshot{Name: name, CreatedAt: m.now(), Cols: cloneCols(cols)}
	return nil
}

// ListBackups returns backups newest first.
func (m *Memory) ListBackups(_ context.Context) ([]models.BackupInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	out := make([]models.BackupInfo, 0, len(m.backups))
	for _, s := range m.backups {
		out = append(out, models.BackupInfo{Name: s.Name, CreatedAt: s.CreatedAt, ColCount: len(s.Cols), Location: "memory"})
	}
	sortBackups(out)
	return out, nil
}

// LoadBackup implements Store.
func (m *Memory) LoadBackup(_ context.Context, name string) (*models.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	s, ok := m.backups[name]
	if !ok {
		return nil, fmt.Errorf("backup %s: %w", name, ErrNotFound)
	}
	s.Cols = cloneCols(s.Cols)
	return &s, nil
}

// Close implements Store.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func sortBackups(infos []models.BackupInfo) {
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].Name > infos[j].Name
		}
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})
}

// Closed reports whether Close has been called.
func (m *Memory) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
