package catalogue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/velocols/colprofile/internal/models"
)

const (
	colPrefix    = "col/"
	backupPrefix = "backup/"
)

// Badger is a Store kept in a local BadgerDB directory.
// Cols are JSON documents under "col/<id>", snapshots under "backup/<name>".
type Badger struct {
	db  *badger.DB
	now func() time.Time
}

// OpenBadger opens (or creates) a catalogue database in dir.
func OpenBadger(dir string) (*Badger, error) {
	if dir == "" {
		return nil, fmt.Errorf("catalogue directory is required")
	}
	return openBadger(badger.DefaultOptions(dir).WithLogger(nil))
}

// OpenBadgerInMemory opens a non-persistent catalogue.
func OpenBadgerInMemory() (*Badger, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
}

func openBadger(opts badger.Options) (*Badger, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger catalogue: %w", err)
	}
	return &Badger{db: db, now: time.Now}, nil
}

func colKey(id string) []byte {
	return []byte(colPrefix + id)
}

func backupKey(name string) []byte {
	return []byte(backupPrefix + name)
}

// GetAll returns cols ordered by id.
func (b *Badger) GetAll(_ context.Context) ([]models.Col, error) {
	var cols []models.Col
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(colPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var c models.Col
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			cols = append(cols, c)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list cols: %w", err)
	}
	return cols, nil
}

// GetByID implements Store.
func (b *Badger) GetByID(_ context.Context, id string) (*models.Col, error) {
	var c models.Col
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, colKey(id), &c)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("col %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get col %s: %w", id, err)
	}
	return &c, nil
}

// UpdateProfile rewrites the col document in a single transaction.
func (b *Badger) UpdateProfile(_ context.Context, id string, profile *models.ElevationProfile) (bool, error) {
	updated := false
	err := b.db.Update(func(txn *badger.Txn) error {
		var c models.Col
		if err := getJSON(txn, colKey(id), &c); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		c.Profile = profile
		c.UpdatedAt = b.now()
		if err := setJSON(txn, colKey(id), c); err != nil {
			return err
		}
		updated = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to update profile of col %s: %w", id, err)
	}
	return updated, nil
}

// PutCols writes all cols in one batch.
func (b *Badger) PutCols(_ context.Context, cols []models.Col) error {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	for _, c := range cols {
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("encode col %s: %w", c.ID, err)
		}
		if err := wb.Set(colKey(c.ID), data); err != nil {
			return fmt.Errorf("write col %s: %w", c.ID, err)
		}
	}
	return wb.Flush()
}

// CreateBackup implements Store.
func (b *Badger) CreateBackup(_ context.Context, name string, cols []models.Col) error {
	snap := models.Snapshot{Name: name, CreatedAt: b.now(), Cols: cols}
	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(backupKey(name)); err == nil {
			return fmt.Errorf("backup %s already exists", name)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return setJSON(txn, backupKey(name), snap)
	})
}

// ListBackups returns backups newest first.
func (b *Badger) ListBackups(_ context.Context) ([]models.BackupInfo, error) {
	var infos []models.BackupInfo
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(backupPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var snap models.Snapshot
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &snap)
			}); err != nil {
				return err
			}
			infos = append(infos, models.BackupInfo{
				Name:      snap.Name,
				CreatedAt: snap.CreatedAt,
				ColCount:  len(snap.Cols),
				Location:  "badger",
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	sortBackups(infos)
	return infos, nil
}

// LoadBackup implements Store.
func (b *Badger) LoadBackup(_ context.Context, name string) (*models.Snapshot, error) {
	var snap models.Snapshot
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, backupKey(name), &snap)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("backup %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load backup %s: %w", name, err)
	}
	return &snap, nil
}

// Close implements Store.
func (b *Badger) Close() error {
	return b.db.Close()
}

func getJSON(txn *badger.Txn, key []byte, v interface{}) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}
