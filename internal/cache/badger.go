package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/velocols/colprofile/internal/logging"
)

// Badger is a Cache persisted in a BadgerDB directory. TTLs are enforced by badger.
type Badger struct {
	db *badger.DB
}

// badgerLogger routes badger's internal logging through our logger.
type badgerLogger struct {
	*logging.Logger
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.Warnf(format, args...)
}

// OpenBadger opens (or creates) a cache database in dir.
func OpenBadger(dir string, logger *logging.Logger) (*Badger, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	opts := badger.DefaultOptions(dir)
	if logger != nil {
		opts = opts.WithLogger(badgerLogger{logger})
	} else {
		opts = opts.WithLogger(nil)
	}
	return openBadger(opts)
}

// OpenBadgerInMemory opens a non-persistent badger cache.
func OpenBadgerInMemory() (*Badger, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
}

func openBadger(opts badger.Options) (*Badger, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger cache: %w", err)
	}
	return &Badger{db: db}, nil
}

// Get implements Cache.
func (b *Badger) Get(_ context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return value, true, nil
}

// Set implements Cache.
func (b *Badger) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Close implements Cache.
func (b *Badger) Close() error {
	return b.db.Close()
}
