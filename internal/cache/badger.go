package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"
)

// BadgerCache implements Layer on an embedded Badger database. Values are stored as JSON.
type BadgerCache struct {
	db       *badger.DB
	inMemory bool
	logger   *zap.Logger
}

// badgerLoggerAdapter adapts zap.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *zap.SugaredLogger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...interface{}) {
	bl.logger.Errorf(msg, items...)
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...interface{}) {
	bl.logger.Warnf(msg, items...)
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...interface{}) {
	bl.logger.Infof(msg, items...)
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...interface{}) {
	bl.logger.Debugf(msg, items...)
}

// OpenBadger opens the cache at dir, creating the directory if needed. An empty dir
// opens an in-memory cache.
func OpenBadger(dir string, logger *zap.Logger) (*BadgerCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerLoggerAdapter{logger: logger.Named("badger").Sugar()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	return &BadgerCache{db: db, inMemory: dir == "", logger: logger}, nil
}

// Get implements Layer.
func (c *BadgerCache) Get(ctx context.Context, prefix, key string, dest interface{}) (bool, error) {
	var raw []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(Key(prefix, key)))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s/%s: %w", prefix, key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("cache decode %s/%s: %w", prefix, key, err)
	}
	return true, nil
}

// Set implements Layer.
func (c *BadgerCache) Set(ctx context.Context, prefix, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s/%s: %w", prefix, key, err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(Key(prefix, key)), raw)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

// Delete removes a single entry. Deleting a missing key is not an error.
func (c *BadgerCache) Delete(ctx context.Context, prefix, key string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(Key(prefix, key)))
	})
}

// InvalidatePrefix implements Layer. Keys are collected in a read transaction and
// deleted through a write batch so large prefixes do not exceed transaction limits.
func (c *BadgerCache) InvalidatePrefix(ctx context.Context, prefix string) (int, error) {
	scan := []byte(Key(prefix, ""))
	var keys [][]byte
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = scan
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("cache scan %s: %w", prefix, err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	wb := c.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, fmt.Errorf("cache invalidate %s: %w", prefix, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("cache invalidate %s: %w", prefix, err)
	}
	c.logger.Debug("cache prefix invalidated", zap.String("prefix", prefix), zap.Int("keys", len(keys)))
	return len(keys), nil
}

// RunGC reclaims value log space. It is a no-op for in-memory caches.
func (c *BadgerCache) RunGC() error {
	if c.inMemory {
		return nil
	}
	for {
		err := c.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Close closes the cache database.
func (c *BadgerCache) Close() error {
	return c.db.Close()
}
