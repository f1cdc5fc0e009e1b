// Package bolt implements the storage engine contract on bbolt, an
// embedded B+ tree. Each key space maps to one bucket; batches commit as
// a single cross-bucket transaction.
package bolt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hoardfs/hoard/internal/engine"
)

const (
	dbFile = "objects.db"

	// compactTxSize bounds how much data one transaction moves during
	// Compact, matching the bbolt compaction tool's default.
	compactTxSize = 65536
)

// Engine wraps one bbolt database. The mutex protects the db handle
// across Compact's file swap; normal operations share it.
type Engine struct {
	mu   sync.RWMutex
	db   *bolt.DB
	path string
	opts engine.Options
}

// Open creates or opens the database file inside dir. The file lock makes
// ownership exclusive per process; a locked file fails the open after a
// short timeout instead of blocking forever.
func Open(dir string, opts engine.Options) (*Engine, error) {
	path := filepath.Join(dir, dbFile)
	db, err := openDB(path, opts)
	if err != nil {
		return nil, err
	}
	return &Engine{db: db, path: path, opts: opts}, nil
}

func openDB(path string, opts engine.Options) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: time.Second,
		NoSync:  !opts.SyncWrites,
	})
	if err != nil {
		if isCorrupt(err) {
			return nil, fmt.Errorf("opening bolt db: %w: %w", engine.ErrCorruptDB, err)
		}
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, ks := range engine.Spaces() {
			if _, err := tx.CreateBucketIfNotExists(bucketName(ks)); err != nil {
				return fmt.Errorf("creating bucket %s: %w", ks, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		if isCorrupt(err) {
			return nil, fmt.Errorf("%w: %w", engine.ErrCorruptDB, err)
		}
		return nil, err
	}
	return db, nil
}

// isCorrupt classifies bbolt's damaged-file sentinels.
func isCorrupt(err error) bool {
	return errors.Is(err, bolt.ErrInvalid) ||
		errors.Is(err, bolt.ErrChecksum) ||
		errors.Is(err, bolt.ErrVersionMismatch)
}

func bucketName(ks engine.KeySpace) []byte {
	return []byte(ks.String())
}

func (e *Engine) Get(ctx context.Context, space engine.KeySpace, key []byte) ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return nil, engine.ErrClosed
	}

	var val []byte
	err := e.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName(space)).Get(key)
		if v != nil {
			val = bytes.Clone(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if val == nil {
		return nil, engine.ErrKeyNotFound
	}
	return val, nil
}

func (e *Engine) GetBatch(ctx context.Context, space engine.KeySpace, keys [][]byte) ([][]byte, int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return nil, 0, engine.ErrClosed
	}

	vals := make([][]byte, len(keys))
	err := e.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(space))
		for i, key := range keys {
			if v := b.Get(key); v != nil {
				vals[i] = bytes.Clone(v)
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return vals, 0, nil
}

func (e *Engine) Has(ctx context.Context, space engine.KeySpace, key []byte) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return false, engine.ErrClosed
	}

	var ok bool
	err := e.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket(bucketName(space)).Get(key) != nil
		return nil
	})
	return ok, err
}

func (e *Engine) Put(ctx context.Context, space engine.KeySpace, key, value []byte) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return engine.ErrClosed
	}

	return e.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName(space)).Put(key, value)
	})
}

func (e *Engine) Delete(ctx context.Context, space engine.KeySpace, key []byte) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return engine.ErrClosed
	}

	return e.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName(space)).Delete(key)
	})
}

func (e *Engine) Apply(ctx context.Context, b *engine.Batch) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return engine.ErrClosed
	}

	return e.db.Update(func(tx *bolt.Tx) error {
		for _, op := range b.Ops() {
			bkt := tx.Bucket(bucketName(op.Space))
			if op.Delete {
				if err := bkt.Delete(op.Key); err != nil {
					return err
				}
			} else {
				if err := bkt.Put(op.Key, op.Value); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Scan walks the bucket with a cursor inside one read transaction, so the
// view is a consistent snapshot and the cursor is released when the
// transaction ends, on every exit path.
func (e *Engine) Scan(ctx context.Context, space engine.KeySpace, prefix []byte, fn func(key, value []byte) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return engine.ErrClosed
	}

	err := e.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketName(space)).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(k, v); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, engine.ErrStop) {
		return nil
	}
	return err
}

// Compact rewrites the database into a fresh file and swaps it in. B+
// tree pages are reused but never returned to the filesystem, so this is
// the only way a bolt store shrinks after bulk deletions.
func (e *Engine) Compact(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db == nil {
		return engine.ErrClosed
	}

	tmpPath := e.path + ".compact"
	dst, err := bolt.Open(tmpPath, 0600, &bolt.Options{NoSync: !e.opts.SyncWrites})
	if err != nil {
		return fmt.Errorf("opening compaction target: %w", err)
	}

	if err := bolt.Compact(dst, e.db, compactTxSize); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("compacting: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing compaction target: %w", err)
	}

	if err := e.db.Close(); err != nil {
		return fmt.Errorf("closing live db: %w", err)
	}
	e.db = nil

	if err := os.Rename(tmpPath, e.path); err != nil {
		return fmt.Errorf("swapping compacted db: %w", err)
	}

	db, err := openDB(e.path, e.opts)
	if err != nil {
		return fmt.Errorf("reopening compacted db: %w", err)
	}
	e.db = db
	return nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db = nil
	return err
}
