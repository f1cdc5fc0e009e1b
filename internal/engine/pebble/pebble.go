// Package pebble implements the storage engine contract on Pebble, an
// embedded LSM tree. Keys carry a one-byte key space prefix; batches map
// onto Pebble's native atomic batch, so a commit is one WAL write.
package pebble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/hoardfs/hoard/internal/engine"
)

// Engine wraps one Pebble database. The mutex only guards the handle
// against Close; Pebble handles concurrent operations internally.
type Engine struct {
	mu sync.RWMutex
	db *pebble.DB
	wo *pebble.WriteOptions
}

// Open creates or opens a Pebble database rooted at dir. Pebble holds a
// file lock, so ownership is exclusive per process.
func Open(dir string, opts engine.Options) (*Engine, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		if pebble.IsCorruptionError(err) {
			return nil, fmt.Errorf("opening pebble db: %w: %w", engine.ErrCorruptDB, err)
		}
		return nil, fmt.Errorf("opening pebble db: %w", err)
	}

	wo := pebble.Sync
	if !opts.SyncWrites {
		wo = pebble.NoSync
	}
	return &Engine{db: db, wo: wo}, nil
}

// pkey prepends the key space byte to key.
func pkey(space engine.KeySpace, key []byte) []byte {
	out := make([]byte, 1+len(key))
	out[0] = byte(space)
	copy(out[1:], key)
	return out
}

func (e *Engine) Get(ctx context.Context, space engine.KeySpace, key []byte) ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return nil, engine.ErrClosed
	}

	val, closer, err := e.db.Get(pkey(space, key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, engine.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}

	// val aliases Pebble-owned memory until the closer is released.
	out := make([]byte, len(val))
	copy(out, val)
	if err := closer.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) GetBatch(ctx context.Context, space engine.KeySpace, keys [][]byte) ([][]byte, int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return nil, 0, engine.ErrClosed
	}

	vals := make([][]byte, len(keys))
	failed := 0
	for i, key := range keys {
		val, closer, err := e.db.Get(pkey(space, key))
		switch {
		case errors.Is(err, pebble.ErrNotFound):
			// miss, slot stays nil
		case err != nil:
			failed++
		default:
			out := make([]byte, len(val))
			copy(out, val)
			if err := closer.Close(); err != nil {
				failed++
				continue
			}
			vals[i] = out
		}
	}
	return vals, failed, nil
}

func (e *Engine) Has(ctx context.Context, space engine.KeySpace, key []byte) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return false, engine.ErrClosed
	}

	_, closer, err := e.db.Get(pkey(space, key))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, closer.Close()
}

func (e *Engine) Put(ctx context.Context, space engine.KeySpace, key, value []byte) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return engine.ErrClosed
	}

	return e.db.Set(pkey(space, key), value, e.wo)
}

func (e *Engine) Delete(ctx context.Context, space engine.KeySpace, key []byte) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return engine.ErrClosed
	}

	return e.db.Delete(pkey(space, key), e.wo)
}

func (e *Engine) Apply(ctx context.Context, b *engine.Batch) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return engine.ErrClosed
	}

	pb := e.db.NewBatch()
	defer pb.Close()

	for _, op := range b.Ops() {
		var err error
		if op.Delete {
			err = pb.Delete(pkey(op.Space, op.Key), nil)
		} else {
			err = pb.Set(pkey(op.Space, op.Key), op.Value, nil)
		}
		if err != nil {
			return err
		}
	}
	return e.db.Apply(pb, e.wo)
}

// Scan iterates a bounded range, so only keys in the requested space are
// touched. The iterator sees a consistent snapshot and is closed on every
// exit path.
func (e *Engine) Scan(ctx context.Context, space engine.KeySpace, prefix []byte, fn func(key, value []byte) error) (retErr error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return engine.ErrClosed
	}

	lower := pkey(space, prefix)
	iter, err := e.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: engine.PrefixUpperBound(lower),
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := iter.Close(); cerr != nil && retErr == nil {
			retErr = cerr
		}
	}()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(iter.Key()[1:], iter.Value()); err != nil {
			if errors.Is(err, engine.ErrStop) {
				return nil
			}
			return err
		}
	}
	return iter.Error()
}

// Compact runs a manual compaction over every key space, folding
// tombstones and rewriting overlapping sstables.
func (e *Engine) Compact(ctx context.Context) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return engine.ErrClosed
	}

	spaces := engine.Spaces()
	start := []byte{byte(spaces[0])}
	end := []byte{byte(spaces[len(spaces)-1]) + 1}
	return e.db.Compact(start, end, true)
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
