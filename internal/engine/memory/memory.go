// Package memory implements the storage engine contract in process memory.
// It backs ephemeral stores and keeps the conformance suite fast; nothing
// survives Close.
package memory

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/hoardfs/hoard/internal/engine"
)

// Engine stores every key space in a map guarded by one RWMutex.
type Engine struct {
	mu     sync.RWMutex
	spaces map[engine.KeySpace]map[string][]byte
	closed bool
}

// Open returns a fresh empty engine. The directory is accepted for
// signature uniformity and ignored.
func Open(dir string, opts engine.Options) (*Engine, error) {
	spaces := make(map[engine.KeySpace]map[string][]byte, 3)
	for _, ks := range engine.Spaces() {
		spaces[ks] = make(map[string][]byte)
	}
	return &Engine{spaces: spaces}, nil
}

func (e *Engine) Get(ctx context.Context, space engine.KeySpace, key []byte) ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, engine.ErrClosed
	}

	val, ok := e.spaces[space][string(key)]
	if !ok {
		return nil, engine.ErrKeyNotFound
	}
	return bytes.Clone(val), nil
}

func (e *Engine) GetBatch(ctx context.Context, space engine.KeySpace, keys [][]byte) ([][]byte, int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, 0, engine.ErrClosed
	}

	vals := make([][]byte, len(keys))
	for i, key := range keys {
		if val, ok := e.spaces[space][string(key)]; ok {
			vals[i] = bytes.Clone(val)
		}
	}
	return vals, 0, nil
}

func (e *Engine) Has(ctx context.Context, space engine.KeySpace, key []byte) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return false, engine.ErrClosed
	}

	_, ok := e.spaces[space][string(key)]
	return ok, nil
}

func (e *Engine) Put(ctx context.Context, space engine.KeySpace, key, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return engine.ErrClosed
	}

	e.spaces[space][string(key)] = bytes.Clone(value)
	return nil
}

func (e *Engine) Delete(ctx context.Context, space engine.KeySpace, key []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return engine.ErrClosed
	}

	delete(e.spaces[space], string(key))
	return nil
}

func (e *Engine) Apply(ctx context.Context, b *engine.Batch) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return engine.ErrClosed
	}

	for _, op := range b.Ops() {
		if op.Delete {
			delete(e.spaces[op.Space], string(op.Key))
		} else {
			e.spaces[op.Space][string(op.Key)] = bytes.Clone(op.Value)
		}
	}
	return nil
}

// Scan snapshots the matching entries under the read lock, then walks the
// snapshot unlocked. Writers are never blocked by a slow callback, and the
// callback may safely call back into the engine.
func (e *Engine) Scan(ctx context.Context, space engine.KeySpace, prefix []byte, fn func(key, value []byte) error) error {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return engine.ErrClosed
	}

	type entry struct {
		key string
		val []byte
	}
	var entries []entry
	for k, v := range e.spaces[space] {
		if len(prefix) > 0 && !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		entries = append(entries, entry{key: k, val: bytes.Clone(v)})
	}
	e.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	for _, ent := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn([]byte(ent.key), ent.val); err != nil {
			if errors.Is(err, engine.ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (e *Engine) Compact(ctx context.Context) error { return nil }

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
