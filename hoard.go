package hoard

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/singleflight"

	"github.com/hoardfs/hoard/internal/codec"
	"github.com/hoardfs/hoard/internal/engine"
	"github.com/hoardfs/hoard/internal/engine/bolt"
	"github.com/hoardfs/hoard/internal/engine/memory"
	pebbleeng "github.com/hoardfs/hoard/internal/engine/pebble"
	sqliteeng "github.com/hoardfs/hoard/internal/engine/sqlite"
	"github.com/hoardfs/hoard/internal/faults"
)

// gcBatchSize bounds how many deletions one atomic batch carries, so
// sweeping a large store never builds one giant transaction.
const gcBatchSize = 256

// cacheKey identifies a decoded object in the read cache. Kind is part
// of the key: spaces are disjoint, so the same hash under two kinds
// would be two different objects.
type cacheKey struct {
	kind ObjectKind
	key  ObjectKey
}

// Store is a content-addressable object store rooted at one directory.
// Objects go in under the hash of their encoded form and never change;
// the only mutations are insert-if-absent and delete. All methods are
// safe for concurrent use.
type Store struct {
	dir        string
	engineName string
	eng        engine.Engine
	comp       *codec.Compressor
	log        *EventLogger
	verify     bool

	cache *lru.Cache[cacheKey, *Object]
	group singleflight.Group

	// mu is held shared by every operation and exclusively by Close,
	// which therefore waits for in-flight calls to drain.
	mu     sync.RWMutex
	closed bool
}

// Open creates or opens a store rooted at dir.
func Open(dir string, opts ...OpenOption) (*Store, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	log := options.Logger
	if log == nil {
		log = NoopEventLogger()
	}

	if out := options.Faults.Check(faults.OpOpen, nil); out != nil {
		switch out.Kind {
		case faults.Delay:
			time.Sleep(out.Delay)
		case faults.Fail:
			err := fmt.Errorf("%w: %w", ErrOpenFailed, out.Err)
			log.LogOpen(options.Engine, dir, err)
			return nil, err
		case faults.Corrupt:
			err := fmt.Errorf("%w: %w", ErrCorruptDatabase, ErrInjected)
			log.LogOpen(options.Engine, dir, err)
			return nil, err
		}
	}

	opener, engineName, err := resolveOpener(options)
	if err != nil {
		return nil, err
	}

	if engineName != EngineMemory {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: create store dir: %w", ErrOpenFailed, err)
		}
	}

	raw, err := opener(dir, engine.Options{SyncWrites: options.SyncWrites})
	if err != nil {
		if errors.Is(err, engine.ErrCorruptDB) {
			err = fmt.Errorf("%w: %w", ErrCorruptDatabase, err)
		} else {
			err = fmt.Errorf("%w: %w", ErrOpenFailed, err)
		}
		log.LogOpen(engineName, dir, err)
		return nil, err
	}

	comp, err := codec.NewCompressor(options.CompressionLevel, options.Compression)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}

	s := &Store{
		dir:        dir,
		engineName: engineName,
		eng:        engine.WithFaults(raw, options.Faults),
		comp:       comp,
		log:        log,
		verify:     options.Verification,
	}
	if options.CacheSize > 0 {
		cache, err := lru.New[cacheKey, *Object](options.CacheSize)
		if err != nil {
			comp.Close()
			raw.Close()
			return nil, fmt.Errorf("%w: %w", ErrOpenFailed, err)
		}
		s.cache = cache
	}

	log.LogOpen(engineName, dir, nil)
	return s, nil
}

func resolveOpener(options *OpenOptions) (EngineOpener, string, error) {
	if options.Opener != nil {
		return options.Opener, "custom", nil
	}
	switch options.Engine {
	case EnginePebble:
		return func(dir string, o EngineOptions) (Engine, error) { return pebbleeng.Open(dir, o) }, EnginePebble, nil
	case EngineBolt:
		return func(dir string, o EngineOptions) (Engine, error) { return bolt.Open(dir, o) }, EngineBolt, nil
	case EngineSQLite:
		return func(dir string, o EngineOptions) (Engine, error) { return sqliteeng.Open(dir, o) }, EngineSQLite, nil
	case EngineMemory:
		return func(dir string, o EngineOptions) (Engine, error) { return memory.Open(dir, o) }, EngineMemory, nil
	default:
		return nil, "", fmt.Errorf("%w: unknown engine %q", ErrOpenFailed, options.Engine)
	}
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

// Engine returns the name of the storage engine backing the store.
func (s *Store) Engine() string { return s.engineName }

// Get returns the object stored under key. Misses return ErrNotFound;
// stored bytes that fail verification return a CorruptObjectError and
// stay on disk untouched.
func (s *Store) Get(ctx context.Context, kind ObjectKind, key ObjectKey) (*Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if !kind.valid() {
		return nil, fmt.Errorf("hoard: invalid object kind %d", kind)
	}

	if s.cache != nil {
		if obj, ok := s.cache.Get(cacheKey{kind, key}); ok {
			return obj, nil
		}
	}

	v, err, _ := s.group.Do(groupKey(kind, key), func() (any, error) {
		return s.load(ctx, kind, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Object), nil
}

// groupKey flattens kind and key into a singleflight key.
func groupKey(kind ObjectKind, key ObjectKey) string {
	b := make([]byte, 1+KeySize)
	b[0] = byte(kind)
	copy(b[1:], key[:])
	return string(b)
}

func (s *Store) load(ctx context.Context, kind ObjectKind, key ObjectKey) (*Object, error) {
	stored, err := s.eng.Get(ctx, kind.keySpace(), key[:])
	if err != nil {
		return nil, readErr(kind, key, err)
	}

	obj, err := s.decodeStored(kind, key, stored)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Add(cacheKey{kind, key}, obj)
	}
	return obj, nil
}

// decodeStored decompresses, verifies and decodes one stored frame.
func (s *Store) decodeStored(kind ObjectKind, key ObjectKey, stored []byte) (*Object, error) {
	frame := s.comp.Decompress(stored)

	if s.verify {
		if ObjectKey(codec.Sum(frame)) != key {
			err := &CorruptObjectError{Kind: kind, Key: key, Reason: "content hash mismatch"}
			s.log.LogCorruptObject(kind, key, err.Reason)
			return nil, err
		}
	}

	tag, payload, err := codec.Decode(frame)
	if err != nil {
		cerr := &CorruptObjectError{Kind: kind, Key: key, Reason: "malformed frame", cause: err}
		s.log.LogCorruptObject(kind, key, cerr.Reason)
		return nil, cerr
	}
	if got, ok := kindForTag(tag); !ok || got != kind {
		cerr := &CorruptObjectError{Kind: kind, Key: key, Reason: fmt.Sprintf("frame tagged %q", tag)}
		s.log.LogCorruptObject(kind, key, cerr.Reason)
		return nil, cerr
	}
	return &Object{kind: kind, payload: payload}, nil
}

// GetBatch returns the objects stored under keys, in argument order. Absent,
// unreadable and corrupt entries come back as nil slots rather than
// failing the whole call; inspect the slots you need and Get them
// individually for the precise error.
func (s *Store) GetBatch(ctx context.Context, kind ObjectKind, keys []ObjectKey) ([]*Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if !kind.valid() {
		return nil, fmt.Errorf("hoard: invalid object kind %d", kind)
	}

	objs := make([]*Object, len(keys))
	var missIdx []int
	var missKeys [][]byte
	for i := range keys {
		if s.cache != nil {
			if obj, ok := s.cache.Get(cacheKey{kind, keys[i]}); ok {
				objs[i] = obj
				continue
			}
		}
		missIdx = append(missIdx, i)
		missKeys = append(missKeys, keys[i][:])
	}
	if len(missIdx) == 0 {
		return objs, nil
	}

	vals, failed, err := s.eng.GetBatch(ctx, kind.keySpace(), missKeys)
	if err != nil {
		return nil, translateErr(err)
	}

	// Decompressing and hashing dominate batch reads; fan the decode
	// out across cores.
	var missing, corrupt atomic.Int64
	p := pool.New().WithMaxGoroutines(runtime.GOMAXPROCS(0))
	for j := range missIdx {
		p.Go(func() {
			if vals[j] == nil {
				missing.Add(1)
				return
			}
			i := missIdx[j]
			obj, derr := s.decodeStored(kind, keys[i], vals[j])
			if derr != nil {
				corrupt.Add(1)
				return
			}
			objs[i] = obj
			if s.cache != nil {
				s.cache.Add(cacheKey{kind, keys[i]}, obj)
			}
		})
	}
	p.Wait()

	if failed > 0 || missing.Load() > 0 || corrupt.Load() > 0 {
		s.log.LogBatchRead(kind, len(keys), int(missing.Load())+int(corrupt.Load()), failed)
	}
	return objs, nil
}

// Put stores obj and returns its content key. Storing content that is
// already present is a no-op returning the same key.
func (s *Store) Put(ctx context.Context, obj *Object) (ObjectKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ObjectKey{}, ErrClosed
	}
	if obj == nil {
		return ObjectKey{}, errors.New("hoard: nil object")
	}

	frame := codec.Encode(obj.kind.String(), obj.payload)
	key := ObjectKey(codec.Sum(frame))
	space := obj.kind.keySpace()

	// Existence probe only; if it errors we fall through and write.
	// Rewriting identical content is wasted I/O, never wrong.
	if ok, err := s.eng.Has(ctx, space, key[:]); err == nil && ok {
		return key, nil
	}

	if err := s.eng.Put(ctx, space, key[:], s.comp.Compress(frame)); err != nil {
		return ObjectKey{}, translateErr(err)
	}
	if s.cache != nil {
		s.cache.Add(cacheKey{obj.kind, key}, obj)
	}
	return key, nil
}

// PutBatch stores every object in one atomic commit and returns their
// keys in argument order. After a failure none of the objects are
// visible; after success all are.
func (s *Store) PutBatch(ctx context.Context, objs []*Object) ([]ObjectKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	keys := make([]ObjectKey, len(objs))
	batch := engine.NewBatch(len(objs))
	for i, obj := range objs {
		if obj == nil {
			return nil, fmt.Errorf("hoard: nil object at index %d", i)
		}
		frame := codec.Encode(obj.kind.String(), obj.payload)
		keys[i] = ObjectKey(codec.Sum(frame))

		if ok, err := s.eng.Has(ctx, obj.kind.keySpace(), keys[i][:]); err == nil && ok {
			continue
		}
		batch.Put(obj.kind.keySpace(), keys[i][:], s.comp.Compress(frame))
	}

	if batch.Len() > 0 {
		if err := s.eng.Apply(ctx, batch); err != nil {
			return nil, translateErr(err)
		}
	}
	if s.cache != nil {
		for i, obj := range objs {
			s.cache.Add(cacheKey{obj.kind, keys[i]}, obj)
		}
	}
	return keys, nil
}

// Has reports whether key is present without reading its payload.
func (s *Store) Has(ctx context.Context, kind ObjectKind, key ObjectKey) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ErrClosed
	}
	if !kind.valid() {
		return false, fmt.Errorf("hoard: invalid object kind %d", kind)
	}

	if s.cache != nil {
		if _, ok := s.cache.Get(cacheKey{kind, key}); ok {
			return true, nil
		}
	}
	ok, err := s.eng.Has(ctx, kind.keySpace(), key[:])
	if err != nil {
		return false, translateErr(err)
	}
	return ok, nil
}

// Delete removes key. Deleting an absent key is a no-op.
func (s *Store) Delete(ctx context.Context, kind ObjectKind, key ObjectKey) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if !kind.valid() {
		return fmt.Errorf("hoard: invalid object kind %d", kind)
	}

	if err := s.eng.Delete(ctx, kind.keySpace(), key[:]); err != nil {
		return translateErr(err)
	}
	if s.cache != nil {
		s.cache.Remove(cacheKey{kind, key})
	}
	return nil
}

// Keys enumerates every stored key of one kind. A failing scan yields a
// single error as its final element. The engine cursor is released when
// the consumer breaks, so partial iteration is cheap; mutating the
// store from inside the loop can deadlock against a concurrent Close,
// collect first and mutate after.
func (s *Store) Keys(ctx context.Context, kind ObjectKind) iter.Seq2[ObjectKey, error] {
	return func(yield func(ObjectKey, error) bool) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.closed {
			yield(ObjectKey{}, ErrClosed)
			return
		}
		if !kind.valid() {
			yield(ObjectKey{}, fmt.Errorf("hoard: invalid object kind %d", kind))
			return
		}

		err := s.eng.Scan(ctx, kind.keySpace(), nil, func(k, _ []byte) error {
			if len(k) != KeySize {
				cerr := &CorruptObjectError{Kind: kind, Reason: fmt.Sprintf("stored key has %d bytes", len(k))}
				if !yield(ObjectKey{}, cerr) {
					return engine.ErrStop
				}
				return nil
			}
			var key ObjectKey
			copy(key[:], k)
			if !yield(key, nil) {
				return engine.ErrStop
			}
			return nil
		})
		if err != nil {
			yield(ObjectKey{}, translateErr(err))
		}
	}
}

// DeleteUnreferenced removes the given keys in bounded atomic batches
// and returns how many of them were actually present. Each batch
// commits on its own, so a concurrent reader sees an object or a clean
// miss, never torn state; a failure loses at most the current batch.
func (s *Store) DeleteUnreferenced(ctx context.Context, kind ObjectKind, keys []ObjectKey) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	if !kind.valid() {
		return 0, fmt.Errorf("hoard: invalid object kind %d", kind)
	}

	space := kind.keySpace()
	removed := 0
	for start := 0; start < len(keys); start += gcBatchSize {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		chunk := keys[start:min(start+gcBatchSize, len(keys))]

		hits := 0
		batch := engine.NewBatch(len(chunk))
		for i := range chunk {
			if ok, err := s.eng.Has(ctx, space, chunk[i][:]); err == nil && ok {
				hits++
			}
			batch.Delete(space, chunk[i][:])
		}
		if err := s.eng.Apply(ctx, batch); err != nil {
			return removed, translateErr(err)
		}
		if s.cache != nil {
			for i := range chunk {
				s.cache.Remove(cacheKey{kind, chunk[i]})
			}
		}
		removed += hits
		s.log.LogGCBatch(kind, len(chunk))
	}
	return removed, nil
}

// ClearKind removes every object of one kind and returns how many were
// deleted. Other kinds are untouched.
func (s *Store) ClearKind(ctx context.Context, kind ObjectKind) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	if !kind.valid() {
		return 0, fmt.Errorf("hoard: invalid object kind %d", kind)
	}

	space := kind.keySpace()
	var all [][]byte
	err := s.eng.Scan(ctx, space, nil, func(k, _ []byte) error {
		all = append(all, append([]byte(nil), k...))
		return nil
	})
	if err != nil {
		return 0, translateErr(err)
	}

	for start := 0; start < len(all); start += gcBatchSize {
		chunk := all[start:min(start+gcBatchSize, len(all))]
		batch := engine.NewBatch(len(chunk))
		for _, k := range chunk {
			batch.Delete(space, k)
		}
		if err := s.eng.Apply(ctx, batch); err != nil {
			return 0, translateErr(err)
		}
		s.log.LogGCBatch(kind, len(chunk))
	}
	if s.cache != nil {
		s.cache.Purge()
	}
	return len(all), nil
}

// Compact reclaims space in the underlying engine. Blocking and
// typically slow; run it from maintenance paths, not request paths.
func (s *Store) Compact(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	s.log.LogCompactionStart(s.dir)
	start := time.Now()
	err := s.eng.Compact(ctx)
	if err != nil {
		err = translateErr(err)
	}
	s.log.LogCompactionDone(s.dir, time.Since(start), err)
	return err
}

// Evict drops one entry from the read cache. Disk state is untouched;
// the next Get reads through to the engine.
func (s *Store) Evict(kind ObjectKind, key ObjectKey) {
	if s.cache != nil {
		s.cache.Remove(cacheKey{kind, key})
	}
}

// EvictAll empties the read cache.
func (s *Store) EvictAll() {
	if s.cache != nil {
		s.cache.Purge()
	}
}

// Close waits for in-flight operations to drain, then releases the
// engine. Closing twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.comp.Close()
	err := s.eng.Close()
	if err != nil {
		err = translateErr(err)
	}
	s.log.LogClose(s.dir, err)
	return err
}

// readErr maps an engine read failure onto the public error taxonomy.
func readErr(kind ObjectKind, key ObjectKey, err error) error {
	if errors.Is(err, engine.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, key)
	}
	return translateErr(err)
}

// translateErr maps any other engine failure onto the public taxonomy.
func translateErr(err error) error {
	if errors.Is(err, engine.ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("%w: %w", ErrIO, err)
}
