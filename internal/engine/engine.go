// Package engine defines the physical storage contract the object store
// runs on.
//
// An Engine is a plain byte-level key-value store partitioned into key
// spaces. Implementations (pebble, bolt, sqlite, memory) differ only in
// what sits on disk; callers observe identical semantics through this
// interface. Engines never interpret values: content addressing, hashing
// and integrity checks all live a layer up.
package engine

import (
	"context"
	"errors"
	"fmt"
)

// KeySpace partitions engine keys by object kind. Spaces are isolated:
// the same key can exist in several spaces with different values.
type KeySpace uint8

const (
	SpaceBlob KeySpace = iota
	SpaceTree
	SpaceCommit

	numSpaces
)

var spaceNames = [...]string{"blobs", "trees", "commits"}

func (ks KeySpace) String() string {
	if int(ks) < len(spaceNames) {
		return spaceNames[ks]
	}
	return fmt.Sprintf("space(%d)", uint8(ks))
}

// Valid reports whether ks names a real key space.
func (ks KeySpace) Valid() bool { return ks < numSpaces }

// Spaces returns every key space in stable order.
func Spaces() []KeySpace {
	out := make([]KeySpace, 0, numSpaces)
	for ks := KeySpace(0); ks < numSpaces; ks++ {
		out = append(out, ks)
	}
	return out
}

var (
	// ErrKeyNotFound is returned by Get for an absent key.
	ErrKeyNotFound = errors.New("engine: key not found")

	// ErrCorruptDB is wrapped into Open errors caused by damaged
	// database metadata, so callers can fail fast instead of retrying.
	ErrCorruptDB = errors.New("engine: database corrupt")

	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("engine: closed")

	// ErrStop terminates a Scan early without error.
	ErrStop = errors.New("engine: stop scan")
)

// Options configures an engine at open time.
type Options struct {
	// SyncWrites forces a durability barrier on every commit. Disabling
	// it trades crash durability for throughput; atomicity is unaffected.
	SyncWrites bool
}

// Opener creates or opens an engine rooted at dir. The layout inside dir
// is engine-private.
type Opener func(dir string, opts Options) (Engine, error)

// Engine is the uniform contract every physical backend satisfies.
// Implementations must be safe for concurrent use. Byte slices passed in
// are not retained; byte slices returned are owned by the caller unless a
// method documents otherwise.
type Engine interface {
	// Get returns the value under key, or ErrKeyNotFound.
	Get(ctx context.Context, space KeySpace, key []byte) ([]byte, error)

	// GetBatch returns one slot per requested key, in input order. Absent
	// keys and keys that failed individually yield nil slots; the returned
	// count is the number of per-key failures (not counting plain misses).
	// A non-nil error means the batch as a whole could not run.
	GetBatch(ctx context.Context, space KeySpace, keys [][]byte) (vals [][]byte, failed int, err error)

	// Has reports whether key exists without loading its value.
	Has(ctx context.Context, space KeySpace, key []byte) (bool, error)

	// Put stores value under key, overwriting any previous value.
	Put(ctx context.Context, space KeySpace, key, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, space KeySpace, key []byte) error

	// Apply commits a batch atomically: after a crash either every
	// operation in the batch is visible or none is.
	Apply(ctx context.Context, b *Batch) error

	// Scan calls fn for each key in the space with the given prefix, in
	// ascending key order where the backend is ordered. The key and value
	// slices are only valid for the duration of the call. Returning
	// ErrStop from fn ends the scan without error; any other error aborts
	// it and is returned. The underlying cursor is released on every exit
	// path.
	Scan(ctx context.Context, space KeySpace, prefix []byte, fn func(key, value []byte) error) error

	// Compact reclaims space and reorganizes storage. Optional; engines
	// without a meaningful compaction return nil.
	Compact(ctx context.Context) error

	// Close releases the engine. Idempotent.
	Close() error
}

// PrefixUpperBound returns the smallest key greater than every key with
// the given prefix, or nil when no finite bound exists. Backends use it to
// turn a prefix into a half-open scan range.
func PrefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
