package hoard

import "github.com/hoardfs/hoard/internal/engine"

// The engine layer is the physical storage contract behind a Store.
// These aliases exist for callers plugging in their own engine via
// WithEngineOpener; everyone else never touches them.
type (
	// Engine is the uniform key-value contract every backend satisfies.
	Engine = engine.Engine

	// EngineOptions carries backend-independent tuning to an opener.
	EngineOptions = engine.Options

	// EngineBatch is an ordered set of writes applied atomically.
	EngineBatch = engine.Batch

	// KeySpace partitions engine keys by object kind.
	KeySpace = engine.KeySpace
)

// EngineOpener creates or opens an engine rooted at dir.
type EngineOpener func(dir string, opts EngineOptions) (Engine, error)

// Sentinels a custom engine must return so the store can classify its
// failures.
var (
	// ErrEngineKeyNotFound marks an absent key.
	ErrEngineKeyNotFound = engine.ErrKeyNotFound

	// ErrEngineCorrupt marks unusable on-disk engine state.
	ErrEngineCorrupt = engine.ErrCorruptDB

	// ErrStopScan ends a scan early without error.
	ErrStopScan = engine.ErrStop
)
