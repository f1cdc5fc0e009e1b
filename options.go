package hoard

// Storage engine names accepted by WithEngine.
const (
	EnginePebble = "pebble"
	EngineBolt   = "bolt"
	EngineSQLite = "sqlite"
	EngineMemory = "memory"
)

// Compression levels accepted by WithCompressionLevel.
const (
	CompressionFastest = 1
	CompressionDefault = 2
	CompressionBest    = 3
)

// OpenOptions configures a store.
type OpenOptions struct {
	Engine           string
	Opener           EngineOpener
	CacheSize        int
	Compression      bool
	CompressionLevel int
	Verification     bool
	SyncWrites       bool
	Faults           *FaultInjector
	Logger           *EventLogger
}

// OpenOption is a functional option for configuring Open.
type OpenOption func(*OpenOptions)

func defaultOptions() *OpenOptions {
	return &OpenOptions{
		Engine:           EnginePebble,
		CacheSize:        4096,
		Compression:      true,
		CompressionLevel: CompressionDefault,
		Verification:     true,
		SyncWrites:       true,
	}
}

// WithEngine selects the storage engine by name.
func WithEngine(name string) OpenOption {
	return func(o *OpenOptions) { o.Engine = name }
}

// WithEngineOpener plugs in a custom engine, bypassing the named ones.
func WithEngineOpener(open EngineOpener) OpenOption {
	return func(o *OpenOptions) { o.Opener = open }
}

// WithCacheSize sets the decoded-object cache capacity in entries.
// Zero or negative disables the cache.
func WithCacheSize(n int) OpenOption {
	return func(o *OpenOptions) { o.CacheSize = n }
}

// WithCompression toggles transparent payload compression. Turning it
// off never breaks reads of data written while it was on.
func WithCompression(enabled bool) OpenOption {
	return func(o *OpenOptions) { o.Compression = enabled }
}

// WithCompressionLevel sets the compression effort.
func WithCompressionLevel(level int) OpenOption {
	return func(o *OpenOptions) {
		if level >= CompressionFastest && level <= CompressionBest {
			o.CompressionLevel = level
		}
	}
}

// WithVerification toggles hash verification on reads. On by default;
// turning it off trades integrity checking for read throughput.
func WithVerification(enabled bool) OpenOption {
	return func(o *OpenOptions) { o.Verification = enabled }
}

// WithSyncWrites toggles fsync on commit. On by default; turning it off
// risks losing the most recent writes on power failure, never
// consistency.
func WithSyncWrites(enabled bool) OpenOption {
	return func(o *OpenOptions) { o.SyncWrites = enabled }
}

// WithFaultInjector installs a fault injector on the engine. Nil, the
// default, means no injection and no per-operation overhead.
func WithFaultInjector(inj *FaultInjector) OpenOption {
	return func(o *OpenOptions) { o.Faults = inj }
}

// WithLogger sets the event logger. Nil, the default, discards events.
func WithLogger(l *EventLogger) OpenOption {
	return func(o *OpenOptions) { o.Logger = l }
}
