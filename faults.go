package hoard

import "github.com/hoardfs/hoard/internal/faults"

// Fault injection lets tests script engine misbehavior: delayed calls,
// failed calls, flipped bytes. An injector is handed to exactly one
// store via WithFaultInjector; production stores pass none and pay
// nothing.
type (
	// FaultInjector holds an ordered list of fault specs and decides,
	// per engine call, whether one fires.
	FaultInjector = faults.Injector

	// FaultSpec describes one scripted fault: which operation and key
	// prefix it targets, what happens, and how often.
	FaultSpec = faults.Spec

	// FaultOp names an engine operation a fault can target.
	FaultOp = faults.Op

	// FaultKind is the fault's effect.
	FaultKind = faults.Kind
)

// Fault effects.
const (
	FaultDelay   = faults.Delay
	FaultFail    = faults.Fail
	FaultCorrupt = faults.Corrupt
)

// Targetable engine operations.
const (
	OpOpen     = faults.OpOpen
	OpGet      = faults.OpGet
	OpGetBatch = faults.OpGetBatch
	OpHas      = faults.OpHas
	OpPut      = faults.OpPut
	OpDelete   = faults.OpDelete
	OpBatch    = faults.OpBatch
	OpScan     = faults.OpScan
	OpCompact  = faults.OpCompact
	OpClose    = faults.OpClose
)

// ErrInjected is the error a Fail fault produces when its spec names no
// other.
var ErrInjected = faults.ErrInjected

// NewFaultInjector returns an empty injector. Specs added to it match
// deterministically: first registered, first fired.
func NewFaultInjector() *FaultInjector { return faults.New() }

// NewSeededFaultInjector returns an injector whose probabilistic specs
// draw from a fixed seed. Unseeded injectors never fire probabilistic
// specs, so runs stay reproducible by default.
func NewSeededFaultInjector(seed int64) *FaultInjector { return faults.NewSeeded(seed) }
