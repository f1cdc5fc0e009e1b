// Package faults provides deterministic fault injection for storage paths.
//
// An Injector is an explicit collaborator handed to a store at construction,
// never ambient process state. Tests register Specs against it; the store's
// engine wrapper consults it before every physical operation. Production
// stores simply run without one: a nil *Injector is valid and never fires.
package faults

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Op identifies a storage operation an injected fault can target.
type Op uint8

const (
	OpOpen Op = iota
	OpGet
	OpGetBatch
	OpHas
	OpPut
	OpDelete
	OpBatch
	OpScan
	OpCompact
	OpClose
)

var opNames = [...]string{
	"open", "get", "getBatch", "has", "put",
	"delete", "batch", "scan", "compact", "close",
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

// Kind selects what a fired fault does to the operation.
type Kind uint8

const (
	// Delay stalls the operation before it reaches the engine.
	Delay Kind = iota + 1
	// Fail aborts the operation with an injected error.
	Fail
	// Corrupt lets the operation succeed with perturbed payload bytes.
	Corrupt
)

// ErrInjected is the error carried by Fail outcomes whose spec does not
// name one.
var ErrInjected = errors.New("faults: injected failure")

// Spec is one registered fault rule. A spec matches an operation when Op
// equals the operation kind and KeyPrefix is a prefix of the operation key.
// An empty KeyPrefix matches every key, including keyless operations.
type Spec struct {
	Op        Op
	KeyPrefix []byte
	Kind      Kind

	// Delay is the stall duration for Delay faults.
	Delay time.Duration

	// Err overrides ErrInjected for Fail faults.
	Err error

	// Count limits how many times the spec fires; 0 means unlimited.
	Count int

	// Probability in (0,1) fires the spec on a coin flip instead of every
	// match. Draws come from the injector's seeded source; on an unseeded
	// injector a probabilistic spec never fires.
	Probability float64
}

// Outcome is what Check returns when a fault fires.
type Outcome struct {
	Kind  Kind
	Delay time.Duration
	Err   error
}

type rule struct {
	spec      Spec
	remaining int // activations left, -1 for unlimited
}

// Injector is a registry of fault rules with a test-scoped lifecycle.
// All methods are safe for concurrent use and safe on a nil receiver.
type Injector struct {
	mu    sync.Mutex
	rules []*rule
	rng   *rand.Rand
	fired int
}

// New returns an empty injector. Every outcome it produces is a pure
// function of the registered specs and the sequence of operations.
func New() *Injector { return &Injector{} }

// NewSeeded returns an injector whose probabilistic specs draw from a
// deterministic source. Identical call sequences yield identical outcomes.
func NewSeeded(seed int64) *Injector {
	return &Injector{rng: rand.New(rand.NewSource(seed))}
}

// Inject registers a spec, effective immediately for subsequent operations.
func (in *Injector) Inject(s Spec) {
	in.mu.Lock()
	defer in.mu.Unlock()

	r := &rule{spec: s, remaining: -1}
	if s.Count > 0 {
		r.remaining = s.Count
	}
	in.rules = append(in.rules, r)
}

// Check reports the outcome for an operation, or nil to proceed normally.
// The first live rule matching (op, key) in registration order decides.
// An exhausted rule no longer matches, letting later rules take over; a
// probabilistic rule that matches but loses its coin flip lets the
// operation proceed.
func (in *Injector) Check(op Op, key []byte) *Outcome {
	if in == nil {
		return nil
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	for _, r := range in.rules {
		if r.spec.Op != op || r.remaining == 0 {
			continue
		}
		if len(r.spec.KeyPrefix) > 0 && !bytes.HasPrefix(key, r.spec.KeyPrefix) {
			continue
		}

		if p := r.spec.Probability; p > 0 {
			if in.rng == nil || in.rng.Float64() >= p {
				return nil
			}
		}

		if r.remaining > 0 {
			r.remaining--
		}
		in.fired++

		out := &Outcome{Kind: r.spec.Kind, Delay: r.spec.Delay, Err: r.spec.Err}
		if out.Kind == Fail && out.Err == nil {
			out.Err = ErrInjected
		}
		return out
	}

	return nil
}

// Fired returns how many faults have fired since construction or the last
// Reset. Tests use it to assert a registered fault actually triggered.
func (in *Injector) Fired() int {
	if in == nil {
		return 0
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.fired
}

// Reset drops every registered rule and zeroes the fired counter. The
// seeded source, if any, is kept.
func (in *Injector) Reset() {
	if in == nil {
		return
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	in.rules = nil
	in.fired = 0
}

// CorruptBytes returns a copy of value perturbed deterministically, so a
// content hash over it no longer matches. An empty value becomes a single
// garbage byte.
func CorruptBytes(value []byte) []byte {
	if len(value) == 0 {
		return []byte{0xff}
	}
	out := make([]byte, len(value))
	copy(out, value)
	out[len(out)/2] ^= 0xff
	return out
}
