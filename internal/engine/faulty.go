package engine

import (
	"context"
	"time"

	"github.com/hoardfs/hoard/internal/faults"
)

// WithFaults wraps e so that every operation consults inj before touching
// the real engine. A nil injector returns e unchanged, so production
// stores carry no injection branches at all.
//
// Injected failures surface through the same error values real failures
// use; callers cannot tell them apart by type.
func WithFaults(e Engine, inj *faults.Injector) Engine {
	if inj == nil {
		return e
	}
	return &faulty{inner: e, inj: inj}
}

type faulty struct {
	inner Engine
	inj   *faults.Injector
}

// gate applies the Delay and Fail outcome kinds. It reports stop=true when
// the operation must not reach the inner engine.
func (f *faulty) gate(ctx context.Context, out *faults.Outcome) (stop bool, err error) {
	if out == nil {
		return false, nil
	}
	switch out.Kind {
	case faults.Delay:
		t := time.NewTimer(out.Delay)
		defer t.Stop()
		select {
		case <-t.C:
			return false, nil
		case <-ctx.Done():
			return true, ctx.Err()
		}
	case faults.Fail:
		return true, out.Err
	}
	return false, nil
}

func (f *faulty) Get(ctx context.Context, space KeySpace, key []byte) ([]byte, error) {
	out := f.inj.Check(faults.OpGet, key)
	if stop, err := f.gate(ctx, out); stop {
		return nil, err
	}

	val, err := f.inner.Get(ctx, space, key)
	if err == nil && out != nil && out.Kind == faults.Corrupt {
		val = faults.CorruptBytes(val)
	}
	return val, err
}

func (f *faulty) GetBatch(ctx context.Context, space KeySpace, keys [][]byte) ([][]byte, int, error) {
	var failSlots, corruptSlots []int
	delayed := false

	for i, key := range keys {
		out := f.inj.Check(faults.OpGetBatch, key)
		if out == nil {
			continue
		}
		switch out.Kind {
		case faults.Delay:
			if !delayed {
				delayed = true
				if stop, err := f.gate(ctx, out); stop {
					return nil, 0, err
				}
			}
		case faults.Fail:
			// Per-key failure: the slot comes back empty and counted,
			// the rest of the batch still runs.
			failSlots = append(failSlots, i)
		case faults.Corrupt:
			corruptSlots = append(corruptSlots, i)
		}
	}

	vals, failed, err := f.inner.GetBatch(ctx, space, keys)
	if err != nil {
		return vals, failed, err
	}

	for _, i := range failSlots {
		if vals[i] != nil {
			vals[i] = nil
		}
		failed++
	}
	for _, i := range corruptSlots {
		if vals[i] != nil {
			vals[i] = faults.CorruptBytes(vals[i])
		}
	}
	return vals, failed, nil
}

func (f *faulty) Has(ctx context.Context, space KeySpace, key []byte) (bool, error) {
	out := f.inj.Check(faults.OpHas, key)
	if stop, err := f.gate(ctx, out); stop {
		return false, err
	}
	return f.inner.Has(ctx, space, key)
}

func (f *faulty) Put(ctx context.Context, space KeySpace, key, value []byte) error {
	out := f.inj.Check(faults.OpPut, key)
	if stop, err := f.gate(ctx, out); stop {
		return err
	}
	if out != nil && out.Kind == faults.Corrupt {
		// Write-side corruption: the damaged bytes land on disk, so every
		// later read sees them. This is how tests model at-rest damage.
		value = faults.CorruptBytes(value)
	}
	return f.inner.Put(ctx, space, key, value)
}

func (f *faulty) Delete(ctx context.Context, space KeySpace, key []byte) error {
	out := f.inj.Check(faults.OpDelete, key)
	if stop, err := f.gate(ctx, out); stop {
		return err
	}
	return f.inner.Delete(ctx, space, key)
}

func (f *faulty) Apply(ctx context.Context, b *Batch) error {
	// A fault matching any key in the batch governs the whole commit:
	// engines apply batches as one atomic write, so a "mid-batch" failure
	// means the commit never happens, not that half of it does.
	var corruptOps []int
	for i, op := range b.Ops() {
		out := f.inj.Check(faults.OpBatch, op.Key)
		if out == nil {
			continue
		}
		if stop, err := f.gate(ctx, out); stop {
			return err
		}
		if out.Kind == faults.Corrupt && !op.Delete {
			corruptOps = append(corruptOps, i)
		}
	}

	if len(corruptOps) > 0 {
		damaged := NewBatch(b.Len())
		mark := make(map[int]bool, len(corruptOps))
		for _, i := range corruptOps {
			mark[i] = true
		}
		for i, op := range b.Ops() {
			switch {
			case op.Delete:
				damaged.Delete(op.Space, op.Key)
			case mark[i]:
				damaged.Put(op.Space, op.Key, faults.CorruptBytes(op.Value))
			default:
				damaged.Put(op.Space, op.Key, op.Value)
			}
		}
		b = damaged
	}

	return f.inner.Apply(ctx, b)
}

func (f *faulty) Scan(ctx context.Context, space KeySpace, prefix []byte, fn func(key, value []byte) error) error {
	out := f.inj.Check(faults.OpScan, prefix)
	if stop, err := f.gate(ctx, out); stop {
		return err
	}
	if out != nil && out.Kind == faults.Corrupt {
		inner := fn
		fn = func(key, value []byte) error {
			return inner(key, faults.CorruptBytes(value))
		}
	}
	return f.inner.Scan(ctx, space, prefix, fn)
}

func (f *faulty) Compact(ctx context.Context) error {
	out := f.inj.Check(faults.OpCompact, nil)
	if stop, err := f.gate(ctx, out); stop {
		return err
	}
	return f.inner.Compact(ctx)
}

func (f *faulty) Close() error {
	out := f.inj.Check(faults.OpClose, nil)
	if out != nil && out.Kind == faults.Fail {
		// Still release the real engine; leaking it would poison every
		// test that reopens the same directory.
		f.inner.Close()
		return out.Err
	}
	return f.inner.Close()
}
