package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoardfs/hoard/internal/engine"
	"github.com/hoardfs/hoard/internal/engine/memory"
	"github.com/hoardfs/hoard/internal/faults"
)

func newFaulty(t *testing.T) (engine.Engine, *memory.Engine, *faults.Injector) {
	t.Helper()
	inner, err := memory.Open("", engine.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { inner.Close() })

	inj := faults.New()
	return engine.WithFaults(inner, inj), inner, inj
}

func TestNilInjectorIsIdentity(t *testing.T) {
	inner, err := memory.Open("", engine.Options{})
	require.NoError(t, err)
	defer inner.Close()

	wrapped := engine.WithFaults(inner, nil)
	assert.Same(t, engine.Engine(inner), wrapped, "no injector means no wrapper at all")
}

func TestInjectedGetFailure(t *testing.T) {
	e, _, inj := newFaulty(t)
	ctx := context.Background()

	require.NoError(t, e.Put(ctx, engine.SpaceBlob, []byte("k"), []byte("v")))
	inj.Inject(faults.Spec{Op: faults.OpGet, Kind: faults.Fail})

	_, err := e.Get(ctx, engine.SpaceBlob, []byte("k"))
	assert.ErrorIs(t, err, faults.ErrInjected)

	inj.Reset()
	val, err := e.Get(ctx, engine.SpaceBlob, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)
}

func TestInjectedGetCorruptionLeavesDiskIntact(t *testing.T) {
	e, inner, inj := newFaulty(t)
	ctx := context.Background()

	require.NoError(t, e.Put(ctx, engine.SpaceBlob, []byte("k"), []byte("clean value")))
	inj.Inject(faults.Spec{Op: faults.OpGet, Kind: faults.Corrupt, Count: 1})

	val, err := e.Get(ctx, engine.SpaceBlob, []byte("k"))
	require.NoError(t, err, "corruption perturbs bytes, it does not fail the call")
	assert.NotEqual(t, []byte("clean value"), val)

	stored, err := inner.Get(ctx, engine.SpaceBlob, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("clean value"), stored)
}

func TestInjectedPutCorruptionIsAtRest(t *testing.T) {
	e, inner, inj := newFaulty(t)
	ctx := context.Background()

	inj.Inject(faults.Spec{Op: faults.OpPut, Kind: faults.Corrupt, Count: 1})
	require.NoError(t, e.Put(ctx, engine.SpaceBlob, []byte("k"), []byte("doomed value")))

	stored, err := inner.Get(ctx, engine.SpaceBlob, []byte("k"))
	require.NoError(t, err)
	assert.NotEqual(t, []byte("doomed value"), stored, "the damage landed on disk")
	assert.Len(t, stored, len("doomed value"))
}

func TestInjectedGetBatchPartial(t *testing.T) {
	e, _, inj := newFaulty(t)
	ctx := context.Background()

	require.NoError(t, e.Put(ctx, engine.SpaceBlob, []byte("aa-1"), []byte("v1")))
	require.NoError(t, e.Put(ctx, engine.SpaceBlob, []byte("bb-2"), []byte("v2")))
	require.NoError(t, e.Put(ctx, engine.SpaceBlob, []byte("cc-3"), []byte("v3")))

	inj.Inject(faults.Spec{Op: faults.OpGetBatch, KeyPrefix: []byte("bb-"), Kind: faults.Fail})

	vals, failed, err := e.GetBatch(ctx, engine.SpaceBlob,
		[][]byte{[]byte("aa-1"), []byte("bb-2"), []byte("cc-3"), []byte("dd-4")})
	require.NoError(t, err, "per-key failures never abort the batch")
	assert.Equal(t, 1, failed)
	require.Len(t, vals, 4)
	assert.Equal(t, []byte("v1"), vals[0])
	assert.Nil(t, vals[1], "the failed slot is empty")
	assert.Equal(t, []byte("v3"), vals[2])
	assert.Nil(t, vals[3], "a plain miss is empty but not counted as failed")
}

func TestInjectedGetBatchCorruptSlot(t *testing.T) {
	e, _, inj := newFaulty(t)
	ctx := context.Background()

	require.NoError(t, e.Put(ctx, engine.SpaceBlob, []byte("aa"), []byte("value-a")))
	require.NoError(t, e.Put(ctx, engine.SpaceBlob, []byte("bb"), []byte("value-b")))

	inj.Inject(faults.Spec{Op: faults.OpGetBatch, KeyPrefix: []byte("aa"), Kind: faults.Corrupt})

	vals, failed, err := e.GetBatch(ctx, engine.SpaceBlob, [][]byte{[]byte("aa"), []byte("bb")})
	require.NoError(t, err)
	assert.Zero(t, failed, "corruption is not a failure at this layer")
	assert.NotEqual(t, []byte("value-a"), vals[0])
	assert.Equal(t, []byte("value-b"), vals[1])
}

func TestInjectedApplyAbortsWholeBatch(t *testing.T) {
	e, inner, inj := newFaulty(t)
	ctx := context.Background()

	inj.Inject(faults.Spec{Op: faults.OpBatch, KeyPrefix: []byte("poison"), Kind: faults.Fail})

	b := engine.NewBatch(3)
	b.Put(engine.SpaceBlob, []byte("fine-1"), []byte("v"))
	b.Put(engine.SpaceBlob, []byte("poison-2"), []byte("v"))
	b.Put(engine.SpaceBlob, []byte("fine-3"), []byte("v"))

	err := e.Apply(ctx, b)
	assert.ErrorIs(t, err, faults.ErrInjected)

	// Nothing from the batch may be visible, including the keys the
	// fault did not match.
	for _, k := range []string{"fine-1", "poison-2", "fine-3"} {
		ok, err := inner.Has(ctx, engine.SpaceBlob, []byte(k))
		require.NoError(t, err)
		assert.False(t, ok, "key %s leaked out of an aborted batch", k)
	}
}

func TestInjectedApplyCorruptsOneValue(t *testing.T) {
	e, inner, inj := newFaulty(t)
	ctx := context.Background()

	inj.Inject(faults.Spec{Op: faults.OpBatch, KeyPrefix: []byte("bad"), Kind: faults.Corrupt})

	b := engine.NewBatch(2)
	b.Put(engine.SpaceBlob, []byte("good"), []byte("good value"))
	b.Put(engine.SpaceBlob, []byte("bad"), []byte("bad value"))
	require.NoError(t, e.Apply(ctx, b))

	goodVal, err := inner.Get(ctx, engine.SpaceBlob, []byte("good"))
	require.NoError(t, err)
	assert.Equal(t, []byte("good value"), goodVal)

	badVal, err := inner.Get(ctx, engine.SpaceBlob, []byte("bad"))
	require.NoError(t, err)
	assert.NotEqual(t, []byte("bad value"), badVal)
}

func TestInjectedScan(t *testing.T) {
	e, _, inj := newFaulty(t)
	ctx := context.Background()

	require.NoError(t, e.Put(ctx, engine.SpaceBlob, []byte("k"), []byte("scan value")))

	inj.Inject(faults.Spec{Op: faults.OpScan, Kind: faults.Fail, Count: 1})
	err := e.Scan(ctx, engine.SpaceBlob, nil, func(_, _ []byte) error { return nil })
	assert.ErrorIs(t, err, faults.ErrInjected)

	inj.Reset()
	inj.Inject(faults.Spec{Op: faults.OpScan, Kind: faults.Corrupt})
	var got []byte
	err = e.Scan(ctx, engine.SpaceBlob, nil, func(_, value []byte) error {
		got = append([]byte(nil), value...)
		return nil
	})
	require.NoError(t, err)
	assert.NotEqual(t, []byte("scan value"), got)
}

func TestInjectedDelayHonorsContext(t *testing.T) {
	e, _, inj := newFaulty(t)

	inj.Inject(faults.Spec{Op: faults.OpGet, Kind: faults.Delay, Delay: 10 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := e.Get(ctx, engine.SpaceBlob, []byte("k"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestInjectedCompactAndClose(t *testing.T) {
	e, inner, inj := newFaulty(t)
	ctx := context.Background()

	inj.Inject(faults.Spec{Op: faults.OpCompact, Kind: faults.Fail, Count: 1})
	assert.ErrorIs(t, e.Compact(ctx), faults.ErrInjected)
	assert.NoError(t, e.Compact(ctx))

	inj.Inject(faults.Spec{Op: faults.OpClose, Kind: faults.Fail})
	assert.ErrorIs(t, e.Close(), faults.ErrInjected)

	// The failed close still released the inner engine.
	_, err := inner.Get(ctx, engine.SpaceBlob, []byte("k"))
	assert.ErrorIs(t, err, engine.ErrClosed)
}
