package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoardfs/hoard"
)

// RunFaults exercises scripted engine misbehavior through a store's
// fault injector: failed and delayed calls, read-path and at-rest
// corruption, and the atomicity of batches that fail partway. The
// suite holds for every engine because injection happens above the
// engine, on the shared wrapper.
func RunFaults(t *testing.T, f Factory) {
	t.Run("GetFailure", func(t *testing.T) { testFaultGetFailure(t, f) })
	t.Run("CustomError", func(t *testing.T) { testFaultCustomError(t, f) })
	t.Run("CountedExpiry", func(t *testing.T) { testFaultCountedExpiry(t, f) })
	t.Run("RegistrationOrder", func(t *testing.T) { testFaultRegistrationOrder(t, f) })
	t.Run("KeyPrefix", func(t *testing.T) { testFaultKeyPrefix(t, f) })
	t.Run("ReadCorruption", func(t *testing.T) { testFaultReadCorruption(t, f) })
	t.Run("AtRestCorruption", func(t *testing.T) { testFaultAtRestCorruption(t, f) })
	t.Run("Delay", func(t *testing.T) { testFaultDelay(t, f) })
	t.Run("DelayHonorsContext", func(t *testing.T) { testFaultDelayHonorsContext(t, f) })
	t.Run("BatchReadPartialFailure", func(t *testing.T) { testFaultBatchReadPartial(t, f) })
	t.Run("BatchWriteAtomicity", func(t *testing.T) { testFaultBatchWriteAtomicity(t, f) })
	t.Run("ScanFailure", func(t *testing.T) { testFaultScanFailure(t, f) })
	t.Run("CompactFailure", func(t *testing.T) { testFaultCompactFailure(t, f) })
	t.Run("CloseFailure", func(t *testing.T) { testFaultCloseFailure(t, f) })
	t.Run("ProbabilisticNeedsSeed", func(t *testing.T) { testFaultProbabilisticNeedsSeed(t, f) })
}

func openFaulty(t *testing.T, f Factory) (*hoard.Store, *hoard.FaultInjector) {
	t.Helper()
	inj := hoard.NewFaultInjector()
	s := f(t, t.TempDir(), inj)
	t.Cleanup(func() { s.Close() })
	return s, inj
}

func testFaultGetFailure(t *testing.T, f Factory) {
	s, inj := openFaulty(t, f)
	ctx := context.Background()

	key, err := s.Put(ctx, hoard.NewBlob([]byte("readable")))
	require.NoError(t, err)
	s.Evict(hoard.KindBlob, key)

	inj.Inject(hoard.FaultSpec{Op: hoard.OpGet, Kind: hoard.FaultFail})

	_, err = s.Get(ctx, hoard.KindBlob, key)
	assert.ErrorIs(t, err, hoard.ErrIO, "an injected failure wears the real failure's type")
	assert.ErrorIs(t, err, hoard.ErrInjected)
	assert.Equal(t, 1, inj.Fired())

	// The failure was transient: dropping the rules restores reads.
	inj.Reset()
	got, err := s.Get(ctx, hoard.KindBlob, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("readable"), got.Payload())
}

func testFaultCustomError(t *testing.T, f Factory) {
	s, inj := openFaulty(t, f)
	ctx := context.Background()

	key, err := s.Put(ctx, hoard.NewBlob([]byte("payload")))
	require.NoError(t, err)
	s.Evict(hoard.KindBlob, key)

	diskErr := errors.New("device reports imminent failure")
	inj.Inject(hoard.FaultSpec{Op: hoard.OpGet, Kind: hoard.FaultFail, Err: diskErr})

	_, err = s.Get(ctx, hoard.KindBlob, key)
	assert.ErrorIs(t, err, hoard.ErrIO)
	assert.ErrorIs(t, err, diskErr)
}

func testFaultCountedExpiry(t *testing.T, f Factory) {
	s, inj := openFaulty(t, f)
	ctx := context.Background()

	key, err := s.Put(ctx, hoard.NewBlob([]byte("flaky read")))
	require.NoError(t, err)

	inj.Inject(hoard.FaultSpec{Op: hoard.OpGet, Kind: hoard.FaultFail, Count: 2})

	for range 2 {
		s.Evict(hoard.KindBlob, key)
		_, err := s.Get(ctx, hoard.KindBlob, key)
		assert.ErrorIs(t, err, hoard.ErrIO)
	}

	// The spec is spent; the third read goes through untouched.
	s.Evict(hoard.KindBlob, key)
	got, err := s.Get(ctx, hoard.KindBlob, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("flaky read"), got.Payload())
	assert.Equal(t, 2, inj.Fired())
}

func testFaultRegistrationOrder(t *testing.T, f Factory) {
	s, inj := openFaulty(t, f)
	ctx := context.Background()

	key, err := s.Put(ctx, hoard.NewBlob([]byte("ordered")))
	require.NoError(t, err)

	first := errors.New("first registered")
	second := errors.New("second registered")
	inj.Inject(hoard.FaultSpec{Op: hoard.OpGet, Kind: hoard.FaultFail, Err: first, Count: 1})
	inj.Inject(hoard.FaultSpec{Op: hoard.OpGet, Kind: hoard.FaultFail, Err: second})

	s.Evict(hoard.KindBlob, key)
	_, err = s.Get(ctx, hoard.KindBlob, key)
	assert.ErrorIs(t, err, first, "the earliest matching spec wins")

	// With the first spec exhausted the next one takes over.
	s.Evict(hoard.KindBlob, key)
	_, err = s.Get(ctx, hoard.KindBlob, key)
	assert.ErrorIs(t, err, second)
}

func testFaultKeyPrefix(t *testing.T, f Factory) {
	s, inj := openFaulty(t, f)
	ctx := context.Background()

	keyA, err := s.Put(ctx, hoard.NewBlob([]byte("targeted")))
	require.NoError(t, err)
	keyB, err := s.Put(ctx, hoard.NewBlob([]byte("untouched")))
	require.NoError(t, err)
	require.NotEqual(t, keyA[:8], keyB[:8])

	inj.Inject(hoard.FaultSpec{Op: hoard.OpGet, KeyPrefix: keyA[:8], Kind: hoard.FaultFail})

	s.EvictAll()
	_, err = s.Get(ctx, hoard.KindBlob, keyA)
	assert.ErrorIs(t, err, hoard.ErrIO)

	got, err := s.Get(ctx, hoard.KindBlob, keyB)
	require.NoError(t, err)
	assert.Equal(t, []byte("untouched"), got.Payload())
}

func testFaultReadCorruption(t *testing.T, f Factory) {
	s, inj := openFaulty(t, f)
	ctx := context.Background()

	key, err := s.Put(ctx, hoard.NewBlob([]byte("pristine content that must verify")))
	require.NoError(t, err)
	s.Evict(hoard.KindBlob, key)

	inj.Inject(hoard.FaultSpec{Op: hoard.OpGet, Kind: hoard.FaultCorrupt, Count: 1})

	_, err = s.Get(ctx, hoard.KindBlob, key)
	var cerr *hoard.CorruptObjectError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, key, cerr.Key)
	assert.Equal(t, hoard.KindBlob, cerr.Kind)

	// The damage rode the read path only; the stored bytes are intact.
	s.Evict(hoard.KindBlob, key)
	got, err := s.Get(ctx, hoard.KindBlob, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("pristine content that must verify"), got.Payload())
}

func testFaultAtRestCorruption(t *testing.T, f Factory) {
	s, inj := openFaulty(t, f)
	ctx := context.Background()

	inj.Inject(hoard.FaultSpec{Op: hoard.OpPut, Kind: hoard.FaultCorrupt, Count: 1})

	key, err := s.Put(ctx, hoard.NewBlob([]byte("doomed content, damaged on the way down")))
	require.NoError(t, err, "the write itself succeeds; the damage is silent")

	// Every read finds the mismatch, and no read repairs it.
	inj.Reset()
	for range 2 {
		s.Evict(hoard.KindBlob, key)
		_, err = s.Get(ctx, hoard.KindBlob, key)
		var cerr *hoard.CorruptObjectError
		require.ErrorAs(t, err, &cerr)
	}

	// Presence is a key property, not an integrity check.
	ok, err := s.Has(ctx, hoard.KindBlob, key)
	require.NoError(t, err)
	assert.True(t, ok)

	// Recovery is delete plus re-add from the source of truth.
	require.NoError(t, s.Delete(ctx, hoard.KindBlob, key))
	again, err := s.Put(ctx, hoard.NewBlob([]byte("doomed content, damaged on the way down")))
	require.NoError(t, err)
	assert.Equal(t, key, again)
	s.Evict(hoard.KindBlob, key)
	got, err := s.Get(ctx, hoard.KindBlob, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("doomed content, damaged on the way down"), got.Payload())
}

func testFaultDelay(t *testing.T, f Factory) {
	s, inj := openFaulty(t, f)
	ctx := context.Background()

	key, err := s.Put(ctx, hoard.NewBlob([]byte("slow read")))
	require.NoError(t, err)
	s.Evict(hoard.KindBlob, key)

	const stall = 30 * time.Millisecond
	inj.Inject(hoard.FaultSpec{Op: hoard.OpGet, Kind: hoard.FaultDelay, Delay: stall})

	start := time.Now()
	_, err = s.Get(ctx, hoard.KindBlob, key)
	require.NoError(t, err, "a delay stalls the call, it does not fail it")
	assert.GreaterOrEqual(t, time.Since(start), stall)
	assert.Equal(t, 1, inj.Fired())
}

func testFaultDelayHonorsContext(t *testing.T, f Factory) {
	s, inj := openFaulty(t, f)

	key, err := s.Put(context.Background(), hoard.NewBlob([]byte("stalled")))
	require.NoError(t, err)
	s.Evict(hoard.KindBlob, key)

	inj.Inject(hoard.FaultSpec{Op: hoard.OpGet, Kind: hoard.FaultDelay, Delay: 10 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = s.Get(ctx, hoard.KindBlob, key)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second, "cancellation must cut the stall short")
}

func testFaultBatchReadPartial(t *testing.T, f Factory) {
	s, inj := openFaulty(t, f)
	ctx := context.Background()

	objs := []*hoard.Object{
		hoard.NewBlob([]byte("batch-a")),
		hoard.NewBlob([]byte("batch-b")),
		hoard.NewBlob([]byte("batch-c")),
	}
	keys, err := s.PutBatch(ctx, objs)
	require.NoError(t, err)

	inj.Inject(hoard.FaultSpec{Op: hoard.OpGetBatch, KeyPrefix: keys[1][:8], Kind: hoard.FaultFail})

	s.EvictAll()
	got, err := s.GetBatch(ctx, hoard.KindBlob, keys)
	require.NoError(t, err, "a per-key failure must not abort the batch")
	require.Len(t, got, 3)
	require.NotNil(t, got[0])
	assert.Equal(t, []byte("batch-a"), got[0].Payload())
	assert.Nil(t, got[1], "the failed key surfaces as an empty slot")
	require.NotNil(t, got[2])
	assert.Equal(t, []byte("batch-c"), got[2].Payload())
}

func testFaultBatchWriteAtomicity(t *testing.T, f Factory) {
	s, inj := openFaulty(t, f)
	ctx := context.Background()

	objs := []*hoard.Object{
		hoard.NewBlob([]byte("atomic-1")),
		hoard.NewBlob([]byte("atomic-2")),
		hoard.NewBlob([]byte("atomic-3")),
	}
	victim := objs[1].Key()
	inj.Inject(hoard.FaultSpec{Op: hoard.OpBatch, KeyPrefix: victim[:8], Kind: hoard.FaultFail})

	_, err := s.PutBatch(ctx, objs)
	assert.ErrorIs(t, err, hoard.ErrIO)

	// All or nothing: a failure on one key leaves no key behind.
	inj.Reset()
	for _, obj := range objs {
		ok, err := s.Has(ctx, hoard.KindBlob, obj.Key())
		require.NoError(t, err)
		assert.False(t, ok)
	}

	// The retry lands the whole batch.
	keys, err := s.PutBatch(ctx, objs)
	require.NoError(t, err)
	for _, key := range keys {
		ok, err := s.Has(ctx, hoard.KindBlob, key)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func testFaultScanFailure(t *testing.T, f Factory) {
	s, inj := openFaulty(t, f)
	ctx := context.Background()

	_, err := s.Put(ctx, hoard.NewBlob([]byte("enumerable")))
	require.NoError(t, err)

	inj.Inject(hoard.FaultSpec{Op: hoard.OpScan, Kind: hoard.FaultFail})

	var last error
	for _, err := range s.Keys(ctx, hoard.KindBlob) {
		last = err
	}
	assert.ErrorIs(t, last, hoard.ErrIO)
}

func testFaultCompactFailure(t *testing.T, f Factory) {
	s, inj := openFaulty(t, f)

	inj.Inject(hoard.FaultSpec{Op: hoard.OpCompact, Kind: hoard.FaultFail})
	assert.ErrorIs(t, s.Compact(context.Background()), hoard.ErrIO)

	inj.Reset()
	assert.NoError(t, s.Compact(context.Background()))
}

func testFaultCloseFailure(t *testing.T, f Factory) {
	inj := hoard.NewFaultInjector()
	s := f(t, t.TempDir(), inj)

	inj.Inject(hoard.FaultSpec{Op: hoard.OpClose, Kind: hoard.FaultFail})

	err := s.Close()
	assert.ErrorIs(t, err, hoard.ErrIO)
	assert.NoError(t, s.Close(), "a second close stays a no-op even after a failed one")
}

func testFaultProbabilisticNeedsSeed(t *testing.T, f Factory) {
	ctx := context.Background()

	// Unseeded: the coin never flips, the spec never fires.
	s, inj := openFaulty(t, f)
	inj.Inject(hoard.FaultSpec{Op: hoard.OpGet, Kind: hoard.FaultFail, Probability: 0.9})
	var absent hoard.ObjectKey
	absent[3] = 0x30
	for range 20 {
		_, err := s.Get(ctx, hoard.KindBlob, absent)
		assert.ErrorIs(t, err, hoard.ErrNotFound)
	}
	assert.Zero(t, inj.Fired())

	// Seeded: same spec, same operations, faults fire.
	seeded := hoard.NewSeededFaultInjector(42)
	s2 := f(t, t.TempDir(), seeded)
	t.Cleanup(func() { s2.Close() })
	seeded.Inject(hoard.FaultSpec{Op: hoard.OpGet, Kind: hoard.FaultFail, Probability: 0.9})
	for range 20 {
		s2.Get(ctx, hoard.KindBlob, absent)
	}
	assert.Positive(t, seeded.Fired())
}
