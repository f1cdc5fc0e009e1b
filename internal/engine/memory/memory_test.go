package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoardfs/hoard/internal/engine"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open("", engine.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestGetPutDelete(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.Get(ctx, engine.SpaceBlob, []byte("k"))
	assert.ErrorIs(t, err, engine.ErrKeyNotFound)

	require.NoError(t, e.Put(ctx, engine.SpaceBlob, []byte("k"), []byte("v")))
	val, err := e.Get(ctx, engine.SpaceBlob, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)

	ok, err := e.Has(ctx, engine.SpaceBlob, []byte("k"))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, e.Delete(ctx, engine.SpaceBlob, []byte("k")))
	_, err = e.Get(ctx, engine.SpaceBlob, []byte("k"))
	assert.ErrorIs(t, err, engine.ErrKeyNotFound)

	require.NoError(t, e.Delete(ctx, engine.SpaceBlob, []byte("k")), "absent delete is a no-op")
}

func TestSpacesAreDisjoint(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Put(ctx, engine.SpaceBlob, []byte("shared"), []byte("blob side")))
	require.NoError(t, e.Put(ctx, engine.SpaceTree, []byte("shared"), []byte("tree side")))

	blobVal, err := e.Get(ctx, engine.SpaceBlob, []byte("shared"))
	require.NoError(t, err)
	treeVal, err := e.Get(ctx, engine.SpaceTree, []byte("shared"))
	require.NoError(t, err)
	assert.NotEqual(t, blobVal, treeVal)

	_, err = e.Get(ctx, engine.SpaceCommit, []byte("shared"))
	assert.ErrorIs(t, err, engine.ErrKeyNotFound)
}

func TestValuesAreCopied(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	val := []byte("mutable")
	require.NoError(t, e.Put(ctx, engine.SpaceBlob, []byte("k"), val))
	val[0] = 'X'

	got, err := e.Get(ctx, engine.SpaceBlob, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("mutable"), got, "the engine must not alias caller buffers")

	got[0] = 'Y'
	again, err := e.Get(ctx, engine.SpaceBlob, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("mutable"), again, "returned buffers are caller-owned")
}

func TestGetBatchSlots(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Put(ctx, engine.SpaceBlob, []byte("a"), []byte("va")))
	require.NoError(t, e.Put(ctx, engine.SpaceBlob, []byte("c"), []byte("vc")))

	vals, failed, err := e.GetBatch(ctx, engine.SpaceBlob, [][]byte{[]byte("a"), []byte("b"), []byte("c")})
	require.NoError(t, err)
	assert.Zero(t, failed)
	require.Len(t, vals, 3)
	assert.Equal(t, []byte("va"), vals[0])
	assert.Nil(t, vals[1], "a miss is a nil slot, not an error")
	assert.Equal(t, []byte("vc"), vals[2])
}

func TestApplyMixedBatch(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Put(ctx, engine.SpaceBlob, []byte("old"), []byte("stale")))

	b := engine.NewBatch(3)
	b.Put(engine.SpaceBlob, []byte("new-1"), []byte("v1"))
	b.Put(engine.SpaceTree, []byte("new-2"), []byte("v2"))
	b.Delete(engine.SpaceBlob, []byte("old"))
	require.NoError(t, e.Apply(ctx, b))

	_, err := e.Get(ctx, engine.SpaceBlob, []byte("old"))
	assert.ErrorIs(t, err, engine.ErrKeyNotFound)
	v1, err := e.Get(ctx, engine.SpaceBlob, []byte("new-1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v1)
	v2, err := e.Get(ctx, engine.SpaceTree, []byte("new-2"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), v2)
}

func TestScanOrderAndPrefix(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	for _, k := range []string{"b-2", "a-1", "b-1", "c-1"} {
		require.NoError(t, e.Put(ctx, engine.SpaceBlob, []byte(k), []byte("v")))
	}

	var seen []string
	err := e.Scan(ctx, engine.SpaceBlob, nil, func(key, _ []byte) error {
		seen = append(seen, string(key))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a-1", "b-1", "b-2", "c-1"}, seen)

	seen = nil
	err = e.Scan(ctx, engine.SpaceBlob, []byte("b-"), func(key, _ []byte) error {
		seen = append(seen, string(key))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b-1", "b-2"}, seen)
}

func TestScanStopsEarly(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	for _, k := range []string{"1", "2", "3"} {
		require.NoError(t, e.Put(ctx, engine.SpaceBlob, []byte(k), []byte("v")))
	}

	count := 0
	err := e.Scan(ctx, engine.SpaceBlob, nil, func(_, _ []byte) error {
		count++
		return engine.ErrStop
	})
	require.NoError(t, err, "stopping early is not a failure")
	assert.Equal(t, 1, count)

	boom := errors.New("callback exploded")
	err = e.Scan(ctx, engine.SpaceBlob, nil, func(_, _ []byte) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestScanCallbackMayReenter(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	for _, k := range []string{"x", "y"} {
		require.NoError(t, e.Put(ctx, engine.SpaceBlob, []byte(k), []byte("v")))
	}

	err := e.Scan(ctx, engine.SpaceBlob, nil, func(key, _ []byte) error {
		return e.Delete(ctx, engine.SpaceBlob, key)
	})
	require.NoError(t, err)

	ok, err := e.Has(ctx, engine.SpaceBlob, []byte("x"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScanHonorsContext(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.Put(context.Background(), engine.SpaceBlob, []byte("k"), []byte("v")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.Scan(ctx, engine.SpaceBlob, nil, func(_, _ []byte) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClosedEngineRejectsEverything(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Close())
	require.NoError(t, e.Close(), "double close is fine")

	_, err := e.Get(ctx, engine.SpaceBlob, []byte("k"))
	assert.ErrorIs(t, err, engine.ErrClosed)
	assert.ErrorIs(t, e.Put(ctx, engine.SpaceBlob, []byte("k"), nil), engine.ErrClosed)
	_, err = e.Has(ctx, engine.SpaceBlob, []byte("k"))
	assert.ErrorIs(t, err, engine.ErrClosed)
	assert.ErrorIs(t, e.Delete(ctx, engine.SpaceBlob, []byte("k")), engine.ErrClosed)
	assert.ErrorIs(t, e.Apply(ctx, engine.NewBatch(0)), engine.ErrClosed)
	assert.ErrorIs(t, e.Scan(ctx, engine.SpaceBlob, nil, nil), engine.ErrClosed)
}
