package sqlite

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoardfs/hoard/internal/engine"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(t.TempDir(), engine.Options{SyncWrites: true})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestRoundTrip(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.Get(ctx, engine.SpaceBlob, []byte("missing"))
	assert.ErrorIs(t, err, engine.ErrKeyNotFound)

	require.NoError(t, e.Put(ctx, engine.SpaceBlob, []byte("k"), []byte("v")))
	val, err := e.Get(ctx, engine.SpaceBlob, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)

	// Overwrite takes the upsert path.
	require.NoError(t, e.Put(ctx, engine.SpaceBlob, []byte("k"), []byte("v2")))
	val, err = e.Get(ctx, engine.SpaceBlob, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), val)

	require.NoError(t, e.Delete(ctx, engine.SpaceBlob, []byte("k")))
	ok, err := e.Has(ctx, engine.SpaceBlob, []byte("k"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSpacesShareOneTable(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Put(ctx, engine.SpaceBlob, []byte("same-key"), []byte("in blobs")))
	require.NoError(t, e.Put(ctx, engine.SpaceCommit, []byte("same-key"), []byte("in commits")))

	v, err := e.Get(ctx, engine.SpaceBlob, []byte("same-key"))
	require.NoError(t, err)
	assert.Equal(t, []byte("in blobs"), v)

	_, err = e.Get(ctx, engine.SpaceTree, []byte("same-key"))
	assert.ErrorIs(t, err, engine.ErrKeyNotFound)
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	e, err := Open(dir, engine.Options{SyncWrites: true})
	require.NoError(t, err)
	require.NoError(t, e.Put(ctx, engine.SpaceTree, []byte("k"), []byte("durable")))
	require.NoError(t, e.Close())

	e, err = Open(dir, engine.Options{SyncWrites: true})
	require.NoError(t, err)
	defer e.Close()
	val, err := e.Get(ctx, engine.SpaceTree, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("durable"), val)
}

func TestApplyRollsBackAsOneTransaction(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Put(ctx, engine.SpaceBlob, []byte("gone"), []byte("old")))

	b := engine.NewBatch(3)
	b.Put(engine.SpaceBlob, []byte("added"), []byte("v"))
	b.Put(engine.SpaceCommit, []byte("cross-space"), []byte("v"))
	b.Delete(engine.SpaceBlob, []byte("gone"))
	require.NoError(t, e.Apply(ctx, b))

	ok, err := e.Has(ctx, engine.SpaceBlob, []byte("added"))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = e.Has(ctx, engine.SpaceCommit, []byte("cross-space"))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = e.Has(ctx, engine.SpaceBlob, []byte("gone"))
	require.NoError(t, err)
	assert.False(t, ok)

	// A cancelled context aborts the commit; nothing from the batch may
	// leak through.
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	b2 := engine.NewBatch(1)
	b2.Put(engine.SpaceBlob, []byte("never"), []byte("v"))
	require.Error(t, e.Apply(cancelled, b2))
	ok, err = e.Has(ctx, engine.SpaceBlob, []byte("never"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetBatchSlots(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Put(ctx, engine.SpaceBlob, []byte("a"), []byte("va")))

	vals, failed, err := e.GetBatch(ctx, engine.SpaceBlob, [][]byte{[]byte("a"), []byte("b")})
	require.NoError(t, err)
	assert.Zero(t, failed)
	assert.Equal(t, []byte("va"), vals[0])
	assert.Nil(t, vals[1])
}

func TestScanPrefixAndStop(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	for _, k := range []string{"aa-1", "ab-1", "aa-2", "zz-9"} {
		require.NoError(t, e.Put(ctx, engine.SpaceBlob, []byte(k), []byte("v")))
	}

	var seen []string
	err := e.Scan(ctx, engine.SpaceBlob, []byte("aa-"), func(key, _ []byte) error {
		seen = append(seen, string(key))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"aa-1", "aa-2"}, seen, "rows come back in key order")

	count := 0
	err = e.Scan(ctx, engine.SpaceBlob, nil, func(_, _ []byte) error {
		count++
		return engine.ErrStop
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCompactVacuumsAndPreserves(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	e, err := Open(dir, engine.Options{})
	require.NoError(t, err)
	defer e.Close()

	filler := bytes.Repeat([]byte("f"), 4096)
	var keys [][]byte
	for i := range 200 {
		key := []byte{byte(i >> 8), byte(i), 0xcc}
		keys = append(keys, key)
		require.NoError(t, e.Put(ctx, engine.SpaceBlob, key, filler))
	}
	require.NoError(t, e.Put(ctx, engine.SpaceBlob, []byte("keeper"), []byte("small survivor")))
	for _, key := range keys {
		require.NoError(t, e.Delete(ctx, engine.SpaceBlob, key))
	}

	before, err := os.Stat(filepath.Join(dir, dbFile))
	require.NoError(t, err)

	require.NoError(t, e.Compact(ctx))

	after, err := os.Stat(filepath.Join(dir, dbFile))
	require.NoError(t, err)
	assert.Less(t, after.Size(), before.Size())

	val, err := e.Get(ctx, engine.SpaceBlob, []byte("keeper"))
	require.NoError(t, err)
	assert.Equal(t, []byte("small survivor"), val)
}

func TestOpenClassifiesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	garbage := bytes.Repeat([]byte("this is not a sqlite database "), 300)
	require.NoError(t, os.WriteFile(filepath.Join(dir, dbFile), garbage, 0o600))

	_, err := Open(dir, engine.Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrCorruptDB)
}

func TestClosedEngine(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err := e.Get(ctx, engine.SpaceBlob, []byte("k"))
	assert.ErrorIs(t, err, engine.ErrClosed)
	assert.ErrorIs(t, e.Put(ctx, engine.SpaceBlob, []byte("k"), nil), engine.ErrClosed)
	assert.ErrorIs(t, e.Compact(ctx), engine.ErrClosed)
}
