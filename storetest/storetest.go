// Package storetest provides a conformance suite that every store
// configuration must pass. Engine packages stay private; what binds
// them is behavior, and this package is that behavior written down.
//
// A test passes a Factory and runs the suite against it:
//
//	storetest.Run(t, func(t *testing.T, dir string, inj *hoard.FaultInjector) *hoard.Store {
//		s, err := hoard.Open(dir, hoard.WithEngine(hoard.EngineBolt), hoard.WithFaultInjector(inj))
//		require.NoError(t, err)
//		return s
//	})
package storetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoardfs/hoard"
)

// Factory builds a ready store rooted at dir. The injector may be nil;
// fault suites pass one and expect the store wired to it. Factories
// must fail the test themselves if the store cannot be opened.
type Factory func(t *testing.T, dir string, inj *hoard.FaultInjector) *hoard.Store

// Run exercises the full contract, including closing and reopening the
// same directory. Engines without durable state should use RunEphemeral
// instead.
func Run(t *testing.T, f Factory) {
	t.Run("Core", func(t *testing.T) { runCore(t, f) })
	t.Run("Persistence", func(t *testing.T) { runPersistence(t, f) })
}

// RunEphemeral exercises the contract minus persistence across reopen.
func RunEphemeral(t *testing.T, f Factory) {
	t.Run("Core", func(t *testing.T) { runCore(t, f) })
}

func runCore(t *testing.T, f Factory) {
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, f) })
	t.Run("ContentAddressing", func(t *testing.T) { testContentAddressing(t, f) })
	t.Run("IdempotentPut", func(t *testing.T) { testIdempotentPut(t, f) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, f) })
	t.Run("HasAndDelete", func(t *testing.T) { testHasAndDelete(t, f) })
	t.Run("BatchRoundTrip", func(t *testing.T) { testBatchRoundTrip(t, f) })
	t.Run("BatchMissingSlots", func(t *testing.T) { testBatchMissingSlots(t, f) })
	t.Run("BatchAtomicOrder", func(t *testing.T) { testBatchAtomicOrder(t, f) })
	t.Run("Keys", func(t *testing.T) { testKeys(t, f) })
	t.Run("DeleteUnreferenced", func(t *testing.T) { testDeleteUnreferenced(t, f) })
	t.Run("ClearKind", func(t *testing.T) { testClearKind(t, f) })
	t.Run("Compact", func(t *testing.T) { testCompact(t, f) })
	t.Run("Closed", func(t *testing.T) { testClosed(t, f) })
	t.Run("ConcurrentReadWrite", func(t *testing.T) { testConcurrentReadWrite(t, f) })
	t.Run("CloseQuiesces", func(t *testing.T) { testCloseQuiesces(t, f) })
}

func runPersistence(t *testing.T, f Factory) {
	t.Run("ReopenRoundTrip", func(t *testing.T) { testReopenRoundTrip(t, f) })
	t.Run("ReopenMixedKinds", func(t *testing.T) { testReopenMixedKinds(t, f) })
	t.Run("DeleteSurvivesReopen", func(t *testing.T) { testDeleteSurvivesReopen(t, f) })
}

func open(t *testing.T, f Factory) *hoard.Store {
	t.Helper()
	s := f(t, t.TempDir(), nil)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTree(t *testing.T, child hoard.ObjectKey) *hoard.Object {
	t.Helper()
	obj, err := hoard.NewTree([]hoard.TreeEntry{
		{Name: "main.go", Mode: 0o644, Key: child},
		{Name: "lib", Mode: 0o755, Key: child},
	})
	require.NoError(t, err)
	return obj
}

func sampleCommit(t *testing.T, tree hoard.ObjectKey) *hoard.Object {
	t.Helper()
	obj, err := hoard.NewCommit(hoard.CommitMetadata{
		Tree:    tree,
		Author:  "dev@example.com",
		Time:    time.Date(2024, 5, 14, 9, 30, 0, 0, time.UTC),
		Message: "initial import",
	})
	require.NoError(t, err)
	return obj
}

func testRoundTrip(t *testing.T, f Factory) {
	s := open(t, f)
	ctx := context.Background()

	blobKey, err := s.Put(ctx, hoard.NewBlob([]byte("package main\n")))
	require.NoError(t, err)
	treeKey, err := s.Put(ctx, sampleTree(t, blobKey))
	require.NoError(t, err)
	commitKey, err := s.Put(ctx, sampleCommit(t, treeKey))
	require.NoError(t, err)

	got, err := s.Get(ctx, hoard.KindBlob, blobKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("package main\n"), got.Payload())
	assert.Equal(t, hoard.KindBlob, got.Kind())

	tree, err := s.Get(ctx, hoard.KindTree, treeKey)
	require.NoError(t, err)
	entries, err := tree.TreeEntries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "lib", entries[0].Name)
	assert.Equal(t, "main.go", entries[1].Name)
	assert.Equal(t, blobKey, entries[1].Key)

	commit, err := s.Get(ctx, hoard.KindCommit, commitKey)
	require.NoError(t, err)
	meta, err := commit.Commit()
	require.NoError(t, err)
	assert.Equal(t, treeKey, meta.Tree)
	assert.Equal(t, "dev@example.com", meta.Author)
	assert.Equal(t, "initial import", meta.Message)
	assert.True(t, meta.Time.Equal(time.Date(2024, 5, 14, 9, 30, 0, 0, time.UTC)))
}

func testContentAddressing(t *testing.T, f Factory) {
	s := open(t, f)
	ctx := context.Background()

	a1, err := s.Put(ctx, hoard.NewBlob([]byte("same bytes")))
	require.NoError(t, err)
	a2, err := s.Put(ctx, hoard.NewBlob([]byte("same bytes")))
	require.NoError(t, err)
	b, err := s.Put(ctx, hoard.NewBlob([]byte("different bytes")))
	require.NoError(t, err)

	assert.Equal(t, a1, a2, "identical content must share a key")
	assert.NotEqual(t, a1, b, "different content must not share a key")
	assert.Equal(t, a1, hoard.NewBlob([]byte("same bytes")).Key())

	// A blob and a tree never collide even if their payloads matched:
	// the kind is part of the hashed frame.
	assert.NotEqual(t, a1, sampleTree(t, a1).Key())
}

func testIdempotentPut(t *testing.T, f Factory) {
	s := open(t, f)
	ctx := context.Background()

	key, err := s.Put(ctx, hoard.NewBlob([]byte("write once")))
	require.NoError(t, err)
	for range 3 {
		again, err := s.Put(ctx, hoard.NewBlob([]byte("write once")))
		require.NoError(t, err)
		assert.Equal(t, key, again)
	}

	count := 0
	for _, err := range s.Keys(ctx, hoard.KindBlob) {
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 1, count, "repeated puts must not duplicate the object")
}

func testGetMissing(t *testing.T, f Factory) {
	s := open(t, f)
	ctx := context.Background()

	var absent hoard.ObjectKey
	absent[0] = 0xab

	_, err := s.Get(ctx, hoard.KindBlob, absent)
	assert.ErrorIs(t, err, hoard.ErrNotFound)

	// A key present under one kind is still a miss under another.
	key, err := s.Put(ctx, hoard.NewBlob([]byte("kind scoped")))
	require.NoError(t, err)
	_, err = s.Get(ctx, hoard.KindTree, key)
	assert.ErrorIs(t, err, hoard.ErrNotFound)
}

func testHasAndDelete(t *testing.T, f Factory) {
	s := open(t, f)
	ctx := context.Background()

	key, err := s.Put(ctx, hoard.NewBlob([]byte("here today")))
	require.NoError(t, err)

	ok, err := s.Has(ctx, hoard.KindBlob, key)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, hoard.KindBlob, key))

	ok, err = s.Has(ctx, hoard.KindBlob, key)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = s.Get(ctx, hoard.KindBlob, key)
	assert.ErrorIs(t, err, hoard.ErrNotFound)

	// Deleting what is already gone is not an error.
	require.NoError(t, s.Delete(ctx, hoard.KindBlob, key))
}

func testBatchRoundTrip(t *testing.T, f Factory) {
	s := open(t, f)
	ctx := context.Background()

	blobs := []*hoard.Object{
		hoard.NewBlob([]byte("one")),
		hoard.NewBlob([]byte("two")),
		hoard.NewBlob([]byte("three")),
	}
	keys, err := s.PutBatch(ctx, blobs)
	require.NoError(t, err)
	require.Len(t, keys, 3)

	s.EvictAll()
	got, err := s.GetBatch(ctx, hoard.KindBlob, keys)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, obj := range got {
		require.NotNil(t, obj, "slot %d", i)
		assert.Equal(t, blobs[i].Payload(), obj.Payload())
	}
}

func testBatchMissingSlots(t *testing.T, f Factory) {
	s := open(t, f)
	ctx := context.Background()

	k1, err := s.Put(ctx, hoard.NewBlob([]byte("present")))
	require.NoError(t, err)
	var absent hoard.ObjectKey
	absent[31] = 0x01

	s.EvictAll()
	got, err := s.GetBatch(ctx, hoard.KindBlob, []hoard.ObjectKey{absent, k1, absent})
	require.NoError(t, err, "missing keys must not fail the batch")
	require.Len(t, got, 3)
	assert.Nil(t, got[0])
	require.NotNil(t, got[1])
	assert.Equal(t, []byte("present"), got[1].Payload())
	assert.Nil(t, got[2])
}

func testBatchAtomicOrder(t *testing.T, f Factory) {
	s := open(t, f)
	ctx := context.Background()

	// A batch mixing kinds commits as one unit and reports keys in
	// argument order.
	blob := hoard.NewBlob([]byte("batched blob"))
	tree := sampleTree(t, blob.Key())
	commit := sampleCommit(t, tree.Key())

	keys, err := s.PutBatch(ctx, []*hoard.Object{commit, blob, tree})
	require.NoError(t, err)
	require.Len(t, keys, 3)
	assert.Equal(t, commit.Key(), keys[0])
	assert.Equal(t, blob.Key(), keys[1])
	assert.Equal(t, tree.Key(), keys[2])

	for _, probe := range []struct {
		kind hoard.ObjectKind
		key  hoard.ObjectKey
	}{
		{hoard.KindCommit, keys[0]},
		{hoard.KindBlob, keys[1]},
		{hoard.KindTree, keys[2]},
	} {
		ok, err := s.Has(ctx, probe.kind, probe.key)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func testKeys(t *testing.T, f Factory) {
	s := open(t, f)
	ctx := context.Background()

	want := map[hoard.ObjectKey]bool{}
	for _, content := range []string{"alpha", "beta", "gamma", "delta"} {
		key, err := s.Put(ctx, hoard.NewBlob([]byte(content)))
		require.NoError(t, err)
		want[key] = true
	}
	// Another kind must not leak into the enumeration.
	_, err := s.Put(ctx, sampleTree(t, hoard.NewBlob([]byte("alpha")).Key()))
	require.NoError(t, err)

	got := map[hoard.ObjectKey]bool{}
	for key, err := range s.Keys(ctx, hoard.KindBlob) {
		require.NoError(t, err)
		got[key] = true
	}
	assert.Equal(t, want, got)

	// Breaking early releases the cursor; the store stays usable.
	for range s.Keys(ctx, hoard.KindBlob) {
		break
	}
	_, err = s.Put(ctx, hoard.NewBlob([]byte("after break")))
	require.NoError(t, err)
}

func testDeleteUnreferenced(t *testing.T, f Factory) {
	s := open(t, f)
	ctx := context.Background()

	var keep, drop []hoard.ObjectKey
	for _, content := range []string{"live-1", "live-2"} {
		key, err := s.Put(ctx, hoard.NewBlob([]byte(content)))
		require.NoError(t, err)
		keep = append(keep, key)
	}
	for _, content := range []string{"stale-1", "stale-2", "stale-3"} {
		key, err := s.Put(ctx, hoard.NewBlob([]byte(content)))
		require.NoError(t, err)
		drop = append(drop, key)
	}

	var absent hoard.ObjectKey
	absent[7] = 0x77
	removed, err := s.DeleteUnreferenced(ctx, hoard.KindBlob, append(drop, absent))
	require.NoError(t, err)
	assert.Equal(t, 3, removed, "only keys that existed count")

	for _, key := range drop {
		ok, err := s.Has(ctx, hoard.KindBlob, key)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	for _, key := range keep {
		ok, err := s.Has(ctx, hoard.KindBlob, key)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func testClearKind(t *testing.T, f Factory) {
	s := open(t, f)
	ctx := context.Background()

	for _, content := range []string{"b1", "b2", "b3"} {
		_, err := s.Put(ctx, hoard.NewBlob([]byte(content)))
		require.NoError(t, err)
	}
	treeKey, err := s.Put(ctx, sampleTree(t, hoard.NewBlob([]byte("b1")).Key()))
	require.NoError(t, err)

	cleared, err := s.ClearKind(ctx, hoard.KindBlob)
	require.NoError(t, err)
	assert.Equal(t, 3, cleared)

	count := 0
	for _, err := range s.Keys(ctx, hoard.KindBlob) {
		require.NoError(t, err)
		count++
	}
	assert.Zero(t, count)

	ok, err := s.Has(ctx, hoard.KindTree, treeKey)
	require.NoError(t, err)
	assert.True(t, ok, "clearing blobs must not touch trees")
}

func testCompact(t *testing.T, f Factory) {
	s := open(t, f)
	ctx := context.Background()

	var keys []hoard.ObjectKey
	for i := range 20 {
		key, err := s.Put(ctx, hoard.NewBlob([]byte{byte(i), 0xde, 0xad}))
		require.NoError(t, err)
		keys = append(keys, key)
	}
	_, err := s.DeleteUnreferenced(ctx, hoard.KindBlob, keys[:10])
	require.NoError(t, err)

	require.NoError(t, s.Compact(ctx))

	// Compaction reclaims space, never data.
	s.EvictAll()
	for _, key := range keys[10:] {
		_, err := s.Get(ctx, hoard.KindBlob, key)
		require.NoError(t, err)
	}
}

func testClosed(t *testing.T, f Factory) {
	s := f(t, t.TempDir(), nil)
	ctx := context.Background()

	key, err := s.Put(ctx, hoard.NewBlob([]byte("before close")))
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "closing twice is a no-op")

	_, err = s.Get(ctx, hoard.KindBlob, key)
	assert.ErrorIs(t, err, hoard.ErrClosed)
	_, err = s.Put(ctx, hoard.NewBlob([]byte("after close")))
	assert.ErrorIs(t, err, hoard.ErrClosed)
	_, err = s.Has(ctx, hoard.KindBlob, key)
	assert.ErrorIs(t, err, hoard.ErrClosed)
	assert.ErrorIs(t, s.Delete(ctx, hoard.KindBlob, key), hoard.ErrClosed)
	assert.ErrorIs(t, s.Compact(ctx), hoard.ErrClosed)
}

func testConcurrentReadWrite(t *testing.T, f Factory) {
	s := open(t, f)
	ctx := context.Background()

	// Every worker writes its own objects and reads them straight back
	// while the others do the same; no operation may observe another
	// worker's writes as its own or fail on engine-level contention.
	const workers = 8
	const perWorker = 10
	keys := make([][]hoard.ObjectKey, workers)
	errc := make(chan error, workers)
	var wg sync.WaitGroup

	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWorker {
				content := fmt.Appendf(nil, "worker %d object %d", w, i)
				key, err := s.Put(ctx, hoard.NewBlob(content))
				if err != nil {
					errc <- fmt.Errorf("worker %d put: %w", w, err)
					return
				}
				keys[w] = append(keys[w], key)

				obj, err := s.Get(ctx, hoard.KindBlob, key)
				if err != nil {
					errc <- fmt.Errorf("worker %d get: %w", w, err)
					return
				}
				if !bytes.Equal(obj.Payload(), content) {
					errc <- fmt.Errorf("worker %d read back %q, want %q", w, obj.Payload(), content)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errc)
	for err := range errc {
		t.Error(err)
	}

	// Everything every worker wrote is visible afterwards.
	for w := range workers {
		require.Len(t, keys[w], perWorker)
		for _, key := range keys[w] {
			ok, err := s.Has(ctx, hoard.KindBlob, key)
			require.NoError(t, err)
			assert.True(t, ok)
		}
	}
}

func testCloseQuiesces(t *testing.T, f Factory) {
	s := f(t, t.TempDir(), nil)
	ctx := context.Background()

	seed, err := s.Put(ctx, hoard.NewBlob([]byte("steady read target")))
	require.NoError(t, err)

	// Readers, writers and a batch writer hammer the store while Close
	// lands mid-flight. Close must wait out in-flight calls; afterwards
	// every operation fails with a clean ErrClosed, never a crash or a
	// torn read.
	const workers = 3
	stop := make(chan struct{})
	errc := make(chan error, workers*3)
	var wg sync.WaitGroup

	worker := func(op func(n int) error) {
		defer wg.Done()
		for n := 0; ; n++ {
			select {
			case <-stop:
				return
			default:
			}
			if err := op(n); err != nil {
				if !errors.Is(err, hoard.ErrClosed) {
					errc <- err
				}
				return
			}
		}
	}

	for w := range workers {
		wg.Add(3)
		go worker(func(int) error {
			obj, err := s.Get(ctx, hoard.KindBlob, seed)
			if err == nil && !bytes.Equal(obj.Payload(), []byte("steady read target")) {
				return fmt.Errorf("torn read: %q", obj.Payload())
			}
			return err
		})
		go worker(func(n int) error {
			_, err := s.Put(ctx, hoard.NewBlob(fmt.Appendf(nil, "writer %d round %d", w, n)))
			return err
		})
		go worker(func(n int) error {
			_, err := s.PutBatch(ctx, []*hoard.Object{
				hoard.NewBlob(fmt.Appendf(nil, "batcher %d round %d first", w, n)),
				hoard.NewBlob(fmt.Appendf(nil, "batcher %d round %d second", w, n)),
			})
			return err
		})
	}

	time.Sleep(20 * time.Millisecond)
	closeErr := s.Close()
	close(stop)
	wg.Wait()
	close(errc)

	require.NoError(t, closeErr)
	for err := range errc {
		t.Errorf("in-flight operation failed with something other than ErrClosed: %v", err)
	}

	_, err = s.Get(ctx, hoard.KindBlob, seed)
	assert.ErrorIs(t, err, hoard.ErrClosed)
	_, err = s.Put(ctx, hoard.NewBlob([]byte("after close")))
	assert.ErrorIs(t, err, hoard.ErrClosed)
}

func testReopenRoundTrip(t *testing.T, f Factory) {
	dir := t.TempDir()
	ctx := context.Background()
	content := []byte("survives restart")

	s := f(t, dir, nil)
	key, err := s.Put(ctx, hoard.NewBlob(content))
	require.NoError(t, err)
	got, err := s.Get(ctx, hoard.KindBlob, key)
	require.NoError(t, err)
	assert.Equal(t, content, got.Payload())
	ok, err := s.Has(ctx, hoard.KindBlob, key)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, s.Close())

	s = f(t, dir, nil)
	defer s.Close()
	got, err = s.Get(ctx, hoard.KindBlob, key)
	require.NoError(t, err)
	assert.Equal(t, content, got.Payload())
	assert.Equal(t, key, got.Key(), "reopened content must still hash to its key")
	ok, err = s.Has(ctx, hoard.KindBlob, key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func testReopenMixedKinds(t *testing.T, f Factory) {
	dir := t.TempDir()
	ctx := context.Background()

	s := f(t, dir, nil)
	blob := hoard.NewBlob([]byte("blob payload"))
	tree := sampleTree(t, blob.Key())
	commit := sampleCommit(t, tree.Key())
	keys, err := s.PutBatch(ctx, []*hoard.Object{blob, tree, commit})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s = f(t, dir, nil)
	defer s.Close()
	for i, kind := range []hoard.ObjectKind{hoard.KindBlob, hoard.KindTree, hoard.KindCommit} {
		obj, err := s.Get(ctx, kind, keys[i])
		require.NoError(t, err)
		assert.Equal(t, kind, obj.Kind())
	}
	obj, err := s.Get(ctx, hoard.KindCommit, keys[2])
	require.NoError(t, err)
	meta, err := obj.Commit()
	require.NoError(t, err)
	assert.Equal(t, keys[1], meta.Tree)
}

func testDeleteSurvivesReopen(t *testing.T, f Factory) {
	dir := t.TempDir()
	ctx := context.Background()

	s := f(t, dir, nil)
	key, err := s.Put(ctx, hoard.NewBlob([]byte("short lived")))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, hoard.KindBlob, key))
	require.NoError(t, s.Close())

	s = f(t, dir, nil)
	defer s.Close()
	ok, err := s.Has(ctx, hoard.KindBlob, key)
	require.NoError(t, err)
	assert.False(t, ok, "deletion must be durable")
}
