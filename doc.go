// Package hoard provides a durable content-addressable store for
// version-control objects: blobs, trees and commit metadata.
//
// Objects are keyed by the SHA-256 of their encoded form, so identical
// content stores once and a key proves what it names. The store is a
// local cache layer: it answers hits, reports misses as ErrNotFound,
// and leaves fetching from the authoritative source to the caller.
// Several storage engines satisfy the same contract; pebble is the
// default, with bolt, sqlite and an in-memory engine selectable at
// Open.
//
// Basic usage:
//
//	store, _ := hoard.Open("/var/cache/objects")
//	defer store.Close()
//
//	// Store content; the key is derived from the bytes
//	key, _ := store.Put(ctx, hoard.NewBlob(data))
//
//	// Retrieve and verify
//	obj, _ := store.Get(ctx, hoard.KindBlob, key)
//	fmt.Println(len(obj.Payload()))
//
//	// Batched operations commit atomically
//	keys, _ := store.PutBatch(ctx, []*hoard.Object{blob, tree, commit})
//
//	// Maintenance
//	removed, _ := store.DeleteUnreferenced(ctx, hoard.KindBlob, stale)
//	store.Compact(ctx)
//
// Tests script engine misbehavior through a fault injector:
//
//	inj := hoard.NewFaultInjector()
//	inj.Inject(hoard.FaultSpec{Op: hoard.OpGet, Kind: hoard.FaultFail})
//	store, _ := hoard.Open(dir, hoard.WithFaultInjector(inj))
//
// Production stores pass no injector and pay no overhead.
package hoard
