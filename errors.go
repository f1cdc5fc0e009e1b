package hoard

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports an absent key. Absence is a normal cache
	// outcome; callers fall through to whatever authoritative source
	// they fetched the object from originally.
	ErrNotFound = errors.New("hoard: object not found")

	// ErrIO reports a physical read or write failure from the engine.
	// The store never retries; retry policy belongs to the caller.
	ErrIO = errors.New("hoard: io failure")

	// ErrOpenFailed reports that the storage engine could not be
	// created or opened.
	ErrOpenFailed = errors.New("hoard: open failed")

	// ErrCorruptDatabase reports engine-level metadata damage found at
	// open. Unlike a single corrupt object this is fatal: the caller
	// must recreate the store directory.
	ErrCorruptDatabase = errors.New("hoard: database corrupt")

	// ErrClosed reports use of a store after Close.
	ErrClosed = errors.New("hoard: store closed")
)

// CorruptObjectError reports an object whose stored bytes no longer
// match its key. The damaged entry is left in place for inspection;
// repair means deleting the key and re-adding the object from its
// source.
type CorruptObjectError struct {
	Kind   ObjectKind
	Key    ObjectKey
	Reason string
	cause  error
}

func (e *CorruptObjectError) Error() string {
	return fmt.Sprintf("hoard: corrupt %s object %s: %s", e.Kind, e.Key, e.Reason)
}

func (e *CorruptObjectError) Unwrap() error { return e.cause }

// IsCorruptObject reports whether err is a CorruptObjectError.
func IsCorruptObject(err error) bool {
	var ce *CorruptObjectError
	return errors.As(err, &ce)
}
