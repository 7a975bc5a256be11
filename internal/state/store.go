package state

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get and CompareAndSwap when the named model has
// no stored state yet.
var ErrNotFound = errors.New("state: model not found")

// ErrConflict is returned by CompareAndSwap when the stored version no
// longer matches expected — another writer raced ahead.
var ErrConflict = errors.New("state: compare-and-swap conflict")

// Store is the C2 State Store abstraction. Implementations must be atomic
// per key; a backend shared across processes must serialize updates to the
// same key. Readers may observe slightly stale state under concurrent writes.
type Store interface {
	// Get returns the current state for name, or ErrNotFound.
	Get(ctx context.Context, name string) (*ModelState, error)

	// Put unconditionally stores state, replacing whatever was there.
	Put(ctx context.Context, name string, s *ModelState) error

	// CompareAndSwap stores next only if the stored value's version equals
	// expected's version (both obtained from a prior Get/Put). Returns
	// ErrConflict on a version mismatch, ErrNotFound if the key is absent
	// and expected is non-nil.
	CompareAndSwap(ctx context.Context, name string, expected, next *ModelState) error

	// List returns every stored ModelState, in no particular order.
	List(ctx context.Context) ([]*ModelState, error)

	// Delete removes a model's state, used by operator reset/teardown.
	Delete(ctx context.Context, name string) error

	// RecordFallbackUsage atomically increments and returns the shared
	// fallback-usage counter.
	RecordFallbackUsage(ctx context.Context) (int64, error)
}
