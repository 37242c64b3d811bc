package core

import "context"

// ItemStore defines the interface for thread-item persistence. Implementations
// should be thread-safe and upsert by (ThreadID, ID). The reducer decides when
// Upsert is called (throttled checkpoints plus immediate terminal flushes);
// the storage format is entirely up to the implementation.
type ItemStore interface {
	Upsert(ctx context.Context, item ThreadItem) error
}

// ItemStoreFunc is a functional adapter to allow ordinary functions to be used
// as ItemStores.
type ItemStoreFunc func(ctx context.Context, item ThreadItem) error

// Upsert implements ItemStore.
func (f ItemStoreFunc) Upsert(ctx context.Context, item ThreadItem) error { return f(ctx, item) }
