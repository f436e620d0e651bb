package flight

import (
	"context"
	"errors"
)

// ErrClosed is returned by Get (and Group.Get) after Close.
// Waiters that were in flight when Close was called receive it too.
var ErrClosed = errors.New("flight: cache is closed")

// ErrProducerGoexit resolves waiters whose producer called runtime.Goexit
// instead of returning (e.g. t.Fatal inside a test-provided producer).
var ErrProducerGoexit = errors.New("flight: producer called runtime.Goexit")

// Producer computes the cached value. It is invoked at most once per epoch,
// on a goroutine owned by the cache. The context it receives belongs to the
// cache, not to any individual caller: it is cancelled only by the
// AbortOnAbandon policy or by Close, never by a single waiter going away.
type Producer[V any] func(ctx context.Context) (V, error)

// Cache is a single-value, single-flight asynchronous cache.
// All methods are safe for concurrent use by multiple goroutines.
type Cache[V any] interface {
	// Get returns the cached result, joining the in-flight production or
	// starting one if needed. If the result is already present (success or
	// error) it is returned immediately without blocking.
	//
	// Cancelling ctx withdraws only this caller: Get returns ctx.Err() and
	// the production, if any, proceeds for the remaining waiters (subject
	// to the AbortOnAbandon policy once no waiter remains).
	Get(ctx context.Context) (V, error)

	// Reset discards a stored result so the next Get starts a fresh
	// production. It reports whether a reset happened: resetting a cache
	// that is not filled (empty, in flight, or closed) is a no-op and
	// returns false, since tearing down an in-flight production would race
	// with its completion.
	Reset() bool

	// Close discards any stored result, cancels an in-flight producer, and
	// fails pending waiters with ErrClosed. Get returns ErrClosed from then
	// on. Close is idempotent and always returns nil.
	Close() error
}
