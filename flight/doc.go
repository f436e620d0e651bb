// Package flight provides a generic single-flight asynchronous value cache:
// an expensive computation runs at most once per epoch, any number of
// concurrent callers share its result, and each caller can abandon its own
// wait without disturbing the others.
//
// # Design
//
//   - State machine: a Cache is Empty, Pending (a producer is in flight)
//     or Filled (the result — value or error — is stored for the lifetime
//     of the instance). The first Get on an Empty cache transitions it to
//     Pending and launches the producer on its own goroutine; every Get
//     that observes Pending registers as a waiter of the current epoch.
//     All transitions and registry edits happen under a single mutex, so a
//     completion can never slip between a caller's state check and its
//     registration.
//
//   - Waiters: each waiter holds a one-shot buffered channel. When the
//     producer finishes, the registry is detached under the mutex and every
//     slot is resolved exactly once with the shared result. Resolving a
//     slot twice is a bug in the cache itself and panics loudly rather
//     than being swallowed.
//
//   - Cancellation: a waiter whose context is done withdraws only itself;
//     it receives its ctx.Err() and nothing else, while the remaining
//     waiters still get the eventual result. When the LAST waiter
//     withdraws, Options.AbortOnAbandon decides the fate of the producer:
//     by default it keeps running and fills the cache anyway; with
//     AbortOnAbandon the producer context is cancelled and the cache
//     resets to Empty so the next Get starts a fresh epoch.
//
//   - Filled fast path: once Filled, Get returns the stored result from an
//     atomic pointer without taking the mutex or blocking. Producer errors
//     are cached and replayed verbatim; the cache never retries on its own
//     (call Reset, or build a new instance, to retry).
//
//   - Panics: a panicking producer does not strand its waiters. The panic
//     is recovered (conc/panics) and delivered to every waiter as an error.
//     A producer that exits via runtime.Goexit resolves its waiters with
//     ErrProducerGoexit.
//
//   - Metrics: Options.Metrics receives Hit/Join/Start/Fill/Cancel/Abort
//     signals plus fill-duration observations. NoopMetrics is the default;
//     plug the metrics/prom adapter to export Prometheus series.
//
//   - Group: multi-key use is composition, one Cache per key. Group keeps
//     per-key instances in a sharded registry (fnv64a, power-of-two shard
//     count) with explicit lifetime management (Forget/Clear) — no TTL and
//     no eviction.
//
// # Basic usage
//
//	c := flight.New[string](flight.Options[string]{
//	    Producer: func(ctx context.Context) (string, error) {
//	        // e.g. fetch a signing key, warm a snapshot, ...
//	        return expensiveFetch(ctx)
//	    },
//	})
//	defer func() { _ = c.Close() }()
//
//	v, err := c.Get(ctx) // concurrent callers share one producer run
//
// # Abandon policy
//
//	c := flight.New[string](flight.Options[string]{
//	    Producer:       fetch,
//	    AbortOnAbandon: true, // nobody waiting => cancel the work
//	})
//
// # Per-caller timeout
//
// The cache has no timeout of its own; wrap Get with a context deadline:
//
//	ctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
//	defer cancel()
//	v, err := c.Get(ctx) // err == context.DeadlineExceeded on timeout,
//	                     // the shared producer keeps running
//
// # Keyed composition
//
//	g := flight.NewGroup[string, []byte](flight.GroupOptions[string, []byte]{
//	    ProducerFor: func(k string) flight.Producer[[]byte] {
//	        return func(ctx context.Context) ([]byte, error) { return load(ctx, k) }
//	    },
//	})
//	b, err := g.Get(ctx, "tenant:42")
//
// All methods on Cache and Group are safe for concurrent use.
package flight
