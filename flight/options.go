package flight

// Options configures a Cache. Zero values are safe; defaults are applied
// in New():
//   - nil Metrics => NoopMetrics
//   - nil Clock   => system clock
//
// Producer is the only required field.
type Options[V any] struct {
	// Producer computes the value. Required; New panics if nil.
	// See the Producer type for the context contract.
	Producer Producer[V]

	// AbortOnAbandon decides what happens when every waiter of an
	// in-flight epoch has cancelled its own wait:
	//
	//   false (default): the producer keeps running; its result fills the
	//   cache even though nobody is waiting, so future callers get it for
	//   free.
	//
	//   true: the producer context is cancelled and the cache resets to
	//   empty, discarding the in-progress work; the next Get starts a
	//   brand-new production.
	AbortOnAbandon bool

	// Metrics receives cache lifecycle signals (see the Metrics interface).
	// Callbacks may run under the cache lock; keep implementations cheap.
	Metrics Metrics

	// Clock overrides the time source used for fill-duration observation.
	// Nil => time.Now(). Useful for deterministic tests.
	Clock Clock
}
