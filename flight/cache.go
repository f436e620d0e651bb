package flight

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/panics"
)

// state is the tagged variant of the cache state machine.
type state uint8

const (
	stateEmpty state = iota
	statePending
	stateFilled
)

// result is the immutable outcome of one production epoch.
// Exactly one of val/err is meaningful; both are delivered verbatim.
type result[V any] struct {
	val V
	err error
}

// cache implements Cache. See doc.go for the design overview.
type cache[V any] struct {
	// filled is the lock-free fast path: non-nil once the cache is Filled.
	// The pointed-to result is immutable and is published exactly once per
	// epoch, under mu, before any waiter is resolved.
	filled atomic.Pointer[result[V]]

	// ---- guarded by mu ----
	mu      sync.Mutex
	state   state
	epoch   uint64                    // bumped whenever a Pending epoch is torn down
	nextID  uint64                    // waiter id allocator for the current epoch
	waiters map[uint64]chan result[V] // current epoch's registry; nil unless Pending
	abort   context.CancelFunc        // cancels the current epoch's producer
	closed  bool

	opt Options[V]
}

// New constructs a Cache with the provided Options.
// It panics if Options.Producer is nil; all other fields have safe
// zero-value defaults.
func New[V any](opt Options[V]) Cache[V] {
	if opt.Producer == nil {
		panic("flight: Options.Producer must be set")
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Clock == nil {
		opt.Clock = systemClock{}
	}
	return &cache[V]{opt: opt}
}

// ---- Cache[V] implementation ----

func (c *cache[V]) Get(ctx context.Context) (V, error) {
	// Fast path: filled caches answer without the lock and without
	// consulting ctx (no suspension happens, so there is nothing to cancel).
	if r := c.filled.Load(); r != nil {
		c.opt.Metrics.Hit()
		return r.val, r.err
	}

	if err := ctx.Err(); err != nil {
		var zero V
		return zero, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		var zero V
		return zero, ErrClosed
	}
	if c.state == stateFilled {
		// Lost the race with a concurrent fill between the fast path and
		// acquiring the lock.
		r := c.filled.Load()
		c.mu.Unlock()
		c.opt.Metrics.Hit()
		return r.val, r.err
	}

	// The check above and the registration below are one critical section:
	// a completion cannot fire in between, so a registered waiter is never
	// lost.
	if c.state == stateEmpty {
		c.startEpochLocked()
	} else {
		c.opt.Metrics.Join()
	}
	epoch := c.epoch
	id := c.nextID
	c.nextID++
	slot := make(chan result[V], 1)
	c.waiters[id] = slot
	c.mu.Unlock()

	select {
	case r := <-slot:
		return r.val, r.err
	case <-ctx.Done():
		// Completion may race this withdrawal; whichever removed the slot
		// from the registry first wins, and this caller gets ctx.Err()
		// either way.
		c.withdraw(epoch, id)
		var zero V
		return zero, ctx.Err()
	}
}

func (c *cache[V]) Reset() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state != stateFilled {
		return false
	}
	c.state = stateEmpty
	c.epoch++
	c.filled.Store(nil)
	return true
}

func (c *cache[V]) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.filled.Store(nil)
	var (
		ws    map[uint64]chan result[V]
		abort context.CancelFunc
	)
	if c.state == statePending {
		ws, abort = c.waiters, c.abort
		c.waiters, c.abort = nil, nil
		c.epoch++
	}
	c.state = stateEmpty
	c.mu.Unlock()

	if abort != nil {
		abort()
	}
	for _, slot := range ws {
		resolve(slot, result[V]{err: ErrClosed})
	}
	return nil
}

// ---- epoch lifecycle ----

// startEpochLocked transitions Empty -> Pending and launches the producer.
// The transition (state, fresh registry, abort handle) is complete before
// the producer goroutine exists, so a racing caller can only ever observe
// Pending and fall into the join path.
func (c *cache[V]) startEpochLocked() {
	pctx, cancel := context.WithCancel(context.Background())
	c.state = statePending
	c.waiters = make(map[uint64]chan result[V])
	c.nextID = 0
	c.abort = cancel
	c.opt.Metrics.Start()
	go c.produce(pctx, c.epoch)
}

// produce runs the producer for one epoch and hands its outcome to finish.
// Producer panics are recovered and delivered as errors; runtime.Goexit is
// detected via the deferred finish so waiters are never stranded.
func (c *cache[V]) produce(ctx context.Context, epoch uint64) {
	start := c.opt.Clock.NowUnixNano()

	r := result[V]{err: ErrProducerGoexit}
	defer func() {
		c.finish(epoch, r, start)
	}()

	var catcher panics.Catcher
	catcher.Try(func() {
		var pr result[V]
		pr.val, pr.err = c.opt.Producer(ctx)
		r = pr
	})
	if rec := catcher.Recovered(); rec != nil {
		r = result[V]{err: rec.AsError()}
	}
}

// finish publishes the result for epoch and resolves its waiters.
// A result arriving after its epoch was torn down (abandon policy, Close)
// is discarded silently.
func (c *cache[V]) finish(epoch uint64, r result[V], startNano int64) {
	c.mu.Lock()
	if c.closed || c.state != statePending || c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	c.state = stateFilled
	c.filled.Store(&r)
	ws := c.waiters
	abort := c.abort
	c.waiters, c.abort = nil, nil
	c.mu.Unlock()

	// Release the epoch's context resources; the producer has returned.
	abort()

	c.opt.Metrics.Fill(r.err != nil)
	c.opt.Metrics.ObserveFill(time.Duration(c.opt.Clock.NowUnixNano() - startNano))

	// Ownership of the registry was taken under mu above, so each slot is
	// resolved exactly once, even against concurrent withdrawals.
	for _, slot := range ws {
		resolve(slot, r)
	}
}

// withdraw removes one waiter from the given epoch. Withdrawing a waiter
// that was already resolved, or that belongs to a finished epoch, is a
// no-op: completion won that race. When the last waiter withdraws and
// AbortOnAbandon is set, the epoch is torn down and the producer cancelled.
func (c *cache[V]) withdraw(epoch uint64, id uint64) {
	c.mu.Lock()
	if c.state != statePending || c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	if _, ok := c.waiters[id]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.waiters, id)
	c.opt.Metrics.Cancel()

	if len(c.waiters) != 0 || !c.opt.AbortOnAbandon {
		c.mu.Unlock()
		return
	}

	// Last waiter gone: discard the in-progress work and start over clean.
	abort := c.abort
	c.state = stateEmpty
	c.epoch++
	c.waiters, c.abort = nil, nil
	c.mu.Unlock()

	abort()
	c.opt.Metrics.Abort()
}

// resolve writes a one-shot waiter slot. Slots are buffered(1) and only
// the party that removed the slot from the registry may resolve it, so a
// full buffer means the exactly-once delivery invariant is broken: that is
// a bug in the cache, and it must be loud, not swallowed.
func resolve[V any](slot chan result[V], r result[V]) {
	select {
	case slot <- r:
	default:
		panic("flight: waiter slot resolved twice")
	}
}
