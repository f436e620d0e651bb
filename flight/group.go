package flight

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/IvanBrykalov/onceflight/internal/util"
)

// GroupOptions configures a Group. Zero values are safe; sane defaults are
// applied in NewGroup():
//   - Shards <= 0 => auto (rounded up to a power of two)
//
// ProducerFor is the only required field. AbortOnAbandon, Metrics and Clock
// are forwarded to every per-key Cache (a shared Metrics therefore
// aggregates across keys).
type GroupOptions[K comparable, V any] struct {
	// ProducerFor returns the producer for a key. Required; NewGroup
	// panics if nil. It is called once per key instance, under the shard
	// lock; keep it cheap and do the real work inside the returned
	// Producer.
	ProducerFor func(K) Producer[V]

	// Shards defines the number of registry shards. If 0, an automatic
	// value is chosen (≈ 2*GOMAXPROCS) and rounded to the next power of two.
	Shards int

	// Per-key cache configuration, forwarded as-is.
	AbortOnAbandon bool
	Metrics        Metrics
	Clock          Clock
}

// Group composes one Cache per key: the multi-key form of the single-value
// cache. Instances are created on demand and live until Forget, Clear or
// Close — there is no TTL and no eviction; lifetime is explicit.
//
// Keys are sharded by util.Fnv64a, which supports string, [16]byte,
// [32]byte, all int/uint widths, uintptr and fmt.Stringer keys. Any other
// key type panics on first use; convert such keys to strings.
//
// All methods are safe for concurrent use by multiple goroutines.
type Group[K comparable, V any] struct {
	shards []*groupShard[K, V]
	hash   func(K) uint64
	closed atomic.Bool

	opt GroupOptions[K, V]
}

// groupShard is an independent partition of the per-key registry with its
// own lock, so unrelated keys do not contend on instance creation.
type groupShard[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]Cache[V]

	// Hot counter on its own cache line to avoid false sharing.
	_       util.CacheLinePad
	created util.PaddedAtomicUint64
}

// NewGroup constructs a Group with the provided GroupOptions.
func NewGroup[K comparable, V any](opt GroupOptions[K, V]) *Group[K, V] {
	if opt.ProducerFor == nil {
		panic("flight: GroupOptions.ProducerFor must be set")
	}

	sh := opt.Shards
	if sh <= 0 {
		sh = util.ReasonableShardCount()
	} else {
		sh = int(util.NextPow2(uint64(sh)))
	}

	shards := make([]*groupShard[K, V], sh)
	for i := range shards {
		shards[i] = &groupShard[K, V]{m: make(map[K]Cache[V])}
	}
	return &Group[K, V]{
		shards: shards,
		hash:   util.Fnv64a[K],
		opt:    opt,
	}
}

// Get returns the value for k, creating the per-key Cache on first use.
// Concurrent calls for the same key share a single producer run; distinct
// keys proceed independently.
func (g *Group[K, V]) Get(ctx context.Context, k K) (V, error) {
	c := g.cacheFor(k)
	if c == nil {
		var zero V
		return zero, ErrClosed
	}
	return c.Get(ctx)
}

// Forget drops the instance for k, closing it so any in-flight waiters for
// that key fail fast with ErrClosed. The next Get for k builds a fresh
// instance. Forgetting an unknown key is a no-op; the return value reports
// whether an instance was dropped.
func (g *Group[K, V]) Forget(k K) bool {
	s := g.shard(k)
	s.mu.Lock()
	c, ok := s.m[k]
	if ok {
		delete(s.m, k)
	}
	s.mu.Unlock()

	if ok {
		_ = c.Close()
	}
	return ok
}

// Len returns the number of resident per-key instances across all shards.
func (g *Group[K, V]) Len() int {
	total := 0
	for _, s := range g.shards {
		s.mu.RLock()
		total += len(s.m)
		s.mu.RUnlock()
	}
	return total
}

// Created returns the total number of per-key instances ever created,
// including ones since forgotten.
func (g *Group[K, V]) Created() uint64 {
	var total uint64
	for _, s := range g.shards {
		total += s.created.Load()
	}
	return total
}

// Clear drops and closes every resident instance.
func (g *Group[K, V]) Clear() {
	for _, s := range g.shards {
		s.mu.Lock()
		old := s.m
		s.m = make(map[K]Cache[V])
		s.mu.Unlock()

		for _, c := range old {
			_ = c.Close()
		}
	}
}

// Close marks the group closed and drops all instances.
// Future Get calls return ErrClosed.
func (g *Group[K, V]) Close() error {
	if g.closed.Swap(true) {
		return nil
	}
	g.Clear()
	return nil
}

// ---- helpers ----

// cacheFor returns the instance for k, building it on first use, or nil if
// the group is closed. Double-checked: the read lock covers the common hit,
// the write lock the one-time construction. The closed flag is re-checked
// under the write lock: Close sets it before Clear takes the shard locks,
// so an instance can never be inserted after its shard was cleared.
func (g *Group[K, V]) cacheFor(k K) Cache[V] {
	if g.closed.Load() {
		return nil
	}
	s := g.shard(k)

	s.mu.RLock()
	c, ok := s.m[k]
	s.mu.RUnlock()
	if ok {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if g.closed.Load() {
		return nil
	}
	if c, ok := s.m[k]; ok {
		return c
	}
	c = New[V](Options[V]{
		Producer:       g.opt.ProducerFor(k),
		AbortOnAbandon: g.opt.AbortOnAbandon,
		Metrics:        g.opt.Metrics,
		Clock:          g.opt.Clock,
	})
	s.m[k] = c
	s.created.Add(1)
	return c
}

// shard picks a shard by hashing the key. Shard count is a power of two.
func (g *Group[K, V]) shard(k K) *groupShard[K, V] {
	return g.shards[util.ShardIndex(g.hash(k), len(g.shards))]
}
