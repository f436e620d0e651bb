package flight

import (
	"context"
	"errors"
	"math/rand"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Many epochs of randomized cancel/complete races on one cache.
// Every Get must resolve exactly once: with the shared value or with its
// own ctx error, never anything else. Should pass under `-race`.
func TestRace_CancelCompleteStorm(t *testing.T) {
	for _, abort := range []bool{false, true} {
		name := "keepFilling"
		if abort {
			name = "abortOnAbandon"
		}
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var produced atomic.Int64
			c := New[int64](Options[int64]{
				Producer: func(ctx context.Context) (int64, error) {
					// Random small latency so cancellations land on both
					// sides of completion.
					select {
					case <-time.After(time.Duration(rand.Intn(1500)) * time.Microsecond):
						return produced.Add(1), nil
					case <-ctx.Done():
						return 0, ctx.Err()
					}
				},
				AbortOnAbandon: abort,
			})
			t.Cleanup(func() { _ = c.Close() })

			workers := 4 * runtime.GOMAXPROCS(0)
			const epochs = 40

			for e := 0; e < epochs; e++ {
				var wg sync.WaitGroup
				wg.Add(workers)
				for w := 0; w < workers; w++ {
					go func(id int) {
						defer wg.Done()
						ctx, cancel := context.WithTimeout(context.Background(),
							time.Duration(id%3)*time.Millisecond)
						defer cancel()

						v, err := c.Get(ctx)
						switch {
						case err == nil:
							if v <= 0 {
								t.Errorf("bogus value %d", v)
							}
						case errors.Is(err, context.DeadlineExceeded):
						case errors.Is(err, context.Canceled):
						default:
							t.Errorf("unexpected error: %v", err)
						}
					}(w)
				}
				wg.Wait()

				// Settle the epoch so the next round starts clean: a plain
				// Get either hits the filled result or drives a fresh
				// production to completion.
				if v, err := c.Get(context.Background()); err != nil || v <= 0 {
					t.Fatalf("settling Get: v=%d err=%v", v, err)
				}
				c.Reset()
			}
		})
	}
}

// A mixed workload of concurrent Get/Forget on random keys.
// Should pass under `-race` without detector reports.
func TestRace_GroupMixed(t *testing.T) {
	t.Parallel()

	g := NewGroup[string, string](GroupOptions[string, string]{
		Shards: 16,
		ProducerFor: func(k string) Producer[string] {
			return func(ctx context.Context) (string, error) {
				select {
				case <-time.After(time.Duration(rand.Intn(500)) * time.Microsecond):
					return "v:" + k, nil
				case <-ctx.Done():
					return "", ctx.Err()
				}
			}
		},
	})
	t.Cleanup(func() { _ = g.Close() })

	workers := 4 * runtime.GOMAXPROCS(0)
	keyspace := 64
	deadline := time.Now().Add(2 * time.Second)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)*9973))
			for time.Now().Before(deadline) {
				k := "k:" + strconv.Itoa(r.Intn(keyspace))
				switch r.Intn(100) {
				case 0, 1, 2, 3, 4: // ~5% — Forget
					g.Forget(k)
				default: // ~95% — Get, sometimes with a tight deadline
					ctx := context.Background()
					cancel := context.CancelFunc(func() {})
					if r.Intn(4) == 0 {
						ctx, cancel = context.WithTimeout(ctx, 200*time.Microsecond)
					}
					v, err := g.Get(ctx, k)
					cancel()
					if err == nil && v != "v:"+k {
						t.Errorf("key %q: got %q", k, v)
					}
				}
			}
		}(w)
	}
	wg.Wait()
}
