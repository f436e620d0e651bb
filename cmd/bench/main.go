// Command bench runs a synthetic workload against a flight.Group and exposes
// optional pprof/Prometheus endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/IvanBrykalov/onceflight/flight"
	pmet "github.com/IvanBrykalov/onceflight/metrics/prom"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	// ---- Flags ----
	var (
		shards = flag.Int("shards", 0, "registry shards (0=auto)")
		abort  = flag.Bool("abort", false, "abort production when the last waiter cancels")

		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")

		keys       = flag.Int("keys", 10_000, "keyspace size")
		latency    = flag.Duration("latency", 2*time.Millisecond, "simulated producer latency")
		forgetPct  = flag.Int("forgets", 1, "Forget percentage [0..100]")
		timeoutPct = flag.Int("timeouts", 10, "percentage of Gets with a tight deadline [0..100]")
		seed       = flag.Int64("seed", time.Now().UnixNano(), "random seed")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	flag.Parse()

	// ---- pprof server (on DefaultServeMux) ----
	if *pprofAddr != "" {
		go func() {
			log.Printf("pprof: serving at %s", *pprofAddr)
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	// ---- Prometheus metrics (on DefaultServeMux) ----
	metrics := pmet.New(nil, "onceflight", "bench", nil)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Printf("metrics: serving at %s", *metricsAddr)
		log.Println(http.ListenAndServe(*metricsAddr, nil))
	}()

	// ---- Build the group ----
	var produced atomic.Uint64
	producerLatency := *latency
	g := flight.NewGroup[string, string](flight.GroupOptions[string, string]{
		Shards:         *shards,
		AbortOnAbandon: *abort,
		Metrics:        metrics,
		ProducerFor: func(k string) flight.Producer[string] {
			return func(ctx context.Context) (string, error) {
				produced.Add(1)
				select {
				case <-time.After(producerLatency):
					return "v:" + k, nil
				case <-ctx.Done():
					return "", ctx.Err()
				}
			}
		},
	})
	defer func() { _ = g.Close() }()

	// ---- Snapshot flags for goroutines ----
	keysN := *keys
	forgets := *forgetPct
	timeouts := *timeoutPct
	seedBase := *seed
	workersN := *workers
	if workersN <= 0 {
		workersN = 1
	}

	// ---- Load generation ----
	var gets, values, cancels, forgotten uint64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	var eg errgroup.Group
	for w := 0; w < workersN; w++ {
		id := w
		eg.Go(func() error {
			// Each worker gets its own RNG (rand.Rand is NOT goroutine-safe).
			r := rand.New(rand.NewSource(seedBase + int64(id)*9973))

			for ctx.Err() == nil {
				k := "k:" + strconv.Itoa(r.Intn(keysN))

				if int(r.Int31n(100)) < forgets {
					if g.Forget(k) {
						atomic.AddUint64(&forgotten, 1)
					}
					continue
				}

				atomic.AddUint64(&gets, 1)
				gctx := ctx
				gcancel := context.CancelFunc(func() {})
				if int(r.Int31n(100)) < timeouts {
					gctx, gcancel = context.WithTimeout(ctx, producerLatency/2)
				}
				_, err := g.Get(gctx, k)
				gcancel()
				switch {
				case err == nil:
					atomic.AddUint64(&values, 1)
				case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
					atomic.AddUint64(&cancels, 1)
				case errors.Is(err, flight.ErrClosed):
					// A racing Forget closed this key's instance.
				default:
					return err
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		log.Fatalf("worker failed: %v", err)
	}
	elapsed := time.Since(start)

	// ---- Report ----
	getsN := atomic.LoadUint64(&gets)
	fmt.Printf("shards=%d abort=%v workers=%d keys=%d latency=%v dur=%v seed=%d\n",
		*shards, *abort, workersN, keysN, producerLatency, elapsed, seedBase)
	fmt.Printf("gets=%d values=%d cancelled=%d forgets=%d producer_runs=%d instances=%d\n",
		getsN, atomic.LoadUint64(&values), atomic.LoadUint64(&cancels),
		atomic.LoadUint64(&forgotten), produced.Load(), g.Len())
	if getsN > 0 {
		coalesced := 0.0
		if runs := produced.Load(); getsN > runs {
			coalesced = float64(getsN-runs) / float64(getsN) * 100
		}
		fmt.Printf("throughput=%.0f ops/s coalesced=%.1f%%\n",
			float64(getsN)/elapsed.Seconds(), coalesced)
	}
}
