package prom

import (
	"time"

	"github.com/IvanBrykalov/onceflight/flight"
	"github.com/prometheus/client_golang/prometheus"
)

// Adapter implements flight.Metrics and exports Prometheus counters plus a
// fill-duration histogram. Safe for concurrent use; all Prometheus metric
// types are goroutine-safe.
type Adapter struct {
	hits    prometheus.Counter
	joins   prometheus.Counter
	starts  prometheus.Counter
	fills   *prometheus.CounterVec
	cancels prometheus.Counter
	aborts  prometheus.Counter
	fillDur prometheus.Histogram
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "hits_total",
			Help:        "Gets served from a filled cache without blocking",
			ConstLabels: constLabels,
		}),
		joins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "joins_total",
			Help:        "Gets that joined an already in-flight production",
			ConstLabels: constLabels,
		}),
		starts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "starts_total",
			Help:        "Production epochs started (producer invocations)",
			ConstLabels: constLabels,
		}),
		fills: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "fills_total",
				Help:        "Production epochs completed, by outcome",
				ConstLabels: constLabels,
			},
			[]string{"outcome"},
		),
		cancels: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "cancels_total",
			Help:        "Waiters that withdrew their own wait",
			ConstLabels: constLabels,
		}),
		aborts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "aborts_total",
			Help:        "Epochs torn down after the last waiter withdrew",
			ConstLabels: constLabels,
		}),
		fillDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "fill_duration_seconds",
			Help:        "Wall time from producer start to fill",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(a.hits, a.joins, a.starts, a.fills, a.cancels, a.aborts, a.fillDur)
	return a
}

// Hit increments the fast-path hit counter.
func (a *Adapter) Hit() { a.hits.Inc() }

// Join increments the in-flight join counter.
func (a *Adapter) Join() { a.joins.Inc() }

// Start increments the epoch-start counter.
func (a *Adapter) Start() { a.starts.Inc() }

// Fill increments the epoch-completion counter with an outcome label.
func (a *Adapter) Fill(failed bool) {
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	a.fills.WithLabelValues(outcome).Inc()
}

// Cancel increments the waiter-withdrawal counter.
func (a *Adapter) Cancel() { a.cancels.Inc() }

// Abort increments the epoch-abort counter.
func (a *Adapter) Abort() { a.aborts.Inc() }

// ObserveFill records the fill duration.
func (a *Adapter) ObserveFill(d time.Duration) { a.fillDur.Observe(d.Seconds()) }

// Compile-time check: ensure Adapter implements flight.Metrics.
var _ flight.Metrics = (*Adapter)(nil)
