package flight

import "time"

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	// Hit — Get returned a stored result without blocking.
	Hit()
	// Join — Get registered into an already in-flight epoch.
	Join()
	// Start — an epoch started; the producer was invoked.
	Start()
	// Fill — an epoch completed and its result was stored.
	// failed reports whether the stored result is an error.
	Fill(failed bool)
	// Cancel — a waiter withdrew its own wait.
	Cancel()
	// Abort — an in-flight epoch was torn down because the last waiter
	// withdrew under the AbortOnAbandon policy.
	Abort()
	// ObserveFill — wall time from producer start to fill.
	ObserveFill(d time.Duration)
}

// NoopMetrics is a drop-in Metrics implementation that does nothing.
// It is safe for concurrent use and intended as the default when
// no observability backend is configured.
type NoopMetrics struct{}

func (NoopMetrics) Hit()                      {}
func (NoopMetrics) Join()                     {}
func (NoopMetrics) Start()                    {}
func (NoopMetrics) Fill(bool)                 {}
func (NoopMetrics) Cancel()                   {}
func (NoopMetrics) Abort()                    {}
func (NoopMetrics) ObserveFill(time.Duration) {}

// Ensure NoopMetrics implements the Metrics interface at compile time.
var _ Metrics = NoopMetrics{}

// Clock provides time in UnixNano; useful for deterministic tests.
type Clock interface{ NowUnixNano() int64 }

type systemClock struct{}

func (systemClock) NowUnixNano() int64 { return time.Now().UnixNano() }
