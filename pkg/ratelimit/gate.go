// Package ratelimit implements admission control for outbound IGDB requests.
// IGDB enforces 4 requests per second and 8 concurrent requests per client;
// the gate combines a token bucket and a concurrency semaphore so every
// outbound call stays inside both limits with a configurable safety margin.
package ratelimit

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Prometheus metrics for gate admission.
var (
	gateInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "igdb_rate_gate_inflight",
		Help: "Number of requests currently holding a concurrency slot",
	})

	gateAcquiresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "igdb_rate_gate_acquires_total",
		Help: "Total number of successful gate acquisitions",
	})

	gateWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "igdb_rate_gate_wait_seconds",
		Help:    "Time spent waiting for a concurrency slot and a rate token",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})
)

// MaxRequestsPerSecond and MaxAllowedConcurrency are the documented IGDB
// hard caps. Configurations above them get rejected rather than clamped.
const (
	MaxRequestsPerSecond  = 4.0
	MaxAllowedConcurrency = 8
)

// Defaults sit below the hard caps to leave headroom for clock drift and
// retried requests.
const (
	DefaultRequestsPerSecond = 3.2
	DefaultMaxConcurrency    = 4
)

// Gate guards every outbound API call with a token-bucket rate limit and a
// concurrency cap. A nil *Gate is a valid disabled gate: Acquire and Release
// become no-ops, so call sites never need a conditional.
type Gate struct {
	limiter *rate.Limiter
	slots   *semaphore.Weighted
}

// New creates a gate admitting at most requestsPerSecond sustained requests
// and maxConcurrency requests in flight. Non-positive arguments fall back to
// the defaults.
func New(requestsPerSecond float64, maxConcurrency int64) *Gate {
	if requestsPerSecond <= 0 {
		requestsPerSecond = DefaultRequestsPerSecond
	}
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}

	return &Gate{
		// Burst 1 keeps admissions evenly spaced at the configured rate.
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		slots:   semaphore.NewWeighted(maxConcurrency),
	}
}

// Acquire blocks until both a concurrency slot and a rate token are
// available, or the context is cancelled. The slot is taken first so a
// request waiting on the token bucket still reserves its concurrency slot.
// Every successful Acquire must be paired with Release.
func (g *Gate) Acquire(ctx context.Context) error {
	if g == nil {
		return nil
	}

	start := time.Now()

	if err := g.slots.Acquire(ctx, 1); err != nil {
		return err
	}

	if err := g.limiter.Wait(ctx); err != nil {
		g.slots.Release(1)
		return err
	}

	gateInflight.Inc()
	gateAcquiresTotal.Inc()
	gateWaitSeconds.Observe(time.Since(start).Seconds())

	return nil
}

// Release frees the concurrency slot. Rate tokens replenish on their own
// schedule and are never returned manually.
func (g *Gate) Release() {
	if g == nil {
		return
	}

	gateInflight.Dec()
	g.slots.Release(1)
}
