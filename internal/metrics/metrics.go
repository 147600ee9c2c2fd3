// Package metrics holds Prometheus instruments shared by the read path.
// All collectors are registered with the global registry, so importing this
// package in main.go is enough to expose them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Dispatch outcomes used as the "outcome" label.
const (
	OutcomeOK          = "ok"
	OutcomeDenied      = "denied"
	OutcomeMalformed   = "malformed"
	OutcomeUnknown     = "unknown_plugin"
	OutcomeLockTimeout = "lock_timeout"
	OutcomeError       = "error"
)

var (
	DispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "piliskor_read_dispatch_total",
			Help: "Read dispatches by plugin and outcome.",
		}, []string{"plugin", "outcome"})

	AccessChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "piliskor_read_access_checks_total",
			Help: "Access checks by plugin and result.",
		}, []string{"plugin", "allowed"})

	LockWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "piliskor_read_lock_wait_seconds",
			Help:    "Time spent waiting for the read lock.",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		})

	LockTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "piliskor_read_lock_timeouts_total",
			Help: "Read lock acquisitions that gave up after the timeout.",
		})

	LockReleaseErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "piliskor_read_lock_release_errors_total",
			Help: "Read lock releases that reported an error.",
		})

	CriticalSectionSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "piliskor_read_critical_section_seconds",
			Help:    "Time spent in CreateResponse while holding the read lock.",
			Buckets: prometheus.DefBuckets,
		}, []string{"plugin"})
)

func init() {
	prometheus.MustRegister(
		DispatchTotal,
		AccessChecksTotal,
		LockWaitSeconds,
		LockTimeoutsTotal,
		LockReleaseErrorsTotal,
		CriticalSectionSeconds,
	)
}
