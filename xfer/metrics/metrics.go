// Package metrics holds the Prometheus instrumentation shared across
// the scheduler, rate limiter, and mirror engine — an ambient concern
// several backends in the wider example pack wire up but spec.md never
// names; carried anyway per the "ambient stack regardless of
// non-goals" rule.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// SchedulerTicks counts scheduler loop iterations.
	SchedulerTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "xfer",
		Subsystem: "scheduler",
		Name:      "ticks_total",
		Help:      "Number of scheduler loop iterations.",
	})
	// SchedulerSteps counts Step() calls by their result (moved/stalled).
	SchedulerSteps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xfer",
		Subsystem: "scheduler",
		Name:      "steps_total",
		Help:      "Number of Task.Step calls by result.",
	}, []string{"result"})

	// RateLimiterBytesUsed counts bytes consumed from rate-limiter
	// buckets by direction (get/put).
	RateLimiterBytesUsed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xfer",
		Subsystem: "ratelimit",
		Name:      "bytes_used_total",
		Help:      "Bytes debited from rate-limiter buckets.",
	}, []string{"direction"})

	// MirrorFiles counts mirror-engine per-entry actions by outcome.
	MirrorFiles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xfer",
		Subsystem: "mirror",
		Name:      "files_total",
		Help:      "Mirror engine per-file outcomes.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(SchedulerTicks, SchedulerSteps, RateLimiterBytesUsed, MirrorFiles)
}
