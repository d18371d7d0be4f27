package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WorkersTarget is the configured pool size.
	WorkersTarget = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_target",
			Help:      "Configured number of request workers",
		},
	)

	// WorkersByState tracks how many workers sit in each lifecycle state.
	WorkersByState = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers",
			Help:      "Number of request workers by lifecycle state",
		},
		[]string{"state"},
	)

	// WorkerCrashesTotal counts workers that exited with a fault.
	WorkerCrashesTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_crashes_total",
			Help:      "Total number of worker crashes",
		},
	)

	// WorkerRestartsTotal counts replacement workers spawned after a crash.
	WorkerRestartsTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_restarts_total",
			Help:      "Total number of replacement workers spawned",
		},
	)
)
