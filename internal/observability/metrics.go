package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds rcm's metrics. A private registry keeps textfile exports
// free of Go runtime collectors.
var Registry = prometheus.NewRegistry()

var (
	registerOnce sync.Once

	dispatchActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rcm",
			Subsystem: "dispatch",
			Name:      "actions_total",
			Help:      "Dispatched actions by endpoint, kind and result.",
		},
		[]string{"endpoint", "kind", "result"},
	)
	dispatchActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rcm",
			Subsystem: "dispatch",
			Name:      "action_duration_seconds",
			Help:      "Remote action duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint", "kind"},
	)
	endpointOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rcm",
			Subsystem: "dispatch",
			Name:      "endpoint_outcomes_total",
			Help:      "Endpoint dispatch outcomes.",
		},
		[]string{"endpoint", "outcome"},
	)
	lastSync = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rcm",
			Subsystem: "sync",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last dispatch per endpoint and outcome.",
		},
		[]string{"endpoint", "outcome"},
	)
	servicesGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rcm",
			Subsystem: "sync",
			Name:      "services",
			Help:      "Services in the last parsed set per side.",
		},
		[]string{"side"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		Registry.MustRegister(dispatchActions, dispatchActionDuration, endpointOutcomes, lastSync, servicesGauge)
	})
}

// RecordAction counts one finished action. result is "ok", "error" or "unknown".
func RecordAction(endpoint, kind, result string, duration time.Duration) {
	RegisterMetrics()
	dispatchActions.WithLabelValues(endpoint, kind, result).Inc()
	dispatchActionDuration.WithLabelValues(endpoint, kind).Observe(duration.Seconds())
}

func RecordEndpoint(endpoint, outcome string, at time.Time) {
	RegisterMetrics()
	endpointOutcomes.WithLabelValues(endpoint, outcome).Inc()
	lastSync.WithLabelValues(endpoint, outcome).Set(float64(at.Unix()))
}

// RecordServices sets the service count for "local" or "remote".
func RecordServices(side string, count int) {
	RegisterMetrics()
	servicesGauge.WithLabelValues(side).Set(float64(count))
}

// WriteTextfile exports the registry in the node_exporter textfile format.
func WriteTextfile(path string) error {
	RegisterMetrics()
	return prometheus.WriteToTextfile(path, Registry)
}
