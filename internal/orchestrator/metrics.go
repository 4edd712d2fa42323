package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "hopper"

// Dispatch outcomes used as the "outcome" label.
const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeNoWorker  = "no_worker"
	outcomeTimeout   = "timeout"
	outcomeCanceled  = "canceled"
)

// Metrics are the coordinator's Prometheus collectors. Each Coordinator
// owns its own set so that several can share a process.
type Metrics struct {
	dispatches       *prometheus.CounterVec
	dispatchDuration prometheus.Histogram
	layers           prometheus.Counter
	queries          *prometheus.CounterVec
	inFlight         prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg when reg
// is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "coordinator",
				Name:      "dispatches_total",
				Help:      "sub-query dispatches by outcome",
			}, []string{"outcome"}),
		dispatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "coordinator",
				Name:      "dispatch_duration_seconds",
				Help:      "time from dispatch to worker release",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
			}),
		layers: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "coordinator",
				Name:      "layers_total",
				Help:      "execution layers run to their barrier",
			}),
		queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "coordinator",
				Name:      "queries_total",
				Help:      "orchestrated queries by final status",
			}, []string{"status"}),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "coordinator",
				Name:      "dispatches_in_flight",
				Help:      "sub-queries currently executing on a worker",
			}),
	}
	if reg != nil {
		reg.MustRegister(m.dispatches, m.dispatchDuration, m.layers, m.queries, m.inFlight)
	}
	return m
}
