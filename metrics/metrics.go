// Package metrics exposes Prometheus collectors for proving, verification
// and worker pool activity.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "zksym"

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultInvalid = "invalid"
)

// Metrics is a set of collectors registered on one registerer.
type Metrics struct {
	proofs        *prometheus.CounterVec
	proveDuration *prometheus.HistogramVec
	verifications *prometheus.CounterVec
	workers       *prometheus.GaugeVec
}

// Registry holds the collectors returned by Default.
var Registry = prometheus.NewRegistry()

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the collectors registered on Registry. Operators created
// without their own collectors record on them.
func Default() *Metrics {
	defaultOnce.Do(func() { defaultMetrics = New(Registry) })
	return defaultMetrics
}

// New registers the collectors on reg. A nil reg registers them on a fresh
// registry, so the result is private to the caller.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		proofs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "proving",
				Name:      "proofs_total",
				Help:      "Total number of generated proofs",
			},
			[]string{"engine", "algorithm", "result"},
		),
		proveDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "proving",
				Name:      "duration_seconds",
				Help:      "Proof generation duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"engine", "algorithm"},
		),
		verifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "verifying",
				Name:      "results_total",
				Help:      "Total number of proof verifications",
			},
			[]string{"engine", "algorithm", "result"},
		),
		workers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "workers",
				Name:      "active",
				Help:      "Number of live worker contexts",
			},
			[]string{"engine"},
		),
	}
}

// ObserveProof records a finished proof generation.
func (m *Metrics) ObserveProof(engine, algorithm string, start time.Time, err error) {
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	m.proofs.WithLabelValues(engine, algorithm, result).Inc()
	if err == nil {
		m.proveDuration.WithLabelValues(engine, algorithm).Observe(time.Since(start).Seconds())
	}
}

// ObserveVerification records a finished verification.
func (m *Metrics) ObserveVerification(engine, algorithm string, valid bool, err error) {
	result := ResultSuccess
	switch {
	case err != nil:
		result = ResultFailure
	case !valid:
		result = ResultInvalid
	}
	m.verifications.WithLabelValues(engine, algorithm, result).Inc()
}

// WorkerStarted increments the live worker gauge.
func (m *Metrics) WorkerStarted(engine string) {
	m.workers.WithLabelValues(engine).Inc()
}

// WorkersStopped decrements the live worker gauge by n.
func (m *Metrics) WorkersStopped(engine string, n int) {
	m.workers.WithLabelValues(engine).Sub(float64(n))
}
