// Package observability holds the Prometheus metrics of extraction and evaluation runs.
// Runs are short-lived, so metrics are pushed to a Pushgateway when one is configured.
package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "snoweval"

// Metrics holds the counters, histograms, and gauges of a run.
type Metrics struct {
	registry *prometheus.Registry

	Extractions      *prometheus.CounterVec // labels: outcome={written,skipped,empty,exists,error}
	Observations     *prometheus.CounterVec // labels: kind={swe,snow_depth}
	StationsRetained prometheus.Gauge
	StageDuration    *prometheus.HistogramVec // labels: stage={metadata,query,write,runtime}
	RuntimeFailures  prometheus.Counter
	LastSuccess      prometheus.Gauge
}

// NewMetrics creates all run metrics on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Extraction requests by outcome.",
		}, []string{"outcome"}),
		Observations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_written_total",
			Help:      "Observations written to artifacts by kind.",
		}, []string{"kind"}),
		StationsRetained: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stations_retained",
			Help:      "Stations kept by the last station filter.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each run stage.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"stage"}),
		RuntimeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runtime_failures_total",
			Help:      "Statistical runtime invocations that exited non-zero.",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful extraction.",
		}),
	}

	m.registry.MustRegister(
		m.Extractions,
		m.Observations,
		m.StationsRetained,
		m.StageDuration,
		m.RuntimeFailures,
		m.LastSuccess,
	)

	return m
}

// NewMetricsForTesting is NewMetrics; each call has its own registry so tests never collide.
func NewMetricsForTesting() *Metrics {
	return NewMetrics()
}

// Registry exposes the registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveStage records how long a stage took since start.
func (m *Metrics) ObserveStage(stage string, start time.Time, now time.Time) {
	m.StageDuration.WithLabelValues(stage).Observe(now.Sub(start).Seconds())
}

// Push sends every metric to the Pushgateway at url under job.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if job == "" {
		job = namespace
	}
	if err := push.New(url, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}
