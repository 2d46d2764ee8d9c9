package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var _ MetricsRecorder = (*PrometheusMetricsRecorder)(nil)

// PrometheusMetricsRecorder exports processor metrics through a Prometheus
// registry, for deployments already scraping one.
type PrometheusMetricsRecorder struct {
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	retained   *prometheus.CounterVec
	dropped    *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder constructs a recorder and registers its
// collectors with reg. Passing nil uses the default registerer.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) *PrometheusMetricsRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	rec := &PrometheusMetricsRecorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lhecore_operations_total",
			Help: "Processor operations by result.",
		}, []string{"operation", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "lhecore_operation_duration_seconds",
			Help: "Duration of processor operations.",
		}, []string{"operation"}),
		retained: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lhecore_events_retained_total",
			Help: "Events retained in the dataset per sample.",
		}, []string{"sample"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lhecore_events_dropped_total",
			Help: "Events dropped by the required-observable policy per sample.",
		}, []string{"sample"}),
	}
	reg.MustRegister(rec.operations, rec.durations, rec.retained, rec.dropped)
	return rec
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	r.operations.WithLabelValues(operation, status).Inc()
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
}

// CountEvents implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) CountEvents(_ context.Context, sample string, retained, dropped int) {
	r.retained.WithLabelValues(sample).Add(float64(retained))
	r.dropped.WithLabelValues(sample).Add(float64(dropped))
}
