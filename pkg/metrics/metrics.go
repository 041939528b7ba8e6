package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector provides Prometheus metrics collection for daybook operations
type MetricsCollector struct {
	syncsTotal    *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	errorsTotal   *prometheus.CounterVec
	recordCount   *prometheus.GaugeVec
	activeTier    *prometheus.GaugeVec
	registry      *prometheus.Registry
}

// NewCollector creates a new Prometheus metrics collector
func NewCollector() *MetricsCollector {
	registry := prometheus.NewRegistry()

	syncsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daybook_syncs_total",
			Help: "Total number of sync runs by status",
		},
		[]string{"status"},
	)

	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "daybook_sync_stage_duration_seconds",
			Help:    "Duration of sync stages",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		},
		[]string{"stage"},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daybook_errors_total",
			Help: "Total number of errors by operation and classification",
		},
		[]string{"operation", "error_type"},
	)

	recordCount := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "daybook_record_count",
			Help: "Current count of stored records by kind",
		},
		[]string{"kind"},
	)

	activeTier := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "daybook_active_tier",
			Help: "Which storage tier is active (1 for the active tier, 0 otherwise)",
		},
		[]string{"tier"},
	)

	registry.MustRegister(syncsTotal)
	registry.MustRegister(stageDuration)
	registry.MustRegister(errorsTotal)
	registry.MustRegister(recordCount)
	registry.MustRegister(activeTier)

	return &MetricsCollector{
		syncsTotal:    syncsTotal,
		stageDuration: stageDuration,
		errorsTotal:   errorsTotal,
		recordCount:   recordCount,
		activeTier:    activeTier,
		registry:      registry,
	}
}

// RecordSync records the completion of a sync run
func (m *MetricsCollector) RecordSync(ctx context.Context, status string, durationMs int64) {
	m.syncsTotal.WithLabelValues(status).Inc()
}

// RecordStage records the duration of a specific stage within a sync run
func (m *MetricsCollector) RecordStage(ctx context.Context, stage string, durationMs int64) {
	m.stageDuration.WithLabelValues(stage).Observe(float64(durationMs) / 1000.0)
}

// RecordError records an error occurrence
func (m *MetricsCollector) RecordError(ctx context.Context, operation string, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

// SetRecordCount sets the current count for a record kind
func (m *MetricsCollector) SetRecordCount(ctx context.Context, kind string, count int64) {
	m.recordCount.WithLabelValues(kind).Set(float64(count))
}

// SetActiveTier marks one tier as active and the others as inactive
func (m *MetricsCollector) SetActiveTier(ctx context.Context, tier string) {
	for _, t := range []string{"primary", "secondary", "tertiary"} {
		v := 0.0
		if t == tier {
			v = 1.0
		}
		m.activeTier.WithLabelValues(t).Set(v)
	}
}

// Registry returns the Prometheus registry for HTTP exposure
func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}
