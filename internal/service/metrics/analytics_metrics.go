package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AnalyticsMetrics tracks the analytics API per endpoint.
type AnalyticsMetrics struct {
	Latency *prometheus.HistogramVec
	Errors  *prometheus.CounterVec
}

// NewAnalyticsMetrics registers the endpoint vectors on reg.
func NewAnalyticsMetrics(reg prometheus.Registerer) *AnalyticsMetrics {
	f := promauto.With(reg)
	return &AnalyticsMetrics{
		Latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "agropulse",
				Subsystem: "analytics",
				Name:      "latency_seconds",
				Help:      "Latency of analytics endpoints",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		Errors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agropulse",
				Subsystem: "analytics",
				Name:      "errors_total",
				Help:      "Errors by analytics endpoint",
			},
			[]string{"endpoint"},
		),
	}
}

// Observe records one call of endpoint that began at start.
func (m *AnalyticsMetrics) Observe(endpoint string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.Latency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		m.Errors.WithLabelValues(endpoint).Inc()
	}
}
