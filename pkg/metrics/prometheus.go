package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	ingested    *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	modelMAE    *prometheus.GaugeVec
	modelR2     *prometheus.GaugeVec
	alertsTotal *prometheus.CounterVec
}

// New creates a recorder registered on the default Prometheus registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a recorder on reg. Tests pass a fresh prometheus.NewRegistry().
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		ingested: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agropulse_observations_total",
				Help: "Observations received by the series store, by outcome",
			},
			[]string{"result"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agropulse_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agropulse_operation_duration_seconds",
				Help:    "Duration of engine operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		modelMAE: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "agropulse_model_validation_mae",
				Help: "Holdout mean absolute error of the installed forecast model",
			},
			[]string{"series"},
		),
		modelR2: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "agropulse_model_validation_r2",
				Help: "Holdout coefficient of determination of the installed forecast model",
			},
			[]string{"series"},
		),
		alertsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agropulse_alerts_total",
				Help: "Alerts created or refreshed by the alert engine",
			},
			[]string{"kind", "severity"},
		),
	}
}

// RecordIngest records the outcome counts of one batch.
func (r *Recorder) RecordIngest(accepted, rejected int) {
	r.ingested.WithLabelValues("accepted").Add(float64(accepted))
	r.ingested.WithLabelValues("rejected").Add(float64(rejected))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordModelQuality publishes the validation metrics of a freshly trained model.
func (r *Recorder) RecordModelQuality(key string, mae, r2 float64) {
	r.modelMAE.WithLabelValues(key).Set(mae)
	r.modelR2.WithLabelValues(key).Set(r2)
}

// RecordAlert counts an emitted alert.
func (r *Recorder) RecordAlert(kind, severity string) {
	r.alertsTotal.WithLabelValues(kind, severity).Inc()
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordIngest(int, int)                       {}
func (Nop) RecordError(string)                          {}
func (Nop) RecordLatency(string, float64)               {}
func (Nop) RecordModelQuality(string, float64, float64) {}
func (Nop) RecordAlert(string, string)                  {}
