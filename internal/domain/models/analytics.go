package models

import "time"

// MaxForecastHorizon bounds every forecast request, in days.
const MaxForecastHorizon = 30

// ForecastBandNote is attached to every ForecastResult.
const ForecastBandNote = "band = k x validation MAE x day offset; heuristic widening, not a statistical interval"

// ForecastModel is the per-key model metadata owned by the Forecaster.
type ForecastModel struct {
	Key              SeriesKey `json:"key"`
	Coefficients     []float64 `json:"coefficients"` // intercept first, then FeatureNames order
	TrainFrom        time.Time `json:"train_from"`
	TrainTo          time.Time `json:"train_to"`
	SampleCount      int       `json:"sample_count"`
	ObservationCount int       `json:"observation_count"`
	MAE              float64   `json:"mae"`
	R2               float64   `json:"r2"`
	TrainedAt        time.Time `json:"trained_at"`
}

// ModelQuality is the validation snapshot carried on a ForecastResult.
type ModelQuality struct {
	MAE         float64   `json:"mae"`
	R2          float64   `json:"r2"`
	SampleCount int       `json:"sample_count"`
	TrainedAt   time.Time `json:"trained_at"`
}

// ForecastPoint is the prediction for one future day.
type ForecastPoint struct {
	Date  time.Time `json:"date"`
	Price float64   `json:"price"`
	Lower float64   `json:"lower"`
	Upper float64   `json:"upper"`
}

// ForecastResult is an immutable forecast. A new request yields a new result.
type ForecastResult struct {
	Key         SeriesKey       `json:"key"`
	Horizon     int             `json:"horizon"`
	GeneratedAt time.Time       `json:"generated_at"`
	LastDate    time.Time       `json:"last_date"`
	LastPrice   float64         `json:"last_price"`
	Points      []ForecastPoint `json:"points"`
	Quality     ModelQuality    `json:"quality"`
	BandNote    string          `json:"band_note"`
	Confidence  float64         `json:"confidence"` // holdout R² clamped to [0, 1]
	RiskLevel   string          `json:"risk_level"`
}

// Severity ranks anomalies and alerts.
type Severity string

const (
	SeverityNone   Severity = "none"
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether s is as severe as min.
func (s Severity) AtLeast(min Severity) bool { return s.Rank() >= min.Rank() }

// AnomalyScore is the evaluation of one daily observation.
// Evaluable is false when too little history precedes the date.
type AnomalyScore struct {
	Key       SeriesKey `json:"key"`
	Date      time.Time `json:"date"`
	Observed  float64   `json:"observed"`
	Expected  float64   `json:"expected"`
	Score     float64   `json:"score"`
	Severity  Severity  `json:"severity"`
	Evaluable bool      `json:"evaluable"`
}

// AnomalyFlag is a scored observation that crossed the low tier.
type AnomalyFlag struct {
	Key       SeriesKey `json:"key"`
	Date      time.Time `json:"date"`
	Observed  float64   `json:"observed"`
	Expected  float64   `json:"expected"`
	Score     float64   `json:"score"`
	Severity  Severity  `json:"severity"`
	Direction string    `json:"direction"`
}

// MarketFeatures is the aggregated vector clustered per market.
type MarketFeatures struct {
	Market            string  `json:"market"`
	PriceLevel        float64 `json:"price_level"`
	Volatility        float64 `json:"volatility"`
	SeasonalAmplitude float64 `json:"seasonal_amplitude"`
	Diversity         float64 `json:"diversity"`
	Observations      float64 `json:"observations"`
}

// Values returns the clustering dimensions in a fixed order.
func (m MarketFeatures) Values() []float64 {
	return []float64{m.PriceLevel, m.Volatility, m.SeasonalAmplitude, m.Diversity, m.Observations}
}

// ClusterAssignment places one market in a cluster.
type ClusterAssignment struct {
	Market           string  `json:"market"`
	ClusterID        int     `json:"cluster_id"`
	CentroidDistance float64 `json:"centroid_distance"`
	Label            string  `json:"label"`
}

// ClusterSet is computed jointly for all markets of one snapshot.
type ClusterSet struct {
	EvaluatedAt     time.Time           `json:"evaluated_at"`
	SnapshotVersion uint64              `json:"snapshot_version"`
	K               int                 `json:"k"`
	Inertia         float64             `json:"inertia"`
	Assignments     []ClusterAssignment `json:"assignments"`
	Centroids       [][]float64         `json:"centroids"`
	Features        []MarketFeatures    `json:"features"`
}

// ElasticityMethod tells how a coefficient was estimated.
type ElasticityMethod string

const (
	MethodVolumeRegression ElasticityMethod = "volume_regression"
	MethodDispersionProxy  ElasticityMethod = "dispersion_proxy"
)

// ElasticityEstimate relates price variation across markets or origins.
// When IsProxy is true the coefficient is a dispersion proxy, not a causal elasticity.
type ElasticityEstimate struct {
	Product           string           `json:"product"`
	Reference         string           `json:"reference"`
	Coefficient       float64          `json:"coefficient"`
	Lower             float64          `json:"lower"`
	Upper             float64          `json:"upper"`
	Method            ElasticityMethod `json:"method"`
	IsProxy           bool             `json:"is_proxy"`
	Category          string           `json:"category"`
	SampleCount       int              `json:"sample_count"`
	WindowFrom        time.Time        `json:"window_from"`
	WindowTo          time.Time        `json:"window_to"`
	Shift             float64          `json:"shift"`
	PreviousAvailable bool             `json:"previous_available"`
	Sensitivity       string           `json:"sensitivity"`
}

// ProductReturnStats summarizes one product's return series.
type ProductReturnStats struct {
	Product              string  `json:"product"`
	Returns              int     `json:"returns"`
	MeanReturn           float64 `json:"mean_return"`
	Volatility           float64 `json:"volatility"`
	Score                float64 `json:"score"`
	Weight               float64 `json:"weight"`
	AnnualizedReturn     float64 `json:"annualized_return"`
	AnnualizedVolatility float64 `json:"annualized_volatility"`
	Sharpe               float64 `json:"sharpe"`
	RiskCategory         string  `json:"risk_category"`
	WeightRecommendation string  `json:"weight_recommendation"`
}

// ExcludedProduct is a product left out of the allocation.
type ExcludedProduct struct {
	Product string `json:"product"`
	Reason  string `json:"reason"`
}

// PortfolioAllocation maps products to non-negative weights summing to 1.
type PortfolioAllocation struct {
	ComputedAt      time.Time            `json:"computed_at"`
	SnapshotVersion uint64               `json:"snapshot_version"`
	Weights         map[string]float64   `json:"weights"`
	Score           float64              `json:"score"`
	Products        []ProductReturnStats `json:"products"`
	Excluded        []ExcludedProduct    `json:"excluded,omitempty"`
}

// AlertKind enumerates alert sources.
type AlertKind string

const (
	AlertForecastDeviation AlertKind = "forecast-deviation"
	AlertAnomaly           AlertKind = "anomaly"
	AlertElasticityShift   AlertKind = "elasticity-shift"
	AlertPriceChange       AlertKind = "price-change"
)

// Alert is a deduplicated signal. Timestamp is the latest generation time.
type Alert struct {
	ID          string    `json:"id"`
	Kind        AlertKind `json:"kind"`
	Key         SeriesKey `json:"key"`
	Severity    Severity  `json:"severity"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	FirstSeen   time.Time `json:"first_seen"`
	DedupKey    string    `json:"dedup_key"`
	Occurrences int       `json:"occurrences"`
}

// PriceChange is the latest day-over-day move of a series.
type PriceChange struct {
	Key       SeriesKey `json:"key"`
	Date      time.Time `json:"date"`
	Previous  float64   `json:"previous"`
	Current   float64   `json:"current"`
	ChangePct float64   `json:"change_pct"`
}
