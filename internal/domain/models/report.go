package models

import "time"

// CountEntry is a (name, count) pair used in rankings.
type CountEntry struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// PriceStats summarizes a price distribution.
type PriceStats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Std    float64 `json:"std"`
}

// SummaryStats is the descriptive overview of the store.
type SummaryStats struct {
	TotalRecords int          `json:"total_records"`
	From         time.Time    `json:"from"`
	To           time.Time    `json:"to"`
	Products     int          `json:"products"`
	Markets      int          `json:"markets"`
	Origins      int          `json:"origins"`
	TopProducts  []CountEntry `json:"top_products"`
	Categories   []CountEntry `json:"categories"`
	Price        PriceStats   `json:"price"`
}

// Recommendation tiers of a sentiment score.
const (
	RecommendStrongBuy = "strong_buy"
	RecommendBuy       = "buy"
	RecommendHold      = "hold"
	RecommendSell      = "sell"
)

// MarketSentiment scores the recent behavior of one product.
type MarketSentiment struct {
	Product        string  `json:"product"`
	Score          float64 `json:"score"`
	Trend          float64 `json:"trend"`
	Volatility     float64 `json:"volatility"`
	Stability      float64 `json:"stability"`
	Recommendation string  `json:"recommendation"`
	Observations   int     `json:"observations"`
}

// Price status tiers of a day-over-day move.
const (
	StatusStrongRise   = "strong_rise"
	StatusModerateRise = "moderate_rise"
	StatusStable       = "stable"
	StatusModerateFall = "moderate_fall"
	StatusStrongFall   = "strong_fall"
)

// PriceMonitor is the latest day-over-day move of one series.
type PriceMonitor struct {
	Key           SeriesKey `json:"key"`
	Date          time.Time `json:"date"`
	Price         float64   `json:"price"`
	PreviousPrice float64   `json:"previous_price"`
	ChangePct     float64   `json:"change_pct"`
	Status        string    `json:"status"`
}

// Report combines the engine outputs into a single document.
type Report struct {
	GeneratedAt time.Time            `json:"generated_at"`
	Summary     SummaryStats         `json:"summary"`
	Clusters    *ClusterSet          `json:"clusters,omitempty"`
	Portfolio   *PortfolioAllocation `json:"portfolio,omitempty"`
	Sentiment   []MarketSentiment    `json:"sentiment"`
	Anomalies   []AnomalyFlag        `json:"anomalies"`
	Elasticity  []ElasticityEstimate `json:"elasticity"`
	Monitoring  []PriceMonitor       `json:"monitoring"`
	Predictions []ForecastResult     `json:"predictions"`
	Alerts      []Alert              `json:"alerts"`
	Errors      map[string]string    `json:"errors,omitempty"`
}

// RefreshResult reports one scheduled refresh pass.
type RefreshResult struct {
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration"`
	Keys      int               `json:"keys"`
	Trained   int               `json:"trained"`
	Discarded int               `json:"discarded"`
	Alerts    []Alert           `json:"alerts"`
	Errors    map[string]string `json:"errors,omitempty"`
}
