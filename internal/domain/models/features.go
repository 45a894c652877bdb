package models

import "time"

// FeatureName enumerates the fixed feature schema.
type FeatureName string

const (
	FeaturePrice          FeatureName = "price"
	FeatureShortMean      FeatureName = "short_mean"
	FeatureShortStd       FeatureName = "short_std"
	FeatureLongMean       FeatureName = "long_mean"
	FeatureLongStd        FeatureName = "long_std"
	FeatureDayOfWeekIndex FeatureName = "dow_index"
	FeatureMonthIndex     FeatureName = "month_index"
	FeatureMomentum       FeatureName = "momentum"
	FeatureRelVolatility  FeatureName = "rel_volatility"
	FeatureRealizedVol    FeatureName = "realized_vol"
)

// FeatureNames is the schema order used by Values.
var FeatureNames = []FeatureName{
	FeaturePrice,
	FeatureShortMean,
	FeatureShortStd,
	FeatureLongMean,
	FeatureLongStd,
	FeatureDayOfWeekIndex,
	FeatureMonthIndex,
	FeatureMomentum,
	FeatureRelVolatility,
	FeatureRealizedVol,
}

// FeatureVector holds the derived features of one SeriesKey at one date.
// It only exists for dates with at least min_history preceding observations.
type FeatureVector struct {
	Key            SeriesKey `json:"key"`
	Date           time.Time `json:"date"`
	Price          float64   `json:"price"`
	ShortMean      float64   `json:"short_mean"`
	ShortStd       float64   `json:"short_std"`
	LongMean       float64   `json:"long_mean"`
	LongStd        float64   `json:"long_std"`
	DayOfWeekIndex float64   `json:"dow_index"`
	MonthIndex     float64   `json:"month_index"`
	Momentum       float64   `json:"momentum"`
	RelVolatility  float64   `json:"rel_volatility"`
	RealizedVol    float64   `json:"realized_vol"`
}

// Values returns the feature values in FeatureNames order.
func (f FeatureVector) Values() []float64 {
	return []float64{
		f.Price,
		f.ShortMean,
		f.ShortStd,
		f.LongMean,
		f.LongStd,
		f.DayOfWeekIndex,
		f.MonthIndex,
		f.Momentum,
		f.RelVolatility,
		f.RealizedVol,
	}
}

// DailyPoint is one calendar day of a collapsed series.
type DailyPoint struct {
	Date  time.Time `json:"date"`
	Price float64   `json:"price"`
}
