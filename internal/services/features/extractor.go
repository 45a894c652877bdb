package features

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"AgroPulse/internal/domain/models"
	"AgroPulse/pkg/config"
)

// PeriodsPerYear annualizes daily log-return volatility.
const PeriodsPerYear = 365.0

// Config holds the window parameters of the deriver.
type Config struct {
	ShortWindow int
	LongWindow  int
	MinHistory  int
}

// ConfigFrom extracts the deriver parameters from the engine configuration.
func ConfigFrom(e config.EngineConfig) Config {
	return Config{ShortWindow: e.ShortWindow, LongWindow: e.LongWindow, MinHistory: e.MinHistory}
}

// Validate checks window ordering.
func (c Config) Validate() error {
	if c.ShortWindow < 2 || c.LongWindow < 2 {
		return fmt.Errorf("feature windows must be >= 2 (short=%d long=%d)", c.ShortWindow, c.LongWindow)
	}
	if c.ShortWindow >= c.LongWindow {
		return fmt.Errorf("short window %d must be < long window %d", c.ShortWindow, c.LongWindow)
	}
	if c.MinHistory < c.LongWindow {
		return fmt.Errorf("min history %d must be >= long window %d", c.MinHistory, c.LongWindow)
	}
	return nil
}

// Deriver turns a price history into feature vectors. It holds no state
// besides its configuration and is safe for concurrent use.
type Deriver struct {
	cfg Config
}

func NewDeriver(cfg Config) (*Deriver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Deriver{cfg: cfg}, nil
}

func (d *Deriver) Config() Config { return d.cfg }

// Derive collapses observations to a daily series and derives every eligible vector.
func (d *Deriver) Derive(key models.SeriesKey, obs []models.PriceObservation) []models.FeatureVector {
	return d.DeriveDaily(key, Collapse(obs))
}

// DeriveDaily derives vectors for each day with at least MinHistory preceding days.
func (d *Deriver) DeriveDaily(key models.SeriesKey, points []models.DailyPoint) []models.FeatureVector {
	if len(points) <= d.cfg.MinHistory {
		return nil
	}
	acc := newSeasonalAcc()
	out := make([]models.FeatureVector, 0, len(points)-d.cfg.MinHistory)
	for i, p := range points {
		acc.add(p)
		if i < d.cfg.MinHistory {
			continue
		}
		out = append(out, d.vectorAt(key, points, i, acc))
	}
	return out
}

// Latest derives only the vector of the last day, if it is eligible.
func (d *Deriver) Latest(key models.SeriesKey, points []models.DailyPoint) (models.FeatureVector, bool) {
	if len(points) <= d.cfg.MinHistory {
		return models.FeatureVector{}, false
	}
	acc := newSeasonalAcc()
	for _, p := range points {
		acc.add(p)
	}
	return d.vectorAt(key, points, len(points)-1, acc), true
}

// vectorAt requires acc to hold points[0..i].
func (d *Deriver) vectorAt(key models.SeriesKey, points []models.DailyPoint, i int, acc *seasonalAcc) models.FeatureVector {
	prices := pricesOf(points[:i+1])
	short := prices[len(prices)-d.cfg.ShortWindow:]
	long := prices[len(prices)-d.cfg.LongWindow:]

	shortMean, shortStd := stat.MeanStdDev(short, nil)
	longMean, longStd := stat.MeanStdDev(long, nil)

	p := points[i]
	v := models.FeatureVector{
		Key:            key,
		Date:           p.Date,
		Price:          p.Price,
		ShortMean:      shortMean,
		ShortStd:       shortStd,
		LongMean:       longMean,
		LongStd:        longStd,
		DayOfWeekIndex: acc.weekdayIndex(p.Date),
		MonthIndex:     acc.monthIndex(p.Date),
		Momentum:       p.Price - points[i-1].Price,
	}
	if longMean > 0 {
		v.RelVolatility = longStd / longMean
	}
	returns := ComputeLogReturns(points[i-d.cfg.LongWindow : i+1])
	v.RealizedVol = RealizedVolatility(returns, d.cfg.LongWindow, PeriodsPerYear)
	return v
}

// Collapse averages observations sharing a calendar day (across origins and markets)
// and returns the days in ascending order.
func Collapse(obs []models.PriceObservation) []models.DailyPoint {
	type agg struct {
		sum float64
		n   int
	}
	byDay := make(map[time.Time]*agg)
	for _, o := range obs {
		day := models.DayOf(o.Date)
		a, ok := byDay[day]
		if !ok {
			a = &agg{}
			byDay[day] = a
		}
		a.sum += o.PriceFloat()
		a.n++
	}
	out := make([]models.DailyPoint, 0, len(byDay))
	for day, a := range byDay {
		out = append(out, models.DailyPoint{Date: day, Price: a.sum / float64(a.n)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// ComputeLogReturns computes log returns r_t = ln(P_t / P_{t-1}).
// It returns a slice of length len(points)-1, or nil if insufficient data.
func ComputeLogReturns(points []models.DailyPoint) []float64 {
	if len(points) < 2 {
		return nil
	}
	out := make([]float64, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		prev := points[i-1].Price
		cur := points[i].Price
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// RealizedVolatility computes annualized realized volatility over the trailing
// window using the provided number of periods per year.
func RealizedVolatility(logReturns []float64, window int, periodsPerYear float64) float64 {
	if window <= 1 || len(logReturns) < window {
		return 0
	}
	variance := stat.Variance(logReturns[len(logReturns)-window:], nil)
	if variance < 0 || math.IsNaN(variance) {
		variance = 0
	}
	// annualize
	return math.Sqrt(variance * periodsPerYear)
}

func pricesOf(points []models.DailyPoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Price
	}
	return out
}

// seasonalAcc keeps running sums for the weekday and month ratios.
type seasonalAcc struct {
	total    float64
	n        int
	weekday  [7]float64
	weekdayN [7]int
	month    [12]float64
	monthN   [12]int
}

func newSeasonalAcc() *seasonalAcc { return &seasonalAcc{} }

func (a *seasonalAcc) add(p models.DailyPoint) {
	a.total += p.Price
	a.n++
	wd := int(p.Date.Weekday())
	a.weekday[wd] += p.Price
	a.weekdayN[wd]++
	m := int(p.Date.Month()) - 1
	a.month[m] += p.Price
	a.monthN[m]++
}

func (a *seasonalAcc) mean() float64 {
	if a.n == 0 {
		return 0
	}
	return a.total / float64(a.n)
}

func (a *seasonalAcc) weekdayIndex(t time.Time) float64 {
	wd := int(t.Weekday())
	return ratio(a.weekday[wd], a.weekdayN[wd], a.mean())
}

func (a *seasonalAcc) monthIndex(t time.Time) float64 {
	m := int(t.Month()) - 1
	return ratio(a.month[m], a.monthN[m], a.mean())
}

func ratio(sum float64, n int, overall float64) float64 {
	if n == 0 || overall == 0 {
		return 1
	}
	return (sum / float64(n)) / overall
}
