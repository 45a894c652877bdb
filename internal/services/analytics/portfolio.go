package analytics

import (
	"context"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"AgroPulse/internal/domain/models"
	"AgroPulse/internal/services/features"
)

// DaysPerYear annualizes daily return statistics.
const DaysPerYear = 365.0

// RiskCategory bins an annualized volatility.
func RiskCategory(annualVol float64) string {
	switch {
	case annualVol > 0.3:
		return "very_risky"
	case annualVol > 0.2:
		return "risky"
	case annualVol > 0.1:
		return "moderate"
	default:
		return "low"
	}
}

// WeightRecommendation suggests a weight band from an annualized Sharpe ratio.
func WeightRecommendation(sharpe float64) string {
	switch {
	case sharpe > 1.5:
		return "strong"
	case sharpe > 1.0:
		return "moderate"
	case sharpe > 0.5:
		return "balanced"
	default:
		return "light"
	}
}

type PortfolioAnalyzer struct {
	now func() time.Time
}

func NewPortfolioAnalyzer(now func() time.Time) *PortfolioAnalyzer {
	if now == nil {
		now = time.Now
	}
	return &PortfolioAnalyzer{now: now}
}

type returnSeries struct {
	stats   models.ProductReturnStats
	byDate  map[time.Time]float64
	ordered []time.Time
}

// Portfolio allocates weights proportional to each product's positive
// return-to-volatility score.
func (a *PortfolioAnalyzer) Portfolio(ctx context.Context, snap models.SeriesSnapshot) (models.PortfolioAllocation, error) {
	grouped := make(map[string][]models.PriceObservation)
	for _, o := range snap.Observations {
		grouped[o.Product] = append(grouped[o.Product], o)
	}
	products := make([]string, 0, len(grouped))
	for p := range grouped {
		products = append(products, p)
	}
	sort.Strings(products)

	alloc := models.PortfolioAllocation{
		ComputedAt:      a.now(),
		SnapshotVersion: snap.Version,
		Weights:         make(map[string]float64),
	}
	var series []*returnSeries
	for _, p := range products {
		if err := ctx.Err(); err != nil {
			return models.PortfolioAllocation{}, err
		}
		rs, reason := productReturns(p, features.Collapse(grouped[p]))
		if reason != "" {
			alloc.Excluded = append(alloc.Excluded, models.ExcludedProduct{Product: p, Reason: reason})
			continue
		}
		series = append(series, rs)
	}

	total := 0.0
	for _, rs := range series {
		total += math.Max(rs.stats.Score, 0)
	}
	if total <= 0 {
		return models.PortfolioAllocation{}, &models.InsufficientDataError{
			Key:  models.SeriesKey{Product: "*"},
			Have: 0,
			Need: 1,
		}
	}

	weighted := make([]*returnSeries, 0, len(series))
	for _, rs := range series {
		w := math.Max(rs.stats.Score, 0) / total
		rs.stats.Weight = w
		alloc.Weights[rs.stats.Product] = w
		alloc.Products = append(alloc.Products, rs.stats)
		if w > 0 {
			weighted = append(weighted, rs)
		}
	}
	alloc.Score = portfolioScore(weighted)
	return alloc, nil
}

func productReturns(product string, points []models.DailyPoint) (*returnSeries, string) {
	if len(points) < 3 {
		return nil, "fewer than 2 returns"
	}
	rs := &returnSeries{byDate: make(map[time.Time]float64, len(points)-1)}
	returns := make([]float64, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		r := points[i].Price/points[i-1].Price - 1
		returns = append(returns, r)
		rs.byDate[points[i].Date] = r
		rs.ordered = append(rs.ordered, points[i].Date)
	}
	mean, std := stat.MeanStdDev(returns, nil)
	if std == 0 || math.IsNaN(std) {
		return nil, "zero volatility"
	}
	annualVol := std * math.Sqrt(DaysPerYear)
	sharpe := mean * DaysPerYear / annualVol
	rs.stats = models.ProductReturnStats{
		Product:              product,
		Returns:              len(returns),
		MeanReturn:           mean,
		Volatility:           std,
		Score:                mean / std,
		AnnualizedReturn:     mean * DaysPerYear,
		AnnualizedVolatility: annualVol,
		Sharpe:               sharpe,
		RiskCategory:         RiskCategory(annualVol),
		WeightRecommendation: WeightRecommendation(sharpe),
	}
	return rs, ""
}

// portfolioScore uses the weighted return series on dates shared by every
// product; with fewer than two shared dates products are treated as independent.
func portfolioScore(series []*returnSeries) float64 {
	if len(series) == 0 {
		return 0
	}
	var common []time.Time
	for _, d := range series[0].ordered {
		shared := true
		for _, rs := range series[1:] {
			if _, ok := rs.byDate[d]; !ok {
				shared = false
				break
			}
		}
		if shared {
			common = append(common, d)
		}
	}

	if len(common) >= 2 {
		port := make([]float64, len(common))
		for i, d := range common {
			for _, rs := range series {
				port[i] += rs.stats.Weight * rs.byDate[d]
			}
		}
		mean, std := stat.MeanStdDev(port, nil)
		if std > 0 {
			return mean / std
		}
		return 0
	}

	var mean, variance float64
	for _, rs := range series {
		w := rs.stats.Weight
		mean += w * rs.stats.MeanReturn
		variance += w * w * rs.stats.Volatility * rs.stats.Volatility
	}
	if variance <= 0 {
		return 0
	}
	return mean / math.Sqrt(variance)
}
