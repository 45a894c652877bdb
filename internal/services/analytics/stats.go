package analytics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"AgroPulse/internal/domain/models"
	"AgroPulse/internal/services/features"
)

const topProducts = 10

// Summarize computes descriptive statistics over a snapshot.
func Summarize(snap models.SeriesSnapshot) models.SummaryStats {
	s := models.SummaryStats{TotalRecords: len(snap.Observations)}
	if s.TotalRecords == 0 {
		return s
	}

	products := make(map[string]int)
	markets := make(map[string]struct{})
	origins := make(map[string]struct{})
	categories := make(map[string]int)
	prices := make([]float64, 0, len(snap.Observations))

	s.From, s.To = snap.Observations[0].Date, snap.Observations[0].Date
	for _, o := range snap.Observations {
		if o.Date.Before(s.From) {
			s.From = o.Date
		}
		if o.Date.After(s.To) {
			s.To = o.Date
		}
		products[o.Product]++
		markets[o.Market] = struct{}{}
		if o.Origin != "" {
			origins[o.Origin] = struct{}{}
		}
		categories[features.Category(o.Product)]++
		prices = append(prices, o.PriceFloat())
	}
	s.Products = len(products)
	s.Markets = len(markets)
	s.Origins = len(origins)
	s.TopProducts = ranked(products, topProducts)
	s.Categories = ranked(categories, 0)

	sort.Float64s(prices)
	s.Price = models.PriceStats{
		Mean:   stat.Mean(prices, nil),
		Median: median(prices),
		Min:    prices[0],
		Max:    prices[len(prices)-1],
	}
	if len(prices) > 1 {
		s.Price.Std = stat.StdDev(prices, nil)
	}
	return s
}

// ranked orders counts descending, then by name. limit <= 0 keeps all.
func ranked(counts map[string]int, limit int) []models.CountEntry {
	out := make([]models.CountEntry, 0, len(counts))
	for name, n := range counts {
		out = append(out, models.CountEntry{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Sentiment scores a product from its daily series:
// 50 + 10·trend - 20·volatility + 5·stability, clamped to [0, 100].
func Sentiment(product string, points []models.DailyPoint) models.MarketSentiment {
	s := models.MarketSentiment{Product: product, Observations: len(points), Stability: 1}
	if len(points) > 1 {
		prices := pricesOf(points)
		xs := make([]float64, len(points))
		for i := range xs {
			xs[i] = float64(i)
		}
		mean, std := stat.MeanStdDev(prices, nil)
		if mean > 0 {
			_, slope := stat.LinearRegression(xs, prices, nil, false)
			s.Trend = slope / mean * 100
			s.Volatility = std / mean
		}
		s.Stability = 1 / (1 + s.Volatility)
	}
	score := 50 + 10*s.Trend - 20*s.Volatility + 5*s.Stability
	s.Score = math.Max(0, math.Min(100, score))
	s.Recommendation = Recommendation(s.Score)
	return s
}

// PriceStatus tiers a day-over-day change in percent.
func PriceStatus(changePct float64) string {
	switch {
	case changePct > 5:
		return models.StatusStrongRise
	case changePct > 2:
		return models.StatusModerateRise
	case changePct < -5:
		return models.StatusStrongFall
	case changePct < -2:
		return models.StatusModerateFall
	default:
		return models.StatusStable
	}
}

func Recommendation(score float64) string {
	switch {
	case score >= 70:
		return models.RecommendStrongBuy
	case score >= 50:
		return models.RecommendBuy
	case score >= 30:
		return models.RecommendHold
	default:
		return models.RecommendSell
	}
}
