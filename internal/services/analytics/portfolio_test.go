package analytics

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AgroPulse/internal/domain/models"
)

func wiggle(i int) float64 { return 0.05 * math.Pow(-1, float64(i)) }

func TestPortfolioWeights(t *testing.T) {
	snap := newStore(t,
		seriesObs("up", "Paris", 40, func(i int) float64 { return 10 + 0.1*float64(i) + wiggle(i) }),
		seriesObs("steady", "Paris", 40, func(i int) float64 { return 5 + 0.02*float64(i) + wiggle(i) }),
		seriesObs("down", "Paris", 40, func(i int) float64 { return 20 - 0.1*float64(i) + wiggle(i) }),
		seriesObs("flat", "Paris", 40, func(int) float64 { return 3 }),
		seriesObs("short", "Paris", 2, linear),
	).Snapshot()

	alloc, err := NewPortfolioAnalyzer(fixedAt).Portfolio(context.Background(), snap)
	require.NoError(t, err)

	sum := 0.0
	for p, w := range alloc.Weights {
		assert.GreaterOrEqual(t, w, 0.0, p)
		assert.LessOrEqual(t, w, 1.0, p)
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Zero(t, alloc.Weights["down"])
	assert.Greater(t, alloc.Weights["up"], 0.0)
	assert.NotContains(t, alloc.Weights, "flat")

	excluded := map[string]string{}
	for _, e := range alloc.Excluded {
		excluded[e.Product] = e.Reason
	}
	assert.Equal(t, "zero volatility", excluded["flat"])
	assert.Equal(t, "fewer than 2 returns", excluded["short"])
	assert.False(t, math.IsNaN(alloc.Score))

	for _, p := range alloc.Products {
		assert.InDelta(t, p.MeanReturn*DaysPerYear, p.AnnualizedReturn, 1e-12)
		assert.NotEmpty(t, p.RiskCategory)
		assert.InDelta(t, p.AnnualizedReturn/p.AnnualizedVolatility, p.Sharpe, 1e-12)
		assert.Equal(t, WeightRecommendation(p.Sharpe), p.WeightRecommendation)
	}
}

func TestPortfolioAllNonPositive(t *testing.T) {
	snap := newStore(t,
		seriesObs("down", "Paris", 40, func(i int) float64 { return 20 - 0.1*float64(i) + wiggle(i) }),
	).Snapshot()
	_, err := NewPortfolioAnalyzer(fixedAt).Portfolio(context.Background(), snap)
	assert.ErrorIs(t, err, models.ErrInsufficientData)
}

func TestPortfolioScoreFallsBackToIndependence(t *testing.T) {
	a := &returnSeries{stats: models.ProductReturnStats{MeanReturn: 0.01, Volatility: 0.02, Weight: 0.5}}
	b := &returnSeries{stats: models.ProductReturnStats{MeanReturn: 0.03, Volatility: 0.04, Weight: 0.5}}
	got := portfolioScore([]*returnSeries{a, b})
	want := 0.02 / math.Sqrt(0.25*0.0004+0.25*0.0016)
	assert.InDelta(t, want, got, 1e-12)
}

func TestWeightRecommendation(t *testing.T) {
	assert.Equal(t, "strong", WeightRecommendation(1.6))
	assert.Equal(t, "moderate", WeightRecommendation(1.5))
	assert.Equal(t, "balanced", WeightRecommendation(0.8))
	assert.Equal(t, "light", WeightRecommendation(0.5))
	assert.Equal(t, "light", WeightRecommendation(-2))
}

func TestRiskCategory(t *testing.T) {
	assert.Equal(t, "very_risky", RiskCategory(0.31))
	assert.Equal(t, "risky", RiskCategory(0.25))
	assert.Equal(t, "moderate", RiskCategory(0.15))
	assert.Equal(t, "low", RiskCategory(0.05))
}
