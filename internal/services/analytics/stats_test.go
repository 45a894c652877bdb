package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AgroPulse/internal/domain/models"
)

func TestSummarize(t *testing.T) {
	snap := newStore(t,
		seriesObs("tomato", "Paris", 3, func(i int) float64 { return float64(i + 1) }),
		seriesObs("apple", "Lyon", 2, func(int) float64 { return 4 }),
	).Snapshot()

	s := Summarize(snap)
	assert.Equal(t, 5, s.TotalRecords)
	assert.Equal(t, 2, s.Products)
	assert.Equal(t, 2, s.Markets)
	assert.Equal(t, 1, s.Origins)
	assert.True(t, s.From.Equal(start))
	assert.True(t, s.To.Equal(start.AddDate(0, 0, 2)))
	require.Len(t, s.TopProducts, 2)
	assert.Equal(t, models.CountEntry{Name: "tomato", Count: 3}, s.TopProducts[0])
	assert.Equal(t, 1.0, s.Price.Min)
	assert.Equal(t, 4.0, s.Price.Max)
	assert.Equal(t, 3.0, s.Price.Median)
	assert.InDelta(t, 2.8, s.Price.Mean, 1e-12)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(models.SeriesSnapshot{})
	assert.Zero(t, s.TotalRecords)
	assert.Empty(t, s.TopProducts)
}

func TestSentiment(t *testing.T) {
	rising := make([]models.DailyPoint, 30)
	flat := make([]models.DailyPoint, 30)
	for i := range rising {
		rising[i] = models.DailyPoint{Date: start.AddDate(0, 0, i), Price: 10 + float64(i)}
		flat[i] = models.DailyPoint{Date: start.AddDate(0, 0, i), Price: 4}
	}

	up := Sentiment("tomato", rising)
	assert.Greater(t, up.Trend, 0.0)
	assert.GreaterOrEqual(t, up.Score, 0.0)
	assert.LessOrEqual(t, up.Score, 100.0)

	still := Sentiment("leek", flat)
	assert.Zero(t, still.Trend)
	assert.Equal(t, 1.0, still.Stability)
	assert.InDelta(t, 55, still.Score, 1e-9)
	assert.Equal(t, models.RecommendBuy, still.Recommendation)

	assert.Equal(t, models.RecommendStrongBuy, Recommendation(70))
	assert.Equal(t, models.RecommendHold, Recommendation(30))
	assert.Equal(t, models.RecommendSell, Recommendation(29.9))
}

func TestPriceStatus(t *testing.T) {
	cases := []struct {
		change float64
		want   string
	}{
		{5.1, models.StatusStrongRise},
		{5, models.StatusModerateRise},
		{2.1, models.StatusModerateRise},
		{2, models.StatusStable},
		{0, models.StatusStable},
		{-2, models.StatusStable},
		{-2.1, models.StatusModerateFall},
		{-5, models.StatusModerateFall},
		{-5.1, models.StatusStrongFall},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, PriceStatus(tc.change), "change %v", tc.change)
	}
}
