package analytics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AgroPulse/internal/domain/models"
)

func alternating(i int) float64 {
	if i%2 == 0 {
		return 10.0
	}
	return 10.1
}

func TestMADScorer(t *testing.T) {
	s := MADScorer{}
	score, expected, ok := s.Score([]float64{1, 2, 3, 4, 100}, 3)
	require.True(t, ok)
	assert.Equal(t, 3.0, expected)
	assert.Zero(t, score)

	_, _, ok = s.Score(nil, 1)
	assert.False(t, ok)

	// constant history: MAD floors at half a percent of the median
	score, _, ok = s.Score([]float64{5, 5, 5}, 6)
	require.True(t, ok)
	assert.InDelta(t, 40.0, score, 1e-9)
}

func TestMADFloorOnFlatWindow(t *testing.T) {
	flat := make([]float64, 30)
	for i := range flat {
		flat[i] = 3
	}

	score, _, ok := MADScorer{}.Score(flat, 3.01)
	require.True(t, ok)
	assert.Equal(t, models.SeverityNone, SeverityFor(score))

	score, _, _ = MADScorer{}.Score(flat, 3.30)
	assert.Equal(t, models.SeverityHigh, SeverityFor(score))

	// a tighter floor is configurable
	score, _, _ = MADScorer{FloorRatio: 0.001}.Score(flat, 3.01)
	assert.Equal(t, models.SeverityMedium, SeverityFor(score))
}

func TestSeverityTiers(t *testing.T) {
	cases := []struct {
		score float64
		want  models.Severity
	}{
		{1.99, models.SeverityNone},
		{2, models.SeverityLow},
		{2.99, models.SeverityLow},
		{3, models.SeverityMedium},
		{5, models.SeverityMedium},
		{5.01, models.SeverityHigh},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SeverityFor(tc.score), "score %v", tc.score)
	}
}

func TestDetectSpikeIsHigh(t *testing.T) {
	cfg := testConfig()
	obs := seriesObs("apple", "Lyon", 60, alternating)
	// within one MAD of the trailing median
	obs[40] = observation("apple", "Lyon", "France", 40, 10.07)
	obs[50] = observation("apple", "Lyon", "France", 50, 20)
	store := newStore(t, obs)
	d := NewAnomalyDetector(store, cfg, nil)
	key := models.SeriesKey{Product: "apple", Market: "Lyon"}

	scores := d.Score(context.Background(), key, models.AllTime)
	require.Len(t, scores, 60)
	assert.False(t, scores[10].Evaluable)
	assert.True(t, scores[30].Evaluable)
	assert.Less(t, scores[40].Score, 1.0)
	assert.Equal(t, models.SeverityNone, scores[40].Severity)

	flags := d.Detect(context.Background(), key, models.AllTime)
	var spike *models.AnomalyFlag
	for i := range flags {
		assert.False(t, flags[i].Date.Equal(start.AddDate(0, 0, 40)))
		if flags[i].Date.Equal(start.AddDate(0, 0, 50)) {
			spike = &flags[i]
		}
	}
	require.NotNil(t, spike)
	assert.Equal(t, models.SeverityHigh, spike.Severity)
	assert.Equal(t, "above", spike.Direction)
	assert.Greater(t, spike.Score, 10.0)
}

func TestDetectRangeFilters(t *testing.T) {
	cfg := testConfig()
	obs := seriesObs("apple", "Lyon", 60, alternating)
	obs[50] = observation("apple", "Lyon", "France", 50, 20)
	d := NewAnomalyDetector(newStore(t, obs), cfg, nil)
	key := models.SeriesKey{Product: "apple", Market: "Lyon"}

	r := models.DateRange{From: start.AddDate(0, 0, 31), To: start.AddDate(0, 0, 45)}
	scores := d.Score(context.Background(), key, r)
	assert.Len(t, scores, 15)
	for _, f := range d.Detect(context.Background(), key, r) {
		assert.True(t, r.Contains(f.Date))
	}
}

func TestDetectUnknownKey(t *testing.T) {
	d := NewAnomalyDetector(newStore(t), testConfig(), nil)
	assert.Empty(t, d.Detect(context.Background(), models.ProductKey("none"), models.AllTime))
}
