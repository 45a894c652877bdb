package alerts

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AgroPulse/internal/domain/models"
	"AgroPulse/pkg/config"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestEngine() (*Engine, *clock) {
	c := &clock{t: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	n := 0
	e := NewEngine(config.DefaultEngine().Alerts,
		WithClock(c.now),
		WithIDGenerator(func() string { n++; return fmt.Sprintf("id-%d", n) }),
	)
	return e, c
}

var key = models.SeriesKey{Product: "tomato", Market: "Paris"}

func change(pct float64) Inputs {
	return Inputs{PriceChanges: []models.PriceChange{{Key: key, Previous: 1, Current: 1 + pct/100, ChangePct: pct}}}
}

func TestRatioSeverity(t *testing.T) {
	assert.Equal(t, models.SeverityLow, RatioSeverity(10, 10))
	assert.Equal(t, models.SeverityMedium, RatioSeverity(-20, 10))
	assert.Equal(t, models.SeverityHigh, RatioSeverity(30, 10))
}

func TestEvaluateDeduplicates(t *testing.T) {
	e, c := newTestEngine()
	ctx := context.Background()

	first := e.Evaluate(ctx, change(25))
	require.Len(t, first, 1)
	assert.Equal(t, 1, first[0].Occurrences)
	assert.Equal(t, models.SeverityLow, first[0].Severity)
	assert.Equal(t, "price-change|tomato|Paris", first[0].DedupKey)

	c.t = c.t.Add(2 * time.Hour)
	second := e.Evaluate(ctx, change(65))
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, 2, second[0].Occurrences)
	assert.Equal(t, models.SeverityHigh, second[0].Severity)
	assert.True(t, second[0].Timestamp.Equal(c.t))
	assert.True(t, second[0].FirstSeen.Equal(first[0].FirstSeen))

	assert.Len(t, e.Alerts(time.Time{}), 1)
}

func TestEvaluateAfterSuppressionWindowCreatesNewAlert(t *testing.T) {
	e, c := newTestEngine()
	ctx := context.Background()

	first := e.Evaluate(ctx, change(25))
	c.t = c.t.Add(25 * time.Hour)
	second := e.Evaluate(ctx, change(25))
	require.Len(t, second, 1)
	assert.NotEqual(t, first[0].ID, second[0].ID)
	assert.Equal(t, 1, second[0].Occurrences)
}

func TestBelowThresholdIsIgnored(t *testing.T) {
	e, _ := newTestEngine()
	assert.Empty(t, e.Evaluate(context.Background(), change(5)))
	assert.Empty(t, e.Evaluate(context.Background(), Inputs{
		Anomalies: []models.AnomalyFlag{{Key: key, Severity: models.SeverityLow, Score: 2.5}},
		Elasticity: []models.ElasticityEstimate{
			{Product: "tomato", Reference: "markets", Shift: 0.5, PreviousAvailable: false},
			{Product: "tomato", Reference: "origins", Shift: 0.1, PreviousAvailable: true},
		},
	}))
}

func TestEvaluateAllKinds(t *testing.T) {
	e, _ := newTestEngine()
	out := e.Evaluate(context.Background(), Inputs{
		Forecasts: []models.ForecastResult{{
			Key: key, Horizon: 7, LastPrice: 2,
			Points: []models.ForecastPoint{{Price: 2.1}, {Price: 2.5}},
		}},
		Anomalies: []models.AnomalyFlag{
			{Key: key, Severity: models.SeverityMedium, Score: 4, Direction: "above"},
			{Key: models.SeriesKey{Product: "apple", Market: "Lyon"}, Severity: models.SeverityHigh, Score: 9, Direction: "below"},
		},
		Elasticity: []models.ElasticityEstimate{
			{Product: "tomato", Reference: "markets", Shift: 0.45, Coefficient: 0.6, PreviousAvailable: true},
		},
	})
	require.Len(t, out, 4)

	kinds := map[models.AlertKind]int{}
	for _, a := range out {
		kinds[a.Kind]++
	}
	assert.Equal(t, 1, kinds[models.AlertForecastDeviation])
	assert.Equal(t, 2, kinds[models.AlertAnomaly])
	assert.Equal(t, 1, kinds[models.AlertElasticityShift])

	// forecast +25% over a 10% threshold is medium; ordering is severity first
	assert.Equal(t, models.SeverityHigh, out[0].Severity)
	for i := 1; i < len(out); i++ {
		assert.GreaterOrEqual(t, out[i-1].Severity.Rank(), out[i].Severity.Rank())
	}
}

func TestAlertsOrderingAndSince(t *testing.T) {
	e, c := newTestEngine()
	ctx := context.Background()
	e.Evaluate(ctx, Inputs{PriceChanges: []models.PriceChange{
		{Key: models.SeriesKey{Product: "b", Market: "m"}, ChangePct: 25},
		{Key: models.SeriesKey{Product: "a", Market: "m"}, ChangePct: 25},
	}})
	mark := c.t.Add(time.Minute)
	c.t = c.t.Add(time.Hour)
	e.Evaluate(ctx, Inputs{PriceChanges: []models.PriceChange{
		{Key: models.SeriesKey{Product: "c", Market: "m"}, ChangePct: 25},
	}})

	all := e.Alerts(time.Time{})
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].Key.Product)
	assert.Equal(t, "a", all[1].Key.Product)
	assert.Equal(t, "b", all[2].Key.Product)

	recent := e.Alerts(mark)
	require.Len(t, recent, 1)
	assert.Equal(t, "c", recent[0].Key.Product)
}

func TestRetentionPrunes(t *testing.T) {
	e, c := newTestEngine()
	e.Evaluate(context.Background(), change(30))
	c.t = c.t.Add(8 * 24 * time.Hour)
	assert.Empty(t, e.Alerts(time.Time{}))
}
