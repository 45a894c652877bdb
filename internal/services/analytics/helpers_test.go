package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"AgroPulse/internal/domain/models"
	"AgroPulse/internal/repository"
	"AgroPulse/internal/services/features"
	"AgroPulse/pkg/config"
)

var (
	start   = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	farNow  = time.Date(2024, 12, 31, 12, 0, 0, 0, time.UTC)
	fixedAt = func() time.Time { return farNow }
)

func testConfig() config.EngineConfig {
	return config.DefaultEngine()
}

func testDeriver(t *testing.T, cfg config.EngineConfig) *features.Deriver {
	t.Helper()
	d, err := features.NewDeriver(features.ConfigFrom(cfg))
	require.NoError(t, err)
	return d
}

func observation(product, market, origin string, day int, price float64) models.PriceObservation {
	return models.PriceObservation{
		Product: product,
		Market:  market,
		Origin:  origin,
		Date:    start.AddDate(0, 0, day),
		Price:   decimal.NewFromFloat(price),
		Unit:    "kg",
	}
}

func seriesObs(product, market string, days int, price func(i int) float64) []models.PriceObservation {
	out := make([]models.PriceObservation, 0, days)
	for i := 0; i < days; i++ {
		out = append(out, observation(product, market, "France", i, price(i)))
	}
	return out
}

func newStore(t *testing.T, batches ...[]models.PriceObservation) *repository.MemorySeriesStore {
	t.Helper()
	s := repository.NewMemorySeriesStore(repository.WithClock(fixedAt))
	for _, b := range batches {
		_, err := s.Ingest(context.Background(), b)
		require.NoError(t, err)
	}
	return s
}

func linear(i int) float64 { return 10 + 0.1*float64(i) }
