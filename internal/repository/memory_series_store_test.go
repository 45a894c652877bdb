package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AgroPulse/internal/domain/models"
)

var storeNow = time.Date(2024, 6, 30, 15, 0, 0, 0, time.UTC)

func obs(product, market, origin string, day int, price float64) models.PriceObservation {
	return models.PriceObservation{
		Product: product,
		Market:  market,
		Origin:  origin,
		Date:    time.Date(2024, 6, day, 0, 0, 0, 0, time.UTC),
		Price:   decimal.NewFromFloat(price),
		Unit:    "kg",
	}
}

func newTestStore() *MemorySeriesStore {
	return NewMemorySeriesStore(WithClock(func() time.Time { return storeNow }))
}

func TestIngestAndQueryRoundTrip(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	rep, err := s.Ingest(ctx, []models.PriceObservation{
		obs("tomato", "Paris", "France", 3, 2.1),
		obs("tomato", "Paris", "France", 1, 2.0),
		obs("tomato", "Lyon", "Spain", 2, 1.8),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Accepted)
	assert.Equal(t, 0, rep.Rejected)

	got := s.Query(ctx, models.SeriesKey{Product: "tomato", Market: "Paris"}, models.AllTime)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Date.Day())
	assert.Equal(t, 3, got[1].Date.Day())

	all := s.Query(ctx, models.ProductKey("tomato"), models.AllTime)
	require.Len(t, all, 3)
	assert.Equal(t, "Lyon", all[1].Market)

	assert.Equal(t, 3, s.Count(models.ProductKey("tomato")))
	assert.Equal(t, []string{"tomato"}, s.Products())
	assert.Equal(t, []string{"Lyon", "Paris"}, s.Markets())
}

func TestIngestLastWriteWins(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	_, err := s.Ingest(ctx, []models.PriceObservation{obs("apple", "Rungis", "France", 5, 1.5)})
	require.NoError(t, err)
	v1 := s.Version()

	rep, err := s.Ingest(ctx, []models.PriceObservation{obs("apple", "Rungis", "France", 5, 1.9)})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Overwritten)
	assert.Greater(t, s.Version(), v1)

	got := s.Query(ctx, models.SeriesKey{Product: "apple", Market: "Rungis"}, models.AllTime)
	require.Len(t, got, 1)
	assert.True(t, got[0].Price.Equal(decimal.NewFromFloat(1.9)))
}

func TestIngestRejectsInvalidRecords(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	future := obs("pear", "Paris", "France", 1, 2)
	future.Date = storeNow.AddDate(0, 0, 1)

	batch := []models.PriceObservation{
		obs("pear", "Paris", "France", 1, 2),
		obs("pear", "Paris", "France", 2, 0),
		obs("pear", "Paris", "France", 3, -1),
		obs("", "Paris", "France", 4, 2),
		future,
	}
	rep, err := s.Ingest(ctx, batch)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidObservation))

	var inv *models.InvalidObservationError
	require.True(t, errors.As(err, &inv))
	assert.Equal(t, 4, inv.Rejected)
	assert.Equal(t, 1, rep.Accepted)
	assert.Equal(t, []int{1, 2, 3, 4}, []int{
		rep.Rejections[0].Index, rep.Rejections[1].Index, rep.Rejections[2].Index, rep.Rejections[3].Index,
	})

	// the valid record was still stored
	assert.Equal(t, 1, s.Count(models.SeriesKey{Product: "pear", Market: "Paris"}))
}

func TestIngestAcceptsToday(t *testing.T) {
	s := newTestStore()
	o := obs("leek", "Nantes", "France", 30, 1.1)
	_, err := s.Ingest(context.Background(), []models.PriceObservation{o})
	require.NoError(t, err)
}

func TestQueryUnknownKeyIsEmpty(t *testing.T) {
	s := newTestStore()
	got := s.Query(context.Background(), models.SeriesKey{Product: "kiwi", Market: "Paris"}, models.AllTime)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestQueryDateRange(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	var batch []models.PriceObservation
	for d := 1; d <= 10; d++ {
		batch = append(batch, obs("onion", "Lille", "France", d, float64(d)))
	}
	_, err := s.Ingest(ctx, batch)
	require.NoError(t, err)

	r := models.DateRange{
		From: time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 6, 5, 0, 0, 0, 0, time.UTC),
	}
	got := s.Query(ctx, models.ProductKey("onion"), r)
	require.Len(t, got, 3)
	assert.Equal(t, 3, got[0].Date.Day())
	assert.Equal(t, 5, got[2].Date.Day())
}

func TestDeleteRemovesObservation(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	o := obs("carrot", "Lyon", "France", 7, 0.9)
	_, err := s.Ingest(ctx, []models.PriceObservation{o})
	require.NoError(t, err)
	v := s.Version()

	assert.Equal(t, 1, s.Delete(ctx, []models.ObservationKey{o.Key()}))
	assert.Equal(t, 0, s.Delete(ctx, []models.ObservationKey{o.Key()}))
	assert.Empty(t, s.Keys())
	assert.Empty(t, s.Products())
	assert.Equal(t, v+1, s.Version())
}

func TestQueryReturnsCopy(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	_, err := s.Ingest(ctx, []models.PriceObservation{obs("garlic", "Paris", "Spain", 2, 4)})
	require.NoError(t, err)

	got := s.Query(ctx, models.ProductKey("garlic"), models.AllTime)
	got[0].Price = decimal.NewFromInt(100)

	again := s.Query(ctx, models.ProductKey("garlic"), models.AllTime)
	assert.True(t, again[0].Price.Equal(decimal.NewFromInt(4)))
}

func TestSnapshotOrdering(t *testing.T) {
	s := newTestStore()
	_, err := s.Ingest(context.Background(), []models.PriceObservation{
		obs("b", "m1", "o", 2, 1),
		obs("a", "m2", "o", 1, 1),
		obs("a", "m1", "o", 3, 1),
		obs("a", "m1", "o", 1, 1),
	})
	require.NoError(t, err)

	snap := s.Snapshot()
	require.Len(t, snap.Observations, 4)
	assert.Equal(t, s.Version(), snap.Version)
	assert.Equal(t, "a|m1|o|2024-06-01", snap.Observations[0].Key().String())
	assert.Equal(t, "a|m1|o|2024-06-03", snap.Observations[1].Key().String())
	assert.Equal(t, "a|m2|o|2024-06-01", snap.Observations[2].Key().String())
	assert.Equal(t, "b", snap.Observations[3].Product)
	assert.Len(t, snap.ForProduct("a"), 3)
}
