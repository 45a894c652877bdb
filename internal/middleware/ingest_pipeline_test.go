package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AgroPulse/internal/domain/models"
	"AgroPulse/pkg/metrics"
)

type fakeSink struct {
	got []models.PriceObservation
}

// Ingest rejects non-positive prices like the series store does.
func (s *fakeSink) Ingest(_ context.Context, batch []models.PriceObservation) (models.IngestReport, error) {
	rep := models.IngestReport{Received: len(batch)}
	for i, o := range batch {
		if !o.Price.IsPositive() {
			rep.Rejections = append(rep.Rejections, models.Rejection{Index: i, Reason: "price must be positive"})
			continue
		}
		s.got = append(s.got, o)
		rep.Accepted++
	}
	rep.Rejected = len(rep.Rejections)
	if rep.Rejected > 0 {
		return rep, &models.InvalidObservationError{Rejected: rep.Rejected, Rejections: rep.Rejections}
	}
	return rep, nil
}

type flakyArchive struct {
	mu      sync.Mutex
	failing bool
	stored  []models.PriceObservation
}

func (a *flakyArchive) StoreBatch(_ context.Context, batch []models.PriceObservation) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failing {
		return errors.New("archive unavailable")
	}
	a.stored = append(a.stored, batch...)
	return nil
}

func (a *flakyArchive) Load(context.Context, time.Time, time.Time) ([]models.PriceObservation, error) {
	return nil, nil
}

func (a *flakyArchive) Health(context.Context) error { return nil }

func (a *flakyArchive) set(failing bool) {
	a.mu.Lock()
	a.failing = failing
	a.mu.Unlock()
}

func (a *flakyArchive) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.stored)
}

func observation(product, market string, price float64) models.PriceObservation {
	return models.PriceObservation{
		Product: product,
		Market:  market,
		Origin:  " France ",
		Date:    time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Price:   decimal.NewFromFloat(price),
		Unit:    " KG",
	}
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "Tomate Cerise", NormalizeName("  tomate   cerise "))
	assert.Equal(t, "Min De Rungis", NormalizeName("MIN DE RUNGIS"))
	assert.Equal(t, "", NormalizeName("   "))
}

func TestIngestPipelineNormalizesAndArchivesAccepted(t *testing.T) {
	sink := &fakeSink{}
	archive := &flakyArchive{}
	p := NewIngestPipeline(sink, metrics.Nop{}, WithArchive(archive))

	rep, err := p.Ingest(context.Background(), []models.PriceObservation{
		observation("tomate", "min de rungis", 2.5),
		observation("poireau", "min de lyon", -1),
	})
	assert.ErrorIs(t, err, models.ErrInvalidObservation)
	assert.Equal(t, 1, rep.Accepted)

	require.Len(t, sink.got, 1)
	got := sink.got[0]
	assert.Equal(t, "Tomate", got.Product)
	assert.Equal(t, "Min De Rungis", got.Market)
	assert.Equal(t, "France", got.Origin)
	assert.Equal(t, "kg", got.Unit)

	require.Equal(t, 1, archive.count())
	assert.Equal(t, "Tomate", archive.stored[0].Product)
}

func TestIngestPipelineBuffersWhileArchiveIsDown(t *testing.T) {
	sink := &fakeSink{}
	archive := &flakyArchive{failing: true}
	p := NewIngestPipeline(sink, metrics.Nop{},
		WithArchive(archive),
		WithBackoff(time.Millisecond, 5*time.Millisecond),
	)

	_, err := p.Ingest(context.Background(), []models.PriceObservation{observation("tomate", "paris", 2)})
	require.NoError(t, err)
	assert.Equal(t, 1, p.Pending())
	assert.Len(t, sink.got, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	archive.set(false)
	p.Start(ctx)
	defer p.Stop()

	assert.Eventually(t, func() bool { return archive.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, p.Pending())
}

func TestIngestPipelineTransform(t *testing.T) {
	sink := &fakeSink{}
	p := NewIngestPipeline(sink, metrics.Nop{}, WithTransform(func(o models.PriceObservation) models.PriceObservation {
		o.Origin = "Espagne"
		return o
	}))
	_, err := p.Ingest(context.Background(), []models.PriceObservation{observation("tomate", "paris", 2)})
	require.NoError(t, err)
	assert.Equal(t, "Espagne", sink.got[0].Origin)
}
