package repository

import (
	"context"
	"time"

	"AgroPulse/internal/domain/models"
)

// SeriesStore holds cleaned observations keyed by SeriesKey and ordered by date.
// Every read returns a copy; callers never share the store's memory.
type SeriesStore interface {
	Ingest(ctx context.Context, batch []models.PriceObservation) (models.IngestReport, error)
	Query(ctx context.Context, key models.SeriesKey, r models.DateRange) []models.PriceObservation
	Delete(ctx context.Context, keys []models.ObservationKey) int
	Keys() []models.SeriesKey
	Products() []string
	Markets() []string
	Count(key models.SeriesKey) int
	Snapshot() models.SeriesSnapshot
	Version() uint64
}

// ObservationArchive persists accepted observations outside the process
// and returns them for warm starts.
type ObservationArchive interface {
	StoreBatch(ctx context.Context, batch []models.PriceObservation) error
	Load(ctx context.Context, from, to time.Time) ([]models.PriceObservation, error)
	Health(ctx context.Context) error
}

// AlertSink receives alerts that were created or updated by an evaluation.
type AlertSink interface {
	PublishAlerts(ctx context.Context, alerts []models.Alert) error
}

type Metrics interface {
	RecordIngest(accepted, rejected int)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordModelQuality(key string, mae, r2 float64)
	RecordAlert(kind, severity string)
}
