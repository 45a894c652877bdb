package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"AgroPulse/internal/domain/models"
	domrepo "AgroPulse/internal/domain/repository"
	"AgroPulse/pkg/logger"
)

// WarmStart loads the last days of archived history straight into the store,
// bypassing the ingest pipeline so nothing is archived twice.
func (e *Engine) WarmStart(ctx context.Context, archive domrepo.ObservationArchive, days int) (models.IngestReport, error) {
	if archive == nil || days <= 0 {
		return models.IngestReport{}, nil
	}
	to := models.DayOf(e.now())
	from := to.AddDate(0, 0, -days)

	start := time.Now()
	obs, err := archive.Load(ctx, from, to)
	if err != nil {
		e.metrics.RecordError("warm_start")
		return models.IngestReport{}, fmt.Errorf("load archive: %w", err)
	}
	rep, err := e.store.Ingest(ctx, obs)
	if err != nil && !errors.Is(err, models.ErrInvalidObservation) {
		return rep, fmt.Errorf("ingest archive: %w", err)
	}
	e.log.Info("Warm start completed",
		logger.Int("loaded", len(obs)),
		logger.Int("accepted", rep.Accepted),
		logger.Int("rejected", rep.Rejected),
		logger.Duration("took", time.Since(start)),
	)
	return rep, nil
}
