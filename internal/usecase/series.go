package usecase

import (
	"context"
	"fmt"

	"AgroPulse/internal/domain/models"
	"AgroPulse/internal/services/features"
)

type GetSeriesParams struct {
	Key   models.SeriesKey
	Range models.DateRange
	Limit int
}

type GetSeriesResult struct {
	Key          models.SeriesKey          `json:"key"`
	From         string                    `json:"from,omitempty"`
	To           string                    `json:"to,omitempty"`
	Count        int                       `json:"count"`
	Truncated    bool                      `json:"truncated"`
	Category     string                    `json:"category"`
	Observations []models.PriceObservation `json:"observations"`
	Daily        []models.DailyPoint       `json:"daily"`
}

// GetSeries returns the most recent observations of a series within range,
// capped at Limit, along with the collapsed daily series.
func (e *Engine) GetSeries(ctx context.Context, p GetSeriesParams) (*GetSeriesResult, error) {
	if p.Key.Product == "" {
		return nil, fmt.Errorf("product required")
	}
	if !p.Range.From.IsZero() && !p.Range.To.IsZero() && p.Range.From.After(p.Range.To) {
		return nil, fmt.Errorf("from must be <= to")
	}
	if p.Limit <= 0 {
		p.Limit = 5000
	}
	if p.Limit > 50000 {
		p.Limit = 50000
	}

	obs := e.store.Query(ctx, p.Key, p.Range)
	res := &GetSeriesResult{
		Key:      p.Key,
		Category: features.Category(p.Key.Product),
		Daily:    features.Collapse(obs),
	}
	if len(obs) > p.Limit {
		obs = obs[len(obs)-p.Limit:]
		res.Truncated = true
	}
	res.Observations = obs
	res.Count = len(obs)
	if len(obs) > 0 {
		res.From = obs[0].Date.Format(models.DateLayout)
		res.To = obs[len(obs)-1].Date.Format(models.DateLayout)
	}
	return res, nil
}
