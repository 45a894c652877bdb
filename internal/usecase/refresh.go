package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"AgroPulse/internal/domain/models"
	"AgroPulse/internal/services/alerts"
	"AgroPulse/internal/services/features"
	"AgroPulse/pkg/logger"
)

// Refresh retrains every series in parallel, forecasts it, scores its latest
// day and then evaluates alerts over the combined outputs. A failure on one
// key is reported in the result and never stops the others.
func (e *Engine) Refresh(ctx context.Context) (models.RefreshResult, error) {
	started := e.now()
	start := time.Now()
	keys := e.store.Keys()

	res := models.RefreshResult{
		StartedAt: started,
		Keys:      len(keys),
		Errors:    map[string]string{},
	}

	var (
		mu  sync.Mutex
		in  alerts.Inputs
		bad = func(name string, err error) {
			mu.Lock()
			res.Errors[name] = err.Error()
			mu.Unlock()
		}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			points := features.Collapse(e.store.Query(gctx, key, models.AllTime))
			change, hasChange := latestChange(key, points)
			var flags []models.AnomalyFlag
			if len(points) > 0 {
				last := points[len(points)-1].Date
				flags = e.detector.Detect(gctx, key, models.DateRange{From: last, To: last})
			}

			var (
				forecast    models.ForecastResult
				hasForecast bool
				trained     bool
				discarded   bool
			)
			if e.store.Count(key) < e.cfg.MinHistory {
				discarded = e.forecaster.Discard(key)
			} else if _, err := e.forecaster.Train(gctx, key); err != nil {
				bad("train "+key.String(), err)
			} else {
				trained = true
				f, err := e.forecaster.Predict(gctx, key, e.cfg.ForecastHorizon)
				if err != nil {
					bad("forecast "+key.String(), err)
				} else {
					forecast, hasForecast = f, true
				}
			}

			mu.Lock()
			defer mu.Unlock()
			if trained {
				res.Trained++
			}
			if discarded {
				res.Discarded++
			}
			if hasForecast {
				in.Forecasts = append(in.Forecasts, forecast)
			}
			if hasChange {
				in.PriceChanges = append(in.PriceChanges, change)
			}
			in.Anomalies = append(in.Anomalies, flags...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.metrics.RecordError("refresh")
		return res, fmt.Errorf("refresh: %w", err)
	}
	res.Discarded += e.discardOrphans(keys)

	snap := e.store.Snapshot()
	for _, product := range e.store.Products() {
		est, err := e.elasticity.Elasticity(ctx, snap, product)
		if err != nil {
			if !errors.Is(err, models.ErrInsufficientData) {
				res.Errors["elasticity "+product] = err.Error()
			}
			continue
		}
		in.Elasticity = append(in.Elasticity, est...)
	}

	sortInputs(&in)
	res.Alerts = e.alerter.Evaluate(ctx, in)
	for _, a := range res.Alerts {
		e.metrics.RecordAlert(string(a.Kind), string(a.Severity))
	}
	if len(res.Alerts) > 0 {
		for i, sink := range e.sinks {
			if err := sink.PublishAlerts(ctx, res.Alerts); err != nil {
				e.metrics.RecordError("alert_sink")
				res.Errors[fmt.Sprintf("sink %d", i)] = err.Error()
			}
		}
	}

	res.Duration = time.Since(start)
	e.metrics.RecordLatency("refresh", res.Duration.Seconds())
	e.log.Info("Refresh completed",
		logger.Int("keys", res.Keys),
		logger.Int("trained", res.Trained),
		logger.Int("discarded", res.Discarded),
		logger.Int("alerts", len(res.Alerts)),
		logger.Int("errors", len(res.Errors)),
		logger.Duration("duration", res.Duration),
	)
	if len(res.Errors) == 0 {
		res.Errors = nil
	}
	return res, nil
}

// discardOrphans drops models whose series no longer exists in the store.
func (e *Engine) discardOrphans(keys []models.SeriesKey) int {
	live := make(map[models.SeriesKey]struct{}, len(keys))
	for _, k := range keys {
		live[k] = struct{}{}
	}
	n := 0
	for _, k := range e.forecaster.Keys() {
		if _, ok := live[k]; ok {
			continue
		}
		if e.forecaster.Discard(k) {
			n++
		}
	}
	return n
}

// latestChange is the move between the last two daily prices of key.
func latestChange(key models.SeriesKey, points []models.DailyPoint) (models.PriceChange, bool) {
	if len(points) < 2 {
		return models.PriceChange{}, false
	}
	prev, cur := points[len(points)-2], points[len(points)-1]
	if prev.Price <= 0 {
		return models.PriceChange{}, false
	}
	return models.PriceChange{
		Key:       key,
		Date:      cur.Date,
		Previous:  prev.Price,
		Current:   cur.Price,
		ChangePct: (cur.Price - prev.Price) / prev.Price * 100,
	}, true
}

// sortInputs removes the scheduling order of the workers from the inputs.
func sortInputs(in *alerts.Inputs) {
	sort.Slice(in.Forecasts, func(i, j int) bool { return in.Forecasts[i].Key.String() < in.Forecasts[j].Key.String() })
	sort.Slice(in.PriceChanges, func(i, j int) bool { return in.PriceChanges[i].Key.String() < in.PriceChanges[j].Key.String() })
	sort.SliceStable(in.Anomalies, func(i, j int) bool { return in.Anomalies[i].Key.String() < in.Anomalies[j].Key.String() })
}
