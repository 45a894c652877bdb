package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"AgroPulse/internal/domain/models"
	"AgroPulse/internal/services/analytics"
	"AgroPulse/internal/services/features"
)

// Report combines the summary, clusters, portfolio, sentiment, anomalies,
// elasticity, monitoring, predictions and alerts into one document. Sections are computed concurrently; a failing section is named in
// Errors and the rest of the report is still returned.
func (e *Engine) Report(ctx context.Context) (*models.Report, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	res := &models.Report{
		GeneratedAt: e.now(),
		Sentiment:   []models.MarketSentiment{},
		Anomalies:   []models.AnomalyFlag{},
		Elasticity:  []models.ElasticityEstimate{},
		Monitoring:  []models.PriceMonitor{},
		Predictions: []models.ForecastResult{},
		Alerts:      []models.Alert{},
		Errors:      map[string]string{},
	}

	type item struct {
		name string
		val  interface{}
		err  error
	}
	ch := make(chan item, 9)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		v, err := e.Summary(ctx)
		ch <- item{"summary", v, err}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		v, err := e.ClusterSet(ctx)
		ch <- item{"clusters", v, err}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		v, err := e.GetPortfolio(ctx)
		ch <- item{"portfolio", v, err}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		v, err := e.sentiments(ctx)
		ch <- item{"sentiment", v, err}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		v, err := e.recentAnomalies(ctx)
		ch <- item{"anomalies", v, err}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		v, err := e.elasticities(ctx)
		ch <- item{"elasticity", v, err}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		v, err := e.monitoring(ctx)
		ch <- item{"monitoring", v, err}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		v, err := e.predictions(ctx)
		ch <- item{"predictions", v, err}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		v, err := e.GetAlerts(ctx, time.Time{})
		ch <- item{"alerts", v, err}
	}()

	go func() { wg.Wait(); close(ch) }()

	for it := range ch {
		if it.err != nil {
			res.Errors[it.name] = it.err.Error()
			continue
		}
		switch it.name {
		case "summary":
			res.Summary = it.val.(models.SummaryStats)
		case "clusters":
			v := it.val.(models.ClusterSet)
			res.Clusters = &v
		case "portfolio":
			v := it.val.(models.PortfolioAllocation)
			res.Portfolio = &v
		case "sentiment":
			res.Sentiment = it.val.([]models.MarketSentiment)
		case "anomalies":
			res.Anomalies = it.val.([]models.AnomalyFlag)
		case "elasticity":
			res.Elasticity = it.val.([]models.ElasticityEstimate)
		case "monitoring":
			res.Monitoring = it.val.([]models.PriceMonitor)
		case "predictions":
			res.Predictions = it.val.([]models.ForecastResult)
		case "alerts":
			res.Alerts = it.val.([]models.Alert)
		}
	}

	if len(res.Errors) == 0 {
		res.Errors = nil
	}
	return res, nil
}

// sentiments scores every product with at least two days of history.
func (e *Engine) sentiments(ctx context.Context) ([]models.MarketSentiment, error) {
	out := make([]models.MarketSentiment, 0)
	for _, product := range e.store.Products() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s, err := e.MarketSentiment(ctx, product)
		if errors.Is(err, models.ErrInsufficientData) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// recentAnomalyDays is the trailing span of each series scanned for the report.
const recentAnomalyDays = 7

// recentAnomalies lists the flags raised over the last days of every series.
func (e *Engine) recentAnomalies(ctx context.Context) ([]models.AnomalyFlag, error) {
	out := make([]models.AnomalyFlag, 0)
	for _, key := range e.store.Keys() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		obs := e.store.Query(ctx, key, models.AllTime)
		if len(obs) == 0 {
			continue
		}
		last := models.DayOf(obs[len(obs)-1].Date)
		r := models.DateRange{From: last.AddDate(0, 0, -(recentAnomalyDays - 1)), To: last}
		out = append(out, e.detector.Detect(ctx, key, r)...)
	}
	return out, nil
}

// elasticities estimates every product that has enough cross-market data.
func (e *Engine) elasticities(ctx context.Context) ([]models.ElasticityEstimate, error) {
	snap := e.store.Snapshot()
	out := make([]models.ElasticityEstimate, 0)
	for _, product := range e.store.Products() {
		est, err := e.elasticity.Elasticity(ctx, snap, product)
		if errors.Is(err, models.ErrInsufficientData) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, est...)
	}
	return out, nil
}

// monitoring reports the latest day-over-day move of every series.
func (e *Engine) monitoring(ctx context.Context) ([]models.PriceMonitor, error) {
	out := make([]models.PriceMonitor, 0)
	for _, key := range e.store.Keys() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		change, ok := latestChange(key, features.Collapse(e.store.Query(ctx, key, models.AllTime)))
		if !ok {
			continue
		}
		out = append(out, models.PriceMonitor{
			Key:           key,
			Date:          change.Date,
			Price:         change.Current,
			PreviousPrice: change.Previous,
			ChangePct:     change.ChangePct,
			Status:        analytics.PriceStatus(change.ChangePct),
		})
	}
	return out, nil
}

// predictions forecasts every series that has a model; a series that lost
// its model since the last refresh is skipped.
func (e *Engine) predictions(ctx context.Context) ([]models.ForecastResult, error) {
	out := make([]models.ForecastResult, 0)
	for _, key := range e.forecaster.Keys() {
		f, err := e.forecaster.Predict(ctx, key, e.cfg.ForecastHorizon)
		if errors.Is(err, models.ErrModelUnavailable) || errors.Is(err, models.ErrInsufficientData) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
