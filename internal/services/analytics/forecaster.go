package analytics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"AgroPulse/internal/domain/models"
	"AgroPulse/internal/domain/repository"
	"AgroPulse/internal/domain/service"
	"AgroPulse/internal/services/features"
	"AgroPulse/pkg/config"
	"AgroPulse/pkg/logger"
	"AgroPulse/pkg/metrics"
)

type installedModel struct {
	meta      models.ForecastModel
	predictor service.Predictor
}

// Forecaster trains one model per series and serves recursive forecasts.
// Training of a key is serialized; installation replaces the model atomically.
type Forecaster struct {
	store   repository.SeriesStore
	deriver *features.Deriver
	trainer service.Trainable
	cfg     config.EngineConfig
	log     *logger.Logger
	metrics repository.Metrics
	now     func() time.Time

	mu     sync.RWMutex
	models map[models.SeriesKey]*installedModel

	keyLocks sync.Map // models.SeriesKey -> *sync.Mutex
}

type ForecasterOption func(*Forecaster)

// WithTrainer replaces the default ridge regression.
func WithTrainer(t service.Trainable) ForecasterOption {
	return func(f *Forecaster) { f.trainer = t }
}

func WithForecastClock(now func() time.Time) ForecasterOption {
	return func(f *Forecaster) { f.now = now }
}

func WithForecastLogger(l *logger.Logger) ForecasterOption {
	return func(f *Forecaster) { f.log = l }
}

func WithForecastMetrics(m repository.Metrics) ForecasterOption {
	return func(f *Forecaster) { f.metrics = m }
}

func NewForecaster(store repository.SeriesStore, deriver *features.Deriver, cfg config.EngineConfig, opts ...ForecasterOption) *Forecaster {
	f := &Forecaster{
		store:   store,
		deriver: deriver,
		trainer: NewRidgeRegression(cfg.RidgeLambda),
		cfg:     cfg,
		log:     logger.NewNop(),
		metrics: metrics.Nop{},
		now:     time.Now,
		models:  make(map[models.SeriesKey]*installedModel),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Forecaster) lockFor(key models.SeriesKey) *sync.Mutex {
	m, _ := f.keyLocks.LoadOrStore(key, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// Train fits and installs a model for key. On any failure the previously
// installed model stays in place, except when the series has shrunk below
// MinHistory observations, in which case it is discarded.
func (f *Forecaster) Train(ctx context.Context, key models.SeriesKey) (models.ForecastModel, error) {
	l := f.lockFor(key)
	l.Lock()
	defer l.Unlock()
	return f.trainLocked(ctx, key)
}

func (f *Forecaster) trainLocked(ctx context.Context, key models.SeriesKey) (models.ForecastModel, error) {
	start := f.now()
	ctx, cancel := context.WithTimeout(ctx, f.cfg.TrainTimeout)
	defer cancel()

	model, err := f.fit(ctx, key)
	f.metrics.RecordLatency("train", time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			err = &models.TimeoutError{Op: "train " + key.String(), Err: err}
		}
		if errors.Is(err, models.ErrInsufficientData) && f.store.Count(key) < f.cfg.MinHistory {
			f.Discard(key)
		}
		f.metrics.RecordError("train")
		return models.ForecastModel{}, err
	}

	f.mu.Lock()
	f.models[key] = model
	f.mu.Unlock()

	f.metrics.RecordModelQuality(key.String(), model.meta.MAE, model.meta.R2)
	f.log.Debug("Model installed",
		logger.Key(key),
		logger.Int("samples", model.meta.SampleCount),
		logger.Float64("mae", model.meta.MAE),
		logger.Float64("r2", model.meta.R2),
	)
	return model.meta, nil
}

func (f *Forecaster) fit(ctx context.Context, key models.SeriesKey) (*installedModel, error) {
	obs := f.store.Query(ctx, key, models.AllTime)
	points := features.Collapse(obs)
	X, y, dates := f.samples(key, points)

	need := f.cfg.MinHistory
	if len(X) < need {
		return nil, &models.InsufficientDataError{Key: key, Have: len(X), Need: need}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	holdout := int(math.Round(float64(len(X)) * f.cfg.HoldoutFraction))
	if holdout < 1 {
		holdout = 1
	}
	split := len(X) - holdout

	validation, err := f.trainer.Fit(ctx, X[:split], y[:split])
	if err != nil {
		return nil, fmt.Errorf("fit validation model: %w", err)
	}
	predicted := make([]float64, holdout)
	for i := range predicted {
		predicted[i] = validation.Predict(X[split+i])
	}
	mae := MeanAbsoluteError(y[split:], predicted)
	r2 := RSquared(y[split:], predicted)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	final, err := f.trainer.Fit(ctx, X, y)
	if err != nil {
		return nil, fmt.Errorf("fit model: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &installedModel{
		predictor: final,
		meta: models.ForecastModel{
			Key:              key,
			Coefficients:     final.Coefficients(),
			TrainFrom:        dates[0],
			TrainTo:          dates[len(dates)-1],
			SampleCount:      len(X),
			ObservationCount: len(obs),
			MAE:              mae,
			R2:               r2,
			TrainedAt:        f.now(),
		},
	}, nil
}

// samples pairs the features of day t with the price of the next observed day.
func (f *Forecaster) samples(key models.SeriesKey, points []models.DailyPoint) ([][]float64, []float64, []time.Time) {
	vecs := f.deriver.DeriveDaily(key, points)
	offset := f.cfg.MinHistory
	X := make([][]float64, 0, len(vecs))
	y := make([]float64, 0, len(vecs))
	dates := make([]time.Time, 0, len(vecs))
	for j, v := range vecs {
		next := offset + j + 1
		if next >= len(points) {
			break
		}
		X = append(X, v.Values())
		y = append(y, points[next].Price)
		dates = append(dates, v.Date)
	}
	return X, y, dates
}

// Predict forecasts horizon days ahead. It never trains a key that has no
// model; a stale model is retrained first and a failed retrain is returned.
// A key that fell below MinHistory observations loses its model.
func (f *Forecaster) Predict(ctx context.Context, key models.SeriesKey, horizon int) (models.ForecastResult, error) {
	if horizon < 1 {
		return models.ForecastResult{}, fmt.Errorf("%w: %d", models.ErrInvalidHorizon, horizon)
	}
	if horizon > f.maxHorizon() {
		return models.ForecastResult{}, fmt.Errorf("%w: %d > %d", models.ErrHorizonTooLong, horizon, f.maxHorizon())
	}

	l := f.lockFor(key)
	l.Lock()
	defer l.Unlock()

	if n := f.store.Count(key); n < f.cfg.MinHistory {
		f.Discard(key)
		return models.ForecastResult{}, fmt.Errorf("%w for %s: %d observations, need %d",
			models.ErrModelUnavailable, key, n, f.cfg.MinHistory)
	}
	m, ok := f.installed(key)
	if !ok {
		return models.ForecastResult{}, fmt.Errorf("%w for %s", models.ErrModelUnavailable, key)
	}
	if f.stale(key, m.meta) {
		if _, err := f.trainLocked(ctx, key); err != nil {
			return models.ForecastResult{}, fmt.Errorf("retrain stale model: %w", err)
		}
		m, _ = f.installed(key)
	}

	points := features.Collapse(f.store.Query(ctx, key, models.AllTime))
	if len(points) == 0 {
		return models.ForecastResult{}, &models.InsufficientDataError{Key: key, Have: 0, Need: f.cfg.MinHistory}
	}
	last := points[len(points)-1]
	result := models.ForecastResult{
		Key:         key,
		Horizon:     horizon,
		GeneratedAt: f.now(),
		LastDate:    last.Date,
		LastPrice:   last.Price,
		Points:      make([]models.ForecastPoint, 0, horizon),
		Quality: models.ModelQuality{
			MAE:         m.meta.MAE,
			R2:          m.meta.R2,
			SampleCount: m.meta.SampleCount,
			TrainedAt:   m.meta.TrainedAt,
		},
		BandNote:   models.ForecastBandNote,
		Confidence: math.Max(0, math.Min(1, m.meta.R2)),
	}
	result.RiskLevel = RiskLevel(result.Confidence)

	for d := 1; d <= horizon; d++ {
		vec, ok := f.deriver.Latest(key, points)
		if !ok {
			return models.ForecastResult{}, &models.InsufficientDataError{Key: key, Have: len(points), Need: f.cfg.MinHistory + 1}
		}
		price := math.Max(m.predictor.Predict(vec.Values()), 0)
		half := f.cfg.BandK * m.meta.MAE * float64(d)
		date := points[len(points)-1].Date.AddDate(0, 0, 1)
		result.Points = append(result.Points, models.ForecastPoint{
			Date:  date,
			Price: price,
			Lower: math.Max(price-half, 0),
			Upper: price + half,
		})
		points = append(points, models.DailyPoint{Date: date, Price: price})
	}
	return result, nil
}

// RiskLevel tiers a forecast confidence.
func RiskLevel(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return "low"
	case confidence >= 0.6:
		return "medium"
	default:
		return "high"
	}
}

func (f *Forecaster) maxHorizon() int {
	if f.cfg.MaxHorizon > 0 && f.cfg.MaxHorizon < models.MaxForecastHorizon {
		return f.cfg.MaxHorizon
	}
	return models.MaxForecastHorizon
}

func (f *Forecaster) installed(key models.SeriesKey) (*installedModel, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, ok := f.models[key]
	return m, ok
}

func (f *Forecaster) stale(key models.SeriesKey, meta models.ForecastModel) bool {
	if f.now().Sub(meta.TrainedAt) > f.cfg.StalenessThreshold {
		return true
	}
	if f.cfg.RetrainAfterObservations > 0 {
		return f.store.Count(key)-meta.ObservationCount >= f.cfg.RetrainAfterObservations
	}
	return false
}

// Stale reports whether the installed model of key needs retraining.
// Keys without a model are not stale.
func (f *Forecaster) Stale(key models.SeriesKey) bool {
	m, ok := f.installed(key)
	return ok && f.stale(key, m.meta)
}

// Model returns a copy of the installed model metadata.
func (f *Forecaster) Model(key models.SeriesKey) (models.ForecastModel, bool) {
	m, ok := f.installed(key)
	if !ok {
		return models.ForecastModel{}, false
	}
	meta := m.meta
	meta.Coefficients = append([]float64(nil), m.meta.Coefficients...)
	return meta, true
}

// Keys lists the series that currently have a model, sorted.
func (f *Forecaster) Keys() []models.SeriesKey {
	f.mu.RLock()
	out := make([]models.SeriesKey, 0, len(f.models))
	for k := range f.models {
		out = append(out, k)
	}
	f.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Discard removes the model of key, if any.
func (f *Forecaster) Discard(key models.SeriesKey) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.models[key]; !ok {
		return false
	}
	delete(f.models, key)
	f.log.Info("Model discarded", logger.Key(key))
	return true
}
