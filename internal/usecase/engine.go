package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"AgroPulse/internal/domain/models"
	domrepo "AgroPulse/internal/domain/repository"
	"AgroPulse/internal/domain/service"
	"AgroPulse/internal/services/alerts"
	"AgroPulse/internal/services/analytics"
	"AgroPulse/internal/services/features"
	"AgroPulse/pkg/config"
	"AgroPulse/pkg/logger"
	"AgroPulse/pkg/metrics"
)

// Ingester accepts observation batches. The store satisfies it directly;
// the ingest pipeline wraps the store with normalization and archiving.
type Ingester interface {
	Ingest(ctx context.Context, batch []models.PriceObservation) (models.IngestReport, error)
}

// Engine is the analytics facade used by the HTTP, Kafka, scheduler and CLI
// adapters. Every component reads from the same series store.
type Engine struct {
	cfg   config.EngineConfig
	store domrepo.SeriesStore
	in    Ingester

	deriver    *features.Deriver
	forecaster *analytics.Forecaster
	detector   *analytics.AnomalyDetector
	clusterer  *analytics.MarketClusterer
	elasticity *analytics.ElasticityAnalyzer
	portfolio  *analytics.PortfolioAnalyzer
	alerter    *alerts.Engine

	sinks   []domrepo.AlertSink
	metrics domrepo.Metrics
	log     *logger.Logger
	now     func() time.Time
	trainer service.Trainable
	timeout time.Duration
}

type EngineOption func(*Engine)

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l *logger.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

func WithMetrics(m domrepo.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithIngester routes Ingest through in instead of the bare store.
func WithIngester(in Ingester) EngineOption {
	return func(e *Engine) { e.in = in }
}

// WithAlertSinks adds destinations for alerts raised by Refresh.
func WithAlertSinks(sinks ...domrepo.AlertSink) EngineOption {
	return func(e *Engine) { e.sinks = append(e.sinks, sinks...) }
}

// WithTrainer replaces the ridge regression used by the forecaster.
func WithTrainer(t service.Trainable) EngineOption {
	return func(e *Engine) { e.trainer = t }
}

// WithReportTimeout bounds Report as a whole.
func WithReportTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// NewEngine validates cfg and builds every analytics component over store.
func NewEngine(store domrepo.SeriesStore, cfg config.EngineConfig, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("series store required")
	}
	if err := config.ValidateEngine(cfg); err != nil {
		return nil, err
	}
	deriver, err := features.NewDeriver(features.ConfigFrom(cfg))
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		store:   store,
		in:      store,
		deriver: deriver,
		metrics: metrics.Nop{},
		log:     logger.NewNop(),
		now:     time.Now,
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}

	fopts := []analytics.ForecasterOption{
		analytics.WithForecastClock(e.now),
		analytics.WithForecastLogger(e.log),
		analytics.WithForecastMetrics(e.metrics),
	}
	if e.trainer != nil {
		fopts = append(fopts, analytics.WithTrainer(e.trainer))
	}
	e.forecaster = analytics.NewForecaster(store, deriver, cfg, fopts...)
	e.detector = analytics.NewAnomalyDetector(store, cfg, analytics.MADScorer{FloorRatio: cfg.AnomalyMADFloor})
	e.clusterer = analytics.NewMarketClusterer(cfg.Cluster,
		analytics.WithClusterClock(e.now),
		analytics.WithClusterLogger(e.log),
	)
	e.elasticity = analytics.NewElasticityAnalyzer(cfg.Elasticity)
	e.portfolio = analytics.NewPortfolioAnalyzer(e.now)
	e.alerter = alerts.NewEngine(cfg.Alerts,
		alerts.WithClock(e.now),
		alerts.WithLogger(e.log),
	)
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() config.EngineConfig { return e.cfg }

// Store returns the underlying series store.
func (e *Engine) Store() domrepo.SeriesStore { return e.store }

// Ingest merges a batch into the store. Rejected records come back as
// *models.InvalidObservationError alongside a report; valid records of the
// same batch are kept.
func (e *Engine) Ingest(ctx context.Context, batch []models.PriceObservation) (models.IngestReport, error) {
	start := time.Now()
	rep, err := e.in.Ingest(ctx, batch)
	e.metrics.RecordIngest(rep.Accepted, rep.Rejected)
	e.metrics.RecordLatency("ingest", time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, models.ErrInvalidObservation) {
			e.log.Warn("Observations rejected",
				logger.Int("received", rep.Received),
				logger.Int("accepted", rep.Accepted),
				logger.Int("rejected", rep.Rejected),
			)
		} else {
			e.metrics.RecordError("ingest")
		}
		return rep, err
	}
	e.log.Debug("Observations ingested",
		logger.Int("accepted", rep.Accepted),
		logger.Int("overwritten", rep.Overwritten),
		logger.Int64("version", int64(e.store.Version())),
	)
	return rep, nil
}

// IngestPayloads converts wire payloads and ingests them. Payloads with an
// unparsable date are rejected with their original index.
func (e *Engine) IngestPayloads(ctx context.Context, payloads []models.ObservationPayload) (models.IngestReport, error) {
	batch := make([]models.PriceObservation, 0, len(payloads))
	index := make([]int, 0, len(payloads))
	var rejections []models.Rejection
	for i, p := range payloads {
		o, err := p.ToObservation()
		if err != nil {
			rejections = append(rejections, models.Rejection{
				Index:  i,
				Key:    fmt.Sprintf("%s|%s|%s|%s", p.Product, p.Market, p.Origin, p.Date),
				Reason: "invalid date",
			})
			continue
		}
		batch = append(batch, o)
		index = append(index, i)
	}

	rep := models.IngestReport{}
	var err error
	if len(batch) > 0 {
		rep, err = e.Ingest(ctx, batch)
		if err != nil && !errors.Is(err, models.ErrInvalidObservation) {
			return rep, err
		}
	}
	for _, r := range rep.Rejections {
		r.Index = index[r.Index]
		rejections = append(rejections, r)
	}
	sortRejections(rejections)

	rep.Received = len(payloads)
	rep.Rejected = len(rejections)
	rep.Rejections = rejections
	if len(rejections) > 0 {
		return rep, &models.InvalidObservationError{Rejected: len(rejections), Rejections: rejections}
	}
	return rep, nil
}

// Query returns the observations of key inside r, ordered by date.
func (e *Engine) Query(ctx context.Context, key models.SeriesKey, r models.DateRange) []models.PriceObservation {
	return e.store.Query(ctx, key, r)
}

// Train fits and installs the forecast model of key.
func (e *Engine) Train(ctx context.Context, key models.SeriesKey) (models.ForecastModel, error) {
	return e.forecaster.Train(ctx, key)
}

// Model returns the installed forecast model of key, if any.
func (e *Engine) Model(key models.SeriesKey) (models.ForecastModel, bool) {
	return e.forecaster.Model(key)
}

func (e *Engine) GetForecast(ctx context.Context, key models.SeriesKey, horizon int) (models.ForecastResult, error) {
	start := time.Now()
	defer func() { e.metrics.RecordLatency("forecast", time.Since(start).Seconds()) }()

	res, err := e.forecaster.Predict(ctx, key, horizon)
	if err != nil {
		e.metrics.RecordError("forecast")
		return models.ForecastResult{}, fmt.Errorf("forecast %s: %w", key, err)
	}
	return res, nil
}

func (e *Engine) GetAnomalies(ctx context.Context, key models.SeriesKey, r models.DateRange) ([]models.AnomalyFlag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.detector.Detect(ctx, key, r), nil
}

// GetAnomalyScores returns every score in r, flagged or not.
func (e *Engine) GetAnomalyScores(ctx context.Context, key models.SeriesKey, r models.DateRange) ([]models.AnomalyScore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.detector.Score(ctx, key, r), nil
}

func (e *Engine) GetClusters(ctx context.Context) ([]models.ClusterAssignment, error) {
	set, err := e.ClusterSet(ctx)
	if err != nil {
		return nil, err
	}
	return set.Assignments, nil
}

// ClusterSet returns the full clustering of the current snapshot.
func (e *Engine) ClusterSet(ctx context.Context) (models.ClusterSet, error) {
	start := time.Now()
	set, err := e.clusterer.Cluster(ctx, e.store.Snapshot())
	e.metrics.RecordLatency("cluster", time.Since(start).Seconds())
	if err != nil {
		e.metrics.RecordError("cluster")
		return models.ClusterSet{}, fmt.Errorf("cluster markets: %w", err)
	}
	return set, nil
}

func (e *Engine) GetElasticity(ctx context.Context, product string) ([]models.ElasticityEstimate, error) {
	if product == "" {
		return nil, fmt.Errorf("product required")
	}
	est, err := e.elasticity.Elasticity(ctx, e.store.Snapshot(), product)
	if err != nil {
		return nil, fmt.Errorf("elasticity %s: %w", product, err)
	}
	return est, nil
}

func (e *Engine) GetPortfolio(ctx context.Context) (models.PortfolioAllocation, error) {
	alloc, err := e.portfolio.Portfolio(ctx, e.store.Snapshot())
	if err != nil {
		return models.PortfolioAllocation{}, fmt.Errorf("portfolio: %w", err)
	}
	return alloc, nil
}

// GetAlerts lists alerts updated at or after since. A zero since lists all.
func (e *Engine) GetAlerts(ctx context.Context, since time.Time) ([]models.Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.alerter.Alerts(since), nil
}

// Summary describes the whole store.
func (e *Engine) Summary(ctx context.Context) (models.SummaryStats, error) {
	if err := ctx.Err(); err != nil {
		return models.SummaryStats{}, err
	}
	return analytics.Summarize(e.store.Snapshot()), nil
}

// MarketSentiment scores the product-level daily series of product.
func (e *Engine) MarketSentiment(ctx context.Context, product string) (models.MarketSentiment, error) {
	if product == "" {
		return models.MarketSentiment{}, fmt.Errorf("product required")
	}
	key := models.ProductKey(product)
	points := features.Collapse(e.store.Query(ctx, key, models.AllTime))
	if len(points) < 2 {
		return models.MarketSentiment{}, &models.InsufficientDataError{Key: key, Have: len(points), Need: 2}
	}
	return analytics.Sentiment(product, points), nil
}

func sortRejections(r []models.Rejection) {
	sort.SliceStable(r, func(i, j int) bool { return r[i].Index < r[j].Index })
}
