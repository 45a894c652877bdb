package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"AgroPulse/internal/domain/models"
	"AgroPulse/internal/middleware"
	svcmetrics "AgroPulse/internal/service/metrics"
	"AgroPulse/internal/usecase"
	"AgroPulse/pkg/cache"
	xhttp "AgroPulse/pkg/http"
	xlogger "AgroPulse/pkg/logger"
)

// RefreshLockKey guards Refresh across the scheduler, the API and other replicas.
const RefreshLockKey = "lock:refresh"

// HealthCheck checks one dependency.
type HealthCheck func(ctx context.Context) error

// AnalyticsEchoHandler serves the analytics API over the engine.
type AnalyticsEchoHandler struct {
	engine  *usecase.Engine
	logger  *xlogger.Logger
	cache   cache.Service
	ttl     time.Duration
	// instance scopes response keys; store versions are per process
	instance string
	lockTTL time.Duration
	metrics *svcmetrics.AnalyticsMetrics
	hub     *AlertHub
	checks  map[string]HealthCheck
}

type HandlerOption func(*AnalyticsEchoHandler)

// WithResponseCache caches cluster and portfolio responses per instance and
// store version. The cache also provides the refresh lock.
func WithResponseCache(c cache.Service, ttl time.Duration) HandlerOption {
	return func(h *AnalyticsEchoHandler) {
		h.cache = c
		if ttl > 0 {
			h.ttl = ttl
		}
	}
}

// WithCacheInstance fixes the instance id in response cache keys. The
// default is a random id per handler.
func WithCacheInstance(id string) HandlerOption {
	return func(h *AnalyticsEchoHandler) {
		if id != "" {
			h.instance = id
		}
	}
}

func WithRefreshLockTTL(d time.Duration) HandlerOption {
	return func(h *AnalyticsEchoHandler) {
		if d > 0 {
			h.lockTTL = d
		}
	}
}

func WithEndpointMetrics(m *svcmetrics.AnalyticsMetrics) HandlerOption {
	return func(h *AnalyticsEchoHandler) { h.metrics = m }
}

// WithAlertHub exposes the alert stream on /ws/alerts.
func WithAlertHub(hub *AlertHub) HandlerOption {
	return func(h *AnalyticsEchoHandler) { h.hub = hub }
}

// WithHealthCheck adds a named dependency check to /healthz.
func WithHealthCheck(name string, check HealthCheck) HandlerOption {
	return func(h *AnalyticsEchoHandler) { h.checks[name] = check }
}

func NewAnalyticsEchoHandler(engine *usecase.Engine, logger *xlogger.Logger, opts ...HandlerOption) *AnalyticsEchoHandler {
	if logger == nil {
		logger = xlogger.NewNop()
	}
	h := &AnalyticsEchoHandler{
		engine:   engine,
		logger:   logger,
		ttl:      5 * time.Minute,
		lockTTL:  10 * time.Minute,
		checks:   make(map[string]HealthCheck),
		instance: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

var _ xhttp.Handler = (*AnalyticsEchoHandler)(nil)

func (h *AnalyticsEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/observations", h.Ingest)
	g.GET("/series", h.route("series", h.Series))
	g.GET("/forecast", h.route("forecast", h.Forecast))
	g.GET("/anomalies", h.route("anomalies", h.Anomalies))
	g.GET("/clusters", h.route("clusters", h.Clusters))
	g.GET("/elasticity", h.route("elasticity", h.Elasticity))
	g.GET("/portfolio", h.route("portfolio", h.Portfolio))
	g.GET("/alerts", h.route("alerts", h.Alerts))
	g.GET("/summary", h.route("summary", h.Summary))
	g.GET("/sentiment", h.route("sentiment", h.Sentiment))
	g.GET("/report", h.route("report", h.Report))
	g.POST("/refresh", h.route("refresh", h.Refresh))

	e.GET("/healthz", h.Health)
	if h.hub != nil {
		e.GET("/ws/alerts", h.hub.ServeWS)
	}
}

// route times fn and renders its result or error.
func (h *AnalyticsEchoHandler) route(endpoint string, fn func(echo.Context) (interface{}, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		data, err := fn(c)
		h.metrics.Observe(endpoint, start, err)
		if err != nil {
			return h.fail(c, endpoint, err)
		}
		return xhttp.SuccessResponse(c, data)
	}
}

func (h *AnalyticsEchoHandler) fail(c echo.Context, endpoint string, err error) error {
	var br *badRequest
	if errors.As(err, &br) {
		return xhttp.BadRequestResponse(c, br.details)
	}
	appErr := toAppError(err)
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.Error("analytics usecase error", xlogger.String("endpoint", endpoint), xlogger.Error(err))
	} else {
		h.logger.Debug("analytics request rejected", xlogger.String("endpoint", endpoint), xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}

func bind(c echo.Context, req interface{}) error {
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return &badRequest{details: verr}
	}
	return nil
}

// Ingest accepts a batch of observations. A partially rejected batch answers
// 422 with the report; the valid observations are kept.
func (h *AnalyticsEchoHandler) Ingest(c echo.Context) error {
	start := time.Now()
	req := &models.IngestRequest{}
	if err := bind(c, req); err != nil {
		h.metrics.Observe("observations", start, err)
		return h.fail(c, "observations", err)
	}
	rep, err := h.engine.IngestPayloads(c.Request().Context(), req.Observations)
	h.metrics.Observe("observations", start, err)
	if err != nil {
		if errors.Is(err, models.ErrInvalidObservation) {
			return xhttp.DataResponse(c, http.StatusUnprocessableEntity, rep)
		}
		return h.fail(c, "observations", err)
	}
	return xhttp.SuccessResponse(c, rep)
}

func (h *AnalyticsEchoHandler) Series(c echo.Context) (interface{}, error) {
	req := &models.SeriesRequest{}
	if err := bind(c, req); err != nil {
		return nil, err
	}
	r, err := parseRange(req.From, req.To)
	if err != nil {
		return nil, err
	}
	return h.engine.GetSeries(c.Request().Context(), usecase.GetSeriesParams{
		Key:   seriesKey(req.Product, req.Market),
		Range: r,
		Limit: req.Limit,
	})
}

func (h *AnalyticsEchoHandler) Forecast(c echo.Context) (interface{}, error) {
	req := &models.ForecastRequest{}
	if err := bind(c, req); err != nil {
		return nil, err
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=60")
	return h.engine.GetForecast(c.Request().Context(), seriesKey(req.Product, req.Market), req.Horizon)
}

func (h *AnalyticsEchoHandler) Anomalies(c echo.Context) (interface{}, error) {
	req := &models.AnomalyRequest{}
	if err := bind(c, req); err != nil {
		return nil, err
	}
	r, err := parseRange(req.From, req.To)
	if err != nil {
		return nil, err
	}
	return h.engine.GetAnomalies(c.Request().Context(), seriesKey(req.Product, req.Market), r)
}

func (h *AnalyticsEchoHandler) Clusters(c echo.Context) (interface{}, error) {
	var out models.ClusterSet
	err := h.cached(c.Request().Context(), "clusters", &out, func(ctx context.Context) (interface{}, error) {
		return h.engine.ClusterSet(ctx)
	})
	return out, err
}

func (h *AnalyticsEchoHandler) Elasticity(c echo.Context) (interface{}, error) {
	req := &models.ElasticityRequest{}
	if err := bind(c, req); err != nil {
		return nil, err
	}
	return h.engine.GetElasticity(c.Request().Context(), middleware.NormalizeName(req.Product))
}

func (h *AnalyticsEchoHandler) Portfolio(c echo.Context) (interface{}, error) {
	var out models.PortfolioAllocation
	err := h.cached(c.Request().Context(), "portfolio", &out, func(ctx context.Context) (interface{}, error) {
		return h.engine.GetPortfolio(ctx)
	})
	return out, err
}

func (h *AnalyticsEchoHandler) Alerts(c echo.Context) (interface{}, error) {
	req := &models.AlertsRequest{}
	if err := bind(c, req); err != nil {
		return nil, err
	}
	var since time.Time
	if req.Since != "" {
		t, ok := xhttp.ParseTime(req.Since)
		if !ok {
			return nil, xhttp.BadRequestErrorf("invalid since %q", req.Since)
		}
		since = t
	}
	return h.engine.GetAlerts(c.Request().Context(), since)
}

func (h *AnalyticsEchoHandler) Summary(c echo.Context) (interface{}, error) {
	return h.engine.Summary(c.Request().Context())
}

func (h *AnalyticsEchoHandler) Sentiment(c echo.Context) (interface{}, error) {
	req := &models.SentimentRequest{}
	if err := bind(c, req); err != nil {
		return nil, err
	}
	return h.engine.MarketSentiment(c.Request().Context(), middleware.NormalizeName(req.Product))
}

func (h *AnalyticsEchoHandler) Report(c echo.Context) (interface{}, error) {
	return h.engine.Report(c.Request().Context())
}

// Refresh retrains every series and evaluates alerts now. It answers 409
// while another refresh holds the lock.
func (h *AnalyticsEchoHandler) Refresh(c echo.Context) (interface{}, error) {
	ctx := c.Request().Context()
	if h.cache != nil {
		ok, err := h.cache.TryLock(ctx, RefreshLockKey, h.lockTTL)
		if err != nil {
			return nil, xhttp.ServiceUnavailableError("refresh lock unavailable").WithError(err)
		}
		if !ok {
			return nil, xhttp.ConflictError("refresh already running")
		}
		defer func() {
			if err := h.cache.Unlock(context.WithoutCancel(ctx), RefreshLockKey); err != nil {
				h.logger.Warn("refresh unlock failed", xlogger.Error(err))
			}
		}()
	}
	return h.engine.Refresh(ctx)
}

type healthResponse struct {
	Status       string            `json:"status"`
	StoreVersion uint64            `json:"store_version"`
	Series       int               `json:"series"`
	Checks       map[string]string `json:"checks,omitempty"`
	Clients      int               `json:"ws_clients,omitempty"`
}

// Health reports 503 when any dependency check fails.
func (h *AnalyticsEchoHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	store := h.engine.Store()
	res := healthResponse{
		Status:       "ok",
		StoreVersion: store.Version(),
		Series:       len(store.Keys()),
	}
	if len(h.checks) > 0 {
		res.Checks = make(map[string]string, len(h.checks))
		for name, check := range h.checks {
			if err := check(ctx); err != nil {
				res.Checks[name] = err.Error()
				res.Status = "degraded"
				continue
			}
			res.Checks[name] = "ok"
		}
	}
	if h.hub != nil {
		res.Clients = h.hub.Len()
	}
	status := http.StatusOK
	if res.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	return xhttp.DataResponse(c, status, res)
}

// cached fills dest from the response cache, keyed by instance and store
// version, or computes it. Cache failures only cost a recomputation.
func (h *AnalyticsEchoHandler) cached(ctx context.Context, name string, dest interface{}, compute func(context.Context) (interface{}, error)) error {
	if h.cache == nil {
		v, err := compute(ctx)
		if err != nil {
			return err
		}
		return assign(dest, v)
	}
	key := h.responseKey(name)
	if err := h.cache.Get(ctx, key, dest); err == nil {
		return nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		h.logger.Warn("response cache get failed", xlogger.String("key", key), xlogger.Error(err))
	}
	v, err := compute(ctx)
	if err != nil {
		return err
	}
	if err := h.cache.Set(ctx, key, v, h.ttl); err != nil {
		h.logger.Warn("response cache set failed", xlogger.String("key", key), xlogger.Error(err))
	}
	return assign(dest, v)
}

func (h *AnalyticsEchoHandler) responseKey(name string) string {
	return cache.GenerateKeyWithParams("resp", name, h.instance, h.engine.Store().Version())
}

func assign(dest, v interface{}) error {
	switch d := dest.(type) {
	case *models.ClusterSet:
		*d = v.(models.ClusterSet)
	case *models.PortfolioAllocation:
		*d = v.(models.PortfolioAllocation)
	default:
		return xhttp.InternalErrorf("unsupported cache target %T", dest)
	}
	return nil
}

func seriesKey(product, market string) models.SeriesKey {
	return models.SeriesKey{
		Product: middleware.NormalizeName(product),
		Market:  middleware.NormalizeName(market),
	}
}

func parseRange(from, to string) (models.DateRange, error) {
	var r models.DateRange
	if from != "" {
		t, ok := xhttp.ParseTime(from)
		if !ok {
			return r, xhttp.BadRequestErrorf("invalid from %q", from)
		}
		r.From = models.DayOf(t)
	}
	if to != "" {
		t, ok := xhttp.ParseTime(to)
		if !ok {
			return r, xhttp.BadRequestErrorf("invalid to %q", to)
		}
		r.To = models.DayOf(t)
	}
	if !r.From.IsZero() && !r.To.IsZero() && r.From.After(r.To) {
		return r, xhttp.BadRequestError("from must be <= to")
	}
	return r, nil
}
