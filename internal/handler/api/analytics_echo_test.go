package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AgroPulse/internal/domain/models"
	"AgroPulse/internal/middleware"
	"AgroPulse/internal/repository"
	"AgroPulse/internal/services/demo"
	"AgroPulse/internal/usecase"
	"AgroPulse/pkg/cache"
	"AgroPulse/pkg/config"
	xhttp "AgroPulse/pkg/http"
	"AgroPulse/pkg/metrics"
)

var (
	day0  = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	nowAt = time.Date(2024, 10, 1, 6, 0, 0, 0, time.UTC)
)

type env struct {
	e      *echo.Echo
	engine *usecase.Engine
	cache  *cache.MemoryCache
}

func newEnv(t *testing.T, opts ...HandlerOption) *env {
	t.Helper()
	mc := cache.NewMemoryCache(cache.WithMemoryCleanup(0))
	t.Cleanup(func() { _ = mc.Close() })
	return newEnvWithCache(t, mc, opts...)
}

// newEnvWithCache builds a replica whose response cache is mc.
func newEnvWithCache(t *testing.T, mc *cache.MemoryCache, opts ...HandlerOption) *env {
	t.Helper()
	clock := func() time.Time { return nowAt }
	store := repository.NewMemorySeriesStore(repository.WithClock(clock))
	pipeline := middleware.NewIngestPipeline(store, metrics.Nop{})
	engine, err := usecase.NewEngine(store, config.DefaultEngine(),
		usecase.WithClock(clock),
		usecase.WithIngester(pipeline),
	)
	require.NoError(t, err)

	h := NewAnalyticsEchoHandler(engine, nil, append([]HandlerOption{WithResponseCache(mc, time.Minute)}, opts...)...)
	e := echo.New()
	e.HTTPErrorHandler = xhttp.ErrorHandler(nil)
	h.RegisterRoutes(e)
	return &env{e: e, engine: engine, cache: mc}
}

func (v *env) do(t *testing.T, method, target string, body interface{}) (int, xhttp.APIResponse, []byte) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, rd)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	v.e.ServeHTTP(rec, req)

	var resp xhttp.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	return rec.Code, resp, data
}

func tomatoPayloads(days int) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, days)
	for i := 0; i < days; i++ {
		p := 3 + 0.01*float64(i) + 0.4*math.Sin(2*math.Pi*float64(i)/7)
		out = append(out, map[string]interface{}{
			"product": " tomate ",
			"market":  "paris",
			"origin":  "France",
			"date":    day0.AddDate(0, 0, i).Format("2006-01-02"),
			"price":   fmt.Sprintf("%.2f", p),
			"unit":    "KG",
		})
	}
	return out
}

func TestIngestAndForecastFlow(t *testing.T) {
	v := newEnv(t)

	code, _, data := v.do(t, http.MethodPost, "/api/observations", map[string]interface{}{"observations": tomatoPayloads(90)})
	require.Equal(t, http.StatusOK, code)
	var rep models.IngestReport
	require.NoError(t, json.Unmarshal(data, &rep))
	assert.Equal(t, 90, rep.Accepted)

	// names were normalized on the way in, and queries normalize too
	assert.Equal(t, 90, v.engine.Store().Count(models.SeriesKey{Product: "Tomate", Market: "Paris"}))

	code, resp, _ := v.do(t, http.MethodGet, "/api/forecast?product=tomate&market=paris", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, http.StatusNotFound, resp.Status)

	code, _, data = v.do(t, http.MethodPost, "/api/refresh", nil)
	require.Equal(t, http.StatusOK, code)
	var rr models.RefreshResult
	require.NoError(t, json.Unmarshal(data, &rr))
	assert.Equal(t, 1, rr.Trained)

	code, _, data = v.do(t, http.MethodGet, "/api/forecast?product=tomate&market=paris&horizon=5", nil)
	require.Equal(t, http.StatusOK, code)
	var fc models.ForecastResult
	require.NoError(t, json.Unmarshal(data, &fc))
	assert.Len(t, fc.Points, 5)

	code, _, _ = v.do(t, http.MethodGet, "/api/forecast?product=tomate&market=paris&horizon=31", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestIngestPartialRejection(t *testing.T) {
	v := newEnv(t)
	batch := tomatoPayloads(3)
	batch[1]["price"] = "-2"
	batch[2]["date"] = "01/03/2024"

	code, _, data := v.do(t, http.MethodPost, "/api/observations", map[string]interface{}{"observations": batch})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	var rep models.IngestReport
	require.NoError(t, json.Unmarshal(data, &rep))
	assert.Equal(t, 1, rep.Accepted)
	assert.Equal(t, 2, rep.Rejected)

	code, _, _ = v.do(t, http.MethodPost, "/api/observations", map[string]interface{}{"observations": []interface{}{}})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSeriesEndpoint(t *testing.T) {
	v := newEnv(t)
	code, _, _ := v.do(t, http.MethodPost, "/api/observations", map[string]interface{}{"observations": tomatoPayloads(20)})
	require.Equal(t, http.StatusOK, code)

	code, _, data := v.do(t, http.MethodGet, "/api/series?product=tomate&limit=5&from=2024-01-03", nil)
	require.Equal(t, http.StatusOK, code)
	var res usecase.GetSeriesResult
	require.NoError(t, json.Unmarshal(data, &res))
	assert.Equal(t, 5, res.Count)
	assert.True(t, res.Truncated)
	assert.Equal(t, "2024-01-20", res.To)
	assert.Len(t, res.Daily, 18)

	cases := []string{
		"/api/series",
		"/api/series?product=tomate&from=2024-02-01&to=2024-01-01",
		"/api/series?product=tomate&from=yesterday",
		"/api/series?product=tomate&limit=100000",
	}
	for _, target := range cases {
		t.Run(target, func(t *testing.T) {
			code, _, _ := v.do(t, http.MethodGet, target, nil)
			assert.Equal(t, http.StatusBadRequest, code)
		})
	}
}

func TestClustersAreCachedByStoreVersion(t *testing.T) {
	v := newEnv(t, WithCacheInstance("node-a"))
	ctx := context.Background()

	code, _, _ := v.do(t, http.MethodGet, "/api/clusters", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	_, err := v.engine.Ingest(ctx, demo.Generate(demo.DefaultOptions(nowAt.AddDate(0, 0, -1))))
	require.NoError(t, err)

	code, _, first := v.do(t, http.MethodGet, "/api/clusters", nil)
	require.Equal(t, http.StatusOK, code)

	key := cache.GenerateKeyWithParams("resp", "clusters", "node-a", v.engine.Store().Version())
	var cached models.ClusterSet
	require.NoError(t, v.cache.Get(ctx, key, &cached))
	assert.NotEmpty(t, cached.Assignments)

	code, _, second := v.do(t, http.MethodGet, "/api/clusters", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, string(first), string(second))

	code, _, _ = v.do(t, http.MethodGet, "/api/portfolio", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestSharedCacheKeepsReplicasApart(t *testing.T) {
	shared := cache.NewMemoryCache(cache.WithMemoryCleanup(0))
	t.Cleanup(func() { _ = shared.Close() })
	a := newEnvWithCache(t, shared)
	b := newEnvWithCache(t, shared)
	ctx := context.Background()

	optsA := demo.DefaultOptions(nowAt.AddDate(0, 0, -1))
	optsB := optsA
	optsB.Seed = optsA.Seed + 1
	_, err := a.engine.Ingest(ctx, demo.Generate(optsA))
	require.NoError(t, err)
	_, err = b.engine.Ingest(ctx, demo.Generate(optsB))
	require.NoError(t, err)
	require.Equal(t, a.engine.Store().Version(), b.engine.Store().Version())

	code, _, fromA := a.do(t, http.MethodGet, "/api/portfolio", nil)
	require.Equal(t, http.StatusOK, code)
	code, _, fromB := b.do(t, http.MethodGet, "/api/portfolio", nil)
	require.Equal(t, http.StatusOK, code)

	direct, err := b.engine.GetPortfolio(ctx)
	require.NoError(t, err)
	want, err := json.Marshal(direct)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(fromB))
	assert.NotEqual(t, string(fromA), string(fromB))
}

func TestRefreshConflictWhileLocked(t *testing.T) {
	v := newEnv(t)
	ok, err := v.cache.TryLock(context.Background(), RefreshLockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	code, _, _ := v.do(t, http.MethodPost, "/api/refresh", nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestSentimentAndSummary(t *testing.T) {
	v := newEnv(t)
	code, _, _ := v.do(t, http.MethodGet, "/api/sentiment?product=tomate", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	v.do(t, http.MethodPost, "/api/observations", map[string]interface{}{"observations": tomatoPayloads(30)})

	code, _, data := v.do(t, http.MethodGet, "/api/sentiment?product=tomate", nil)
	require.Equal(t, http.StatusOK, code)
	var s models.MarketSentiment
	require.NoError(t, json.Unmarshal(data, &s))
	assert.Equal(t, 30, s.Observations)

	code, _, data = v.do(t, http.MethodGet, "/api/summary", nil)
	require.Equal(t, http.StatusOK, code)
	var sum models.SummaryStats
	require.NoError(t, json.Unmarshal(data, &sum))
	assert.Equal(t, 30, sum.TotalRecords)

	code, _, _ = v.do(t, http.MethodGet, "/api/alerts?since=not-a-time", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _, _ = v.do(t, http.MethodGet, "/api/alerts?since=2024-01-01", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestHealthz(t *testing.T) {
	v := newEnv(t, WithHealthCheck("archive", func(context.Context) error { return nil }))
	code, resp, _ := v.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, http.StatusOK, resp.Status)

	down := newEnv(t, WithHealthCheck("archive", func(context.Context) error { return errors.New("dial tcp: refused") }))
	code, _, data := down.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.True(t, strings.Contains(string(data), "refused"))
}

func TestToAppError(t *testing.T) {
	cases := map[string]struct {
		err  error
		want int
	}{
		"invalid":   {&models.InvalidObservationError{Rejected: 1}, http.StatusUnprocessableEntity},
		"data":      {fmt.Errorf("x: %w", models.ErrInsufficientData), http.StatusUnprocessableEntity},
		"markets":   {&models.InsufficientMarketsError{Have: 1, Need: 2}, http.StatusUnprocessableEntity},
		"model":     {models.ErrModelUnavailable, http.StatusNotFound},
		"horizon":   {models.ErrHorizonTooLong, http.StatusBadRequest},
		"invalid h": {models.ErrInvalidHorizon, http.StatusBadRequest},
		"timeout":   {&models.TimeoutError{Op: "cluster", Err: context.DeadlineExceeded}, http.StatusServiceUnavailable},
		"other":     {errors.New("disk full"), http.StatusInternalServerError},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, toAppError(tc.err).Status)
		})
	}
}
