package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AgroPulse/pkg/http/middleware"
)

type routes struct{}

func (routes) RegisterRoutes(e *echo.Echo) {
	e.GET("/ok", func(c echo.Context) error { return SuccessResponse(c, map[string]int{"n": 1}) })
	e.GET("/gone", func(c echo.Context) error { return NotFoundError("no such series") })
	e.GET("/boom", func(c echo.Context) error { return errors.New("disk full") })
	e.GET("/panic", func(c echo.Context) error { panic("kaboom") })
}

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

func serve(s *Server, method, target string) (*httptest.ResponseRecorder, APIResponse) {
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	var resp APIResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec, resp
}

func TestServerErrorRendering(t *testing.T) {
	s := NewServer(routes{}, WithMetricsPath(""))

	rec, resp := serve(s, http.MethodGet, "/ok")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", resp.Message)

	rec, resp = serve(s, http.MethodGet, "/gone")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, http.StatusNotFound, resp.Status)

	rec, _ = serve(s, http.MethodGet, "/boom")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec, _ = serve(s, http.MethodGet, "/panic")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec, _ = serve(s, http.MethodGet, "/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerCORSPreflight(t *testing.T) {
	s := NewServer(routes{}, WithMetricsPath(""))
	req := httptest.NewRequest(http.MethodOptions, "/ok", nil)
	req.Header.Set("Origin", "https://dashboard.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dashboard.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))
}

func TestServerCORSRestrictedOrigins(t *testing.T) {
	s := NewServer(routes{}, WithMetricsPath(""), WithCORSOrigins([]string{"https://ops.example"}))

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set("Origin", "https://ops.example")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://ops.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "Retry-After")

	req = httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set("Origin", "https://elsewhere.example")
	rec = httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))
}

func TestHandlersRegisterInOrder(t *testing.T) {
	var order []string
	hs := Handlers{
		HandlerFunc(func(e *echo.Echo) { order = append(order, "api") }),
		nil,
		routes{},
		HandlerFunc(func(e *echo.Echo) { order = append(order, "ws") }),
	}
	s := NewServer(hs, WithMetricsPath(""))
	assert.Equal(t, []string{"api", "ws"}, order)

	rec, _ := serve(s, http.MethodGet, "/ok")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	s := NewServer(routes{}, WithMetricsPath(""), WithMiddleware(middleware.RateLimit(denyAll{}, "/ok")))

	rec, _ := serve(s, http.MethodGet, "/ok")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, resp := serve(s, http.MethodGet, "/gone")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, http.StatusTooManyRequests, resp.Status)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}
