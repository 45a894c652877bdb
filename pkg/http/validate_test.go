package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rangeQuery struct {
	Product string `query:"product" validate:"required"`
	From    string `query:"from" validate:"omitempty,pricedate"`
	Limit   int    `query:"limit" default:"50" validate:"gte=1,lte=500"`
}

type batchBody struct {
	Items []string `json:"items" validate:"required,min=1,max=2"`
}

func bindQuery(t *testing.T, target string, req interface{}) interface{} {
	t.Helper()
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())
	return ReadAndValidateRequest(c, req)
}

func TestReadAndValidateRequestDefaults(t *testing.T) {
	req := &rangeQuery{}
	require.Nil(t, bindQuery(t, "/?product=tomato&from=2024-03-01", req))
	assert.Equal(t, "tomato", req.Product)
	assert.Equal(t, 50, req.Limit)

	require.Nil(t, bindQuery(t, "/?product=tomato&from=2024-03-01T06:00:00Z", &rangeQuery{}))
}

func TestReadAndValidateRequestReportsQueryNames(t *testing.T) {
	verr := bindQuery(t, "/?from=yesterday&limit=900", &rangeQuery{})
	errs, ok := verr.([]ValidationError)
	require.True(t, ok)
	require.Len(t, errs, 3)

	byField := make(map[string]ValidationError, len(errs))
	for _, e := range errs {
		byField[e.Field] = e
	}
	assert.Equal(t, "ERR_REQUIRED", byField["product"].Code)
	assert.Equal(t, "ERR_PRICEDATE", byField["from"].Code)
	assert.Equal(t, "from must be YYYY-MM-DD or RFC3339", byField["from"].Message)
	assert.Equal(t, "ERR_LTE", byField["limit"].Code)
	assert.Equal(t, "500", byField["limit"].Params["max"])
}

func TestReadAndValidateRequestBody(t *testing.T) {
	e := echo.New()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"items":["a","b","c"]}`))
	r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	verr := ReadAndValidateRequest(e.NewContext(r, httptest.NewRecorder()), &batchBody{})
	errs, ok := verr.([]ValidationError)
	require.True(t, ok)
	require.Len(t, errs, 1)
	assert.Equal(t, "items", errs[0].Field)
	assert.Equal(t, "items must hold at most 2 items", errs[0].Message)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"items":`))
	r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	verr = ReadAndValidateRequest(e.NewContext(r, httptest.NewRecorder()), &batchBody{})
	errs, ok = verr.([]ValidationError)
	require.True(t, ok)
	assert.Equal(t, "ERR_BIND", errs[0].Code)
}
