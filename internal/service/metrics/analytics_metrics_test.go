package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestAnalyticsMetricsObserve(t *testing.T) {
	m := NewAnalyticsMetrics(prometheus.NewRegistry())
	m.Observe("forecast", time.Now(), nil)
	m.Observe("forecast", time.Now(), errors.New("boom"))
	m.Observe("clusters", time.Now(), nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("forecast")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Errors.WithLabelValues("clusters")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.Latency))

	var nilMetrics *AnalyticsMetrics
	assert.NotPanics(t, func() { nilMetrics.Observe("x", time.Now(), nil) })
}
