package di

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AgroPulse/internal/handler/api"
	internalrepo "AgroPulse/internal/repository"
	"AgroPulse/pkg/cache"
	"AgroPulse/pkg/config"
	applogger "AgroPulse/pkg/logger"
	"AgroPulse/pkg/metrics"
)

func TestInitializeAppWithoutInfrastructure(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Level = "error"

	app, cleanup, err := InitializeApp(cfg)
	require.NoError(t, err)
	require.NotNil(t, app)
	cleanup()
}

func TestProvideObservationArchiveDisabled(t *testing.T) {
	a := ProvideObservationArchive(nil, config.Default(), applogger.NewNop())
	assert.Nil(t, a)
}

func TestProvideAlertSinks(t *testing.T) {
	cfg := config.Default()
	hub := api.NewAlertHub(applogger.NewNop())

	sinks := ProvideAlertSinks(cfg, hub, nil, metrics.Nop{}, applogger.NewNop())
	require.Len(t, sinks, 1)
	assert.Same(t, hub, sinks[0])

	cfg.Webhook.URL = "https://hooks.example/agropulse"
	sinks = ProvideAlertSinks(cfg, hub, nil, metrics.Nop{}, applogger.NewNop())
	require.Len(t, sinks, 2)
	_, ok := sinks[1].(*internalrepo.WebhookAlertSink)
	assert.True(t, ok)
}

func TestProvideCacheMemory(t *testing.T) {
	c, cleanup, err := ProvideCache(config.Default(), applogger.NewNop())
	require.NoError(t, err)
	defer cleanup()
	_, ok := c.(*cache.MemoryCache)
	assert.True(t, ok)
}

func TestProvideSchedulerDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Scheduler.Enabled = false
	r, err := ProvideScheduler(cfg, nil, ProvideRateLimiter(cfg), applogger.NewNop())
	require.NoError(t, err)
	assert.Nil(t, r)

	cfg.Scheduler.Enabled = true
	cfg.Scheduler.RefreshSpec = "every tuesday"
	_, err = ProvideScheduler(cfg, func(context.Context) {}, ProvideRateLimiter(cfg), applogger.NewNop())
	assert.Error(t, err)
}
