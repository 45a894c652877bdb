package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AgroPulse/internal/domain/models"
	pkgkafka "AgroPulse/pkg/kafka"
	"AgroPulse/pkg/metrics"
)

type fakeProducer struct {
	calls int
	topic string
	msgs  []pkgkafka.Message
	err   error
}

func (f *fakeProducer) PublishBatch(_ context.Context, topic string, msgs []pkgkafka.Message) error {
	f.calls++
	f.topic = topic
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func sampleAlert() models.Alert {
	at := time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC)
	return models.Alert{
		ID:          "a-1",
		Kind:        models.AlertPriceChange,
		Key:         models.SeriesKey{Product: "Poireau", Market: "Lyon"},
		Severity:    models.SeverityMedium,
		Message:     "price up 50%",
		Timestamp:   at,
		FirstSeen:   at,
		DedupKey:    "price-change|Poireau|Lyon",
		Occurrences: 1,
	}
}

func TestKafkaAlertPublisherPublishes(t *testing.T) {
	fp := &fakeProducer{}
	p := NewKafkaAlertPublisher(fp, "agropulse.alerts", BreakerSettings{}, metrics.Nop{}, nil)

	require.NoError(t, p.PublishAlerts(context.Background(), nil))
	assert.Zero(t, fp.calls)

	require.NoError(t, p.PublishAlerts(context.Background(), []models.Alert{sampleAlert()}))
	assert.Equal(t, "agropulse.alerts", fp.topic)
	require.Len(t, fp.msgs, 1)
	assert.Equal(t, "price-change|Poireau|Lyon", string(fp.msgs[0].Key))
	msg, ok := fp.msgs[0].Value.(alertMessage)
	require.True(t, ok)
	assert.Equal(t, "Lyon", msg.Market)
	assert.Equal(t, "medium", msg.Severity)
}

func TestKafkaAlertPublisherBreakerOpens(t *testing.T) {
	fp := &fakeProducer{err: errors.New("broker down")}
	p := NewKafkaAlertPublisher(fp, "t", BreakerSettings{MaxFailures: 2, OpenTimeout: time.Hour}, metrics.Nop{}, nil)
	ctx := context.Background()
	alerts := []models.Alert{sampleAlert()}

	assert.Error(t, p.PublishAlerts(ctx, alerts))
	assert.Error(t, p.PublishAlerts(ctx, alerts))
	assert.Equal(t, "open", p.State())

	// open breaker short-circuits without touching the producer
	err := p.PublishAlerts(ctx, alerts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
	assert.Equal(t, 2, fp.calls)
}
