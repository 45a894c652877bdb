package repository

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AgroPulse/internal/domain/models"
	xhttp "AgroPulse/pkg/http"
	"AgroPulse/pkg/metrics"
)

func TestWebhookAlertSinkPosts(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewWebhookAlertSink(xhttp.NewClient(xhttp.WithHTTPClient(srv.Client())), srv.URL, metrics.Nop{}, nil)
	require.NoError(t, sink.PublishAlerts(context.Background(), nil))
	require.NoError(t, sink.PublishAlerts(context.Background(), []models.Alert{sampleAlert()}))

	assert.Equal(t, 1, got.Count)
	require.Len(t, got.Alerts, 1)
	assert.Equal(t, "Poireau", got.Alerts[0].Product)
	assert.Equal(t, "price-change", got.Alerts[0].Kind)
}

func TestWebhookAlertSinkStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := NewWebhookAlertSink(xhttp.NewClient(), srv.URL, metrics.Nop{}, nil)
	err := sink.PublishAlerts(context.Background(), []models.Alert{sampleAlert()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 502")
}
