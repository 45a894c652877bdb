package repository

import (
	"context"
	"fmt"
	"time"

	"AgroPulse/internal/domain/models"
	domrepo "AgroPulse/internal/domain/repository"
	xhttp "AgroPulse/pkg/http"
	applogger "AgroPulse/pkg/logger"
)

// WebhookAlertSink posts each batch of alerts as one JSON document.
type WebhookAlertSink struct {
	client  *xhttp.Client
	url     string
	metrics domrepo.Metrics
	l       *applogger.Logger
}

var _ domrepo.AlertSink = (*WebhookAlertSink)(nil)

type webhookPayload struct {
	SentAt time.Time      `json:"sent_at"`
	Count  int            `json:"count"`
	Alerts []alertMessage `json:"alerts"`
}

func NewWebhookAlertSink(client *xhttp.Client, url string, metrics domrepo.Metrics, l *applogger.Logger) *WebhookAlertSink {
	if l == nil {
		l = applogger.NewNop()
	}
	return &WebhookAlertSink{client: client, url: url, metrics: metrics, l: l}
}

func (w *WebhookAlertSink) PublishAlerts(ctx context.Context, alerts []models.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	body := webhookPayload{SentAt: time.Now().UTC(), Count: len(alerts), Alerts: make([]alertMessage, len(alerts))}
	for i, a := range alerts {
		body.Alerts[i] = toAlertMessage(a)
	}

	start := time.Now()
	err := w.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodPost,
		URL:     w.url,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
	}, nil)
	if err != nil {
		w.metrics.RecordError("alert_webhook")
		w.l.Warn("Alert webhook failed", applogger.Int("alerts", len(alerts)), applogger.Error(err))
		return fmt.Errorf("webhook %d alerts: %w", len(alerts), err)
	}
	w.metrics.RecordLatency("alert_webhook", time.Since(start).Seconds())
	return nil
}
