package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"AgroPulse/internal/domain/models"
	domrepo "AgroPulse/internal/domain/repository"
	pkgkafka "AgroPulse/pkg/kafka"
	applogger "AgroPulse/pkg/logger"
)

// BatchProducer is the part of the Kafka producer the alert publisher uses.
type BatchProducer interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
}

// KafkaAlertPublisher implements AlertSink by writing one message per alert,
// keyed by the alert's dedup key so updates of one alert stay ordered.
// Writes go through a circuit breaker so a dead broker does not stall refreshes.
type KafkaAlertPublisher struct {
	producer BatchProducer
	topic    string
	cb       *gobreaker.CircuitBreaker
	metrics  domrepo.Metrics
	l        *applogger.Logger
}

var _ domrepo.AlertSink = (*KafkaAlertPublisher)(nil)

// BreakerSettings bounds the publisher's circuit breaker.
type BreakerSettings struct {
	MaxFailures uint32
	OpenTimeout time.Duration
}

// NewKafkaAlertPublisher creates Kafka alert publisher.
func NewKafkaAlertPublisher(producer BatchProducer, topic string, bs BreakerSettings, metrics domrepo.Metrics, l *applogger.Logger) *KafkaAlertPublisher {
	if bs.MaxFailures == 0 {
		bs.MaxFailures = 5
	}
	if bs.OpenTimeout <= 0 {
		bs.OpenTimeout = 30 * time.Second
	}
	if l == nil {
		l = applogger.NewNop()
	}
	p := &KafkaAlertPublisher{producer: producer, topic: topic, metrics: metrics, l: l}
	p.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "kafka-alerts",
		MaxRequests: 1,
		Timeout:     bs.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= bs.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.l.Warn("Circuit breaker state changed",
				applogger.String("breaker", name),
				applogger.String("from", from.String()),
				applogger.String("to", to.String()),
			)
		},
	})
	return p
}

// alertMessage is the wire shape of a published alert.
type alertMessage struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Product     string    `json:"product"`
	Market      string    `json:"market,omitempty"`
	Severity    string    `json:"severity"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	FirstSeen   time.Time `json:"first_seen"`
	Occurrences int       `json:"occurrences"`
}

func toAlertMessage(a models.Alert) alertMessage {
	return alertMessage{
		ID:          a.ID,
		Kind:        string(a.Kind),
		Product:     a.Key.Product,
		Market:      a.Key.Market,
		Severity:    string(a.Severity),
		Message:     a.Message,
		Timestamp:   a.Timestamp,
		FirstSeen:   a.FirstSeen,
		Occurrences: a.Occurrences,
	}
}

func (p *KafkaAlertPublisher) PublishAlerts(ctx context.Context, alerts []models.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(alerts))
	for i, a := range alerts {
		msgs[i] = pkgkafka.Message{Key: []byte(a.DedupKey), Value: toAlertMessage(a)}
	}

	_, err := p.cb.Execute(func() (interface{}, error) {
		return nil, p.producer.PublishBatch(ctx, p.topic, msgs)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			p.metrics.RecordError("alert_publish_open")
		} else {
			p.metrics.RecordError("alert_publish")
		}
		return fmt.Errorf("publish %d alerts: %w", len(alerts), err)
	}
	return nil
}

// State reports the breaker state, for health output.
func (p *KafkaAlertPublisher) State() string {
	return p.cb.State().String()
}
