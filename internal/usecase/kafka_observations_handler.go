package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"AgroPulse/internal/domain/models"
	domrepo "AgroPulse/internal/domain/repository"
	pkgkafka "AgroPulse/pkg/kafka"
	"AgroPulse/pkg/logger"
)

// PayloadIngester is the part of Engine the consumer needs.
type PayloadIngester interface {
	IngestPayloads(ctx context.Context, payloads []models.ObservationPayload) (models.IngestReport, error)
}

// KafkaObservationsHandler consumes observation batches from Kafka and
// ingests them. A malformed message fails so the consumer retries it and
// eventually routes it to the DLQ; rejected observations inside a valid
// message are logged and counted only.
type KafkaObservationsHandler struct {
	topic   string
	engine  PayloadIngester
	metrics domrepo.Metrics
	log     *logger.Logger
}

func NewKafkaObservationsHandler(topic string, engine PayloadIngester, metrics domrepo.Metrics, log *logger.Logger) *KafkaObservationsHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &KafkaObservationsHandler{topic: topic, engine: engine, metrics: metrics, log: log}
}

func (h *KafkaObservationsHandler) Topic() string { return h.topic }

// incoming message schema: {"observations": [...]}, a bare array, or one observation
func (h *KafkaObservationsHandler) Handle(ctx context.Context, b []byte) error {
	payloads, err := decodeObservations(b)
	if err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	if len(payloads) == 0 {
		return nil
	}

	start := time.Now()
	rep, err := h.engine.IngestPayloads(ctx, payloads)
	h.metrics.RecordLatency("consumer_ingest", time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, models.ErrInvalidObservation) {
			h.log.Warn("Kafka batch had rejected observations",
				logger.String("topic", h.topic),
				logger.Int("accepted", rep.Accepted),
				logger.Int("rejected", rep.Rejected),
			)
			return nil
		}
		h.metrics.RecordError("consumer_ingest")
		return err
	}
	return nil
}

func decodeObservations(b []byte) ([]models.ObservationPayload, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, fmt.Errorf("empty message")
	}
	if b[0] == '[' {
		var list []models.ObservationPayload
		if err := json.Unmarshal(b, &list); err != nil {
			return nil, fmt.Errorf("decode observation list: %w", err)
		}
		return list, nil
	}

	var m struct {
		Observations []models.ObservationPayload `json:"observations"`
		models.ObservationPayload
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode observations: %w", err)
	}
	if len(m.Observations) > 0 {
		return m.Observations, nil
	}
	if m.Product == "" && m.Market == "" && m.Date == "" {
		return nil, fmt.Errorf("message carries no observations")
	}
	return []models.ObservationPayload{m.ObservationPayload}, nil
}

var _ pkgkafka.MessageHandler = (*KafkaObservationsHandler)(nil)
