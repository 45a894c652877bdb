package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"AgroPulse/internal/di"
	"AgroPulse/internal/domain/models"
	"AgroPulse/internal/services/demo"
)

// seedCmd publishes demo observations to the observations topic
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Publish demo observations to Kafka",
	Long: `Generate demo history and publish it to the observations topic in
envelopes of --chunk observations, the same shape POST /api/observations takes.

Examples:
  AGROPULSE_KAFKA_ENABLED=true agropulse seed
  agropulse seed --days 30 --products 4 --chunk 200`,
	RunE: runSeed,
}

var (
	seedDays     int
	seedProducts int
	seedChunk    int
)

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().IntVar(&seedDays, "days", 90, "Days of demo history")
	seedCmd.Flags().IntVar(&seedProducts, "products", 0, "Number of demo products (0 = full catalog)")
	seedCmd.Flags().IntVar(&seedChunk, "chunk", 500, "Observations per message")
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	if !cfg.Kafka.Enabled {
		return fmt.Errorf("kafka is disabled: set kafka.enabled or AGROPULSE_KAFKA_ENABLED=true")
	}
	if seedChunk <= 0 {
		return fmt.Errorf("--chunk must be positive")
	}
	producer, closeProducer, err := di.ProvideKafkaProducer(cfg)
	if err != nil {
		return err
	}
	defer closeProducer()

	obs := demo.Generate(demo.Options{
		Seed:              42,
		Days:              seedDays,
		End:               time.Now().UTC().AddDate(0, 0, -1),
		Products:          seedProducts,
		MarketsPerProduct: 3,
		Volume:            true,
	})

	ctx := context.Background()
	sent := 0
	for start := 0; start < len(obs); start += seedChunk {
		end := start + seedChunk
		if end > len(obs) {
			end = len(obs)
		}
		req := models.IngestRequest{Observations: make([]models.ObservationPayload, 0, end-start)}
		for _, o := range obs[start:end] {
			req.Observations = append(req.Observations, models.PayloadFromObservation(o))
		}
		if err := producer.PublishMessage(ctx, cfg.Kafka.ObservationsTopic, req); err != nil {
			return fmt.Errorf("publish chunk at %d: %w", start, err)
		}
		sent += end - start
	}
	fmt.Fprintf(cmd.OutOrStdout(), "published %d observations to %s\n", sent, cfg.Kafka.ObservationsTopic)
	return nil
}
