package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"AgroPulse/internal/di"
)

// serveCmd runs the HTTP API, the Kafka consumer and the scheduler
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the analytics service",
	Long: `Run the analytics service until interrupted.

Examples:
  agropulse serve
  agropulse serve --config /etc/agropulse/config.yaml
  AGROPULSE_KAFKA_ENABLED=true agropulse serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		return fmt.Errorf("app initialization failed: %w", err)
	}
	defer cleanup()

	return app.Run(context.Background())
}
