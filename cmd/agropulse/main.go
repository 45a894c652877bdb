package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"AgroPulse/pkg/config"
)

var configPath string

// rootCmd is the base command for the AgroPulse CLI
var rootCmd = &cobra.Command{
	Use:   "agropulse",
	Short: "AgroPulse commodity price analytics engine",
	Long: `AgroPulse ingests daily agricultural price observations and serves
forecasts, anomalies, market clusters, elasticities, portfolio allocations
and alerts over HTTP.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "Path to the configuration file")
}

// loadConfig reads the config file with env overrides. A missing file falls
// back to defaults so the CLI works out of the box.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithEnv(configPath)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
