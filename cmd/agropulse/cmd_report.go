package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"AgroPulse/internal/di"
	internalrepo "AgroPulse/internal/repository"
	"AgroPulse/internal/services/demo"
	"AgroPulse/internal/usecase"
	applogger "AgroPulse/pkg/logger"
)

// reportCmd prints one JSON report and exits
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Compute a one-off analytics report",
	Long: `Load history, run a refresh and print the combined report as JSON.

With --demo the history is synthetic; otherwise it is read from the
ClickHouse archive configured in the config file.

Examples:
  agropulse report --demo
  agropulse report --demo --days 180 --products 6 --output report.json
  agropulse report --config config/config.yaml`,
	RunE: runReport,
}

// Report command flags
var (
	reportDemo     bool
	reportDays     int
	reportProducts int
	reportSeed     int64
	reportOutput   string
	reportTimeout  time.Duration
)

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().BoolVar(&reportDemo, "demo", false, "Use generated demo data instead of the archive")
	reportCmd.Flags().IntVar(&reportDays, "days", 120, "Days of demo history")
	reportCmd.Flags().IntVar(&reportProducts, "products", 0, "Number of demo products (0 = full catalog)")
	reportCmd.Flags().Int64Var(&reportSeed, "seed", 42, "Demo data seed")
	reportCmd.Flags().StringVar(&reportOutput, "output", "", "Output file (default: stdout)")
	reportCmd.Flags().DurationVar(&reportTimeout, "timeout", 2*time.Minute, "Overall timeout")
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()

	// logs go to stderr so stdout stays valid JSON
	l, err := applogger.New(&applogger.Config{Level: cfg.Logging.Level, Format: "console", Output: "stderr"})
	if err != nil {
		return err
	}

	store := internalrepo.NewMemorySeriesStore()
	engine, err := usecase.NewEngine(store, cfg.Engine, usecase.WithLogger(l))
	if err != nil {
		return err
	}

	if reportDemo {
		opts := demo.Options{
			Seed:              reportSeed,
			Days:              reportDays,
			End:               time.Now().UTC().AddDate(0, 0, -1),
			Products:          reportProducts,
			MarketsPerProduct: 3,
			Volume:            true,
			SpikeRate:         0.01,
		}
		rep, err := engine.Ingest(ctx, demo.Generate(opts))
		if err != nil {
			return fmt.Errorf("ingest demo data: %w", err)
		}
		l.Info("Demo data loaded", applogger.Int("observations", rep.Accepted))
	} else {
		client, closeCH, err := di.ProvideClickHouseClient(cfg, l)
		if err != nil {
			return err
		}
		defer closeCH()
		archive := di.ProvideObservationArchive(client, cfg, l)
		if archive == nil {
			return fmt.Errorf("no archive configured: set clickhouse.host or use --demo")
		}
		if _, err := engine.WarmStart(ctx, archive, cfg.ClickHouse.WarmLoadDays); err != nil {
			return err
		}
	}

	res, err := engine.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	l.Info("Refresh completed", applogger.Int("trained", res.Trained), applogger.Int("alerts", len(res.Alerts)))

	report, err := engine.Report(ctx)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}

	var out io.Writer = cmd.OutOrStdout()
	if reportOutput != "" {
		f, err := os.Create(reportOutput)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
