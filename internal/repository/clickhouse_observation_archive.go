package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"AgroPulse/internal/domain/models"
	domrepo "AgroPulse/internal/domain/repository"
	applogger "AgroPulse/pkg/logger"
)

// DefaultArchiveTable holds one row per observation key; the newest
// ingested_at wins on merge, matching the store's last-write-wins rule.
const DefaultArchiveTable = "price_observations"

// ArchiveSchema returns the idempotent DDL for the archive table.
func ArchiveSchema(database, table string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
            product     LowCardinality(String),
            market      LowCardinality(String),
            origin      LowCardinality(String),
            date        Date,
            price       Decimal(18, 4),
            unit        LowCardinality(String),
            volume      Nullable(Decimal(18, 4)),
            ingested_at DateTime64(3)
        )
        ENGINE = ReplacingMergeTree(ingested_at)
        PARTITION BY toYYYYMM(date)
        ORDER BY (product, market, origin, date)`, database, table),
	}
}

// CHObservationArchive implements ObservationArchive backed by ClickHouse.
type CHObservationArchive struct {
	db    *sql.DB
	table string
	now   func() time.Time
	l     *applogger.Logger
}

var _ domrepo.ObservationArchive = (*CHObservationArchive)(nil)

func NewCHObservationArchive(db *sql.DB, table string) *CHObservationArchive {
	if table == "" {
		table = DefaultArchiveTable
	}
	return &CHObservationArchive{db: db, table: table, now: time.Now, l: applogger.NewNop()}
}

// SetLogger injects a structured logger.
func (s *CHObservationArchive) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHObservationArchive) StoreBatch(ctx context.Context, batch []models.PriceObservation) error {
	if len(batch) == 0 {
		return nil
	}
	// multi-row VALUES to reduce round-trips
	const chunkSize = 2000
	ingestedAt := s.now().UTC()
	for start := 0; start < len(batch); start += chunkSize {
		end := start + chunkSize
		if end > len(batch) {
			end = len(batch)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*8)
		for _, o := range batch[start:end] {
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				o.Product,
				o.Market,
				o.Origin,
				models.DayOf(o.Date),
				o.Price,
				o.Unit,
				o.Volume,
				ingestedAt,
			)
		}
		q := fmt.Sprintf("INSERT INTO %s (product, market, origin, date, price, unit, volume, ingested_at) VALUES %s",
			s.table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.l.Error("clickhouse archive insert error",
				applogger.String("table", s.table),
				applogger.Int("rows", end-start),
				applogger.Error(err),
			)
			return fmt.Errorf("archive observations: %w", err)
		}
	}
	return nil
}

// Load returns the archived observations dated within [from, to].
func (s *CHObservationArchive) Load(ctx context.Context, from, to time.Time) ([]models.PriceObservation, error) {
	start := time.Now()
	q := fmt.Sprintf(`
        SELECT product, market, origin, date, price, unit, volume
        FROM %s FINAL
        WHERE date >= ? AND date <= ?
        ORDER BY product, market, date, origin
    `, s.table)
	rows, err := s.db.QueryContext(ctx, q, models.DayOf(from), models.DayOf(to))
	if err != nil {
		return nil, fmt.Errorf("load archive: %w", err)
	}
	defer rows.Close()

	out := make([]models.PriceObservation, 0, 1024)
	for rows.Next() {
		var (
			o      models.PriceObservation
			price  decimal.Decimal
			volume decimal.NullDecimal
		)
		if err := rows.Scan(&o.Product, &o.Market, &o.Origin, &o.Date, &price, &o.Unit, &volume); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		o.Date = models.DayOf(o.Date)
		o.Price = price
		o.Volume = volume
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	s.l.Debug("clickhouse archive loaded",
		applogger.Int("rows", len(out)),
		applogger.Duration("took", time.Since(start)),
	)
	return out, nil
}

func (s *CHObservationArchive) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
