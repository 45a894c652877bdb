package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AgroPulse/internal/domain/models"
)

func newMockArchive(t *testing.T) (*CHObservationArchive, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	a := NewCHObservationArchive(db, "")
	a.now = func() time.Time { return time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC) }
	return a, mock
}

func TestArchiveStoreBatch(t *testing.T) {
	a, mock := newMockArchive(t)
	batch := []models.PriceObservation{obs("Tomate", "Paris", "France", 0, 2.5), obs("Tomate", "Lyon", "Maroc", 0, 2.7)}
	batch[1].Volume = decimal.NewNullDecimal(decimal.NewFromInt(120))

	args := make([]driver.Value, 0, 16)
	for range batch {
		args = append(args,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg())
	}
	mock.ExpectExec(`INSERT INTO price_observations \(product, market, origin, date, price, unit, volume, ingested_at\) VALUES \(.+\),\(.+\)`).
		WithArgs(args...).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, a.StoreBatch(context.Background(), batch))
	require.NoError(t, a.StoreBatch(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveStoreBatchError(t *testing.T) {
	a, mock := newMockArchive(t)
	mock.ExpectExec(`INSERT INTO price_observations`).WillReturnError(errors.New("connection refused"))

	err := a.StoreBatch(context.Background(), []models.PriceObservation{obs("Tomate", "Paris", "France", 0, 2.5)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive observations")
}

func TestArchiveLoad(t *testing.T) {
	a, mock := newMockArchive(t)
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"product", "market", "origin", "date", "price", "unit", "volume"}).
		AddRow("Tomate", "Paris", "France", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), "2.5000", "kg", nil).
		AddRow("Tomate", "Paris", "Maroc", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), "2.1000", "kg", "80")
	mock.ExpectQuery(`SELECT product, market, origin, date, price, unit, volume\s+FROM price_observations FINAL`).
		WithArgs(from, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)).
		WillReturnRows(rows)

	got, err := a.Load(context.Background(), from, to)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2.5", got[0].Price.String())
	assert.False(t, got[0].Volume.Valid)
	assert.True(t, got[1].Volume.Valid)
	assert.Equal(t, "80", got[1].Volume.Decimal.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveSchema(t *testing.T) {
	stmts := ArchiveSchema("agropulse", DefaultArchiveTable)
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[1], "ReplacingMergeTree(ingested_at)")
	assert.Contains(t, stmts[1], "agropulse.price_observations")
}
