package storage

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	kitlog "github.com/go-kit/log"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagnet/diagnet/pkg/model"
)

func newTestStore(t *testing.T) (*TimescaleStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := Config{}
	cfg.RegisterFlagsAndApplyDefaults("storage", flag.NewFlagSet("", flag.PanicOnError))

	return NewWithDB(cfg, sqlx.NewDb(db, "sqlmock"), kitlog.NewNopLogger()), mock
}

func testReading(machineID string, ts time.Time) model.Reading {
	return model.Reading{
		MachineID:   machineID,
		Timestamp:   model.TimeOf(ts),
		Temperature: 75,
		Vibration:   0.25,
		Status:      model.StatusRunning,
		Location:    "plant-a",
	}
}

func readingRows(readings ...model.Reading) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"machine_id", "ts", "temperature", "vibration", "pressure", "humidity",
		"power_consumption", "rotation_speed", "status", "location", "metadata", "ingested_at",
	})
	for _, r := range readings {
		rows.AddRow(r.MachineID, r.Timestamp.Time, r.Temperature, r.Vibration,
			nil, nil, nil, nil, string(r.Status), r.Location, nil, r.Timestamp.Time)
	}
	return rows
}

func TestAppendBatch(t *testing.T) {
	store, mock := newTestStore(t)
	now := time.Now().UTC()

	mock.ExpectExec("INSERT INTO machine_readings").
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := store.AppendBatch(context.Background(), []model.Reading{
		testReading("M001", now),
		testReading("M002", now),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendBatchEmpty(t *testing.T) {
	store, mock := newTestStore(t)

	require.NoError(t, store.AppendBatch(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScanMachine(t *testing.T) {
	store, mock := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	mock.ExpectQuery("SELECT .+ FROM machine_readings").
		WithArgs("M001", sqlmock.AnyArg(), 100).
		WillReturnRows(readingRows(testReading("M001", now)))

	readings, err := store.ScanMachine(context.Background(), "M001", now.Add(-time.Hour), 100)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.Equal(t, "M001", readings[0].MachineID)
	assert.True(t, readings[0].Timestamp.Equal(now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScanByStatus(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT .+ FROM machine_readings").
		WithArgs("CRITICAL", 50).
		WillReturnRows(readingRows())

	readings, err := store.ScanByStatus(context.Background(), model.StatusCritical, 50)
	require.NoError(t, err)
	assert.Empty(t, readings)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScanAboveThresholdRejectsUnknownMetric(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.ScanAboveThreshold(context.Background(), Metric("status; DROP TABLE"), 1, time.Now(), 10)
	require.Error(t, err)
}

func TestAggregate(t *testing.T) {
	store, mock := newTestStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT avg\\(temperature\\) FROM machine_readings").
		WithArgs("M001", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"avg"}).AddRow(75.5))

	avg, err := store.Aggregate(context.Background(), "M001", MetricTemperature, AggregateAvg, now.Add(-time.Hour), now)
	require.NoError(t, err)
	assert.Equal(t, 75.5, avg)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAggregateEmptyRangeIsZero(t *testing.T) {
	store, mock := newTestStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT avg\\(temperature\\) FROM machine_readings").
		WithArgs("M001", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"avg"}).AddRow(nil))

	avg, err := store.Aggregate(context.Background(), "M001", MetricTemperature, AggregateAvg, now.Add(-time.Hour), now)
	require.NoError(t, err)
	assert.Zero(t, avg)
}

func TestDropBefore(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("DELETE FROM machine_readings").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 42))

	dropped, err := store.DropBefore(context.Background(), time.Now().Add(-365*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(42), dropped)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		in       error
		expected error
	}{
		{name: "nil", in: nil, expected: nil},
		{name: "context canceled passes through", in: context.Canceled, expected: context.Canceled},
		{name: "deadline passes through", in: context.DeadlineExceeded, expected: context.DeadlineExceeded},
		{name: "no rows passes through", in: sql.ErrNoRows, expected: sql.ErrNoRows},
		{name: "integrity violation is rejection", in: &pgconn.PgError{Code: "23505", Message: "duplicate"}, expected: ErrStoreRejected},
		{name: "data exception is rejection", in: &pgconn.PgError{Code: "22001", Message: "too long"}, expected: ErrStoreRejected},
		{name: "connection failure is unavailable", in: &pgconn.PgError{Code: "08006", Message: "gone"}, expected: ErrStoreUnavailable},
		{name: "unknown error is unavailable", in: errors.New("boom"), expected: ErrStoreUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := mapError(tc.in)
			if tc.expected == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.expected)
		})
	}
}

func TestAppendBatchMapsDriverErrors(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("INSERT INTO machine_readings").
		WillReturnError(&pgconn.PgError{Code: "23514", Message: "check violation"})

	err := store.AppendBatch(context.Background(), []model.Reading{testReading("M001", time.Now())})
	require.ErrorIs(t, err, ErrStoreRejected)
}
