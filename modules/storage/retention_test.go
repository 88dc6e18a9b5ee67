package storage

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	kitlog "github.com/go-kit/log"
	"github.com/stretchr/testify/require"
)

func TestRetentionSweep(t *testing.T) {
	store, mock := newTestStore(t)
	sweeper := NewRetentionSweeper(store, 365, time.Hour, kitlog.NewNopLogger())

	mock.ExpectExec("DELETE FROM machine_readings").
		WillReturnResult(sqlmock.NewResult(0, 17))

	require.NoError(t, sweeper.sweep(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRetentionSweepSurvivesStoreFailure(t *testing.T) {
	store, mock := newTestStore(t)
	sweeper := NewRetentionSweeper(store, 365, time.Hour, kitlog.NewNopLogger())

	mock.ExpectExec("DELETE FROM machine_readings").
		WillReturnError(context.DeadlineExceeded)

	// A failed sweep must not kill the timer service.
	require.NoError(t, sweeper.sweep(context.Background()))
}
