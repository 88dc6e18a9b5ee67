package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register the pgx database/sql driver
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/diagnet/diagnet/pkg/model"
)

var (
	metricAppendedReadings = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "diagnet",
		Name:      "store_appended_readings_total",
		Help:      "Readings durably appended to the store.",
	})
	metricAppendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "diagnet",
		Name:      "store_append_duration_seconds",
		Help:      "Latency of batch appends.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	metricRetentionDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "diagnet",
		Name:      "store_retention_dropped_total",
		Help:      "Readings removed by retention sweeps.",
	})
)

const readingColumns = `machine_id, ts, temperature, vibration, pressure, humidity, power_consumption, rotation_speed, status, location, metadata, ingested_at`

const insertReadings = `INSERT INTO machine_readings
	(machine_id, ts, temperature, vibration, pressure, humidity, power_consumption, rotation_speed, status, location, metadata)
	VALUES (:machine_id, :ts, :temperature, :vibration, :pressure, :humidity, :power_consumption, :rotation_speed, :status, :location, :metadata)`

// TimescaleStore implements Store against a TimescaleDB hypertable through
// the pgx stdlib driver.
type TimescaleStore struct {
	cfg    Config
	db     *sqlx.DB
	logger kitlog.Logger
}

var _ Store = (*TimescaleStore)(nil)

// New opens the store. The connection is not verified here; callers ping
// with their own startup budget.
func New(cfg Config, logger kitlog.Logger) (*TimescaleStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("storage.dsn is required")
	}

	db, err := sqlx.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	return &TimescaleStore{
		cfg:    cfg,
		db:     db,
		logger: logger,
	}, nil
}

// NewWithDB wraps an existing connection. Used by tests.
func NewWithDB(cfg Config, db *sqlx.DB, logger kitlog.Logger) *TimescaleStore {
	return &TimescaleStore{cfg: cfg, db: db, logger: logger}
}

// Ping verifies connectivity.
func (s *TimescaleStore) Ping(ctx context.Context) error {
	return mapError(s.db.PingContext(ctx))
}

// Close releases the connection pool.
func (s *TimescaleStore) Close() error {
	return s.db.Close()
}

func (s *TimescaleStore) AppendBatch(ctx context.Context, readings []model.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	start := time.Now()
	_, err := s.db.NamedExecContext(ctx, insertReadings, readings)
	if err != nil {
		return mapError(err)
	}
	metricAppendDuration.Observe(time.Since(start).Seconds())
	metricAppendedReadings.Add(float64(len(readings)))
	return nil
}

func (s *TimescaleStore) ScanMachine(ctx context.Context, machineID string, since time.Time, limit int) ([]model.Reading, error) {
	query := `SELECT ` + readingColumns + ` FROM machine_readings
		WHERE machine_id = $1 AND ts >= $2
		ORDER BY ts DESC LIMIT $3`
	return s.scan(ctx, query, machineID, since.UTC(), limit)
}

func (s *TimescaleStore) ScanRange(ctx context.Context, start, end time.Time, limit int) ([]model.Reading, error) {
	query := `SELECT ` + readingColumns + ` FROM machine_readings
		WHERE ts >= $1 AND ts < $2
		ORDER BY ts DESC LIMIT $3`
	return s.scan(ctx, query, start.UTC(), end.UTC(), limit)
}

func (s *TimescaleStore) ScanRecent(ctx context.Context, limit int) ([]model.Reading, error) {
	query := `SELECT ` + readingColumns + ` FROM machine_readings
		ORDER BY ts DESC LIMIT $1`
	return s.scan(ctx, query, limit)
}

func (s *TimescaleStore) ScanByStatus(ctx context.Context, status model.MachineStatus, limit int) ([]model.Reading, error) {
	query := `SELECT ` + readingColumns + ` FROM machine_readings
		WHERE status = $1
		ORDER BY ts DESC LIMIT $2`
	return s.scan(ctx, query, string(status), limit)
}

func (s *TimescaleStore) ScanAboveThreshold(ctx context.Context, metric Metric, min float64, since time.Time, limit int) ([]model.Reading, error) {
	col, err := metric.column()
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + readingColumns + ` FROM machine_readings
		WHERE ` + col + ` > $1 AND ts > $2
		ORDER BY ` + col + ` DESC LIMIT $3`
	return s.scan(ctx, query, min, since.UTC(), limit)
}

func (s *TimescaleStore) Aggregate(ctx context.Context, machineID string, metric Metric, agg AggregateFunc, start, end time.Time) (float64, error) {
	col, err := metric.column()
	if err != nil {
		return 0, err
	}
	fn, err := agg.fn()
	if err != nil {
		return 0, err
	}

	query := `SELECT ` + fn + `(` + col + `) FROM machine_readings
		WHERE machine_id = $1 AND ts BETWEEN $2 AND $3`

	var value sql.NullFloat64
	if err := s.db.GetContext(ctx, &value, query, machineID, start.UTC(), end.UTC()); err != nil {
		return 0, mapError(err)
	}
	// No matching rows aggregate to NULL (except count); report zero.
	return value.Float64, nil
}

func (s *TimescaleStore) CountMachine(ctx context.Context, machineID string) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count, `SELECT count(*) FROM machine_readings WHERE machine_id = $1`, machineID)
	if err != nil {
		return 0, mapError(err)
	}
	return count, nil
}

func (s *TimescaleStore) DropBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM machine_readings WHERE ts < $1`, cutoff.UTC())
	if err != nil {
		return 0, mapError(err)
	}
	dropped, err := res.RowsAffected()
	if err != nil {
		return 0, mapError(err)
	}
	metricRetentionDropped.Add(float64(dropped))
	level.Info(s.logger).Log("msg", "retention drop complete", "cutoff", cutoff.UTC().Format(time.RFC3339), "dropped", dropped)
	return dropped, nil
}

func (s *TimescaleStore) scan(ctx context.Context, query string, args ...any) ([]model.Reading, error) {
	readings := []model.Reading{}
	if err := s.db.SelectContext(ctx, &readings, query, args...); err != nil {
		return nil, mapError(err)
	}
	return readings, nil
}

// mapError classifies driver errors into the retryable/fatal split the
// pipeline depends on. Context errors pass through untouched so deadline
// handling stays visible to HTTP handlers.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code[:2] {
		// data exception, integrity violation, syntax/access (schema mismatch)
		case "22", "23", "42":
			return fmt.Errorf("%w: %s", ErrStoreRejected, pgErr.Message)
		}
	}
	return fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
}
