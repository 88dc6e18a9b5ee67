package storage

import (
	"context"
	"fmt"

	"github.com/go-kit/log/level"
)

// InitSchema applies the reading store schema idempotently: the
// hypertable, its indexes, compression and retention policies, and the
// hourly/daily continuous aggregates. Each statement runs on its own
// because Timescale refuses continuous-aggregate DDL inside transactions.
func (s *TimescaleStore) InitSchema(ctx context.Context) error {
	for _, stmt := range s.schemaStatements() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", mapError(err))
		}
	}
	level.Info(s.logger).Log("msg", "reading store schema applied")
	return nil
}

func (s *TimescaleStore) schemaStatements() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS machine_readings (
			machine_id        TEXT             NOT NULL,
			ts                TIMESTAMPTZ      NOT NULL,
			temperature       DOUBLE PRECISION NOT NULL,
			vibration         DOUBLE PRECISION NOT NULL,
			pressure          DOUBLE PRECISION,
			humidity          DOUBLE PRECISION,
			power_consumption DOUBLE PRECISION,
			rotation_speed    DOUBLE PRECISION,
			status            TEXT             NOT NULL,
			location          TEXT             NOT NULL DEFAULT '',
			metadata          JSONB,
			ingested_at       TIMESTAMPTZ      NOT NULL DEFAULT now()
		)`,

		fmt.Sprintf(`SELECT create_hypertable('machine_readings', 'ts',
			chunk_time_interval => INTERVAL '%d days', if_not_exists => TRUE)`, s.cfg.ChunkIntervalDays),

		`CREATE INDEX IF NOT EXISTS machine_readings_machine_ts_idx ON machine_readings (machine_id, ts DESC)`,
		`CREATE INDEX IF NOT EXISTS machine_readings_ts_idx ON machine_readings (ts DESC)`,
		`CREATE INDEX IF NOT EXISTS machine_readings_status_idx ON machine_readings (status)`,

		`ALTER TABLE machine_readings SET (
			timescaledb.compress,
			timescaledb.compress_segmentby = 'machine_id',
			timescaledb.compress_orderby = 'ts DESC'
		)`,
		fmt.Sprintf(`SELECT add_compression_policy('machine_readings',
			INTERVAL '%d days', if_not_exists => TRUE)`, s.cfg.CompressionAgeDays),
		fmt.Sprintf(`SELECT add_retention_policy('machine_readings',
			INTERVAL '%d days', if_not_exists => TRUE)`, s.cfg.RetentionDays),

		`CREATE MATERIALIZED VIEW IF NOT EXISTS machine_readings_hourly
			WITH (timescaledb.continuous) AS
			SELECT machine_id,
			       time_bucket(INTERVAL '1 hour', ts) AS bucket,
			       avg(temperature) AS avg_temperature,
			       max(temperature) AS max_temperature,
			       min(temperature) AS min_temperature,
			       avg(vibration)   AS avg_vibration,
			       max(vibration)   AS max_vibration,
			       count(*)         AS readings
			FROM machine_readings
			GROUP BY machine_id, bucket
			WITH NO DATA`,
		fmt.Sprintf(`SELECT add_continuous_aggregate_policy('machine_readings_hourly',
			start_offset => INTERVAL '3 hours',
			end_offset => INTERVAL '1 hour',
			schedule_interval => INTERVAL '%d seconds',
			if_not_exists => TRUE)`, int(s.cfg.AggregateRefreshHourly.Seconds())),

		`CREATE MATERIALIZED VIEW IF NOT EXISTS machine_readings_daily
			WITH (timescaledb.continuous) AS
			SELECT machine_id,
			       time_bucket(INTERVAL '1 day', ts) AS bucket,
			       avg(temperature) AS avg_temperature,
			       max(temperature) AS max_temperature,
			       min(temperature) AS min_temperature,
			       avg(vibration)   AS avg_vibration,
			       max(vibration)   AS max_vibration,
			       count(*)         AS readings
			FROM machine_readings
			GROUP BY machine_id, bucket
			WITH NO DATA`,
		fmt.Sprintf(`SELECT add_continuous_aggregate_policy('machine_readings_daily',
			start_offset => INTERVAL '3 days',
			end_offset => INTERVAL '1 day',
			schedule_interval => INTERVAL '%d seconds',
			if_not_exists => TRUE)`, int(s.cfg.AggregateRefreshDaily.Seconds())),
	}
}
