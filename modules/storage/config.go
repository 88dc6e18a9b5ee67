package storage

import (
	"flag"
	"time"
)

// Config for the reading store.
type Config struct {
	// DSN is the Postgres/TimescaleDB connection string. May carry
	// credentials; it is never logged.
	DSN string `yaml:"dsn"`

	MaxOpenConns int `yaml:"max_open_conns"`
	MaxIdleConns int `yaml:"max_idle_conns"`

	// SchemaInit applies the hypertable schema, policies and continuous
	// aggregates idempotently at startup.
	SchemaInit bool `yaml:"schema_init"`

	ChunkIntervalDays  int `yaml:"chunk_interval_days"`
	RetentionDays      int `yaml:"retention_days"`
	CompressionAgeDays int `yaml:"compression_age_days"`

	// SweepInterval is how often the retention sweeper issues DropBefore,
	// belt-and-braces next to the Timescale retention policy.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	AggregateRefreshHourly time.Duration `yaml:"aggregate_refresh_hourly"`
	AggregateRefreshDaily  time.Duration `yaml:"aggregate_refresh_daily"`
}

// RegisterFlagsAndApplyDefaults registers the flags.
func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.DSN, prefix+".dsn", "", "Postgres/TimescaleDB connection string.")
	f.BoolVar(&cfg.SchemaInit, prefix+".schema-init", true, "Apply the reading store schema at startup.")
	f.IntVar(&cfg.RetentionDays, prefix+".retention-days", 365, "Readings older than this are dropped.")
	f.IntVar(&cfg.CompressionAgeDays, prefix+".compression-age-days", 30, "Chunks older than this are compressed.")

	cfg.MaxOpenConns = 10
	cfg.MaxIdleConns = 5
	cfg.ChunkIntervalDays = 7
	cfg.SweepInterval = 24 * time.Hour
	cfg.AggregateRefreshHourly = time.Hour
	cfg.AggregateRefreshDaily = 24 * time.Hour
}
