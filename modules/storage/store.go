// Package storage presents the time-partitioned reading store as a
// narrow, typed interface. Partitioning, compression and aggregate views
// stay behind it.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diagnet/diagnet/pkg/model"
)

var (
	// ErrStoreUnavailable marks transient store failures; callers retry.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrStoreRejected marks rows the store will never accept; callers
	// report and drop, they do not retry.
	ErrStoreRejected = errors.New("store rejected row")
)

// Metric names a scalar reading column usable in threshold scans and
// aggregates.
type Metric string

const (
	MetricTemperature      Metric = "temperature"
	MetricVibration        Metric = "vibration"
	MetricPressure         Metric = "pressure"
	MetricHumidity         Metric = "humidity"
	MetricPowerConsumption Metric = "power_consumption"
	MetricRotationSpeed    Metric = "rotation_speed"
)

// column maps a metric to its column name, guarding against anything that
// is not a known scalar column reaching SQL text.
func (m Metric) column() (string, error) {
	switch m {
	case MetricTemperature, MetricVibration, MetricPressure, MetricHumidity, MetricPowerConsumption, MetricRotationSpeed:
		return string(m), nil
	}
	return "", fmt.Errorf("unknown metric %q", m)
}

// AggregateFunc names a single-value aggregate.
type AggregateFunc string

const (
	AggregateAvg   AggregateFunc = "avg"
	AggregateMax   AggregateFunc = "max"
	AggregateMin   AggregateFunc = "min"
	AggregateCount AggregateFunc = "count"
)

func (a AggregateFunc) fn() (string, error) {
	switch a {
	case AggregateAvg, AggregateMax, AggregateMin, AggregateCount:
		return string(a), nil
	}
	return "", fmt.Errorf("unknown aggregate %q", a)
}

// Store is the typed access contract used by the ingestion and analysis
// engines. Appends are durable before returning nil. All scans are
// descending by timestamp unless noted.
type Store interface {
	// AppendBatch bulk-inserts readings. Ordering within a batch is
	// irrelevant; duplicate (machine_id, timestamp) tuples are permitted.
	AppendBatch(ctx context.Context, readings []model.Reading) error

	// ScanMachine returns up to limit readings for one machine at or after
	// since, newest first.
	ScanMachine(ctx context.Context, machineID string, since time.Time, limit int) ([]model.Reading, error)

	// ScanRange returns up to limit readings across machines in [start, end).
	ScanRange(ctx context.Context, start, end time.Time, limit int) ([]model.Reading, error)

	// ScanRecent returns the newest limit readings across machines.
	ScanRecent(ctx context.Context, limit int) ([]model.Reading, error)

	// ScanByStatus returns up to limit readings carrying the given status.
	ScanByStatus(ctx context.Context, status model.MachineStatus, limit int) ([]model.Reading, error)

	// ScanAboveThreshold returns readings since the given instant whose
	// metric exceeds min, ordered by the metric descending.
	ScanAboveThreshold(ctx context.Context, metric Metric, min float64, since time.Time, limit int) ([]model.Reading, error)

	// Aggregate computes a single-value aggregate of a metric for one
	// machine over [start, end].
	Aggregate(ctx context.Context, machineID string, metric Metric, agg AggregateFunc, start, end time.Time) (float64, error)

	// CountMachine returns the total persisted readings for a machine.
	CountMachine(ctx context.Context, machineID string) (int64, error)

	// DropBefore removes readings older than cutoff and returns the count
	// dropped. Retention primitive.
	DropBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
