package ingester

import (
	"context"
	"flag"
	"fmt"
	"sync"
	"testing"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagnet/diagnet/modules/storage"
	"github.com/diagnet/diagnet/pkg/model"
)

var testNow = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

// fakeStore records appends and serves canned scan results.
type fakeStore struct {
	mu         sync.Mutex
	appended   [][]model.Reading
	appendErrs []error

	readings []model.Reading
	scanErr  error
}

func (f *fakeStore) AppendBatch(_ context.Context, readings []model.Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.appendErrs) > 0 {
		err := f.appendErrs[0]
		f.appendErrs = f.appendErrs[1:]
		if err != nil {
			return err
		}
	}
	batch := make([]model.Reading, len(readings))
	copy(batch, readings)
	f.appended = append(f.appended, batch)
	return nil
}

func (f *fakeStore) batches() [][]model.Reading {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]model.Reading, len(f.appended))
	copy(out, f.appended)
	return out
}

func (f *fakeStore) total() int {
	n := 0
	for _, b := range f.batches() {
		n += len(b)
	}
	return n
}

func (f *fakeStore) ScanMachine(context.Context, string, time.Time, int) ([]model.Reading, error) {
	return f.readings, f.scanErr
}

func (f *fakeStore) ScanRange(context.Context, time.Time, time.Time, int) ([]model.Reading, error) {
	return f.readings, f.scanErr
}

func (f *fakeStore) ScanRecent(context.Context, int) ([]model.Reading, error) {
	return f.readings, f.scanErr
}

func (f *fakeStore) ScanByStatus(context.Context, model.MachineStatus, int) ([]model.Reading, error) {
	return f.readings, f.scanErr
}

func (f *fakeStore) ScanAboveThreshold(context.Context, storage.Metric, float64, time.Time, int) ([]model.Reading, error) {
	return f.readings, f.scanErr
}

func (f *fakeStore) Aggregate(context.Context, string, storage.Metric, storage.AggregateFunc, time.Time, time.Time) (float64, error) {
	return float64(len(f.readings)), f.scanErr
}

func (f *fakeStore) CountMachine(context.Context, string) (int64, error) {
	return int64(len(f.readings)), f.scanErr
}

func (f *fakeStore) DropBefore(context.Context, time.Time) (int64, error) {
	return 0, f.scanErr
}

// openLimits enables the quality rules with the stock thresholds.
type openLimits struct{}

func (openLimits) QualityChecksEnabled(string) bool             { return true }
func (openLimits) QualityCriticalMinTemperature(string) float64 { return 50 }
func (openLimits) QualityCriticalMinVibration(string) float64   { return 0.5 }
func (openLimits) QualityIdleMaxTemperature(string) float64     { return 80 }

func testConfig() Config {
	cfg := Config{}
	cfg.RegisterFlagsAndApplyDefaults("ingester", flag.NewFlagSet("", flag.PanicOnError))
	return cfg
}

func newTestIngester(t *testing.T, cfg Config, store storage.Store) *Ingester {
	t.Helper()
	i := New(cfg, store, openLimits{}, kitlog.NewNopLogger())
	i.now = func() time.Time { return testNow }
	return i
}

func payload(machineID string, temp, vib float64, status model.MachineStatus) []byte {
	return []byte(fmt.Sprintf(
		`{"machineId":%q,"timestamp":"2026-01-15T11:59:00","temperature":%g,"vibration":%g,"status":%q}`,
		machineID, temp, vib, status))
}

func TestProcessAcceptsValidReading(t *testing.T) {
	i := newTestIngester(t, testConfig(), &fakeStore{})

	i.process("machine/M001/data", payload("M001", 75, 0.25, model.StatusRunning))

	require.Len(t, i.buffer, 1)
	r := <-i.buffer
	assert.Equal(t, "M001", r.MachineID)
	assert.Equal(t, 75.0, r.Temperature)
}

func TestProcessDiscards(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload []byte
	}{
		{name: "malformed json", topic: "machine/M001/data", payload: []byte(`{"machineId":`)},
		{name: "topic identity mismatch", topic: "machine/M002/data", payload: payload("M001", 75, 0.25, model.StatusRunning)},
		{name: "invalid reading", topic: "machine/M001/data", payload: payload("M001", 500, 0.25, model.StatusRunning)},
		{name: "quality check failure", topic: "machine/M001/data", payload: payload("M001", 20, 0.1, model.StatusCritical)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			i := newTestIngester(t, testConfig(), &fakeStore{})
			i.process(tc.topic, tc.payload)
			assert.Empty(t, i.buffer)
		})
	}
}

func TestProcessAcceptsNonIdentityTopic(t *testing.T) {
	// Topics outside machine/<id>/data carry no identity to cross-check.
	i := newTestIngester(t, testConfig(), &fakeStore{})
	i.process("factory/telemetry", payload("M001", 75, 0.25, model.StatusRunning))
	assert.Len(t, i.buffer, 1)
}

func TestEnqueueOverflowDropsNewest(t *testing.T) {
	cfg := testConfig()
	cfg.BufferCapacity = 2
	i := newTestIngester(t, cfg, &fakeStore{})
	i.buffer = make(chan *model.Reading, cfg.BufferCapacity)

	for n := 0; n < 5; n++ {
		i.enqueue(&model.Reading{MachineID: "M001"})
	}

	assert.Len(t, i.buffer, 2)
	assert.Equal(t, int64(3), i.OverflowCount())
}

func TestMachineIDFromTopic(t *testing.T) {
	tests := []struct {
		topic string
		id    string
		ok    bool
	}{
		{topic: "machine/M001/data", id: "M001", ok: true},
		{topic: "machine/PRESS7/data", id: "PRESS7", ok: true},
		{topic: "machine/M001/status", ok: false},
		{topic: "telemetry/M001/data", ok: false},
		{topic: "machine/M001", ok: false},
		{topic: "", ok: false},
	}

	for _, tc := range tests {
		id, ok := machineIDFromTopic(tc.topic)
		assert.Equal(t, tc.ok, ok, tc.topic)
		assert.Equal(t, tc.id, id, tc.topic)
	}
}
