package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagnet/diagnet/pkg/model"
)

var testNow = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func validReading() *model.Reading {
	return &model.Reading{
		MachineID:   "M001",
		Timestamp:   model.TimeOf(testNow.Add(-time.Minute)),
		Temperature: 75,
		Vibration:   0.25,
		Status:      model.StatusRunning,
		Location:    "plant-a",
	}
}

func TestValidateReading(t *testing.T) {
	ptr := func(v float64) *float64 { return &v }

	tests := []struct {
		name      string
		mutate    func(r *model.Reading)
		wantField string
	}{
		{name: "valid", mutate: func(*model.Reading) {}},
		{name: "missing machine id", mutate: func(r *model.Reading) { r.MachineID = "" }, wantField: "machineId"},
		{name: "lowercase machine id", mutate: func(r *model.Reading) { r.MachineID = "m001" }, wantField: "machineId"},
		{name: "machine id starts with digit", mutate: func(r *model.Reading) { r.MachineID = "1M" }, wantField: "machineId"},
		{name: "machine id too long", mutate: func(r *model.Reading) {
			id := "M"
			for len(id) <= 50 {
				id += "0"
			}
			r.MachineID = id
		}, wantField: "machineId"},
		{name: "missing timestamp", mutate: func(r *model.Reading) { r.Timestamp = model.Time{} }, wantField: "timestamp"},
		{name: "future timestamp beyond skew", mutate: func(r *model.Reading) {
			r.Timestamp = model.TimeOf(testNow.Add(ClockSkewTolerance + time.Second))
		}, wantField: "timestamp"},
		{name: "future timestamp within skew", mutate: func(r *model.Reading) {
			r.Timestamp = model.TimeOf(testNow.Add(ClockSkewTolerance - time.Second))
		}},
		{name: "temperature lower bound", mutate: func(r *model.Reading) { r.Temperature = -50 }},
		{name: "temperature below range", mutate: func(r *model.Reading) { r.Temperature = -50.01 }, wantField: "temperature"},
		{name: "temperature upper bound", mutate: func(r *model.Reading) { r.Temperature = 200 }},
		{name: "temperature above range", mutate: func(r *model.Reading) { r.Temperature = 200.01 }, wantField: "temperature"},
		{name: "vibration below range", mutate: func(r *model.Reading) { r.Vibration = -0.01 }, wantField: "vibration"},
		{name: "vibration upper bound", mutate: func(r *model.Reading) { r.Vibration = 1 }},
		{name: "vibration above range", mutate: func(r *model.Reading) { r.Vibration = 1.01 }, wantField: "vibration"},
		{name: "pressure above range", mutate: func(r *model.Reading) { r.Pressure = ptr(10.5) }, wantField: "pressure"},
		{name: "pressure in range", mutate: func(r *model.Reading) { r.Pressure = ptr(5) }},
		{name: "humidity above range", mutate: func(r *model.Reading) { r.Humidity = ptr(101) }, wantField: "humidity"},
		{name: "power above range", mutate: func(r *model.Reading) { r.PowerConsumption = ptr(10001) }, wantField: "powerConsumption"},
		{name: "rotation above range", mutate: func(r *model.Reading) { r.RotationSpeed = ptr(5001) }, wantField: "rotationSpeed"},
		{name: "unknown status", mutate: func(r *model.Reading) { r.Status = "EXPLODED" }, wantField: "status"},
		{name: "location too long", mutate: func(r *model.Reading) {
			loc := ""
			for len(loc) <= maxLocationLength {
				loc += "x"
			}
			r.Location = loc
		}, wantField: "location"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := validReading()
			tc.mutate(r)

			err := ValidateReading(r, testNow)
			if tc.wantField == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			vErr := &Error{}
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tc.wantField, vErr.Field)
		})
	}
}

type fixedQualityLimits struct {
	enabled bool
}

func (f *fixedQualityLimits) QualityChecksEnabled(string) bool             { return f.enabled }
func (f *fixedQualityLimits) QualityCriticalMinTemperature(string) float64 { return 50 }
func (f *fixedQualityLimits) QualityCriticalMinVibration(string) float64   { return 0.5 }
func (f *fixedQualityLimits) QualityIdleMaxTemperature(string) float64     { return 80 }

func TestCheckQuality(t *testing.T) {
	tests := []struct {
		name     string
		status   model.MachineStatus
		temp     float64
		vib      float64
		wantRule string
	}{
		{name: "critical with nominal readings rejected", status: model.StatusCritical, temp: 45, vib: 0.2, wantRule: "critical_with_normal_readings"},
		{name: "critical with hot temperature passes", status: model.StatusCritical, temp: 95, vib: 0.2},
		{name: "critical with high vibration passes", status: model.StatusCritical, temp: 45, vib: 0.7},
		{name: "idle but hot rejected", status: model.StatusIdle, temp: 85, vib: 0.1, wantRule: "idle_but_hot"},
		{name: "idle at boundary passes", status: model.StatusIdle, temp: 80, vib: 0.1},
		{name: "running hot passes", status: model.StatusRunning, temp: 150, vib: 0.9},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := validReading()
			r.Status = tc.status
			r.Temperature = tc.temp
			r.Vibration = tc.vib

			err := CheckQuality(r, &fixedQualityLimits{enabled: true})
			if tc.wantRule == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			qErr := &QualityError{}
			require.ErrorAs(t, err, &qErr)
			assert.Equal(t, tc.wantRule, qErr.Rule)
		})
	}
}

func TestCheckQualityDisabled(t *testing.T) {
	r := validReading()
	r.Status = model.StatusCritical
	r.Temperature = 20
	r.Vibration = 0.1

	require.NoError(t, CheckQuality(r, &fixedQualityLimits{enabled: false}))
}
