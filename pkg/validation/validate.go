// Package validation enforces the reading invariants at the ingest
// boundary. A reading is persisted whole or rejected whole; there is no
// partial acceptance.
package validation

import (
	"fmt"
	"regexp"
	"time"

	"github.com/diagnet/diagnet/pkg/model"
)

// ClockSkewTolerance bounds how far into the future a device clock may
// drift before its readings are rejected.
const ClockSkewTolerance = 5 * time.Minute

const maxLocationLength = 100

var machineIDRegexp = regexp.MustCompile(`^[A-Z][A-Z0-9]*$`)

// Error is a field-scoped invariant violation.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func errf(field, format string, args ...any) *Error {
	return &Error{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ValidateReading checks every schema and range invariant of a reading
// against the given instant. The first violation found is returned.
func ValidateReading(r *model.Reading, now time.Time) error {
	if r.MachineID == "" {
		return errf("machineId", "is required")
	}
	if len(r.MachineID) > 50 {
		return errf("machineId", "must be at most 50 characters")
	}
	if !machineIDRegexp.MatchString(r.MachineID) {
		return errf("machineId", "must start with a letter and contain only uppercase letters and digits")
	}

	if r.Timestamp.IsZero() {
		return errf("timestamp", "is required")
	}
	if r.Timestamp.After(now.Add(ClockSkewTolerance)) {
		return errf("timestamp", "cannot be in the future")
	}

	if r.Temperature < -50 || r.Temperature > 200 {
		return errf("temperature", "must be within [-50, 200] °C, got %g", r.Temperature)
	}
	if r.Vibration < 0 || r.Vibration > 1 {
		return errf("vibration", "must be within [0, 1], got %g", r.Vibration)
	}
	if r.Pressure != nil && (*r.Pressure < 0 || *r.Pressure > 10) {
		return errf("pressure", "must be within [0, 10] bar, got %g", *r.Pressure)
	}
	if r.Humidity != nil && (*r.Humidity < 0 || *r.Humidity > 100) {
		return errf("humidity", "must be within [0, 100] %%, got %g", *r.Humidity)
	}
	if r.PowerConsumption != nil && (*r.PowerConsumption < 0 || *r.PowerConsumption > 10000) {
		return errf("powerConsumption", "must be within [0, 10000] W, got %g", *r.PowerConsumption)
	}
	if r.RotationSpeed != nil && (*r.RotationSpeed < 0 || *r.RotationSpeed > 5000) {
		return errf("rotationSpeed", "must be within [0, 5000] RPM, got %g", *r.RotationSpeed)
	}

	if !model.ValidStatus(r.Status) {
		return errf("status", "must be one of RUNNING, IDLE, WARNING, CRITICAL, got %q", r.Status)
	}
	if len(r.Location) > maxLocationLength {
		return errf("location", "must be at most %d characters", maxLocationLength)
	}

	return nil
}

// QualityLimits supplies the cross-field quality-rule thresholds, possibly
// overridden per machine.
type QualityLimits interface {
	QualityChecksEnabled(machineID string) bool
	QualityCriticalMinTemperature(machineID string) float64
	QualityCriticalMinVibration(machineID string) float64
	QualityIdleMaxTemperature(machineID string) float64
}

// QualityError marks a reading whose fields are individually valid but
// mutually implausible.
type QualityError struct {
	Rule   string
	Detail string
}

func (e *QualityError) Error() string {
	return fmt.Sprintf("quality rule %s: %s", e.Rule, e.Detail)
}

// CheckQuality applies the cross-field plausibility heuristics. These are
// data-quality rules, not anomaly suppression: a genuinely hot CRITICAL
// reading passes untouched.
func CheckQuality(r *model.Reading, limits QualityLimits) error {
	if !limits.QualityChecksEnabled(r.MachineID) {
		return nil
	}

	if r.Status == model.StatusCritical {
		minTemp := limits.QualityCriticalMinTemperature(r.MachineID)
		minVib := limits.QualityCriticalMinVibration(r.MachineID)
		if r.Temperature < minTemp && r.Vibration < minVib {
			return &QualityError{
				Rule:   "critical_with_normal_readings",
				Detail: fmt.Sprintf("status CRITICAL but temperature %g°C and vibration %g are both nominal", r.Temperature, r.Vibration),
			}
		}
	}

	if r.Status == model.StatusIdle {
		maxTemp := limits.QualityIdleMaxTemperature(r.MachineID)
		if r.Temperature > maxTemp {
			return &QualityError{
				Rule:   "idle_but_hot",
				Detail: fmt.Sprintf("status IDLE but temperature is %g°C", r.Temperature),
			}
		}
	}

	return nil
}
