package overrides

import (
	"flag"
)

// Limits holds the analysis thresholds and data-quality rule settings.
// One instance carries the service-wide defaults; per-machine overrides
// are whole Limits documents layered on top of those defaults.
type Limits struct {
	ZScoreThreshold float64 `yaml:"z_score_threshold"`
	MinDataPoints   int     `yaml:"min_data_points"`

	TemperatureWarning  float64 `yaml:"temperature_warning"`
	TemperatureCritical float64 `yaml:"temperature_critical"`
	VibrationWarning    float64 `yaml:"vibration_warning"`
	VibrationCritical   float64 `yaml:"vibration_critical"`

	QualityChecks                 bool    `yaml:"quality_checks"`
	QualityCriticalMinTemperature float64 `yaml:"quality_critical_min_temperature"`
	QualityCriticalMinVibration   float64 `yaml:"quality_critical_min_vibration"`
	QualityIdleMaxTemperature     float64 `yaml:"quality_idle_max_temperature"`
}

// defaultLimits is used by UnmarshalYAML so per-machine override documents
// start from the configured defaults rather than zero values.
var defaultLimits *Limits

// RegisterFlagsAndApplyDefaults registers the flags.
func (l *Limits) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.Float64Var(&l.ZScoreThreshold, prefix+".z-score-threshold", 2.5, "Standardized-score cutoff for flagging a reading.")
	f.IntVar(&l.MinDataPoints, prefix+".min-data-points", 10, "Below this slice size analysis returns INSUFFICIENT_DATA.")

	f.Float64Var(&l.TemperatureWarning, prefix+".temperature-warning", 90, "Absolute temperature warning threshold in °C.")
	f.Float64Var(&l.TemperatureCritical, prefix+".temperature-critical", 100, "Absolute temperature critical threshold in °C.")
	f.Float64Var(&l.VibrationWarning, prefix+".vibration-warning", 0.7, "Absolute vibration warning threshold.")
	f.Float64Var(&l.VibrationCritical, prefix+".vibration-critical", 0.8, "Absolute vibration critical threshold.")

	f.BoolVar(&l.QualityChecks, prefix+".quality-checks", true, "Enable the cross-field data-quality rules at ingest.")
	f.Float64Var(&l.QualityCriticalMinTemperature, prefix+".quality-critical-min-temperature", 50, "CRITICAL readings below this temperature and below the vibration floor are rejected.")
	f.Float64Var(&l.QualityCriticalMinVibration, prefix+".quality-critical-min-vibration", 0.5, "CRITICAL readings below this vibration and below the temperature floor are rejected.")
	f.Float64Var(&l.QualityIdleMaxTemperature, prefix+".quality-idle-max-temperature", 80, "IDLE readings above this temperature are rejected.")
}

// UnmarshalYAML overlays the document onto the configured defaults.
func (l *Limits) UnmarshalYAML(unmarshal func(interface{}) error) error {
	if defaultLimits != nil {
		*l = *defaultLimits
	}
	type plain Limits
	return unmarshal((*plain)(l))
}
