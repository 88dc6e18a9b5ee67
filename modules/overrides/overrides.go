// Package overrides resolves analysis thresholds and data-quality rules,
// defaulted service-wide and overridable per machine from a separate YAML
// document. Configuration is immutable after start.
package overrides

import (
	"flag"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gopkg.in/yaml.v2"
)

var metricOverrideLimits = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "diagnet",
	Name:      "limits_overrides",
	Help:      "Effective per-machine limit overrides.",
}, []string{"limit_name", "machine"})

// Config for the overrides module.
type Config struct {
	Defaults Limits `yaml:",inline"`

	// PerMachineOverrideFile points at a YAML document of the shape
	// overrides: {<machine_id>: <limits>}. Optional.
	PerMachineOverrideFile string `yaml:"per_machine_override_file"`
}

// RegisterFlagsAndApplyDefaults registers the flags.
func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	cfg.Defaults.RegisterFlagsAndApplyDefaults(prefix, f)
	f.StringVar(&cfg.PerMachineOverrideFile, prefix+".per-machine-override-file", "", "YAML file with per-machine limit overrides.")
}

// perMachineOverrides represents the override config file.
type perMachineOverrides struct {
	Machines map[string]*Limits `yaml:"overrides"`
}

// Interface is the read side consumed by the analyzer and the ingest
// quality checks.
type Interface interface {
	ZScoreThreshold(machineID string) float64
	MinDataPoints(machineID string) int
	TemperatureWarning(machineID string) float64
	TemperatureCritical(machineID string) float64
	VibrationWarning(machineID string) float64
	VibrationCritical(machineID string) float64

	QualityChecksEnabled(machineID string) bool
	QualityCriticalMinTemperature(machineID string) float64
	QualityCriticalMinVibration(machineID string) float64
	QualityIdleMaxTemperature(machineID string) float64
}

// Overrides resolves limits for a machine, falling back to defaults.
type Overrides struct {
	defaults   Limits
	perMachine map[string]*Limits
}

var _ Interface = (*Overrides)(nil)

// New builds an Overrides from defaults plus the optional per-machine
// override file.
func New(cfg Config) (*Overrides, error) {
	o := &Overrides{
		defaults:   cfg.Defaults,
		perMachine: map[string]*Limits{},
	}

	if cfg.PerMachineOverrideFile != "" {
		buff, err := os.ReadFile(cfg.PerMachineOverrideFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read override file %s: %w", cfg.PerMachineOverrideFile, err)
		}

		// Per-machine documents overlay the defaults, see Limits.UnmarshalYAML.
		defaultLimits = &cfg.Defaults
		defer func() { defaultLimits = nil }()

		loaded := &perMachineOverrides{}
		if err := yaml.UnmarshalStrict(buff, loaded); err != nil {
			return nil, fmt.Errorf("failed to parse override file %s: %w", cfg.PerMachineOverrideFile, err)
		}
		o.perMachine = loaded.Machines

		for machine, l := range o.perMachine {
			metricOverrideLimits.WithLabelValues("z_score_threshold", machine).Set(l.ZScoreThreshold)
			metricOverrideLimits.WithLabelValues("min_data_points", machine).Set(float64(l.MinDataPoints))
			metricOverrideLimits.WithLabelValues("temperature_warning", machine).Set(l.TemperatureWarning)
			metricOverrideLimits.WithLabelValues("temperature_critical", machine).Set(l.TemperatureCritical)
			metricOverrideLimits.WithLabelValues("vibration_warning", machine).Set(l.VibrationWarning)
			metricOverrideLimits.WithLabelValues("vibration_critical", machine).Set(l.VibrationCritical)
		}
	}

	return o, nil
}

// forMachine returns limits for a machine, or the defaults if there is no
// machine-specific override.
func (o *Overrides) forMachine(machineID string) *Limits {
	if l, ok := o.perMachine[machineID]; ok && l != nil {
		return l
	}
	return &o.defaults
}

func (o *Overrides) ZScoreThreshold(machineID string) float64 {
	return o.forMachine(machineID).ZScoreThreshold
}

func (o *Overrides) MinDataPoints(machineID string) int {
	return o.forMachine(machineID).MinDataPoints
}

func (o *Overrides) TemperatureWarning(machineID string) float64 {
	return o.forMachine(machineID).TemperatureWarning
}

func (o *Overrides) TemperatureCritical(machineID string) float64 {
	return o.forMachine(machineID).TemperatureCritical
}

func (o *Overrides) VibrationWarning(machineID string) float64 {
	return o.forMachine(machineID).VibrationWarning
}

func (o *Overrides) VibrationCritical(machineID string) float64 {
	return o.forMachine(machineID).VibrationCritical
}

func (o *Overrides) QualityChecksEnabled(machineID string) bool {
	return o.forMachine(machineID).QualityChecks
}

func (o *Overrides) QualityCriticalMinTemperature(machineID string) float64 {
	return o.forMachine(machineID).QualityCriticalMinTemperature
}

func (o *Overrides) QualityCriticalMinVibration(machineID string) float64 {
	return o.forMachine(machineID).QualityCriticalMinVibration
}

func (o *Overrides) QualityIdleMaxTemperature(machineID string) float64 {
	return o.forMachine(machineID).QualityIdleMaxTemperature
}
