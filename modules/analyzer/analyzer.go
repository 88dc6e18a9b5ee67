// Package analyzer derives on-demand health assessments from recent
// readings: descriptive statistics, fixed-threshold and standardized-score
// anomalies, and a bounded health score.
package analyzer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/diagnet/diagnet/modules/overrides"
	"github.com/diagnet/diagnet/modules/storage"
	"github.com/diagnet/diagnet/pkg/model"
)

var (
	metricAnalyses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "diagnet",
		Name:      "analyzer_analyses_total",
		Help:      "Completed analyses by resulting status.",
	}, []string{"status"})
	metricAnomalies = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "diagnet",
		Name:      "analyzer_anomalies_total",
		Help:      "Anomalies detected, by type and severity.",
	}, []string{"type", "severity"})
	metricAnalysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "diagnet",
		Name:      "analyzer_analysis_duration_seconds",
		Help:      "End-to-end analysis latency including the slice fetch.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})
)

const (
	healthyFloor = 80.0
	warningFloor = 50.0

	criticalPenalty = 20.0
	warningPenalty  = 5.0
)

// Analyzer computes health assessments. Stateless between requests.
type Analyzer struct {
	cfg    Config
	source ReadingSource
	limits overrides.Interface
	logger kitlog.Logger

	now func() time.Time
}

// New builds the analyzer. The slice source is the store unless a
// collector URL is configured.
func New(cfg Config, store storage.Store, limits overrides.Interface, logger kitlog.Logger) *Analyzer {
	a := &Analyzer{
		cfg:    cfg,
		limits: limits,
		logger: logger,
		now:    time.Now,
	}
	if cfg.CollectorURL != "" {
		a.source = newHTTPSource(cfg)
	} else {
		a.source = &storeSource{store: store, now: func() time.Time { return a.now() }}
	}
	return a
}

// Analyze assesses one machine over the trailing window. A failed slice
// fetch fails the analysis; a short slice yields INSUFFICIENT_DATA.
func (a *Analyzer) Analyze(ctx context.Context, machineID string, hours int) (*model.AnalysisResult, error) {
	if hours <= 0 {
		hours = a.cfg.DefaultHours
	}

	start := time.Now()
	readings, err := a.source.RecentReadings(ctx, machineID, hours)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch readings for %s: %w", machineID, err)
	}

	result := a.analyze(machineID, readings)
	metricAnalysisDuration.Observe(time.Since(start).Seconds())
	metricAnalyses.WithLabelValues(string(result.Status)).Inc()
	level.Debug(a.logger).Log("msg", "analysis complete", "machine", machineID,
		"points", result.Statistics.DataPoints, "anomalies", len(result.Anomalies), "status", result.Status)
	return result, nil
}

func (a *Analyzer) analyze(machineID string, readings []model.Reading) *model.AnalysisResult {
	result := &model.AnalysisResult{
		MachineID:  machineID,
		AnalyzedAt: model.TimeOf(a.now()),
		Anomalies:  []model.Anomaly{},
		Statistics: model.Statistics{DataPoints: len(readings)},
	}

	if len(readings) < a.limits.MinDataPoints(machineID) {
		result.Status = model.HealthInsufficientData
		return result
	}

	temps := make([]float64, len(readings))
	vibs := make([]float64, len(readings))
	for n, r := range readings {
		temps[n] = r.Temperature
		vibs[n] = r.Vibration
	}

	tempMean, tempStddev := meanStddev(temps)
	vibMean, vibStddev := meanStddev(vibs)
	result.Statistics.AvgTemperature = tempMean
	result.Statistics.MaxTemperature = maxOf(temps)
	result.Statistics.AvgVibration = vibMean
	result.Statistics.MaxVibration = maxOf(vibs)

	for _, r := range readings {
		result.Anomalies = append(result.Anomalies, a.thresholdAnomalies(machineID, &r)...)
	}
	zt := a.limits.ZScoreThreshold(machineID)
	for _, r := range readings {
		result.Anomalies = append(result.Anomalies, zScoreAnomalies(&r, tempMean, tempStddev, vibMean, vibStddev, zt)...)
	}

	// Stable so the threshold pass stays ahead of the z-score pass for the
	// same instant.
	sort.SliceStable(result.Anomalies, func(x, y int) bool {
		return result.Anomalies[x].DetectedAt.Before(result.Anomalies[y].DetectedAt.Time)
	})

	score := 100.0
	for _, an := range result.Anomalies {
		metricAnomalies.WithLabelValues(an.Type, an.Severity).Inc()
		switch an.Severity {
		case model.SeverityCritical:
			score -= criticalPenalty
		case model.SeverityWarning:
			score -= warningPenalty
		}
	}
	score = math.Max(0, math.Min(100, score))

	result.HealthScore = &score
	switch {
	case score >= healthyFloor:
		result.Status = model.HealthHealthy
	case score >= warningFloor:
		result.Status = model.HealthWarning
	default:
		result.Status = model.HealthCritical
	}
	return result
}

// thresholdAnomalies compares one reading against the absolute limits,
// temperature before vibration, critical before warning. Boundaries are
// inclusive.
func (a *Analyzer) thresholdAnomalies(machineID string, r *model.Reading) []model.Anomaly {
	var out []model.Anomaly

	tempCrit := a.limits.TemperatureCritical(machineID)
	tempWarn := a.limits.TemperatureWarning(machineID)
	switch {
	case r.Temperature >= tempCrit:
		out = append(out, model.Anomaly{
			Type:       model.AnomalyTemperature,
			Severity:   model.SeverityCritical,
			Value:      r.Temperature,
			Threshold:  tempCrit,
			Message:    fmt.Sprintf("Temperature critically high: %.1f°C", r.Temperature),
			DetectedAt: r.Timestamp,
		})
	case r.Temperature >= tempWarn:
		out = append(out, model.Anomaly{
			Type:       model.AnomalyTemperature,
			Severity:   model.SeverityWarning,
			Value:      r.Temperature,
			Threshold:  tempWarn,
			Message:    fmt.Sprintf("Temperature above normal: %.1f°C", r.Temperature),
			DetectedAt: r.Timestamp,
		})
	}

	vibCrit := a.limits.VibrationCritical(machineID)
	vibWarn := a.limits.VibrationWarning(machineID)
	switch {
	case r.Vibration >= vibCrit:
		out = append(out, model.Anomaly{
			Type:       model.AnomalyVibration,
			Severity:   model.SeverityCritical,
			Value:      r.Vibration,
			Threshold:  vibCrit,
			Message:    fmt.Sprintf("Vibration critically high: %.2f mm/s", r.Vibration),
			DetectedAt: r.Timestamp,
		})
	case r.Vibration >= vibWarn:
		out = append(out, model.Anomaly{
			Type:       model.AnomalyVibration,
			Severity:   model.SeverityWarning,
			Value:      r.Vibration,
			Threshold:  vibWarn,
			Message:    fmt.Sprintf("Vibration above normal: %.2f mm/s", r.Vibration),
			DetectedAt: r.Timestamp,
		})
	}
	return out
}

// zScoreAnomalies flags readings far from the slice mean. A constant
// series (stddev 0) produces nothing.
func zScoreAnomalies(r *model.Reading, tempMean, tempStddev, vibMean, vibStddev, zt float64) []model.Anomaly {
	var out []model.Anomaly

	if tempStddev > 0 {
		if z := math.Abs((r.Temperature - tempMean) / tempStddev); z > zt {
			out = append(out, model.Anomaly{
				Type:       model.AnomalyTemperature,
				Severity:   model.SeverityWarning,
				Value:      r.Temperature,
				Threshold:  tempMean + zt*tempStddev,
				Message:    fmt.Sprintf("Unusual temperature pattern detected (Z-score: %.2f)", z),
				DetectedAt: r.Timestamp,
			})
		}
	}
	if vibStddev > 0 {
		if z := math.Abs((r.Vibration - vibMean) / vibStddev); z > zt {
			out = append(out, model.Anomaly{
				Type:       model.AnomalyVibration,
				Severity:   model.SeverityWarning,
				Value:      r.Vibration,
				Threshold:  vibMean + zt*vibStddev,
				Message:    fmt.Sprintf("Unusual vibration pattern detected (Z-score: %.2f)", z),
				DetectedAt: r.Timestamp,
			})
		}
	}
	return out
}

// meanStddev returns the mean and the sample (n-1) standard deviation.
func meanStddev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	if len(values) < 2 {
		return mean, 0
	}
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(values)-1))
}

func maxOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
