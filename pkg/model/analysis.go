package model

// HealthStatus buckets a machine health score.
type HealthStatus string

const (
	HealthHealthy          HealthStatus = "HEALTHY"
	HealthWarning          HealthStatus = "WARNING"
	HealthCritical         HealthStatus = "CRITICAL"
	HealthInsufficientData HealthStatus = "INSUFFICIENT_DATA"
)

// Anomaly severity levels.
const (
	SeverityWarning  = "WARNING"
	SeverityCritical = "CRITICAL"
)

// Anomaly metric types.
const (
	AnomalyTemperature = "TEMPERATURE"
	AnomalyVibration   = "VIBRATION"
)

// Anomaly is a single flagged reading metric, either from the absolute
// threshold pass or the standardized-score pass. A reading can legitimately
// produce both; they are not deduplicated.
type Anomaly struct {
	Type       string  `json:"type"`
	Severity   string  `json:"severity"`
	Value      float64 `json:"value"`
	Threshold  float64 `json:"threshold"`
	Message    string  `json:"message"`
	DetectedAt Time    `json:"detectedAt"`
}

// Statistics are the descriptive statistics over the analyzed slice.
type Statistics struct {
	AvgTemperature float64 `json:"avgTemperature"`
	MaxTemperature float64 `json:"maxTemperature"`
	AvgVibration   float64 `json:"avgVibration"`
	MaxVibration   float64 `json:"maxVibration"`
	DataPoints     int     `json:"dataPointsAnalyzed"`
}

// AnalysisResult is the derived health assessment for one machine over a
// recent window. Built per request, never persisted.
type AnalysisResult struct {
	MachineID   string       `json:"machineId"`
	AnalyzedAt  Time         `json:"analyzedAt"`
	HealthScore *float64     `json:"healthScore"`
	Status      HealthStatus `json:"status"`
	Anomalies   []Anomaly    `json:"anomalies"`
	Statistics  Statistics   `json:"statistics"`
}
