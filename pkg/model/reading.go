package model

import (
	"encoding/json"
)

// MachineStatus is the device-reported operational state. It is
// authoritative as reported; ingestion never rewrites it.
type MachineStatus string

const (
	StatusRunning  MachineStatus = "RUNNING"
	StatusIdle     MachineStatus = "IDLE"
	StatusWarning  MachineStatus = "WARNING"
	StatusCritical MachineStatus = "CRITICAL"
)

// ValidStatus reports whether s is one of the recognized machine states.
func ValidStatus(s MachineStatus) bool {
	switch s {
	case StatusRunning, StatusIdle, StatusWarning, StatusCritical:
		return true
	}
	return false
}

// Reading is a single sensor sample. Logical identity is
// (MachineID, Timestamp); duplicates are permitted because ingestion is
// at-least-once. Immutable once persisted.
type Reading struct {
	MachineID        string          `json:"machineId" db:"machine_id"`
	Timestamp        Time            `json:"timestamp" db:"ts"`
	Temperature      float64         `json:"temperature" db:"temperature"`
	Vibration        float64         `json:"vibration" db:"vibration"`
	Pressure         *float64        `json:"pressure,omitempty" db:"pressure"`
	Humidity         *float64        `json:"humidity,omitempty" db:"humidity"`
	PowerConsumption *float64        `json:"powerConsumption,omitempty" db:"power_consumption"`
	RotationSpeed    *float64        `json:"rotationSpeed,omitempty" db:"rotation_speed"`
	Status           MachineStatus   `json:"status" db:"status"`
	Location         string          `json:"location,omitempty" db:"location"`
	Metadata         json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	IngestedAt       Time            `json:"ingestedAt" db:"ingested_at"`
}
