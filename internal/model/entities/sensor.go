package entities

import "time"

// Health is the agronomist's condition label for a field.
type Health string

const (
	HealthExcellent Health = "excellent"
	HealthGood      Health = "good"
	HealthFair      Health = "fair"
	HealthPoor      Health = "poor"
)

// Telemetry is the read-only sensor view of a field. Nil readings are unknown.
type Telemetry struct {
	SoilMoisture *float64  `json:"soil_moisture,omitempty" yaml:"soil_moisture,omitempty"` // percent
	Temperature  *float64  `json:"temperature,omitempty" yaml:"temperature,omitempty"`     // celsius
	Health       Health    `json:"health,omitempty" yaml:"health,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

func (t Telemetry) Clone() Telemetry {
	out := t
	if t.SoilMoisture != nil {
		v := *t.SoilMoisture
		out.SoilMoisture = &v
	}
	if t.Temperature != nil {
		v := *t.Temperature
		out.Temperature = &v
	}
	return out
}

// Float is a helper for building optional readings.
func Float(v float64) *float64 { return &v }
