package messages

import (
	"time"
)

// SensorData is a soil probe reading published on sensor/data/{field}/{sensor}.
// Aggregated readings carry the average over one aggregation interval.
type SensorData struct {
	FieldID     string    `json:"field_id"`
	SensorID    string    `json:"sensor_id"`
	Moisture    float64   `json:"moisture"`
	Temperature *float64  `json:"temperature,omitempty"`
	Aggregated  bool      `json:"aggregated"`
	Timestamp   time.Time `json:"timestamp"`
}
