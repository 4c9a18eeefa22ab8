package messages

import (
	"time"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/entities"
)

// EventType names a scheduling notification.
type EventType string

const (
	ScheduleEngaged       EventType = "schedule.engaged"
	ScheduleDisengaged    EventType = "schedule.disengaged"
	ValveChanged          EventType = "valve.changed"
	ManualControlRejected EventType = "manual.rejected"
	LowMoistureAlert      EventType = "moisture.low"
	FieldHealthAlert      EventType = "field.health"
	HighTemperatureAlert  EventType = "temperature.high"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is emitted by the scheduling engine. Events are notifications only, never stored as state.
type Event struct {
	Type        EventType              `json:"type"`
	FieldID     string                 `json:"field_id"`
	Timestamp   time.Time              `json:"timestamp"`
	Severity    Severity               `json:"severity"`
	Message     string                 `json:"message"`
	Mode        entities.ValveMode     `json:"mode,omitempty"`
	PrevMode    entities.ValveMode     `json:"prev_mode,omitempty"`
	Scope       entities.ScheduleScope `json:"scope,omitempty"`
	Window      string                 `json:"window,omitempty"`
	Reason      string                 `json:"reason,omitempty"`
	Moisture    *float64               `json:"moisture,omitempty"`
	Temperature *float64               `json:"temperature,omitempty"`
}
