package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/entities"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/messages"
)

func severityRank(s messages.Severity) int {
	switch s {
	case messages.SeverityWarning:
		return 1
	case messages.SeverityCritical:
		return 2
	}
	return 0
}

func (e *Engine) moistureSeverity(moisture float64) messages.Severity {
	switch {
	case moisture < e.policy.MoistureCritical:
		return messages.SeverityCritical
	case moisture < e.policy.MoistureWarning:
		return messages.SeverityWarning
	}
	return ""
}

// checkAlerts raises telemetry alerts when a field in Auto crosses into a worse
// state. An alert re-arms once the field recovers or leaves Auto. Unknown readings
// keep the previous state.
func (e *Engine) checkAlerts(ctx context.Context, f entities.Field, now time.Time) []messages.Event {
	st := e.state(f.ID)
	if f.ValveMode != entities.ValveAuto {
		st.moisture, st.healthPoor, st.hot = "", false, false
		return nil
	}
	var events []messages.Event

	if m := f.Telemetry.SoilMoisture; m != nil {
		sev := e.moistureSeverity(*m)
		if sev != "" && severityRank(sev) > severityRank(st.moisture) {
			threshold := e.policy.MoistureWarning
			if sev == messages.SeverityCritical {
				threshold = e.policy.MoistureCritical
			}
			events = append(events, messages.Event{
				Type:      messages.LowMoistureAlert,
				FieldID:   f.ID,
				Timestamp: now,
				Severity:  sev,
				Message:   fmt.Sprintf("field %s soil moisture %.0f%% is below %.0f%%", displayName(f), *m, threshold),
				Moisture:  entities.Float(*m),
			})
		}
		st.moisture = sev
	}

	poor := f.Telemetry.Health == entities.HealthPoor
	if poor && !st.healthPoor {
		events = append(events, messages.Event{
			Type:      messages.FieldHealthAlert,
			FieldID:   f.ID,
			Timestamp: now,
			Severity:  messages.SeverityWarning,
			Message:   fmt.Sprintf("field %s requires attention: condition %s", displayName(f), f.Telemetry.Health),
		})
	}
	st.healthPoor = poor

	if t := f.Telemetry.Temperature; t != nil {
		hot := *t > e.policy.TemperatureHigh
		if hot && !st.hot {
			events = append(events, messages.Event{
				Type:        messages.HighTemperatureAlert,
				FieldID:     f.ID,
				Timestamp:   now,
				Severity:    messages.SeverityInfo,
				Message:     fmt.Sprintf("field %s temperature %.1f°C is above %.0f°C", displayName(f), *t, e.policy.TemperatureHigh),
				Temperature: entities.Float(*t),
			})
		}
		st.hot = hot
	}

	e.emit(ctx, events)
	return events
}

func displayName(f entities.Field) string {
	if f.Name != "" {
		return f.Name
	}
	return f.ID
}
