package event

import (
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/messages"
)

const eventMeasurement = "system_event"

// EventToPoint flattens an engine event into the system_event measurement.
// Identity goes into tags, descriptive values into fields.
func EventToPoint(ev messages.Event, source string) *write.Point {
	tags := map[string]string{
		"event_type":     string(ev.Type),
		"source_service": source,
		"severity":       string(ev.Severity),
	}
	if ev.FieldID != "" {
		tags["field_id"] = ev.FieldID
	}
	if ev.Scope != "" {
		tags["scope"] = string(ev.Scope)
	}

	fields := map[string]interface{}{
		"count":   int64(1),
		"message": ev.Message,
	}
	if ev.Mode != "" {
		fields["mode"] = string(ev.Mode)
	}
	if ev.PrevMode != "" {
		fields["prev_mode"] = string(ev.PrevMode)
	}
	if ev.Window != "" {
		fields["window"] = ev.Window
	}
	if ev.Reason != "" {
		fields["reason"] = ev.Reason
	}
	if ev.Moisture != nil {
		fields["moisture"] = *ev.Moisture
	}
	return influxdb2.NewPoint(eventMeasurement, tags, fields, ev.Timestamp)
}
