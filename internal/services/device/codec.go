package device

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/entities"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/messages"
)

// Requests and replies travel as google.protobuf.Struct so the service needs
// no generated stubs. These helpers convert between Structs and domain types.

func str(s *structpb.Struct, key string) string {
	if s == nil {
		return ""
	}
	return s.GetFields()[key].GetStringValue()
}

func boolOr(s *structpb.Struct, key string, def bool) bool {
	if s == nil {
		return def
	}
	v, ok := s.GetFields()[key]
	if !ok {
		return def
	}
	if _, isBool := v.GetKind().(*structpb.Value_BoolValue); !isBool {
		return def
	}
	return v.GetBoolValue()
}

func scheduleFrom(s *structpb.Struct) (entities.Schedule, error) {
	start, err := entities.ParseTimeOfDay(str(s, "start"))
	if err != nil {
		return entities.Schedule{}, fmt.Errorf("start: %w", err)
	}
	end, err := entities.ParseTimeOfDay(str(s, "end"))
	if err != nil {
		return entities.Schedule{}, fmt.Errorf("end: %w", err)
	}
	return entities.Schedule{Start: start, End: end, Enabled: boolOr(s, "enabled", true)}, nil
}

func scheduleStruct(sc entities.Schedule) map[string]any {
	return map[string]any{"start": sc.Start.String(), "end": sc.End.String(), "enabled": sc.Enabled}
}

func fieldStruct(f entities.Field) (*structpb.Struct, error) {
	m := map[string]any{
		"id":         f.ID,
		"name":       f.Name,
		"valve_mode": string(f.ValveMode),
	}
	if f.Schedule != nil {
		m["schedule"] = scheduleStruct(*f.Schedule)
	}
	if !f.LastWatered.IsZero() {
		m["last_watered"] = f.LastWatered.UTC().Format(time.RFC3339)
	}
	return structpb.NewStruct(m)
}

func eventsStruct(events []messages.Event, err error) (*structpb.Struct, error) {
	list := make([]any, 0, len(events))
	for _, ev := range events {
		list = append(list, map[string]any{
			"type":     string(ev.Type),
			"field_id": ev.FieldID,
			"severity": string(ev.Severity),
			"message":  ev.Message,
		})
	}
	m := map[string]any{"events": list}
	if err != nil {
		m["error"] = err.Error()
	}
	return structpb.NewStruct(m)
}

// EventSummary is the client-side view of an event in a reply.
type EventSummary struct {
	Type     string
	FieldID  string
	Severity string
	Message  string
}

func eventsFrom(s *structpb.Struct) []EventSummary {
	var out []EventSummary
	for _, v := range s.GetFields()["events"].GetListValue().GetValues() {
		ev := v.GetStructValue()
		out = append(out, EventSummary{
			Type:     str(ev, "type"),
			FieldID:  str(ev, "field_id"),
			Severity: str(ev, "severity"),
			Message:  str(ev, "message"),
		})
	}
	return out
}
