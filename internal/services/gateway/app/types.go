package app

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/entities"
)

// backendField is a field record as returned by GET /api/fields. The backend
// is loose about types, so decoding goes through a generic map.
type backendField struct {
	ID          string
	Name        string
	Surface     float64
	Crop        string
	Moisture    *float64
	Temperature *float64
	Condition   string
	ValveState  entities.ValveMode
	LastWatered time.Time
	UpdatedAt   time.Time
}

func (f *backendField) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	f.ID = idString(m["id"])
	f.Name, _ = m["name"].(string)
	if v, ok := number(m["surface"]); ok {
		f.Surface = v
	}
	if s, ok := m["crop_name"].(string); ok && s != "" {
		f.Crop = s
	} else if c, ok := m["crop"].(map[string]any); ok {
		f.Crop, _ = c["name"].(string)
	} else if s, ok := m["crop"].(string); ok {
		f.Crop = s
	}
	if v, ok := number(m["moisture"]); ok {
		f.Moisture = &v
	}
	if v, ok := number(m["temperature"]); ok {
		f.Temperature = &v
	}
	f.Condition, _ = m["condition"].(string)
	f.ValveState = entities.NormalizeValveState(m["valve_state"])
	f.UpdatedAt = parseTime(m["updated_at"])
	if logs, ok := m["water_logs"].([]any); ok {
		for _, l := range logs {
			if lm, ok := l.(map[string]any); ok {
				if t := parseTime(lm["end_time"]); t.After(f.LastWatered) {
					f.LastWatered = t
				}
			}
		}
	}
	return nil
}

func (f backendField) entity() entities.Field {
	return entities.Field{
		ID:        f.ID,
		Name:      f.Name,
		AreaHa:    f.Surface,
		CropType:  f.Crop,
		ValveMode: f.ValveState,
		Telemetry: entities.Telemetry{
			SoilMoisture: f.Moisture,
			Temperature:  f.Temperature,
			Health:       entities.Health(strings.ToLower(f.Condition)),
			UpdatedAt:    f.UpdatedAt,
		},
		LastWatered: f.LastWatered,
	}
}

// backendLog is a watering log row of /api/watering-logs.
type backendLog struct {
	ID        string
	FieldID   string
	StartTime time.Time
	EndTime   time.Time
	Method    string
}

func (l *backendLog) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	l.ID = idString(m["id"])
	l.FieldID = idString(m["field_id"])
	l.StartTime = parseTime(m["start_time"])
	l.EndTime = parseTime(m["end_time"])
	l.Method, _ = m["method"].(string)
	return nil
}

func (l backendLog) entity() entities.WateringLogEntry {
	return entities.WateringLogEntry{
		ID:              l.ID,
		FieldID:         l.FieldID,
		Start:           l.StartTime,
		End:             l.EndTime,
		Method:          methodFromBackend(l.Method),
		DurationMinutes: entities.WholeMinutes(l.EndTime.Sub(l.StartTime)),
	}
}

// createLogRequest is the body of POST /api/watering-logs.
type createLogRequest struct {
	FieldID   any    `json:"field_id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Method    string `json:"method"`
}

// backend irrigation methods
const (
	backendSprinkler = "SPRINKLER"
	backendDrip      = "DRIP"
	backendFlood     = "FLOOD"
)

// methodToBackend maps how a session was started to the irrigation method
// the backend records: manual and scheduled sessions use sprinklers, auto
// mode uses drip lines.
func methodToBackend(m entities.Method) string {
	if m == entities.MethodAuto {
		return backendDrip
	}
	return backendSprinkler
}

func methodFromBackend(s string) entities.Method {
	if m, err := entities.ParseMethod(s); err == nil {
		return m
	}
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case backendDrip:
		return entities.MethodAuto
	case backendSprinkler, backendFlood:
		return entities.MethodManual
	}
	return entities.MethodManual
}

// backendID sends numeric ids as numbers, as the backend validates field_id as an integer.
func backendID(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}

func idString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		if x == math.Trunc(x) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return ""
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func parseTime(v any) time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05.000000Z"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
