package entities

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var ErrInvalidLogEntry = errors.New("invalid watering log entry")

// Method records what started a watering session.
type Method string

const (
	MethodManual    Method = "manual"
	MethodAuto      Method = "auto"
	MethodScheduled Method = "scheduled"
)

func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case MethodManual, MethodAuto, MethodScheduled:
		return m, nil
	}
	return "", fmt.Errorf("unknown watering method %q", s)
}

// WateringLogEntry is an immutable record of one watering session.
type WateringLogEntry struct {
	ID              string    `json:"id"`
	FieldID         string    `json:"field_id"`
	Start           time.Time `json:"start_time"`
	End             time.Time `json:"end_time"`
	Method          Method    `json:"method"`
	DurationMinutes int       `json:"duration_minutes"`
}

// NewWateringLogEntry validates end > start and derives the duration in whole minutes.
func NewWateringLogEntry(id, fieldID string, start, end time.Time, method Method) (WateringLogEntry, error) {
	if fieldID == "" {
		return WateringLogEntry{}, fmt.Errorf("%w: empty field id", ErrInvalidLogEntry)
	}
	if !end.After(start) {
		return WateringLogEntry{}, fmt.Errorf("%w: end %s is not after start %s",
			ErrInvalidLogEntry, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return WateringLogEntry{
		ID:              id,
		FieldID:         fieldID,
		Start:           start,
		End:             end,
		Method:          method,
		DurationMinutes: WholeMinutes(end.Sub(start)),
	}, nil
}

// WholeMinutes rounds d to the nearest minute.
func WholeMinutes(d time.Duration) int {
	return int(math.Round(d.Minutes()))
}

// ClosedAt returns a copy ending at t. Entries already ending at or before t are returned unchanged.
func (e WateringLogEntry) ClosedAt(t time.Time) (WateringLogEntry, error) {
	if !t.Before(e.End) {
		return e, nil
	}
	return NewWateringLogEntry(e.ID, e.FieldID, e.Start, t, e.Method)
}
