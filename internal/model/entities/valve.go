package entities

import (
	"fmt"
	"strings"
)

// ValveMode is the operating mode of a field's irrigation valve.
type ValveMode string

const (
	ValveOff  ValveMode = "off"
	ValveOn   ValveMode = "on"
	ValveAuto ValveMode = "auto"
)

func (m ValveMode) Valid() bool {
	switch m {
	case ValveOff, ValveOn, ValveAuto:
		return true
	}
	return false
}

// Watering reports whether the mode keeps water flowing (On or Auto).
func (m ValveMode) Watering() bool { return m == ValveOn || m == ValveAuto }

// ParseValveMode accepts the spellings used by the backend and the dashboard
// ("On", "on", "AUTO", ...). Unknown values are an error.
func ParseValveMode(s string) (ValveMode, error) {
	m := ValveMode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return ValveOff, fmt.Errorf("unknown valve mode %q", s)
	}
	return m, nil
}

// NormalizeValveState maps a raw backend valve_state (string or legacy bool)
// to a ValveMode. Anything unrecognised is Off.
func NormalizeValveState(v any) ValveMode {
	switch x := v.(type) {
	case string:
		if m, err := ParseValveMode(x); err == nil {
			return m
		}
	case bool:
		if x {
			return ValveOn
		}
	}
	return ValveOff
}

// BackendLabel is the capitalised form the REST backend stores ("On", "Off", "Auto").
func (m ValveMode) BackendLabel() string {
	switch m {
	case ValveOn:
		return "On"
	case ValveAuto:
		return "Auto"
	default:
		return "Off"
	}
}
