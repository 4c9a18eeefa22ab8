package scheduler

import (
	"fmt"
	"time"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/entities"
)

const (
	defaultDuration         = 30 * time.Minute
	defaultMoistureCritical = 30.0
	defaultMoistureWarning  = 45.0
	defaultTemperatureHigh  = 35.0
)

// Policy holds the tunable decisions of the valve state machine.
type Policy struct {
	// EngageMode is forced when a schedule window opens (On or Auto).
	EngageMode entities.ValveMode
	// RevertMode is restored when a window closes or its schedule is cancelled (Auto or Off).
	RevertMode entities.ValveMode
	// DefaultDuration is the nominal length of manual and auto sessions.
	DefaultDuration time.Duration

	MoistureCritical float64
	MoistureWarning  float64
	// TemperatureHigh is the air temperature (celsius) above which a heat alert is raised.
	TemperatureHigh float64
}

func DefaultPolicy() Policy {
	return Policy{
		EngageMode:       entities.ValveAuto,
		RevertMode:       entities.ValveAuto,
		DefaultDuration:  defaultDuration,
		MoistureCritical: defaultMoistureCritical,
		MoistureWarning:  defaultMoistureWarning,
		TemperatureHigh:  defaultTemperatureHigh,
	}
}

// withDefaults fills zero values from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.EngageMode == "" {
		p.EngageMode = d.EngageMode
	}
	if p.RevertMode == "" {
		p.RevertMode = d.RevertMode
	}
	if p.DefaultDuration <= 0 {
		p.DefaultDuration = d.DefaultDuration
	}
	if p.MoistureCritical <= 0 {
		p.MoistureCritical = d.MoistureCritical
	}
	if p.MoistureWarning <= 0 {
		p.MoistureWarning = d.MoistureWarning
	}
	if p.TemperatureHigh <= 0 {
		p.TemperatureHigh = d.TemperatureHigh
	}
	return p
}

func (p Policy) Validate() error {
	if p.EngageMode != entities.ValveOn && p.EngageMode != entities.ValveAuto {
		return fmt.Errorf("engage mode must be on or auto, got %q", p.EngageMode)
	}
	if p.RevertMode != entities.ValveAuto && p.RevertMode != entities.ValveOff {
		return fmt.Errorf("revert mode must be auto or off, got %q", p.RevertMode)
	}
	if p.MoistureWarning < p.MoistureCritical {
		return fmt.Errorf("moisture warning threshold %.1f below critical %.1f", p.MoistureWarning, p.MoistureCritical)
	}
	return nil
}
