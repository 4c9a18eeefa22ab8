package scheduler

import (
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/entities"
)

// Action is a schedule-driven instruction for the valve.
type Action int

const (
	Engage Action = iota
	Disengage
)

// Transition describes a proposed valve change. Method is set when the change
// opens a watering session that must be logged.
type Transition struct {
	From   entities.ValveMode
	To     entities.ValveMode
	Method entities.Method
}

func (t Transition) Changed() bool { return t.From != t.To }

// ValveController is the valve state machine. It decides transitions but does
// not persist them.
type ValveController struct {
	policy Policy
}

func NewValveController(p Policy) ValveController {
	return ValveController{policy: p.withDefaults()}
}

// RequestManual decides a user-initiated change. While the governing schedule is
// active every manual mode is refused with a *ConflictError.
func (v ValveController) RequestManual(f entities.Field, gov entities.Schedule, scope entities.ScheduleScope, active bool, mode entities.ValveMode) (Transition, error) {
	if active {
		return Transition{}, &ConflictError{FieldID: f.ID, Requested: mode, Scope: scope, Schedule: gov}
	}
	t := Transition{From: f.ValveMode, To: mode}
	if !t.Changed() {
		return t, nil
	}
	switch mode {
	case entities.ValveOn:
		t.Method = entities.MethodManual
	case entities.ValveAuto:
		t.Method = entities.MethodAuto
	}
	return t, nil
}

// ApplySchedule decides the change for a window opening or closing. Engaging
// always starts a scheduled session, even when the valve is already in the engage
// mode. Reverting into Auto from another mode opens an auto session.
func (v ValveController) ApplySchedule(f entities.Field, a Action) Transition {
	if a == Engage {
		return Transition{From: f.ValveMode, To: v.policy.EngageMode, Method: entities.MethodScheduled}
	}
	t := Transition{From: f.ValveMode, To: v.policy.RevertMode}
	if t.Changed() && t.To == entities.ValveAuto {
		t.Method = entities.MethodAuto
	}
	return t
}
