package entities

import "time"

// Field represents a tract of land growing a particular crop, served by one valve.
type Field struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	AreaHa      float64   `json:"area_ha" yaml:"area_ha"`
	CropType    string    `json:"crop_type" yaml:"crop_type"`
	ValveMode   ValveMode `json:"valve_mode" yaml:"valve_mode"`
	Schedule    *Schedule `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Telemetry   Telemetry `json:"telemetry" yaml:"telemetry"`
	LastWatered time.Time `json:"last_watered,omitempty" yaml:"last_watered,omitempty"`
}

// IndividualSchedule returns the field's own schedule when it is enabled.
func (f Field) IndividualSchedule() (Schedule, bool) {
	if f.Schedule == nil || !f.Schedule.Enabled {
		return Schedule{}, false
	}
	return *f.Schedule, true
}

// Clone returns a copy that shares no pointers with f.
func (f Field) Clone() Field {
	out := f
	if f.Schedule != nil {
		s := *f.Schedule
		out.Schedule = &s
	}
	out.Telemetry = f.Telemetry.Clone()
	return out
}
