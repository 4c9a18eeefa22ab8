package entities

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidSchedule is returned for schedules with out-of-range times or
// identical start and end.
var ErrInvalidSchedule = errors.New("invalid schedule")

// TimeOfDay is a wall-clock hour and minute, serialised as "HH:MM".
type TimeOfDay struct {
	Hour   int
	Minute int
}

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return TimeOfDay{}, fmt.Errorf("%w: time %q is not HH:MM", ErrInvalidSchedule, s)
	}
	h, err1 := strconv.Atoi(hh)
	m, err2 := strconv.Atoi(mm)
	if err1 != nil || err2 != nil {
		return TimeOfDay{}, fmt.Errorf("%w: time %q is not HH:MM", ErrInvalidSchedule, s)
	}
	t := TimeOfDay{Hour: h, Minute: m}
	if !t.Valid() {
		return TimeOfDay{}, fmt.Errorf("%w: time %q out of range", ErrInvalidSchedule, s)
	}
	return t, nil
}

// MustTimeOfDay is ParseTimeOfDay for literals; it panics on bad input.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour < 24 && t.Minute >= 0 && t.Minute < 60
}

// Minutes since midnight.
func (t TimeOfDay) Minutes() int { return t.Hour*60 + t.Minute }

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// On returns the instant at this time of day on the calendar day of ref, in ref's location.
func (t TimeOfDay) On(ref time.Time) time.Time {
	y, mo, d := ref.Date()
	return time.Date(y, mo, d, t.Hour, t.Minute, 0, 0, ref.Location())
}

func (t TimeOfDay) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ScheduleScope tells whether a schedule belongs to one field or to the whole farm.
type ScheduleScope string

const (
	ScopeIndividual ScheduleScope = "individual"
	ScopeGlobal     ScheduleScope = "global"
)

// Schedule is a daily watering window. End before Start means the window
// crosses midnight.
type Schedule struct {
	Start   TimeOfDay `json:"start" yaml:"start"`
	End     TimeOfDay `json:"end" yaml:"end"`
	Enabled bool      `json:"enabled" yaml:"enabled"`
}

// NewSchedule builds a validated schedule.
func NewSchedule(start, end TimeOfDay, enabled bool) (Schedule, error) {
	s := Schedule{Start: start, End: end, Enabled: enabled}
	if err := s.Validate(); err != nil {
		return Schedule{}, err
	}
	return s, nil
}

func (s Schedule) Validate() error {
	if !s.Start.Valid() || !s.End.Valid() {
		return fmt.Errorf("%w: %s-%s out of range", ErrInvalidSchedule, s.Start, s.End)
	}
	if s.Start == s.End {
		return fmt.Errorf("%w: start and end are both %s", ErrInvalidSchedule, s.Start)
	}
	return nil
}

// Wraps reports whether the window crosses midnight.
func (s Schedule) Wraps() bool { return s.End.Minutes() < s.Start.Minutes() }

// Length of one occurrence of the window.
func (s Schedule) Length() time.Duration {
	d := s.End.Minutes() - s.Start.Minutes()
	if d < 0 {
		d += 24 * 60
	}
	return time.Duration(d) * time.Minute
}

// Occurrence returns the bounds of the window occurrence containing now.
// For a wrapped window seen after midnight the start lies on the previous day.
// The result is only meaningful while the window is active.
func (s Schedule) Occurrence(now time.Time) (start, end time.Time) {
	start = s.Start.On(now)
	if s.Wraps() && now.Hour()*60+now.Minute() <= s.End.Minutes() {
		start = start.AddDate(0, 0, -1)
	}
	end = s.End.On(start)
	if s.Wraps() {
		end = end.AddDate(0, 0, 1)
	}
	return start, end
}

func (s Schedule) String() string { return s.Start.String() + "-" + s.End.String() }
