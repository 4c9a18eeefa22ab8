package scheduler

import (
	"time"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/entities"
)

// IsActive reports whether now falls inside the schedule window. Both bounds are
// inclusive at minute resolution; a window whose end precedes its start wraps midnight.
// Disabled or missing schedules are never active.
func IsActive(s *entities.Schedule, now time.Time) bool {
	if s == nil || !s.Enabled {
		return false
	}
	m := now.Hour()*60 + now.Minute()
	start, end := s.Start.Minutes(), s.End.Minutes()
	if start <= end {
		return m >= start && m <= end
	}
	return m >= start || m <= end
}

// Governing picks the schedule that controls a field: its own when enabled,
// otherwise the global one when enabled. ok is false when neither applies.
func Governing(f entities.Field, global *entities.Schedule) (s entities.Schedule, scope entities.ScheduleScope, ok bool) {
	if ind, has := f.IndividualSchedule(); has {
		return ind, entities.ScopeIndividual, true
	}
	if global != nil && global.Enabled {
		return *global, entities.ScopeGlobal, true
	}
	return entities.Schedule{}, "", false
}
