package scheduler

import (
	"context"
	"time"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/entities"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/messages"
)

// FieldStore is the engine's view of field records. GetField and the update
// methods return an error matching ErrFieldNotFound for unknown ids.
type FieldStore interface {
	ListFields(ctx context.Context) ([]entities.Field, error)
	GetField(ctx context.Context, id string) (entities.Field, error)
	UpdateValveMode(ctx context.Context, id string, mode entities.ValveMode) error
	UpdateSchedule(ctx context.Context, id string, s *entities.Schedule) error
	MarkWatered(ctx context.Context, id string, at time.Time) error
}

// LogStore appends and reads watering log entries. Append assigns an id when the
// entry has none. CloseSession replaces the entry with one ending at end.
type LogStore interface {
	Append(ctx context.Context, e entities.WateringLogEntry) (entities.WateringLogEntry, error)
	ListByField(ctx context.Context, fieldID string) ([]entities.WateringLogEntry, error)
	CloseSession(ctx context.Context, id string, end time.Time) (entities.WateringLogEntry, error)
}

// NotificationSink delivers events. Failures are reported but never block scheduling.
type NotificationSink interface {
	Emit(ctx context.Context, ev messages.Event) error
}
