package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/entities"
)

// Recorder validates and appends watering log entries and keeps the field's
// last-watered timestamp in step with them.
type Recorder struct {
	logs   LogStore
	fields FieldStore
	log    *slog.Logger
}

func NewRecorder(logs LogStore, fields FieldStore, log *slog.Logger) *Recorder {
	return &Recorder{logs: logs, fields: fields, log: log}
}

// Record appends an entry for [start, end). Invalid bounds fail with
// entities.ErrInvalidLogEntry before anything is written.
func (r *Recorder) Record(ctx context.Context, fieldID string, start, end time.Time, method entities.Method) (entities.WateringLogEntry, error) {
	e, err := entities.NewWateringLogEntry(uuid.NewString(), fieldID, start, end, method)
	if err != nil {
		return entities.WateringLogEntry{}, &FieldError{FieldID: fieldID, Op: "record", Err: err}
	}
	stored, err := r.logs.Append(ctx, e)
	if err != nil {
		return entities.WateringLogEntry{}, persistErr(fieldID, "append log", err)
	}
	if r.fields != nil {
		if err := r.fields.MarkWatered(ctx, fieldID, start); err != nil {
			r.log.Warn("recorder: mark watered failed", "field_id", fieldID, "err", err)
		}
	}
	r.log.Debug("recorder: entry stored", "field_id", fieldID, "method", method,
		"start", stored.Start, "end", stored.End, "minutes", stored.DurationMinutes)
	return stored, nil
}

// Find returns a stored entry of fieldID with exactly these bounds and method.
func (r *Recorder) Find(ctx context.Context, fieldID string, start, end time.Time, method entities.Method) (entities.WateringLogEntry, bool, error) {
	entries, err := r.logs.ListByField(ctx, fieldID)
	if err != nil {
		return entities.WateringLogEntry{}, false, persistErr(fieldID, "list logs", err)
	}
	for _, e := range entries {
		if e.Method == method && e.Start.Equal(start) && e.End.Equal(end) {
			return e, true, nil
		}
	}
	return entities.WateringLogEntry{}, false, nil
}

// Close ends an in-flight session at t. Sessions already over are left alone.
func (r *Recorder) Close(ctx context.Context, fieldID, id string, t time.Time) error {
	if id == "" {
		return nil
	}
	if _, err := r.logs.CloseSession(ctx, id, t); err != nil {
		return persistErr(fieldID, fmt.Sprintf("close log %s", id), err)
	}
	return nil
}
