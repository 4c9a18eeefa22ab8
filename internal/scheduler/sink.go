package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/messages"
)

// deliver hands ev to sink, converting panics and errors into a logged ErrSinkDelivery.
// The returned error is informational only.
func deliver(ctx context.Context, sink NotificationSink, ev messages.Event, log *slog.Logger) (err error) {
	if sink == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrSinkDelivery, r)
		}
		if err != nil {
			log.Warn("sink: delivery failed", "type", ev.Type, "field_id", ev.FieldID, "err", err)
		}
	}()
	if e := sink.Emit(ctx, ev); e != nil {
		return fmt.Errorf("%w: %w", ErrSinkDelivery, e)
	}
	return nil
}

// LogSink writes events to a structured logger.
type LogSink struct {
	Log *slog.Logger
}

func (s LogSink) Emit(_ context.Context, ev messages.Event) error {
	level := slog.LevelInfo
	switch ev.Severity {
	case messages.SeverityWarning:
		level = slog.LevelWarn
	case messages.SeverityCritical:
		level = slog.LevelError
	}
	s.Log.Log(context.Background(), level, "event: "+ev.Message,
		"type", ev.Type, "field_id", ev.FieldID, "mode", ev.Mode, "scope", ev.Scope)
	return nil
}
