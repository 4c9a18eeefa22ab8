package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/logging"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/entities"
)

// WeatherSource provides the daily summary for the farm location.
type WeatherSource interface {
	GetDaily(ctx context.Context, day time.Time) (Daily, error)
}

// FieldTelemetry is the store surface the refresher writes into.
type FieldTelemetry interface {
	ListFields(ctx context.Context) ([]entities.Field, error)
	UpdateTelemetry(ctx context.Context, fieldID string, t entities.Telemetry) error
}

// Refresher copies the farm's air temperature into every field's telemetry.
type Refresher struct {
	source WeatherSource
	fields FieldTelemetry
	now    func() time.Time
	log    *slog.Logger
}

func NewRefresher(source WeatherSource, fields FieldTelemetry, now func() time.Time, log *slog.Logger) *Refresher {
	if now == nil {
		now = time.Now
	}
	return &Refresher{source: source, fields: fields, now: now, log: logging.OrDiscard(log)}
}

// Refresh has the shape expected by scheduler.Runner.WithRefresh.
func (r *Refresher) Refresh(ctx context.Context) error {
	now := r.now()
	d, err := r.source.GetDaily(ctx, now)
	if err != nil {
		return fmt.Errorf("weather refresh: %w", err)
	}
	fields, err := r.fields.ListFields(ctx)
	if err != nil {
		return fmt.Errorf("weather refresh: list fields: %w", err)
	}
	var errs []error
	for _, f := range fields {
		t := f.Telemetry.Clone()
		t.Temperature = entities.Float(d.TMean())
		t.UpdatedAt = now
		if err := r.fields.UpdateTelemetry(ctx, f.ID, t); err != nil {
			errs = append(errs, fmt.Errorf("field %s: %w", f.ID, err))
		}
	}
	r.log.Debug("telemetry: weather refreshed", "fields", len(fields), "tmean", d.TMean(), "et0", d.ET0, "rain", d.Rain)
	return errors.Join(errs...)
}
