package aggregator

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/entities"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/scheduler"
)

// TelemetryCache keeps the latest aggregate per field for a limited time,
// so stale probes stop feeding alerts.
type TelemetryCache struct {
	c *cache.Cache
}

func NewTelemetryCache(ttl time.Duration) *TelemetryCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &TelemetryCache{c: cache.New(ttl, 2*ttl)}
}

func (t *TelemetryCache) UpdateTelemetry(_ context.Context, fieldID string, tel entities.Telemetry) error {
	t.c.SetDefault(fieldID, tel.Clone())
	return nil
}

func (t *TelemetryCache) Get(fieldID string) (entities.Telemetry, bool) {
	v, ok := t.c.Get(fieldID)
	if !ok {
		return entities.Telemetry{}, false
	}
	return v.(entities.Telemetry).Clone(), true
}

// overlay merges cached readings over what the store reports.
func (t *TelemetryCache) overlay(f entities.Field) entities.Field {
	tel, ok := t.Get(f.ID)
	if !ok {
		return f
	}
	if tel.SoilMoisture != nil {
		f.Telemetry.SoilMoisture = tel.SoilMoisture
	}
	if tel.Temperature != nil {
		f.Telemetry.Temperature = tel.Temperature
	}
	if tel.UpdatedAt.After(f.Telemetry.UpdatedAt) {
		f.Telemetry.UpdatedAt = tel.UpdatedAt
	}
	return f
}

// OverlayStore wraps a FieldStore so reads carry the freshest cached telemetry.
type OverlayStore struct {
	scheduler.FieldStore
	cache *TelemetryCache
}

func NewOverlayStore(inner scheduler.FieldStore, c *TelemetryCache) *OverlayStore {
	return &OverlayStore{FieldStore: inner, cache: c}
}

func (s *OverlayStore) ListFields(ctx context.Context) ([]entities.Field, error) {
	fields, err := s.FieldStore.ListFields(ctx)
	if err != nil {
		return nil, err
	}
	for i := range fields {
		fields[i] = s.cache.overlay(fields[i])
	}
	return fields, nil
}

func (s *OverlayStore) GetField(ctx context.Context, id string) (entities.Field, error) {
	f, err := s.FieldStore.GetField(ctx, id)
	if err != nil {
		return f, err
	}
	return s.cache.overlay(f), nil
}
