package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/entities"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/observability/metrics"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/scheduler"
)

// BackendConfig points at the farm management REST backend.
type BackendConfig struct {
	BaseURL string
	Timeout time.Duration
	Retries int
	Breaker BreakerConfig
}

// Backend adapts the REST backend to the engine's field and log stores.
// The backend has no notion of schedules, so they are held in process.
type Backend struct {
	fields *Upstream
	logs   *Upstream

	mu        sync.RWMutex
	schedules map[string]entities.Schedule
	watered   map[string]time.Time
}

func NewBackend(cfg BackendConfig, m *metrics.TransportMetrics) *Backend {
	return &Backend{
		fields:    NewUpstream("backend-fields", cfg.BaseURL, cfg.Timeout, cfg.Retries, mkBreaker("backend-fields", cfg.Breaker, m)),
		logs:      NewUpstream("backend-logs", cfg.BaseURL, cfg.Timeout, cfg.Retries, mkBreaker("backend-logs", cfg.Breaker, m)),
		schedules: make(map[string]entities.Schedule),
		watered:   make(map[string]time.Time),
	}
}

func fieldPath(id string) string { return "/api/fields/" + url.PathEscape(id) }

// notFound maps a backend 404 onto the engine's FieldNotFound.
func notFound(id string, err error) error {
	var se *StatusError
	if asStatus(err, &se) && se.Code == http.StatusNotFound {
		return scheduler.NotFound(id)
	}
	return err
}

func (b *Backend) overlay(f entities.Field) entities.Field {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if s, ok := b.schedules[f.ID]; ok {
		c := s
		f.Schedule = &c
	}
	if t := b.watered[f.ID]; t.After(f.LastWatered) {
		f.LastWatered = t
	}
	return f
}

func (b *Backend) ListFields(ctx context.Context) ([]entities.Field, error) {
	var raw []backendField
	if err := b.fields.GetJSON(ctx, "/api/fields", &raw); err != nil {
		return nil, err
	}
	out := make([]entities.Field, 0, len(raw))
	for _, r := range raw {
		if r.ID == "" {
			continue
		}
		out = append(out, b.overlay(r.entity()))
	}
	return out, nil
}

func (b *Backend) GetField(ctx context.Context, id string) (entities.Field, error) {
	var raw backendField
	if err := b.fields.GetJSON(ctx, fieldPath(id), &raw); err != nil {
		return entities.Field{}, notFound(id, err)
	}
	if raw.ID == "" {
		raw.ID = id
	}
	return b.overlay(raw.entity()), nil
}

func (b *Backend) UpdateValveMode(ctx context.Context, id string, mode entities.ValveMode) error {
	body := map[string]string{"valve_state": mode.BackendLabel()}
	return notFound(id, b.fields.Do(ctx, http.MethodPut, fieldPath(id), body, nil))
}

func (b *Backend) UpdateSchedule(ctx context.Context, id string, s *entities.Schedule) error {
	if _, err := b.GetField(ctx, id); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if s == nil {
		delete(b.schedules, id)
	} else {
		b.schedules[id] = *s
	}
	return nil
}

func (b *Backend) MarkWatered(_ context.Context, id string, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if at.After(b.watered[id]) {
		b.watered[id] = at
	}
	return nil
}

func (b *Backend) Append(ctx context.Context, e entities.WateringLogEntry) (entities.WateringLogEntry, error) {
	req := createLogRequest{
		FieldID:   backendID(e.FieldID),
		StartTime: e.Start.UTC().Format(time.RFC3339),
		EndTime:   e.End.UTC().Format(time.RFC3339),
		Method:    methodToBackend(e.Method),
	}
	var created backendLog
	if err := b.logs.Do(ctx, http.MethodPost, "/api/watering-logs", req, &created); err != nil {
		return entities.WateringLogEntry{}, err
	}
	if created.ID != "" {
		e.ID = created.ID
	}
	if e.ID == "" {
		return entities.WateringLogEntry{}, errors.New("backend did not return a watering log id")
	}
	return e, nil
}

func (b *Backend) ListByField(ctx context.Context, fieldID string) ([]entities.WateringLogEntry, error) {
	var raw []backendLog
	if err := b.logs.GetJSON(ctx, "/api/watering-logs?field_id="+url.QueryEscape(fieldID), &raw); err != nil {
		return nil, err
	}
	out := make([]entities.WateringLogEntry, 0, len(raw))
	for _, r := range raw {
		if r.FieldID == "" {
			r.FieldID = fieldID
		}
		out = append(out, r.entity())
	}
	return out, nil
}

func (b *Backend) CloseSession(ctx context.Context, id string, end time.Time) (entities.WateringLogEntry, error) {
	path := "/api/watering-logs/" + url.PathEscape(id)
	var raw backendLog
	if err := b.logs.GetJSON(ctx, path, &raw); err != nil {
		return entities.WateringLogEntry{}, fmt.Errorf("load watering log %s: %w", id, err)
	}
	current := raw.entity()
	current.ID = id
	closed, err := current.ClosedAt(end)
	if err != nil || closed.End.Equal(current.End) {
		return closed, err
	}
	body := map[string]string{"end_time": closed.End.UTC().Format(time.RFC3339)}
	if err := b.logs.Do(ctx, http.MethodPut, path, body, nil); err != nil {
		return entities.WateringLogEntry{}, err
	}
	return closed, nil
}

// Ping reports whether the backend answers the field listing.
func (b *Backend) Ping(ctx context.Context) error {
	return b.fields.Ping(ctx, "/api/fields")
}
