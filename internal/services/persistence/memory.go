package persistence

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/entities"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/scheduler"
)

// Seed is the on-disk layout of the field seed file (YAML or JSON).
type Seed struct {
	Fields []entities.Field `yaml:"fields"`
}

// LoadSeed reads the field list used to populate the in-memory store.
func LoadSeed(path string) ([]entities.Field, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed %s: %w", path, err)
	}
	var s Seed
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	seen := make(map[string]struct{}, len(s.Fields))
	for i, f := range s.Fields {
		if f.ID == "" {
			return nil, fmt.Errorf("seed %s: field #%d has no id", path, i)
		}
		if _, dup := seen[f.ID]; dup {
			return nil, fmt.Errorf("seed %s: duplicate field id %s", path, f.ID)
		}
		seen[f.ID] = struct{}{}
		if f.ValveMode == "" {
			s.Fields[i].ValveMode = entities.ValveOff
		} else if !f.ValveMode.Valid() {
			return nil, fmt.Errorf("seed %s: field %s: unknown valve mode %q", path, f.ID, f.ValveMode)
		}
		if f.Schedule != nil {
			if err := f.Schedule.Validate(); err != nil {
				return nil, fmt.Errorf("seed %s: field %s: %w", path, f.ID, err)
			}
		}
	}
	return s.Fields, nil
}

// MemoryFieldStore keeps fields in process. Safe for concurrent use.
type MemoryFieldStore struct {
	mu     sync.RWMutex
	fields map[string]entities.Field
}

func NewMemoryFieldStore(fields ...entities.Field) *MemoryFieldStore {
	s := &MemoryFieldStore{fields: make(map[string]entities.Field, len(fields))}
	for _, f := range fields {
		s.fields[f.ID] = f.Clone()
	}
	return s
}

func (s *MemoryFieldStore) ListFields(context.Context) ([]entities.Field, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]entities.Field, 0, len(s.fields))
	for _, f := range s.fields {
		out = append(out, f.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryFieldStore) GetField(_ context.Context, id string) (entities.Field, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.fields[id]
	if !ok {
		return entities.Field{}, scheduler.NotFound(id)
	}
	return f.Clone(), nil
}

func (s *MemoryFieldStore) UpdateValveMode(_ context.Context, id string, mode entities.ValveMode) error {
	return s.update(id, func(f *entities.Field) { f.ValveMode = mode })
}

func (s *MemoryFieldStore) UpdateSchedule(_ context.Context, id string, sc *entities.Schedule) error {
	return s.update(id, func(f *entities.Field) {
		if sc == nil {
			f.Schedule = nil
			return
		}
		c := *sc
		f.Schedule = &c
	})
}

func (s *MemoryFieldStore) MarkWatered(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(f *entities.Field) {
		if at.After(f.LastWatered) {
			f.LastWatered = at
		}
	})
}

// UpdateTelemetry replaces the sensor view of a field.
func (s *MemoryFieldStore) UpdateTelemetry(_ context.Context, id string, t entities.Telemetry) error {
	return s.update(id, func(f *entities.Field) { f.Telemetry = t.Clone() })
}

func (s *MemoryFieldStore) update(id string, fn func(*entities.Field)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fields[id]
	if !ok {
		return scheduler.NotFound(id)
	}
	fn(&f)
	s.fields[id] = f
	return nil
}

// MemoryLogStore keeps watering log entries in process.
type MemoryLogStore struct {
	mu      sync.RWMutex
	entries []entities.WateringLogEntry
	index   map[string]int
}

func NewMemoryLogStore() *MemoryLogStore {
	return &MemoryLogStore{index: make(map[string]int)}
}

func (s *MemoryLogStore) Append(_ context.Context, e entities.WateringLogEntry) (entities.WateringLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if _, dup := s.index[e.ID]; dup {
		return entities.WateringLogEntry{}, fmt.Errorf("watering log %s already exists", e.ID)
	}
	s.index[e.ID] = len(s.entries)
	s.entries = append(s.entries, e)
	return e, nil
}

func (s *MemoryLogStore) ListByField(_ context.Context, fieldID string) ([]entities.WateringLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []entities.WateringLogEntry
	for _, e := range s.entries {
		if e.FieldID == fieldID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (s *MemoryLogStore) CloseSession(_ context.Context, id string, end time.Time) (entities.WateringLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return entities.WateringLogEntry{}, fmt.Errorf("watering log %s not found", id)
	}
	closed, err := s.entries[i].ClosedAt(end)
	if err != nil {
		return entities.WateringLogEntry{}, err
	}
	s.entries[i] = closed
	return closed, nil
}
