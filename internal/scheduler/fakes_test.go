package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/entities"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/messages"
)

var errStoreDown = errors.New("store down")

type fakeFields struct {
	mu         sync.Mutex
	fields     map[string]entities.Field
	failUpdate map[string]bool
}

func newFakeFields(fields ...entities.Field) *fakeFields {
	ff := &fakeFields{fields: map[string]entities.Field{}, failUpdate: map[string]bool{}}
	for _, f := range fields {
		ff.fields[f.ID] = f
	}
	return ff
}

func (s *fakeFields) ListFields(context.Context) ([]entities.Field, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]entities.Field, 0, len(s.fields))
	for _, f := range s.fields {
		out = append(out, f.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeFields) GetField(_ context.Context, id string) (entities.Field, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fields[id]
	if !ok {
		return entities.Field{}, NotFound(id)
	}
	return f.Clone(), nil
}

func (s *fakeFields) UpdateValveMode(_ context.Context, id string, mode entities.ValveMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fields[id]
	if !ok {
		return NotFound(id)
	}
	if s.failUpdate[id] {
		return errStoreDown
	}
	f.ValveMode = mode
	s.fields[id] = f
	return nil
}

func (s *fakeFields) UpdateSchedule(_ context.Context, id string, sc *entities.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fields[id]
	if !ok {
		return NotFound(id)
	}
	if sc == nil {
		f.Schedule = nil
	} else {
		c := *sc
		f.Schedule = &c
	}
	s.fields[id] = f
	return nil
}

func (s *fakeFields) MarkWatered(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fields[id]
	if !ok {
		return NotFound(id)
	}
	f.LastWatered = at
	s.fields[id] = f
	return nil
}

func (s *fakeFields) mode(id string) entities.ValveMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fields[id].ValveMode
}

func (s *fakeFields) put(f entities.Field) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields[f.ID] = f
}

type fakeLogs struct {
	mu         sync.Mutex
	entries    []entities.WateringLogEntry
	failAppend map[string]bool
	failClose  bool
}

func newFakeLogs() *fakeLogs { return &fakeLogs{failAppend: map[string]bool{}} }

func (l *fakeLogs) Append(_ context.Context, e entities.WateringLogEntry) (entities.WateringLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failAppend[e.FieldID] {
		return entities.WateringLogEntry{}, errStoreDown
	}
	l.entries = append(l.entries, e)
	return e, nil
}

func (l *fakeLogs) ListByField(_ context.Context, fieldID string) ([]entities.WateringLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []entities.WateringLogEntry
	for _, e := range l.entries {
		if e.FieldID == fieldID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *fakeLogs) CloseSession(_ context.Context, id string, end time.Time) (entities.WateringLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failClose {
		return entities.WateringLogEntry{}, errStoreDown
	}
	for i, e := range l.entries {
		if e.ID == id {
			closed, err := e.ClosedAt(end)
			if err != nil {
				return entities.WateringLogEntry{}, err
			}
			l.entries[i] = closed
			return closed, nil
		}
	}
	return entities.WateringLogEntry{}, fmt.Errorf("log %s not found", id)
}

func (l *fakeLogs) forField(id string) []entities.WateringLogEntry {
	out, _ := l.ListByField(context.Background(), id)
	return out
}

type fakeSink struct {
	mu     sync.Mutex
	events []messages.Event
	err    error
	panics bool
}

func (s *fakeSink) Emit(_ context.Context, ev messages.Event) error {
	if s.panics {
		panic("sink exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *fakeSink) ofType(t messages.EventType) []messages.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []messages.Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func countType(events []messages.Event, t messages.EventType, fieldID string) int {
	n := 0
	for _, ev := range events {
		if (t == "" || ev.Type == t) && (fieldID == "" || ev.FieldID == fieldID) {
			n++
		}
	}
	return n
}
