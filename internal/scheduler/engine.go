package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/clock"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/logging"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/entities"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/messages"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/observability/metrics"
)

// Options configures an Engine. Fields and Logs are required.
type Options struct {
	Fields  FieldStore
	Logs    LogStore
	Sink    NotificationSink
	Clock   clock.Clock
	Policy  Policy
	Global  *entities.Schedule
	Logger  *slog.Logger
	Metrics *metrics.SchedulerMetrics
}

// fieldState is what the engine remembers between evaluations.
type fieldState struct {
	engaged    bool
	scope      entities.ScheduleScope
	window     entities.Schedule
	session    string
	sessionEnd time.Time

	manual    string
	manualEnd time.Time

	moisture   messages.Severity
	healthPoor bool
	hot        bool
}

// Engine reconciles schedules against valve state. All public operations are
// serialised by a single mutex so overlapping ticks cannot double-fire a transition.
type Engine struct {
	mu sync.Mutex

	fields  FieldStore
	rec     *Recorder
	sink    NotificationSink
	clock   clock.Clock
	valves  ValveController
	policy  Policy
	global  *entities.Schedule
	states  map[string]*fieldState
	log     *slog.Logger
	metrics *metrics.SchedulerMetrics
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Fields == nil || opts.Logs == nil {
		return nil, errors.New("scheduler: field and log stores are required")
	}
	p := opts.Policy.withDefaults()
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	var global *entities.Schedule
	if opts.Global != nil {
		if err := opts.Global.Validate(); err != nil {
			return nil, fmt.Errorf("scheduler: global schedule: %w", err)
		}
		g := *opts.Global
		global = &g
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.NewSystem(nil)
	}
	log := logging.OrDiscard(opts.Logger)
	return &Engine{
		fields:  opts.Fields,
		rec:     NewRecorder(opts.Logs, opts.Fields, log),
		sink:    opts.Sink,
		clock:   clk,
		valves:  NewValveController(p),
		policy:  p,
		global:  global,
		states:  make(map[string]*fieldState),
		log:     log,
		metrics: opts.Metrics,
	}, nil
}

// EvaluateTick runs one evaluation cycle over every field. Per-field failures are
// joined into the returned error; the remaining fields are still processed.
func (e *Engine) EvaluateTick(ctx context.Context) ([]messages.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	started := time.Now()
	defer func() { e.metrics.ObserveTick(time.Since(started)) }()

	fields, err := e.fields.ListFields(ctx)
	if err != nil {
		e.metrics.RecordPersistenceFailure("list_fields")
		return nil, fmt.Errorf("%w: list fields: %w", ErrPersistence, err)
	}
	now := e.clock.Now()
	events, errs := e.reconcileAll(ctx, fields, now, true)
	e.prune(fields)
	if len(errs) > 0 {
		e.log.Warn("engine: tick finished with errors", "fields", len(fields), "failed", len(errs))
	}
	return events, errors.Join(errs...)
}

// RequestManualValve applies a user-requested valve mode. It fails with a
// *ConflictError (ErrScheduleConflict) while the governing schedule is active.
func (e *Engine) RequestManualValve(ctx context.Context, fieldID string, mode entities.ValveMode) (entities.Field, error) {
	if !mode.Valid() {
		return entities.Field{}, &FieldError{FieldID: fieldID, Op: "manual", Err: fmt.Errorf("unknown valve mode %q", mode)}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := e.fields.GetField(ctx, fieldID)
	if err != nil {
		return entities.Field{}, persistErr(fieldID, "get field", err)
	}
	now := e.clock.Now()

	// Settle a window that opened or closed since the last tick before judging the request.
	if _, err := e.reconcile(ctx, &f, now); err != nil {
		e.log.Warn("engine: reconcile before manual request failed", "field_id", fieldID, "err", err)
	}

	st := e.state(f.ID)
	gov, scope, ok := Governing(f, e.global)
	active := ok && gov.Validate() == nil && IsActive(&gov, now)

	t, err := e.valves.RequestManual(f, gov, scope, active, mode)
	if err != nil {
		e.metrics.RecordRejected()
		e.log.Info("engine: manual request rejected", "field_id", f.ID, "mode", mode, "scope", scope, "window", gov.String())
		e.emit(ctx, []messages.Event{{
			Type:      messages.ManualControlRejected,
			FieldID:   f.ID,
			Timestamp: now,
			Severity:  messages.SeverityWarning,
			Message:   err.Error(),
			Mode:      mode,
			PrevMode:  f.ValveMode,
			Scope:     scope,
			Window:    gov.String(),
		}})
		return f, err
	}
	if !t.Changed() {
		return f, nil
	}

	if err := e.fields.UpdateValveMode(ctx, f.ID, t.To); err != nil {
		e.metrics.RecordPersistenceFailure("update_valve")
		return f, persistErr(f.ID, "manual", err)
	}
	var entry entities.WateringLogEntry
	if t.Method != "" {
		entry, err = e.rec.Record(ctx, f.ID, now, now.Add(e.policy.DefaultDuration), t.Method)
		if err != nil {
			e.metrics.RecordPersistenceFailure("append_log")
			e.rollback(ctx, f.ID, t)
			return f, err
		}
	}
	e.closeManual(ctx, f.ID, st, now)
	if t.Method != "" {
		st.manual, st.manualEnd = entry.ID, entry.End
		f.LastWatered = entry.Start
	}
	f.ValveMode = t.To

	e.metrics.RecordTransition(string(t.To), "manual")
	e.log.Info("engine: manual valve change", "field_id", f.ID, "from", t.From, "to", t.To)
	e.emit(ctx, []messages.Event{valveEvent(f.ID, t, "manual", now)})
	return f, nil
}

// SetSchedule installs a schedule for fieldID, or the global schedule when
// fieldID is empty, then re-evaluates the affected fields.
func (e *Engine) SetSchedule(ctx context.Context, fieldID string, s entities.Schedule) ([]messages.Event, error) {
	if err := s.Validate(); err != nil {
		return nil, &FieldError{FieldID: scopeLabel(fieldID), Op: "set schedule", Err: err}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if fieldID == "" {
		g := s
		e.global = &g
		e.log.Info("engine: global schedule set", "window", s.String(), "enabled", s.Enabled)
		return e.reevaluateAll(ctx)
	}
	if _, err := e.fields.GetField(ctx, fieldID); err != nil {
		return nil, persistErr(fieldID, "get field", err)
	}
	sc := s
	if err := e.fields.UpdateSchedule(ctx, fieldID, &sc); err != nil {
		e.metrics.RecordPersistenceFailure("update_schedule")
		return nil, persistErr(fieldID, "set schedule", err)
	}
	e.log.Info("engine: field schedule set", "field_id", fieldID, "window", s.String(), "enabled", s.Enabled)
	return e.reevaluate(ctx, fieldID)
}

// CancelSchedule disables the field's schedule (or the global one for an empty
// id), keeping its times, and re-evaluates synchronously so an engaged valve is
// reverted and its in-flight log entry is closed at the current time.
func (e *Engine) CancelSchedule(ctx context.Context, fieldID string) ([]messages.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if fieldID == "" {
		if e.global != nil {
			g := *e.global
			g.Enabled = false
			e.global = &g
		}
		e.log.Info("engine: global schedule cancelled")
		return e.reevaluateAll(ctx)
	}
	f, err := e.fields.GetField(ctx, fieldID)
	if err != nil {
		return nil, persistErr(fieldID, "get field", err)
	}
	if f.Schedule != nil && f.Schedule.Enabled {
		s := *f.Schedule
		s.Enabled = false
		if err := e.fields.UpdateSchedule(ctx, fieldID, &s); err != nil {
			e.metrics.RecordPersistenceFailure("update_schedule")
			return nil, persistErr(fieldID, "cancel schedule", err)
		}
	}
	e.log.Info("engine: field schedule cancelled", "field_id", fieldID)
	return e.reevaluate(ctx, fieldID)
}

// GlobalSchedule returns a copy of the farm-wide schedule, or nil when none was set.
func (e *Engine) GlobalSchedule() *entities.Schedule {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.global == nil {
		return nil
	}
	g := *e.global
	return &g
}

// EngagedScope reports whether the engine currently holds fieldID engaged, and by which schedule.
func (e *Engine) EngagedScope(fieldID string) (entities.ScheduleScope, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[fieldID]
	if !ok || !st.engaged {
		return "", false
	}
	return st.scope, true
}

func (e *Engine) reevaluateAll(ctx context.Context) ([]messages.Event, error) {
	fields, err := e.fields.ListFields(ctx)
	if err != nil {
		e.metrics.RecordPersistenceFailure("list_fields")
		return nil, fmt.Errorf("%w: list fields: %w", ErrPersistence, err)
	}
	events, errs := e.reconcileAll(ctx, fields, e.clock.Now(), false)
	return events, errors.Join(errs...)
}

func (e *Engine) reevaluate(ctx context.Context, fieldID string) ([]messages.Event, error) {
	f, err := e.fields.GetField(ctx, fieldID)
	if err != nil {
		return nil, persistErr(fieldID, "get field", err)
	}
	events, err := e.reconcile(ctx, &f, e.clock.Now())
	e.metrics.SetEngaged(e.engagedCount())
	return events, err
}

func (e *Engine) reconcileAll(ctx context.Context, fields []entities.Field, now time.Time, alerts bool) ([]messages.Event, []error) {
	var (
		events []messages.Event
		errs   []error
	)
	for i := range fields {
		f := fields[i]
		evs, err := e.reconcile(ctx, &f, now)
		events = append(events, evs...)
		if err != nil {
			errs = append(errs, err)
		}
		if alerts {
			events = append(events, e.checkAlerts(ctx, f, now)...)
		}
	}
	e.metrics.SetEngaged(e.engagedCount())
	return events, errs
}

// reconcile brings one field in line with its governing schedule. Transitions are
// edge-triggered against the remembered state, so repeated calls inside the same
// window are no-ops. f is updated to reflect any accepted change.
func (e *Engine) reconcile(ctx context.Context, f *entities.Field, now time.Time) ([]messages.Event, error) {
	st := e.state(f.ID)
	gov, scope, ok := Governing(*f, e.global)
	if ok {
		if err := gov.Validate(); err != nil {
			e.metrics.RecordInvalidSchedule()
			e.log.Error("engine: skipping field with invalid schedule", "field_id", f.ID, "scope", scope, "err", err)
			return nil, &FieldError{FieldID: f.ID, Op: "evaluate", Err: err}
		}
	}
	active := ok && IsActive(&gov, now)
	changed := st.engaged && (st.scope != scope || st.window != gov)

	switch {
	case active && st.engaged && changed:
		events, err := e.disengage(ctx, f, st, now, "superseded")
		if err != nil {
			return events, err
		}
		more, err := e.engage(ctx, f, st, gov, scope, now)
		return append(events, more...), err
	case active && !st.engaged:
		return e.engage(ctx, f, st, gov, scope, now)
	case !active && st.engaged:
		reason := "window closed"
		switch {
		case !ok:
			reason = "schedule cancelled"
		case changed:
			reason = "superseded"
		}
		return e.disengage(ctx, f, st, now, reason)
	}
	return nil, nil
}

func (e *Engine) engage(ctx context.Context, f *entities.Field, st *fieldState, gov entities.Schedule, scope entities.ScheduleScope, now time.Time) ([]messages.Event, error) {
	t := e.valves.ApplySchedule(*f, Engage)
	if t.Changed() {
		if err := e.fields.UpdateValveMode(ctx, f.ID, t.To); err != nil {
			e.metrics.RecordPersistenceFailure("update_valve")
			return nil, persistErr(f.ID, "engage", err)
		}
	}
	start, end := gov.Occurrence(now)
	entry, found := e.existingSession(ctx, f.ID, start, end)
	if !found {
		var err error
		entry, err = e.rec.Record(ctx, f.ID, start, end, t.Method)
		if err != nil {
			e.metrics.RecordPersistenceFailure("append_log")
			e.rollback(ctx, f.ID, t)
			return nil, err
		}
	}
	e.closeManual(ctx, f.ID, st, now)

	st.engaged = true
	st.scope = scope
	st.window = gov
	st.session = entry.ID
	st.sessionEnd = entry.End
	f.ValveMode = t.To
	f.LastWatered = entry.Start

	e.log.Info("engine: schedule engaged", "field_id", f.ID, "scope", scope, "window", gov.String(), "mode", t.To)
	events := []messages.Event{{
		Type:      messages.ScheduleEngaged,
		FieldID:   f.ID,
		Timestamp: now,
		Severity:  messages.SeverityInfo,
		Message:   fmt.Sprintf("%s schedule %s engaged for field %s", scope, gov, f.ID),
		Mode:      t.To,
		PrevMode:  t.From,
		Scope:     scope,
		Window:    gov.String(),
	}}
	if t.Changed() {
		e.metrics.RecordTransition(string(t.To), "schedule")
		events = append(events, valveEvent(f.ID, t, "schedule", now))
	}
	e.emit(ctx, events)
	return events, nil
}

func (e *Engine) disengage(ctx context.Context, f *entities.Field, st *fieldState, now time.Time, reason string) ([]messages.Event, error) {
	t := e.valves.ApplySchedule(*f, Disengage)
	if t.Changed() {
		if err := e.fields.UpdateValveMode(ctx, f.ID, t.To); err != nil {
			e.metrics.RecordPersistenceFailure("update_valve")
			return nil, persistErr(f.ID, "disengage", err)
		}
	}
	if st.session != "" && now.Before(st.sessionEnd) {
		if err := e.rec.Close(ctx, f.ID, st.session, now); err != nil {
			e.metrics.RecordPersistenceFailure("close_log")
			e.rollback(ctx, f.ID, t)
			return nil, err
		}
	}
	if t.Method != "" {
		entry, err := e.rec.Record(ctx, f.ID, now, now.Add(e.policy.DefaultDuration), t.Method)
		if err != nil {
			e.metrics.RecordPersistenceFailure("append_log")
			e.rollback(ctx, f.ID, t)
			// the scheduled session is already closed; the retry only opens the auto one
			st.session, st.sessionEnd = "", time.Time{}
			return nil, err
		}
		st.manual, st.manualEnd = entry.ID, entry.End
		f.LastWatered = entry.Start
	}
	scope, window := st.scope, st.window
	st.engaged = false
	st.scope = ""
	st.window = entities.Schedule{}
	st.session = ""
	st.sessionEnd = time.Time{}
	f.ValveMode = t.To

	e.log.Info("engine: schedule disengaged", "field_id", f.ID, "scope", scope, "window", window.String(), "reason", reason)
	events := []messages.Event{{
		Type:      messages.ScheduleDisengaged,
		FieldID:   f.ID,
		Timestamp: now,
		Severity:  messages.SeverityInfo,
		Message:   fmt.Sprintf("%s schedule %s disengaged for field %s: %s", scope, window, f.ID, reason),
		Mode:      t.To,
		PrevMode:  t.From,
		Scope:     scope,
		Window:    window.String(),
		Reason:    reason,
	}}
	if t.Changed() {
		e.metrics.RecordTransition(string(t.To), "schedule")
		events = append(events, valveEvent(f.ID, t, "schedule", now))
	}
	e.emit(ctx, events)
	return events, nil
}

// existingSession finds a scheduled entry already written for this occurrence,
// as happens when the process restarts inside a window.
func (e *Engine) existingSession(ctx context.Context, fieldID string, start, end time.Time) (entities.WateringLogEntry, bool) {
	entry, ok, err := e.rec.Find(ctx, fieldID, start, end, entities.MethodScheduled)
	if err != nil {
		e.log.Warn("engine: looking up scheduled session failed", "field_id", fieldID, "err", err)
		return entities.WateringLogEntry{}, false
	}
	if ok {
		e.log.Info("engine: resuming scheduled session", "field_id", fieldID, "log_id", entry.ID)
	}
	return entry, ok
}

// rollback restores the valve after a later step of a transition failed.
func (e *Engine) rollback(ctx context.Context, fieldID string, t Transition) {
	if !t.Changed() {
		return
	}
	if err := e.fields.UpdateValveMode(ctx, fieldID, t.From); err != nil {
		e.metrics.RecordPersistenceFailure("rollback")
		e.log.Error("engine: valve rollback failed", "field_id", fieldID, "mode", t.From, "err", err)
	}
}

// closeManual ends an open manual or auto session early. Failures are logged only.
func (e *Engine) closeManual(ctx context.Context, fieldID string, st *fieldState, now time.Time) {
	if st.manual == "" {
		return
	}
	if now.Before(st.manualEnd) {
		if err := e.rec.Close(ctx, fieldID, st.manual, now); err != nil {
			e.metrics.RecordPersistenceFailure("close_log")
			e.log.Warn("engine: closing manual session failed", "field_id", fieldID, "log_id", st.manual, "err", err)
		}
	}
	st.manual = ""
	st.manualEnd = time.Time{}
}

func (e *Engine) emit(ctx context.Context, events []messages.Event) {
	for _, ev := range events {
		e.metrics.RecordEvent(string(ev.Type))
		if err := deliver(ctx, e.sink, ev, e.log); err != nil {
			e.metrics.RecordSinkFailure()
		}
	}
}

func (e *Engine) state(fieldID string) *fieldState {
	st, ok := e.states[fieldID]
	if !ok {
		st = &fieldState{}
		e.states[fieldID] = st
	}
	return st
}

// prune forgets fields that no longer exist.
func (e *Engine) prune(fields []entities.Field) {
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		seen[f.ID] = struct{}{}
	}
	for id := range e.states {
		if _, ok := seen[id]; !ok {
			delete(e.states, id)
		}
	}
}

func (e *Engine) engagedCount() int {
	n := 0
	for _, st := range e.states {
		if st.engaged {
			n++
		}
	}
	return n
}

func valveEvent(fieldID string, t Transition, cause string, now time.Time) messages.Event {
	return messages.Event{
		Type:      messages.ValveChanged,
		FieldID:   fieldID,
		Timestamp: now,
		Severity:  messages.SeverityInfo,
		Message:   fmt.Sprintf("field %s valve %s -> %s (%s)", fieldID, t.From, t.To, cause),
		Mode:      t.To,
		PrevMode:  t.From,
		Reason:    cause,
	}
}

func scopeLabel(fieldID string) string {
	if fieldID == "" {
		return string(entities.ScopeGlobal)
	}
	return fieldID
}
