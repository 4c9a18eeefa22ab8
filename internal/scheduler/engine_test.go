package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/clock"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/logging"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/entities"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/messages"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/observability/metrics"
)

type harness struct {
	eng    *Engine
	fields *fakeFields
	logs   *fakeLogs
	sink   *fakeSink
	clk    *clock.Manual
}

func newHarness(t *testing.T, now string, policy Policy, global *entities.Schedule, fields ...entities.Field) *harness {
	t.Helper()
	h := &harness{
		fields: newFakeFields(fields...),
		logs:   newFakeLogs(),
		sink:   &fakeSink{},
		clk:    clock.NewManual(at(now)),
	}
	eng, err := NewEngine(Options{
		Fields: h.fields,
		Logs:   h.logs,
		Sink:   h.sink,
		Clock:  h.clk,
		Policy: policy,
		Global: global,
	})
	require.NoError(t, err)
	h.eng = eng
	return h
}

func (h *harness) tick(t *testing.T) []messages.Event {
	t.Helper()
	events, err := h.eng.EvaluateTick(context.Background())
	require.NoError(t, err)
	return events
}

func (h *harness) setNow(hhmm string) { h.clk.Set(at(hhmm)) }

func field(id string) entities.Field {
	return entities.Field{ID: id, Name: "Field " + id, AreaHa: 1.5, CropType: "maize", ValveMode: entities.ValveOff}
}

func TestGlobalWindowEngagesOnceAndDisengagesWithoutNewLog(t *testing.T) {
	h := newHarness(t, "22:00", Policy{}, window("21:00", "23:00"), field("F1"))

	events := h.tick(t)
	assert.Equal(t, 1, countType(events, messages.ScheduleEngaged, "F1"))
	assert.Equal(t, 1, countType(events, messages.ValveChanged, "F1"))
	assert.Equal(t, entities.ValveAuto, h.fields.mode("F1"))

	logs := h.logs.forField("F1")
	require.Len(t, logs, 1)
	assert.Equal(t, entities.MethodScheduled, logs[0].Method)
	assert.Equal(t, at("21:00"), logs[0].Start)
	assert.Equal(t, at("23:00"), logs[0].End)
	assert.Equal(t, 120, logs[0].DurationMinutes)

	f, err := h.fields.GetField(context.Background(), "F1")
	require.NoError(t, err)
	assert.Equal(t, at("21:00"), f.LastWatered)

	h.setNow("22:30")
	assert.Empty(t, h.tick(t), "second tick in the same window must not fire again")

	h.setNow("23:01")
	events = h.tick(t)
	assert.Equal(t, 1, countType(events, messages.ScheduleDisengaged, "F1"))
	assert.Zero(t, countType(events, messages.ValveChanged, "F1"), "auto reverts to auto")
	logs = h.logs.forField("F1")
	require.Len(t, logs, 1, "disengaging never logs")
	assert.Equal(t, 120, logs[0].DurationMinutes)

	assert.Len(t, h.sink.ofType(messages.ScheduleEngaged), 1)
	assert.Len(t, h.sink.ofType(messages.ScheduleDisengaged), 1)
}

func TestIndividualScheduleShieldsFieldFromGlobal(t *testing.T) {
	f2 := field("F2")
	f2.Schedule = window("06:00", "06:30")
	h := newHarness(t, "21:30", Policy{}, window("21:00", "23:00"), field("F1"), f2, field("F3"))

	events := h.tick(t)
	assert.Equal(t, 1, countType(events, messages.ScheduleEngaged, "F1"))
	assert.Equal(t, 1, countType(events, messages.ScheduleEngaged, "F3"))
	assert.Zero(t, countType(events, "", "F2"), "F2 is governed by its own inactive schedule")
	assert.Equal(t, entities.ValveOff, h.fields.mode("F2"))
	assert.Empty(t, h.logs.forField("F2"))

	scope, ok := h.eng.EngagedScope("F1")
	assert.True(t, ok)
	assert.Equal(t, entities.ScopeGlobal, scope)
	_, ok = h.eng.EngagedScope("F2")
	assert.False(t, ok)
}

func TestFieldWithoutScheduleIsLeftAlone(t *testing.T) {
	f := field("F1")
	f.ValveMode = entities.ValveOn
	h := newHarness(t, "12:00", Policy{}, nil, f)

	assert.Empty(t, h.tick(t))
	assert.Equal(t, entities.ValveOn, h.fields.mode("F1"))
}

func TestConcurrentTicksEngageOnce(t *testing.T) {
	h := newHarness(t, "22:00", Policy{}, window("21:00", "23:00"), field("F1"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.eng.EvaluateTick(context.Background())
		}()
	}
	wg.Wait()

	assert.Len(t, h.sink.ofType(messages.ScheduleEngaged), 1)
	assert.Len(t, h.logs.forField("F1"), 1)
}

func TestManualRequestRejectedWhileScheduleActive(t *testing.T) {
	h := newHarness(t, "22:00", Policy{}, window("21:00", "23:00"), field("F1"))
	h.tick(t)

	f, err := h.eng.RequestManualValve(context.Background(), "F1", entities.ValveOn)
	require.ErrorIs(t, err, ErrScheduleConflict)
	assert.Contains(t, err.Error(), "field F1")
	assert.Contains(t, err.Error(), "global schedule 21:00-23:00")
	assert.Equal(t, entities.ValveAuto, f.ValveMode)
	assert.Equal(t, entities.ValveAuto, h.fields.mode("F1"))
	assert.Len(t, h.logs.forField("F1"), 1)

	rejected := h.sink.ofType(messages.ManualControlRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, "F1", rejected[0].FieldID)
	assert.Equal(t, entities.ValveOn, rejected[0].Mode)
}

func TestManualRequestSettlesWindowBeforeDeciding(t *testing.T) {
	h := newHarness(t, "22:00", Policy{}, window("21:00", "23:00"), field("F1"))

	_, err := h.eng.RequestManualValve(context.Background(), "F1", entities.ValveOff)
	require.ErrorIs(t, err, ErrScheduleConflict)
	assert.Len(t, h.sink.ofType(messages.ScheduleEngaged), 1)

	h.setNow("23:05")
	f, err := h.eng.RequestManualValve(context.Background(), "F1", entities.ValveOff)
	require.NoError(t, err)
	assert.Equal(t, entities.ValveOff, f.ValveMode)
	assert.Len(t, h.sink.ofType(messages.ScheduleDisengaged), 1)
}

func TestManualTransitionsAreLogged(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "10:00", Policy{}, nil, field("F1"))

	f, err := h.eng.RequestManualValve(ctx, "F1", entities.ValveOn)
	require.NoError(t, err)
	assert.Equal(t, entities.ValveOn, f.ValveMode)
	logs := h.logs.forField("F1")
	require.Len(t, logs, 1)
	assert.Equal(t, entities.MethodManual, logs[0].Method)
	assert.Equal(t, 30, logs[0].DurationMinutes)

	_, err = h.eng.RequestManualValve(ctx, "F1", entities.ValveOn)
	require.NoError(t, err)
	assert.Len(t, h.logs.forField("F1"), 1, "same mode is a no-op")

	h.setNow("10:10")
	_, err = h.eng.RequestManualValve(ctx, "F1", entities.ValveAuto)
	require.NoError(t, err)
	logs = h.logs.forField("F1")
	require.Len(t, logs, 2)
	assert.Equal(t, 10, logs[0].DurationMinutes, "manual session closed early")
	assert.Equal(t, entities.MethodAuto, logs[1].Method)
	assert.Equal(t, 30, logs[1].DurationMinutes)

	h.setNow("10:20")
	f, err = h.eng.RequestManualValve(ctx, "F1", entities.ValveOff)
	require.NoError(t, err)
	assert.Equal(t, entities.ValveOff, f.ValveMode)
	logs = h.logs.forField("F1")
	require.Len(t, logs, 2, "turning off never logs")
	assert.Equal(t, 10, logs[1].DurationMinutes)

	assert.Len(t, h.sink.ofType(messages.ValveChanged), 3)
}

func TestManualRequestErrors(t *testing.T) {
	h := newHarness(t, "10:00", Policy{}, nil, field("F1"))

	_, err := h.eng.RequestManualValve(context.Background(), "nope", entities.ValveOn)
	require.ErrorIs(t, err, ErrFieldNotFound)

	_, err = h.eng.RequestManualValve(context.Background(), "F1", entities.ValveMode("open"))
	require.Error(t, err)
	assert.Equal(t, entities.ValveOff, h.fields.mode("F1"))
}

func TestInvalidScheduleSkipsOnlyThatField(t *testing.T) {
	bad := field("BAD")
	bad.Schedule = &entities.Schedule{Start: entities.MustTimeOfDay("08:00"), End: entities.MustTimeOfDay("08:00"), Enabled: true}
	h := newHarness(t, "22:00", Policy{}, window("21:00", "23:00"), bad, field("F1"))

	events, err := h.eng.EvaluateTick(context.Background())
	require.ErrorIs(t, err, ErrInvalidSchedule)
	assert.Contains(t, err.Error(), "BAD")
	assert.Equal(t, 1, countType(events, messages.ScheduleEngaged, "F1"))
	assert.Equal(t, entities.ValveOff, h.fields.mode("BAD"))
}

func TestLogFailureRollsBackThatFieldOnly(t *testing.T) {
	h := newHarness(t, "22:00", Policy{}, window("21:00", "23:00"), field("F1"), field("F2"))
	h.logs.failAppend["F1"] = true

	events, err := h.eng.EvaluateTick(context.Background())
	require.ErrorIs(t, err, ErrPersistence)
	assert.Zero(t, countType(events, messages.ScheduleEngaged, "F1"))
	assert.Equal(t, 1, countType(events, messages.ScheduleEngaged, "F2"))
	assert.Equal(t, entities.ValveOff, h.fields.mode("F1"), "valve rolled back")
	assert.Equal(t, entities.ValveAuto, h.fields.mode("F2"))

	h.logs.failAppend["F1"] = false
	h.setNow("22:01")
	events = h.tick(t)
	assert.Equal(t, 1, countType(events, messages.ScheduleEngaged, "F1"), "retried on the next tick")
	assert.Zero(t, countType(events, messages.ScheduleEngaged, "F2"))
}

func TestValveUpdateFailureLeavesNoLog(t *testing.T) {
	h := newHarness(t, "22:00", Policy{}, window("21:00", "23:00"), field("F1"))
	h.fields.failUpdate["F1"] = true

	_, err := h.eng.EvaluateTick(context.Background())
	require.ErrorIs(t, err, ErrPersistence)
	assert.Empty(t, h.logs.forField("F1"))
	assert.Empty(t, h.sink.ofType(messages.ScheduleEngaged))
}

func TestCancelGlobalClosesInFlightSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "22:00", Policy{}, window("21:00", "23:00"), field("F1"))
	h.tick(t)

	h.setNow("22:15")
	events, err := h.eng.CancelSchedule(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 1, countType(events, messages.ScheduleDisengaged, "F1"))
	assert.Equal(t, "schedule cancelled", events[0].Reason)

	logs := h.logs.forField("F1")
	require.Len(t, logs, 1)
	assert.Equal(t, at("22:15"), logs[0].End)
	assert.Equal(t, 75, logs[0].DurationMinutes)

	g := h.eng.GlobalSchedule()
	require.NotNil(t, g)
	assert.False(t, g.Enabled)

	h.setNow("22:30")
	assert.Empty(t, h.tick(t))
}

func TestCancelIndividualSchedule(t *testing.T) {
	ctx := context.Background()
	f2 := field("F2")
	f2.Schedule = window("06:00", "06:30")
	h := newHarness(t, "06:10", Policy{}, nil, f2)

	events := h.tick(t)
	require.Equal(t, 1, countType(events, messages.ScheduleEngaged, "F2"))
	assert.Equal(t, entities.ScopeIndividual, events[0].Scope)

	h.setNow("06:20")
	events, err := h.eng.CancelSchedule(ctx, "F2")
	require.NoError(t, err)
	assert.Equal(t, 1, countType(events, messages.ScheduleDisengaged, "F2"))

	logs := h.logs.forField("F2")
	require.Len(t, logs, 1)
	assert.Equal(t, 20, logs[0].DurationMinutes)

	stored, err := h.fields.GetField(ctx, "F2")
	require.NoError(t, err)
	require.NotNil(t, stored.Schedule)
	assert.False(t, stored.Schedule.Enabled)
	assert.Equal(t, "06:00-06:30", stored.Schedule.String())
}

func TestSetScheduleValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "10:00", Policy{}, nil, field("F1"))

	same := entities.Schedule{Start: entities.MustTimeOfDay("08:00"), End: entities.MustTimeOfDay("08:00"), Enabled: true}
	_, err := h.eng.SetSchedule(ctx, "", same)
	require.ErrorIs(t, err, ErrInvalidSchedule)
	assert.Nil(t, h.eng.GlobalSchedule())

	_, err = h.eng.SetSchedule(ctx, "F1", same)
	require.ErrorIs(t, err, ErrInvalidSchedule)

	_, err = h.eng.SetSchedule(ctx, "missing", *window("06:00", "07:00"))
	require.ErrorIs(t, err, ErrFieldNotFound)
}

func TestSetGlobalScheduleEngagesImmediately(t *testing.T) {
	h := newHarness(t, "22:00", Policy{}, nil, field("F1"))

	events, err := h.eng.SetSchedule(context.Background(), "", *window("21:00", "23:00"))
	require.NoError(t, err)
	assert.Equal(t, 1, countType(events, messages.ScheduleEngaged, "F1"))
	assert.Equal(t, entities.ValveAuto, h.fields.mode("F1"))
}

func TestIndividualScheduleSupersedesEngagedGlobal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "22:00", Policy{}, window("21:00", "23:00"), field("F1"))
	h.tick(t)

	events, err := h.eng.SetSchedule(ctx, "F1", *window("06:00", "06:30"))
	require.NoError(t, err)
	require.Equal(t, 1, countType(events, messages.ScheduleDisengaged, "F1"))
	assert.Equal(t, "superseded", events[0].Reason)

	events, err = h.eng.SetSchedule(ctx, "F1", *window("21:30", "22:30"))
	require.NoError(t, err)
	require.Equal(t, 1, countType(events, messages.ScheduleEngaged, "F1"))
	assert.Equal(t, entities.ScopeIndividual, events[0].Scope)
	assert.Len(t, h.logs.forField("F1"), 2)
}

func TestSinkFailuresAreSwallowed(t *testing.T) {
	h := newHarness(t, "22:00", Policy{}, window("21:00", "23:00"), field("F1"))
	h.sink.err = errors.New("broker unreachable")
	events := h.tick(t)
	assert.Equal(t, 1, countType(events, messages.ScheduleEngaged, "F1"))

	p := newHarness(t, "22:00", Policy{}, window("21:00", "23:00"), field("F1"))
	p.sink.panics = true
	assert.NotPanics(t, func() { p.tick(t) })
	assert.Equal(t, entities.ValveAuto, p.fields.mode("F1"))
}

func TestRevertModeOff(t *testing.T) {
	h := newHarness(t, "22:00", Policy{RevertMode: entities.ValveOff}, window("21:00", "23:00"), field("F1"))
	h.tick(t)

	h.setNow("23:01")
	events := h.tick(t)
	assert.Equal(t, 1, countType(events, messages.ValveChanged, "F1"))
	assert.Equal(t, entities.ValveOff, h.fields.mode("F1"))
	assert.Len(t, h.logs.forField("F1"), 1)
}

func TestRevertToAutoOpensAutoSession(t *testing.T) {
	h := newHarness(t, "22:00", Policy{EngageMode: entities.ValveOn, RevertMode: entities.ValveAuto}, window("21:00", "23:00"), field("F1"))
	h.tick(t)
	assert.Equal(t, entities.ValveOn, h.fields.mode("F1"))
	require.Len(t, h.logs.forField("F1"), 1)

	h.setNow("23:01")
	events := h.tick(t)
	assert.Equal(t, 1, countType(events, messages.ValveChanged, "F1"))
	assert.Equal(t, entities.ValveAuto, h.fields.mode("F1"))

	logs := h.logs.forField("F1")
	require.Len(t, logs, 2)
	assert.Equal(t, entities.MethodScheduled, logs[0].Method)
	assert.Equal(t, entities.MethodAuto, logs[1].Method)
	assert.Equal(t, at("23:01"), logs[1].Start)
	assert.Equal(t, 30, logs[1].DurationMinutes)

	h.setNow("23:10")
	assert.Empty(t, h.tick(t))
	assert.Len(t, h.logs.forField("F1"), 2)
}

func TestRestartInsideWindowResumesSession(t *testing.T) {
	h := newHarness(t, "22:00", Policy{}, window("21:00", "23:00"), field("F1"))
	h.tick(t)
	require.Len(t, h.logs.forField("F1"), 1)

	restarted, err := NewEngine(Options{
		Fields: h.fields,
		Logs:   h.logs,
		Sink:   h.sink,
		Clock:  h.clk,
		Global: window("21:00", "23:00"),
	})
	require.NoError(t, err)
	h.setNow("22:15")
	events, err := restarted.EvaluateTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, countType(events, messages.ScheduleEngaged, "F1"))
	require.Len(t, h.logs.forField("F1"), 1, "the occurrence is logged once")

	_, err = restarted.CancelSchedule(context.Background(), "")
	require.NoError(t, err)
	logs := h.logs.forField("F1")
	require.Len(t, logs, 1)
	assert.Equal(t, at("22:15"), logs[0].End, "the resumed session is closed on cancel")
}

func TestAlertsOnlyWhileInAuto(t *testing.T) {
	f := field("F1")
	f.Telemetry.SoilMoisture = entities.Float(20)
	f.Telemetry.Temperature = entities.Float(38)
	f.Telemetry.Health = entities.HealthPoor
	h := newHarness(t, "12:00", Policy{}, nil, f)

	assert.Empty(t, h.tick(t), "a field under manual control raises no alerts")

	f.ValveMode = entities.ValveAuto
	h.fields.put(f)
	events := h.tick(t)
	assert.Equal(t, 1, countType(events, messages.LowMoistureAlert, "F1"))
	assert.Equal(t, 1, countType(events, messages.FieldHealthAlert, "F1"))
	assert.Equal(t, 1, countType(events, messages.HighTemperatureAlert, "F1"))

	f.ValveMode = entities.ValveOn
	h.fields.put(f)
	assert.Empty(t, h.tick(t))

	f.ValveMode = entities.ValveAuto
	h.fields.put(f)
	assert.Len(t, h.tick(t), 3, "alerts re-arm after leaving auto")
}

func TestHighTemperatureAlertIsEdgeTriggered(t *testing.T) {
	f := field("F1")
	f.ValveMode = entities.ValveAuto
	f.Telemetry.Temperature = entities.Float(36)
	h := newHarness(t, "12:00", Policy{}, nil, f)

	events := h.tick(t)
	require.Len(t, events, 1)
	assert.Equal(t, messages.HighTemperatureAlert, events[0].Type)
	assert.Equal(t, messages.SeverityInfo, events[0].Severity)
	require.NotNil(t, events[0].Temperature)
	assert.Equal(t, 36.0, *events[0].Temperature)
	assert.Empty(t, h.tick(t))

	f.Telemetry.Temperature = entities.Float(30)
	h.fields.put(f)
	assert.Empty(t, h.tick(t))

	f.Telemetry.Temperature = entities.Float(37)
	h.fields.put(f)
	assert.Equal(t, 1, countType(h.tick(t), messages.HighTemperatureAlert, "F1"))

	cool := newHarness(t, "12:00", Policy{TemperatureHigh: 40}, nil, f)
	assert.Empty(t, cool.tick(t))
}

func TestLowMoistureAlertsAreEdgeTriggered(t *testing.T) {
	f := field("F1")
	f.ValveMode = entities.ValveAuto
	f.Telemetry.SoilMoisture = entities.Float(40)
	h := newHarness(t, "12:00", Policy{}, nil, f)

	events := h.tick(t)
	require.Equal(t, 1, countType(events, messages.LowMoistureAlert, "F1"))
	assert.Equal(t, messages.SeverityWarning, events[0].Severity)
	assert.Empty(t, h.tick(t))

	f.Telemetry.SoilMoisture = entities.Float(20)
	h.fields.put(f)
	events = h.tick(t)
	require.Equal(t, 1, countType(events, messages.LowMoistureAlert, "F1"))
	assert.Equal(t, messages.SeverityCritical, events[0].Severity)

	f.Telemetry.SoilMoisture = entities.Float(60)
	h.fields.put(f)
	assert.Empty(t, h.tick(t))

	f.Telemetry.SoilMoisture = entities.Float(25)
	f.Telemetry.Health = entities.HealthPoor
	h.fields.put(f)
	events = h.tick(t)
	assert.Equal(t, 1, countType(events, messages.LowMoistureAlert, "F1"))
	assert.Equal(t, 1, countType(events, messages.FieldHealthAlert, "F1"))
	assert.Empty(t, h.tick(t))
}

func TestEngineRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.NewSchedulerMetrics(reg)
	require.NoError(t, err)

	fields := newFakeFields(field("F1"))
	eng, err := NewEngine(Options{
		Fields:  fields,
		Logs:    newFakeLogs(),
		Clock:   clock.NewManual(at("22:00")),
		Global:  window("21:00", "23:00"),
		Metrics: m,
	})
	require.NoError(t, err)

	_, err = eng.EvaluateTick(context.Background())
	require.NoError(t, err)
	_, err = eng.RequestManualValve(context.Background(), "F1", entities.ValveOn)
	require.Error(t, err)

	assert.InDelta(t, 1, testutil.ToFloat64(m.Ticks), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.EngagedFields), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ManualRejected), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Transitions.WithLabelValues("auto", "schedule")), 0)
}

func TestNewEngineValidatesOptions(t *testing.T) {
	_, err := NewEngine(Options{})
	require.Error(t, err)

	_, err = NewEngine(Options{Fields: newFakeFields(), Logs: newFakeLogs(), Policy: Policy{EngageMode: entities.ValveOff}})
	require.Error(t, err)

	bad := &entities.Schedule{Start: entities.MustTimeOfDay("01:00"), End: entities.MustTimeOfDay("01:00"), Enabled: true}
	_, err = NewEngine(Options{Fields: newFakeFields(), Logs: newFakeLogs(), Global: bad})
	require.ErrorIs(t, err, ErrInvalidSchedule)
}

func TestRecorderRejectsNonPositiveDuration(t *testing.T) {
	rec := NewRecorder(newFakeLogs(), nil, logging.Discard())
	_, err := rec.Record(context.Background(), "F1", at("10:00"), at("10:00"), entities.MethodManual)
	require.ErrorIs(t, err, entities.ErrInvalidLogEntry)

	e, err := rec.Record(context.Background(), "F1", at("10:00"), at("10:00").Add(45*time.Minute), entities.MethodAuto)
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, 45, e.DurationMinutes)
}
