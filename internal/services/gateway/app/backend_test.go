package app

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/entities"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/scheduler"
)

const backendURL = "http://backend.test"

func newTestBackend(t *testing.T, retries, failures int) *Backend {
	t.Helper()
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)
	return NewBackend(BackendConfig{
		BaseURL: backendURL,
		Timeout: time.Second,
		Retries: retries,
		Breaker: BreakerConfig{Failures: failures, OpenFor: time.Minute},
	}, nil)
}

func decodeBody(t *testing.T, req *http.Request) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.NewDecoder(req.Body).Decode(&m))
	return m
}

func TestListFieldsNormalizesBackendPayload(t *testing.T) {
	b := newTestBackend(t, 0, 3)
	httpmock.RegisterResponder(http.MethodGet, backendURL+"/api/fields",
		httpmock.NewStringResponder(200, `[
			{"id": 1, "name": "North", "surface": "2.5", "crop": {"name": "Maize"}, "moisture": 28,
			 "temperature": "21.5", "condition": "Poor", "valve_state": "On",
			 "water_logs": [{"end_time": "2024-05-09T06:30:00Z"}, {"end_time": "2024-05-10T06:30:00Z"}],
			 "updated_at": "2024-05-10T07:00:00Z"},
			{"id": 2, "name": "South", "crop_name": "Wheat", "valve_state": true},
			{"id": "3", "valve_state": null},
			{"name": "no id"}
		]`))

	fields, err := b.ListFields(context.Background())
	require.NoError(t, err)
	require.Len(t, fields, 3)

	f := fields[0]
	assert.Equal(t, "1", f.ID)
	assert.Equal(t, 2.5, f.AreaHa)
	assert.Equal(t, "Maize", f.CropType)
	assert.Equal(t, entities.ValveOn, f.ValveMode)
	require.NotNil(t, f.Telemetry.SoilMoisture)
	assert.Equal(t, 28.0, *f.Telemetry.SoilMoisture)
	assert.Equal(t, 21.5, *f.Telemetry.Temperature)
	assert.Equal(t, entities.HealthPoor, f.Telemetry.Health)
	assert.Equal(t, time.Date(2024, 5, 10, 6, 30, 0, 0, time.UTC), f.LastWatered)

	assert.Equal(t, "Wheat", fields[1].CropType)
	assert.Equal(t, entities.ValveOn, fields[1].ValveMode, "legacy boolean valve state")
	assert.Equal(t, entities.ValveOff, fields[2].ValveMode)
	assert.Nil(t, fields[2].Telemetry.SoilMoisture)
}

func TestUpdateValveModeSendsBackendLabel(t *testing.T) {
	b := newTestBackend(t, 0, 3)
	var got map[string]any
	httpmock.RegisterResponder(http.MethodPut, backendURL+"/api/fields/7",
		func(req *http.Request) (*http.Response, error) {
			got = decodeBody(t, req)
			return httpmock.NewStringResponse(200, `{"id":7}`), nil
		})
	httpmock.RegisterResponder(http.MethodPut, backendURL+"/api/fields/8",
		httpmock.NewStringResponder(404, `{"message":"No query results"}`))

	require.NoError(t, b.UpdateValveMode(context.Background(), "7", entities.ValveAuto))
	assert.Equal(t, "Auto", got["valve_state"])

	err := b.UpdateValveMode(context.Background(), "8", entities.ValveOn)
	require.ErrorIs(t, err, scheduler.ErrFieldNotFound)
}

func TestGetFieldNotFoundDoesNotTripBreaker(t *testing.T) {
	b := newTestBackend(t, 0, 1)
	httpmock.RegisterResponder(http.MethodGet, backendURL+"/api/fields/9", httpmock.NewStringResponder(404, ""))
	httpmock.RegisterResponder(http.MethodGet, backendURL+"/api/fields/1", httpmock.NewStringResponder(200, `{"id":1,"valve_state":"Off"}`))

	for i := 0; i < 3; i++ {
		_, err := b.GetField(context.Background(), "9")
		require.ErrorIs(t, err, scheduler.ErrFieldNotFound)
	}
	f, err := b.GetField(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "1", f.ID)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := newTestBackend(t, 0, 2)
	httpmock.RegisterResponder(http.MethodGet, backendURL+"/api/fields", httpmock.NewStringResponder(500, "boom"))

	for i := 0; i < 2; i++ {
		_, err := b.ListFields(context.Background())
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, 500, se.Code)
	}
	_, err := b.ListFields(context.Background())
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, httpmock.GetTotalCallCount(), "open breaker short-circuits the request")
}

func TestGetRetriesTransientFailures(t *testing.T) {
	b := newTestBackend(t, 2, 5)
	calls := 0
	httpmock.RegisterResponder(http.MethodGet, backendURL+"/api/fields",
		func(*http.Request) (*http.Response, error) {
			calls++
			if calls == 1 {
				return httpmock.NewStringResponse(503, ""), nil
			}
			return httpmock.NewStringResponse(200, `[{"id":1}]`), nil
		})

	fields, err := b.ListFields(context.Background())
	require.NoError(t, err)
	assert.Len(t, fields, 1)
	assert.Equal(t, 2, calls)
}

func TestAppendMapsMethodAndAdoptsBackendID(t *testing.T) {
	b := newTestBackend(t, 0, 3)
	var got map[string]any
	httpmock.RegisterResponder(http.MethodPost, backendURL+"/api/watering-logs",
		func(req *http.Request) (*http.Response, error) {
			got = decodeBody(t, req)
			return httpmock.NewStringResponse(201, `{"id": 77, "field_id": 1}`), nil
		})

	start := time.Date(2024, 5, 10, 6, 0, 0, 0, time.UTC)
	e, err := entities.NewWateringLogEntry("local", "1", start, start.Add(30*time.Minute), entities.MethodAuto)
	require.NoError(t, err)

	saved, err := b.Append(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, "77", saved.ID)
	assert.Equal(t, float64(1), got["field_id"])
	assert.Equal(t, "DRIP", got["method"])
	assert.Equal(t, "2024-05-10T06:00:00Z", got["start_time"])
	assert.Equal(t, "2024-05-10T06:30:00Z", got["end_time"])
}

func TestMethodMapping(t *testing.T) {
	assert.Equal(t, "SPRINKLER", methodToBackend(entities.MethodManual))
	assert.Equal(t, "SPRINKLER", methodToBackend(entities.MethodScheduled))
	assert.Equal(t, "DRIP", methodToBackend(entities.MethodAuto))
	assert.Equal(t, entities.MethodAuto, methodFromBackend("DRIP"))
	assert.Equal(t, entities.MethodManual, methodFromBackend("FLOOD"))
	assert.Equal(t, entities.MethodScheduled, methodFromBackend("scheduled"))
}

func TestSchedulesAreHeldInProcess(t *testing.T) {
	b := newTestBackend(t, 0, 3)
	httpmock.RegisterResponder(http.MethodGet, backendURL+"/api/fields/1", httpmock.NewStringResponder(200, `{"id":1}`))
	httpmock.RegisterResponder(http.MethodGet, backendURL+"/api/fields/2", httpmock.NewStringResponder(404, ""))
	httpmock.RegisterResponder(http.MethodGet, backendURL+"/api/fields", httpmock.NewStringResponder(200, `[{"id":1},{"id":2}]`))

	sc := entities.Schedule{Start: entities.MustTimeOfDay("06:00"), End: entities.MustTimeOfDay("06:30"), Enabled: true}
	require.NoError(t, b.UpdateSchedule(context.Background(), "1", &sc))
	require.ErrorIs(t, b.UpdateSchedule(context.Background(), "2", &sc), scheduler.ErrFieldNotFound)

	watered := time.Date(2024, 5, 10, 6, 0, 0, 0, time.UTC)
	require.NoError(t, b.MarkWatered(context.Background(), "1", watered))

	fields, err := b.ListFields(context.Background())
	require.NoError(t, err)
	require.NotNil(t, fields[0].Schedule)
	assert.Equal(t, "06:00-06:30", fields[0].Schedule.String())
	assert.Equal(t, watered, fields[0].LastWatered)
	assert.Nil(t, fields[1].Schedule)

	require.NoError(t, b.UpdateSchedule(context.Background(), "1", nil))
	f, err := b.GetField(context.Background(), "1")
	require.NoError(t, err)
	assert.Nil(t, f.Schedule)
}

func TestCloseSessionTrimsEndTime(t *testing.T) {
	b := newTestBackend(t, 0, 3)
	httpmock.RegisterResponder(http.MethodGet, backendURL+"/api/watering-logs/5", httpmock.NewStringResponder(200,
		`{"id":5,"field_id":1,"start_time":"2024-05-10T06:00:00Z","end_time":"2024-05-10T06:30:00Z","method":"SPRINKLER"}`))
	var got map[string]any
	httpmock.RegisterResponder(http.MethodPut, backendURL+"/api/watering-logs/5",
		func(req *http.Request) (*http.Response, error) {
			got = decodeBody(t, req)
			return httpmock.NewStringResponse(200, `{}`), nil
		})

	closed, err := b.CloseSession(context.Background(), "5", time.Date(2024, 5, 10, 6, 10, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 10, closed.DurationMinutes)
	assert.Equal(t, "2024-05-10T06:10:00Z", got["end_time"])

	got = nil
	closed, err = b.CloseSession(context.Background(), "5", time.Date(2024, 5, 10, 7, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 30, closed.DurationMinutes)
	assert.Nil(t, got, "a finished session is not rewritten")
}

func TestListByField(t *testing.T) {
	b := newTestBackend(t, 0, 3)
	httpmock.RegisterResponder(http.MethodGet, backendURL+"/api/watering-logs?field_id=1", httpmock.NewStringResponder(200,
		`[{"id":5,"start_time":"2024-05-10T06:00:00Z","end_time":"2024-05-10T06:45:00Z","method":"DRIP"}]`))

	logs, err := b.ListByField(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "1", logs[0].FieldID)
	assert.Equal(t, 45, logs[0].DurationMinutes)
	assert.Equal(t, entities.MethodAuto, logs[0].Method)
}
