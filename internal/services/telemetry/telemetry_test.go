package telemetry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/entities"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/services/persistence"
)

const owmURL = "http://owm.test/onecall"

func newMockedClient(t *testing.T) *OWMClient {
	t.Helper()
	c := NewOWMClient(OWMConfig{APIKey: "k", BaseURL: owmURL, Lat: 41.9, Lon: 12.5})
	httpmock.ActivateNonDefault(c.http)
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func dailyBody() map[string]any {
	day := func(d int, tmin, tmax, rain float64) map[string]any {
		return map[string]any{
			"dt":   time.Date(2024, 5, d, 12, 0, 0, 0, time.UTC).Unix(),
			"temp": map[string]any{"min": tmin, "max": tmax},
			"rain": rain,
		}
	}
	return map[string]any{"daily": []any{day(10, 12, 24, 0), day(11, 14, 28, 3.5)}}
}

func TestGetDailyPicksClosestDayAndCaches(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodGet, owmURL, httpmock.NewJsonResponderOrPanic(http.StatusOK, dailyBody()))

	d, err := c.GetDaily(context.Background(), time.Date(2024, 5, 11, 7, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 14.0, d.TMin)
	assert.Equal(t, 28.0, d.TMax)
	assert.Equal(t, 3.5, d.Rain)
	assert.InDelta(t, ET0Hargreaves(14, 28, 0.408), d.ET0, 1e-12)
	assert.Equal(t, 21.0, d.TMean())

	_, err = c.GetDaily(context.Background(), time.Date(2024, 5, 11, 18, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, httpmock.GetTotalCallCount(), "same day is served from cache")
}

func TestGetDailyErrors(t *testing.T) {
	_, err := NewOWMClient(OWMConfig{}).GetDaily(context.Background(), time.Now())
	require.ErrorIs(t, err, ErrMissingKey)

	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodGet, owmURL, httpmock.NewStringResponder(http.StatusUnauthorized, "bad key"))
	_, err = c.GetDaily(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "owm status 401")

	httpmock.RegisterResponder(http.MethodGet, owmURL, httpmock.NewStringResponder(http.StatusOK, `{"daily":[]}`))
	_, err = c.GetDaily(context.Background(), time.Now())
	require.Error(t, err)
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodGet, owmURL, httpmock.NewStringResponder(http.StatusBadGateway, "down"))

	for i := 0; i < 3; i++ {
		_, err := c.GetDaily(context.Background(), time.Now())
		require.Error(t, err)
	}
	_, err := c.GetDaily(context.Background(), time.Now())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, httpmock.GetTotalCallCount())
}

func TestET0Hargreaves(t *testing.T) {
	assert.Equal(t, 0.0, ET0Hargreaves(20, 20, 0.408))
	assert.Equal(t, 0.0, ET0Hargreaves(25, 20, 0.408), "inverted range is clamped")
	assert.Greater(t, ET0Hargreaves(10, 30, 0.408), ET0Hargreaves(15, 25, 0.408))
}

type fixedSource struct {
	d   Daily
	err error
}

func (s fixedSource) GetDaily(context.Context, time.Time) (Daily, error) { return s.d, s.err }

func TestRefresherWritesTemperature(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryFieldStore(
		entities.Field{ID: "F1", Telemetry: entities.Telemetry{SoilMoisture: entities.Float(40)}},
		entities.Field{ID: "F2"},
	)
	now := time.Date(2024, 5, 10, 6, 0, 0, 0, time.UTC)
	r := NewRefresher(fixedSource{d: Daily{TMin: 10, TMax: 20}}, store, func() time.Time { return now }, nil)

	require.NoError(t, r.Refresh(ctx))

	f1, err := store.GetField(ctx, "F1")
	require.NoError(t, err)
	require.NotNil(t, f1.Telemetry.Temperature)
	assert.Equal(t, 15.0, *f1.Telemetry.Temperature)
	assert.Equal(t, 40.0, *f1.Telemetry.SoilMoisture, "moisture is preserved")
	assert.Equal(t, now, f1.Telemetry.UpdatedAt)

	r = NewRefresher(fixedSource{err: errors.New("offline")}, store, nil, nil)
	assert.ErrorContains(t, r.Refresh(ctx), "offline")
}
