package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, s.HTTP.Port)
	assert.Equal(t, 50051, s.GRPC.Port)
	assert.Equal(t, "memory", s.Store.Fields)
	assert.Equal(t, time.Minute, s.Scheduler.Tick)
	assert.Equal(t, 30*time.Minute, s.Scheduler.DefaultDuration)
	assert.Equal(t, "auto", s.Scheduler.RevertMode)
	assert.Equal(t, 1883, s.MQTT.Port)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("RABBITMQ_HOST", "broker")
	t.Setenv("RABBITMQ_PORT", "1884")
	t.Setenv("PORT", "9090")
	t.Setenv("TICK_INTERVAL", "30s")
	t.Setenv("NOTIFY_URLS", "generic://a.example, generic://b.example")
	t.Setenv("LOG_STORE", "influx")
	t.Setenv("INFLUX_URL", "http://influx:8086")

	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "broker", s.MQTT.Host)
	assert.Equal(t, 1884, s.MQTT.Port)
	assert.Equal(t, 9090, s.HTTP.Port)
	assert.Equal(t, 30*time.Second, s.Scheduler.Tick)
	assert.Equal(t, []string{"generic://a.example", "generic://b.example"}, s.Notify.URLs)
	assert.True(t, s.Influx.Enabled())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
timezone: UTC
store:
  fields: backend
backend:
  url: http://backend:8000
scheduler:
  engage_mode: "on"
  revert_mode: "off"
`), 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "backend", s.Store.Fields)
	assert.Equal(t, "http://backend:8000", s.Backend.URL)
	assert.Equal(t, time.UTC, s.Location())
}

func TestValidateRejectsBadSettings(t *testing.T) {
	t.Setenv("FIELD_STORE", "backend")
	t.Setenv("ENGAGE_MODE", "sideways")
	t.Setenv("TZ", "Mars/Olympus")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend.url")
	assert.Contains(t, err.Error(), "engage mode")
	assert.Contains(t, err.Error(), "timezone")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
