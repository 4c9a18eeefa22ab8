// Package config loads service settings from defaults, an optional YAML file
// and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/clock"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/entities"
)

type Settings struct {
	Log       LogSettings       `mapstructure:"log"`
	Timezone  string            `mapstructure:"timezone"`
	HTTP      HTTPSettings      `mapstructure:"http"`
	GRPC      GRPCSettings      `mapstructure:"grpc"`
	MQTT      MQTTSettings      `mapstructure:"mqtt"`
	Store     StoreSettings     `mapstructure:"store"`
	Backend   BackendSettings   `mapstructure:"backend"`
	Influx    InfluxSettings    `mapstructure:"influx"`
	Weather   WeatherSettings   `mapstructure:"weather"`
	Notify    NotifySettings    `mapstructure:"notify"`
	Scheduler SchedulerSettings `mapstructure:"scheduler"`
}

type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type HTTPSettings struct {
	Port          int           `mapstructure:"port"`
	AllowedOrigin string        `mapstructure:"allowed_origin"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type GRPCSettings struct {
	Port int    `mapstructure:"port"`
	Addr string `mapstructure:"addr"` // remote address used by CLI subcommands
}

type MQTTSettings struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	ClientID string `mapstructure:"client_id"`
}

// StoreSettings selects the field and log backends.
type StoreSettings struct {
	Fields     string `mapstructure:"fields"` // memory | backend
	Logs       string `mapstructure:"logs"`   // memory | sqlite | influx | backend
	SeedPath   string `mapstructure:"seed_path"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

type BackendSettings struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Retries int           `mapstructure:"retries"`
}

type InfluxSettings struct {
	URL    string `mapstructure:"url"`
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org"`
	Bucket string `mapstructure:"bucket"`
}

func (s InfluxSettings) Enabled() bool { return s.URL != "" && s.Bucket != "" }

type WeatherSettings struct {
	APIKey string  `mapstructure:"api_key"`
	Lat    float64 `mapstructure:"lat"`
	Lon    float64 `mapstructure:"lon"`
}

type NotifySettings struct {
	URLs        []string `mapstructure:"urls"`
	MinSeverity string   `mapstructure:"min_severity"`
}

type SchedulerSettings struct {
	Tick             time.Duration `mapstructure:"tick"`
	Refresh          time.Duration `mapstructure:"refresh"`
	DefaultDuration  time.Duration `mapstructure:"default_duration"`
	EngageMode       string        `mapstructure:"engage_mode"`
	RevertMode       string        `mapstructure:"revert_mode"`
	MoistureCritical float64       `mapstructure:"moisture_critical"`
	MoistureWarning  float64       `mapstructure:"moisture_warning"`
	TemperatureHigh  float64       `mapstructure:"temperature_high"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("timezone", "Europe/Rome")

	v.SetDefault("http.port", 8080)
	v.SetDefault("http.allowed_origin", "*")
	v.SetDefault("http.timeout", 15*time.Second)
	v.SetDefault("grpc.port", 50051)
	v.SetDefault("grpc.addr", "localhost:50051")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.host", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.user", "guest")
	v.SetDefault("mqtt.password", "guest")
	v.SetDefault("mqtt.client_id", "irrigation-scheduler")

	v.SetDefault("store.fields", "memory")
	v.SetDefault("store.logs", "memory")
	v.SetDefault("store.seed_path", "config/fields.yaml")
	v.SetDefault("store.sqlite_path", "watering.db")

	v.SetDefault("backend.timeout", 5*time.Second)
	v.SetDefault("backend.retries", 2)

	v.SetDefault("influx.org", "sdcc")
	v.SetDefault("influx.bucket", "irrigation")

	v.SetDefault("notify.min_severity", "warning")

	v.SetDefault("scheduler.tick", time.Minute)
	v.SetDefault("scheduler.refresh", 30*time.Second)
	v.SetDefault("scheduler.default_duration", 30*time.Minute)
	v.SetDefault("scheduler.engage_mode", "auto")
	v.SetDefault("scheduler.revert_mode", "auto")
	v.SetDefault("scheduler.moisture_critical", 30.0)
	v.SetDefault("scheduler.moisture_warning", 45.0)
	v.SetDefault("scheduler.temperature_high", 35.0)
}

// envBindings keeps the variable names the deployment already uses.
var envBindings = [][2]string{
	{"log.level", "LOG_LEVEL"},
	{"log.format", "LOG_FORMAT"},
	{"timezone", "TZ"},
	{"http.port", "PORT"},
	{"http.allowed_origin", "ALLOWED_ORIGIN"},
	{"grpc.port", "GRPC_PORT"},
	{"grpc.addr", "GRPC_ADDR"},
	{"mqtt.enabled", "MQTT_ENABLED"},
	{"mqtt.host", "RABBITMQ_HOST"},
	{"mqtt.port", "RABBITMQ_PORT"},
	{"mqtt.user", "RABBITMQ_USER"},
	{"mqtt.password", "RABBITMQ_PASSWORD"},
	{"mqtt.client_id", "MQTT_CLIENT_ID"},
	{"store.fields", "FIELD_STORE"},
	{"store.logs", "LOG_STORE"},
	{"store.seed_path", "FIELDS_SEED_PATH"},
	{"store.sqlite_path", "SQLITE_PATH"},
	{"backend.url", "BACKEND_URL"},
	{"backend.timeout", "BACKEND_TIMEOUT"},
	{"influx.url", "INFLUX_URL"},
	{"influx.token", "INFLUX_TOKEN"},
	{"influx.org", "INFLUX_ORG"},
	{"influx.bucket", "INFLUX_BUCKET"},
	{"weather.api_key", "OWM_API_KEY"},
	{"weather.lat", "FARM_LAT"},
	{"weather.lon", "FARM_LON"},
	{"notify.urls", "NOTIFY_URLS"},
	{"notify.min_severity", "NOTIFY_MIN_SEVERITY"},
	{"scheduler.tick", "TICK_INTERVAL"},
	{"scheduler.engage_mode", "ENGAGE_MODE"},
	{"scheduler.revert_mode", "REVERT_MODE"},
	{"scheduler.temperature_high", "TEMPERATURE_HIGH"},
}

// Load builds Settings. path may be empty; a missing explicit file is an error.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)
	for _, b := range envBindings {
		if err := v.BindEnv(b[0], b[1]); err != nil {
			return nil, fmt.Errorf("bind %s: %w", b[1], err)
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	s.Notify.URLs = splitList(s.Notify.URLs)
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return s, nil
}

// splitList flattens comma separated entries coming from a single env var.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, p := range strings.Split(item, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func (s *Settings) Validate() error {
	var errs []error
	if _, err := clock.LoadLocation(s.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", s.Timezone, err))
	}
	switch s.Store.Fields {
	case "memory":
	case "backend":
		if s.Backend.URL == "" {
			errs = append(errs, errors.New("store.fields=backend requires backend.url"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown field store %q", s.Store.Fields))
	}
	switch s.Store.Logs {
	case "memory", "sqlite":
	case "influx":
		if !s.Influx.Enabled() {
			errs = append(errs, errors.New("store.logs=influx requires influx.url and influx.bucket"))
		}
	case "backend":
		if s.Backend.URL == "" {
			errs = append(errs, errors.New("store.logs=backend requires backend.url"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown log store %q", s.Store.Logs))
	}
	if _, err := entities.ParseValveMode(s.Scheduler.EngageMode); err != nil {
		errs = append(errs, fmt.Errorf("engage mode: %w", err))
	}
	if _, err := entities.ParseValveMode(s.Scheduler.RevertMode); err != nil {
		errs = append(errs, fmt.Errorf("revert mode: %w", err))
	}
	if s.Scheduler.Tick <= 0 {
		errs = append(errs, errors.New("scheduler.tick must be positive"))
	}
	if s.HTTP.Port <= 0 || s.GRPC.Port <= 0 {
		errs = append(errs, errors.New("http.port and grpc.port must be positive"))
	}
	return errors.Join(errs...)
}

// Location is the farm time zone, time.Local when unset or unknown.
func (s *Settings) Location() *time.Location {
	loc, _ := clock.LoadLocation(s.Timezone)
	return loc
}
