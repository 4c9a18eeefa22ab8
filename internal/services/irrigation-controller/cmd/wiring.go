package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/config"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/entities"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/observability/metrics"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/scheduler"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/services/gateway/app"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/services/persistence"
	"github.com/LeonardoBeccarini/irrigation_scheduler/pkg/rabbitmq"
)

// stores bundles the selected field and log backends.
type stores struct {
	fields scheduler.FieldStore
	logs   scheduler.LogStore
	ping   func(ctx context.Context) error // REST backend probe, nil otherwise
	close  []func() error
}

func (s *stores) Close() error {
	var errs []error
	for _, c := range s.close {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func newBackend(s *config.Settings, tm *metrics.TransportMetrics) *app.Backend {
	return app.NewBackend(app.BackendConfig{
		BaseURL: s.Backend.URL,
		Timeout: s.Backend.Timeout,
		Retries: s.Backend.Retries,
	}, tm)
}

func openFieldStore(s *config.Settings, backend *app.Backend) (scheduler.FieldStore, error) {
	switch s.Store.Fields {
	case "backend":
		return backend, nil
	default:
		fields, err := persistence.LoadSeed(s.Store.SeedPath)
		if err != nil {
			return nil, err
		}
		return persistence.NewMemoryFieldStore(fields...), nil
	}
}

func openLogStore(s *config.Settings, influx influxdb2.Client, backend *app.Backend, log *slog.Logger) (scheduler.LogStore, func() error, error) {
	switch s.Store.Logs {
	case "sqlite":
		st, err := persistence.OpenSQLiteLogStore(s.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	case "influx":
		if influx == nil {
			return nil, nil, errors.New("influx log store selected but influx is not configured")
		}
		st, err := persistence.NewInfluxLogStore(influx, persistence.InfluxConfig{
			URL: s.Influx.URL, Token: s.Influx.Token, Org: s.Influx.Org, Bucket: s.Influx.Bucket,
		}, log)
		return st, nil, err
	case "backend":
		return backend, nil, nil
	default:
		return persistence.NewMemoryLogStore(), nil, nil
	}
}

func openStores(s *config.Settings, influx influxdb2.Client, tm *metrics.TransportMetrics, log *slog.Logger) (*stores, error) {
	var backend *app.Backend
	st := &stores{}
	if s.Backend.URL != "" {
		backend = newBackend(s, tm)
		st.ping = backend.Ping
	}
	fields, err := openFieldStore(s, backend)
	if err != nil {
		return nil, fmt.Errorf("field store: %w", err)
	}
	logs, closeLogs, err := openLogStore(s, influx, backend, log)
	if err != nil {
		return nil, fmt.Errorf("log store: %w", err)
	}
	if closeLogs != nil {
		st.close = append(st.close, closeLogs)
	}
	st.fields, st.logs = fields, logs
	return st, nil
}

func openInflux(s *config.Settings) influxdb2.Client {
	if !s.Influx.Enabled() {
		return nil
	}
	return influxdb2.NewClient(s.Influx.URL, s.Influx.Token)
}

func dialMQTT(ctx context.Context, s *config.Settings, clientSuffix string, log *slog.Logger) (mqtt.Client, error) {
	clientID := s.MQTT.ClientID
	if clientSuffix != "" {
		clientID += "-" + clientSuffix
	}
	return rabbitmq.Dial(ctx, rabbitmq.Config{
		Host:     s.MQTT.Host,
		Port:     s.MQTT.Port,
		User:     s.MQTT.User,
		Password: s.MQTT.Password,
		ClientID: clientID,
	}, log)
}

func policyFrom(s *config.Settings) (scheduler.Policy, error) {
	engage, err := entities.ParseValveMode(s.Scheduler.EngageMode)
	if err != nil {
		return scheduler.Policy{}, err
	}
	revert, err := entities.ParseValveMode(s.Scheduler.RevertMode)
	if err != nil {
		return scheduler.Policy{}, err
	}
	p := scheduler.Policy{
		EngageMode:       engage,
		RevertMode:       revert,
		DefaultDuration:  s.Scheduler.DefaultDuration,
		MoistureCritical: s.Scheduler.MoistureCritical,
		MoistureWarning:  s.Scheduler.MoistureWarning,
		TemperatureHigh:  s.Scheduler.TemperatureHigh,
	}
	return p, p.Validate()
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
