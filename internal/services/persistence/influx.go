package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/logging"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/entities"
)

const wateringMeasurement = "watering_log"

// InfluxConfig selects the bucket holding watering log points.
type InfluxConfig struct {
	URL      string
	Token    string
	Org      string
	Bucket   string
	Lookback time.Duration // how far back ListByField scans, default 90 days
	Timeout  time.Duration // per query, default 5s
}

// InfluxLogStore writes one point per watering session, timestamped at the
// session start. Closing a session rewrites the same series point, which
// InfluxDB treats as an overwrite.
type InfluxLogStore struct {
	write    api.WriteAPIBlocking
	query    api.QueryAPI
	bucket   string
	lookback time.Duration
	timeout  time.Duration
	log      *slog.Logger
}

func NewInfluxLogStore(client influxdb2.Client, cfg InfluxConfig, log *slog.Logger) (*InfluxLogStore, error) {
	if cfg.Org == "" || cfg.Bucket == "" {
		return nil, errors.New("influx config incomplete")
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 90 * 24 * time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &InfluxLogStore{
		write:    client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		query:    client.QueryAPI(cfg.Org),
		bucket:   cfg.Bucket,
		lookback: cfg.Lookback,
		timeout:  cfg.Timeout,
		log:      logging.OrDiscard(log),
	}, nil
}

func (s *InfluxLogStore) Append(ctx context.Context, e entities.WateringLogEntry) (entities.WateringLogEntry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if err := s.write.WritePoint(ctx, entryToPoint(e)); err != nil {
		return entities.WateringLogEntry{}, fmt.Errorf("influx write %s: %w", e.ID, err)
	}
	s.log.Debug("watering log written", "id", e.ID, "field_id", e.FieldID, "minutes", e.DurationMinutes)
	return e, nil
}

func (s *InfluxLogStore) ListByField(ctx context.Context, fieldID string) ([]entities.WateringLogEntry, error) {
	return s.run(ctx, buildLogFlux(s.bucket, s.lookback, "field_id", fieldID))
}

func (s *InfluxLogStore) CloseSession(ctx context.Context, id string, end time.Time) (entities.WateringLogEntry, error) {
	found, err := s.run(ctx, buildLogFlux(s.bucket, s.lookback, "log_id", id))
	if err != nil {
		return entities.WateringLogEntry{}, err
	}
	if len(found) == 0 {
		return entities.WateringLogEntry{}, fmt.Errorf("watering log %s not found", id)
	}
	closed, err := found[len(found)-1].ClosedAt(end)
	if err != nil {
		return entities.WateringLogEntry{}, err
	}
	if err := s.write.WritePoint(ctx, entryToPoint(closed)); err != nil {
		return entities.WateringLogEntry{}, fmt.Errorf("influx rewrite %s: %w", id, err)
	}
	return closed, nil
}

func (s *InfluxLogStore) run(ctx context.Context, flux string) ([]entities.WateringLogEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.query.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("influx query: %w", err)
	}
	defer func() { _ = res.Close() }()

	var out []entities.WateringLogEntry
	for res.Next() {
		rec := res.Record()
		e, err := recordToEntry(rec.Time(), rec.Values())
		if err != nil {
			s.log.Warn("skipping malformed watering log point", "error", err)
			continue
		}
		out = append(out, e)
	}
	if err := res.Err(); err != nil {
		return out, fmt.Errorf("influx iterate: %w", err)
	}
	return out, nil
}

func entryToPoint(e entities.WateringLogEntry) *write.Point {
	tags := map[string]string{
		"field_id": e.FieldID,
		"log_id":   e.ID,
		"method":   string(e.Method),
	}
	fields := map[string]interface{}{
		"end_unix":         e.End.Unix(),
		"duration_minutes": int64(e.DurationMinutes),
	}
	return influxdb2.NewPoint(wateringMeasurement, tags, fields, e.Start)
}

func buildLogFlux(bucket string, lookback time.Duration, tag, value string) string {
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -%ds)
  |> filter(fn: (r) => r._measurement == %q and r.%s == %q)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> group()
  |> sort(columns: ["_time"])
`, bucket, int64(lookback/time.Second), wateringMeasurement, tag, value)
}

func recordToEntry(start time.Time, v map[string]interface{}) (entities.WateringLogEntry, error) {
	id := stringValue(v["log_id"])
	fieldID := stringValue(v["field_id"])
	if id == "" || fieldID == "" {
		return entities.WateringLogEntry{}, errors.New("missing log_id or field_id tag")
	}
	endUnix, ok := intValue(v["end_unix"])
	if !ok {
		return entities.WateringLogEntry{}, fmt.Errorf("log %s: missing end_unix", id)
	}
	end := time.Unix(endUnix, 0).In(start.Location())
	minutes, ok := intValue(v["duration_minutes"])
	if !ok {
		minutes = int64(entities.WholeMinutes(end.Sub(start)))
	}
	return entities.WateringLogEntry{
		ID:              id,
		FieldID:         fieldID,
		Start:           start,
		End:             end,
		Method:          entities.Method(stringValue(v["method"])),
		DurationMinutes: int(minutes),
	}, nil
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func intValue(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	}
	return 0, false
}
