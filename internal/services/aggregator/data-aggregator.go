// Package aggregator averages raw soil probe readings into per-field
// telemetry consumed by the scheduler's moisture alerts.
package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/logging"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/entities"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/messages"
	"github.com/LeonardoBeccarini/irrigation_scheduler/pkg/rabbitmq"
)

const (
	SensorTopic     = "sensor/data/#"
	AggregatedTopic = "sensor/aggregated"
)

// TelemetryUpdater receives the averaged view of a field.
type TelemetryUpdater interface {
	UpdateTelemetry(ctx context.Context, fieldID string, t entities.Telemetry) error
}

type DataAggregatorService struct {
	consumer  rabbitmq.IConsumer
	publisher rabbitmq.IPublisher // optional
	updater   TelemetryUpdater
	interval  time.Duration
	now       func() time.Time
	log       *slog.Logger

	mu     sync.Mutex
	buffer map[string][]messages.SensorData // by field
}

func NewDataAggregatorService(consumer rabbitmq.IConsumer, publisher rabbitmq.IPublisher, updater TelemetryUpdater, interval time.Duration, log *slog.Logger) *DataAggregatorService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &DataAggregatorService{
		consumer:  consumer,
		publisher: publisher,
		updater:   updater,
		interval:  interval,
		now:       time.Now,
		log:       logging.OrDiscard(log),
		buffer:    make(map[string][]messages.SensorData),
	}
}

// fieldFromTopic extracts {field} from sensor/data/{field}/{sensor}.
func fieldFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 3 && parts[0] == "sensor" && parts[1] == "data" {
		return parts[2]
	}
	return ""
}

func (d *DataAggregatorService) Handle(topic string, msg mqtt.Message) error {
	var reading messages.SensorData
	if err := json.Unmarshal(msg.Payload(), &reading); err != nil {
		return fmt.Errorf("decode sensor data on %s: %w", topic, err)
	}
	if reading.FieldID == "" {
		reading.FieldID = fieldFromTopic(topic)
	}
	if reading.FieldID == "" {
		return errors.New("sensor reading without field id")
	}
	if reading.Moisture < 0 || reading.Moisture > 100 {
		return fmt.Errorf("moisture %.1f out of range for field %s", reading.Moisture, reading.FieldID)
	}

	d.mu.Lock()
	d.buffer[reading.FieldID] = append(d.buffer[reading.FieldID], reading)
	d.mu.Unlock()
	return nil
}

// Start consumes readings and flushes averages every interval until ctx is done.
func (d *DataAggregatorService) Start(ctx context.Context) error {
	d.consumer.SetHandler(d.Handle)

	errc := make(chan error, 1)
	go func() { errc <- d.consumer.ConsumeMessage(ctx) }()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return <-errc
		case err := <-errc:
			return err
		case <-ticker.C:
			d.Flush(ctx)
		}
	}
}

// Flush averages the buffered readings per field and returns the aggregates it produced.
func (d *DataAggregatorService) Flush(ctx context.Context) []messages.SensorData {
	d.mu.Lock()
	batch := d.buffer
	d.buffer = make(map[string][]messages.SensorData, len(batch))
	d.mu.Unlock()

	now := d.now()
	out := make([]messages.SensorData, 0, len(batch))
	for fieldID, readings := range batch {
		if len(readings) == 0 {
			continue
		}
		agg := average(fieldID, readings, now)
		out = append(out, agg)

		t := entities.Telemetry{SoilMoisture: entities.Float(agg.Moisture), Temperature: agg.Temperature, UpdatedAt: now}
		if err := d.updater.UpdateTelemetry(ctx, fieldID, t); err != nil {
			d.log.Warn("aggregator: telemetry update failed", "field_id", fieldID, "error", err)
		}
		if d.publisher != nil {
			if err := d.publisher.Publish(ctx, AggregatedTopic+"/"+fieldID, agg); err != nil {
				d.log.Warn("aggregator: publish failed", "field_id", fieldID, "error", err)
			}
		}
		d.log.Debug("aggregator: flushed", "field_id", fieldID, "readings", len(readings), "moisture", agg.Moisture)
	}
	return out
}

func average(fieldID string, readings []messages.SensorData, now time.Time) messages.SensorData {
	var moisture, temp float64
	temps := 0
	for _, r := range readings {
		moisture += r.Moisture
		if r.Temperature != nil {
			temp += *r.Temperature
			temps++
		}
	}
	agg := messages.SensorData{
		FieldID:    fieldID,
		SensorID:   "aggregate",
		Moisture:   moisture / float64(len(readings)),
		Aggregated: true,
		Timestamp:  now,
	}
	if temps > 0 {
		agg.Temperature = entities.Float(temp / float64(temps))
	}
	return agg
}
