package sensor_simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/logging"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/messages"
	"github.com/LeonardoBeccarini/irrigation_scheduler/pkg/dedup"
	"github.com/LeonardoBeccarini/irrigation_scheduler/pkg/rabbitmq"
)

type SensorSimulator struct {
	fieldID   string
	sensorID  string
	generator *DataGenerator
	publisher rabbitmq.IPublisher
	consumer  rabbitmq.IConsumer
	deduper   *dedup.Deduper
	log       *slog.Logger
}

func NewSensorSimulator(consumer rabbitmq.IConsumer, publisher rabbitmq.IPublisher, gen *DataGenerator, fieldID, sensorID string, log *slog.Logger) *SensorSimulator {
	return &SensorSimulator{
		fieldID:   fieldID,
		sensorID:  sensorID,
		generator: gen,
		publisher: publisher,
		consumer:  consumer,
		deduper:   dedup.New(2*time.Minute, 10000),
		log:       logging.OrDiscard(log),
	}
}

// ValveTopic is where the simulator learns about valve changes of its field.
func ValveTopic(fieldID string) string {
	return fmt.Sprintf("irrigation/events/%s/%s", fieldID, messages.ValveChanged)
}

// DataTopic is where raw readings are published.
func DataTopic(fieldID, sensorID string) string {
	return fmt.Sprintf("sensor/data/%s/%s", fieldID, sensorID)
}

// Start publishes a reading every interval until ctx is done.
func (s *SensorSimulator) Start(ctx context.Context, interval time.Duration) error {
	s.consumer.SetHandler(s.HandleMessage)
	errc := make(chan error, 1)
	go func() { errc <- s.consumer.ConsumeMessage(ctx) }()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return <-errc
		case err := <-errc:
			return err
		case <-ticker.C:
			if err := s.PublishReading(ctx); err != nil {
				s.log.Warn("simulator: publish failed", "field_id", s.fieldID, "error", err)
			}
		}
	}
}

func (s *SensorSimulator) PublishReading(ctx context.Context) error {
	sd := s.generator.Next(s.fieldID, s.sensorID)
	s.log.Debug("simulator: reading", "field_id", sd.FieldID, "sensor_id", sd.SensorID, "moisture", sd.Moisture)
	return s.publisher.Publish(ctx, DataTopic(s.fieldID, s.sensorID), sd)
}

func (s *SensorSimulator) HandleMessage(_ string, msg mqtt.Message) error {
	// QoS1 redelivery carries the same payload.
	if !s.deduper.ShouldProcess(dedup.Key(msg.Payload())) {
		return nil
	}
	var ev messages.Event
	if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
		return fmt.Errorf("invalid valve event: %w", err)
	}
	if ev.FieldID != s.fieldID || ev.Type != messages.ValveChanged {
		return nil
	}
	on := watering(ev.Mode)
	s.generator.SetWatering(on)
	s.log.Info("simulator: valve state", "field_id", s.fieldID, "mode", ev.Mode, "watering", on)
	return nil
}
