// Package irrigation_controller accepts manual valve commands from field
// panels over MQTT and answers each with a result message.
package irrigation_controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/logging"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/entities"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/messages"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/observability/metrics"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/scheduler"
	"github.com/LeonardoBeccarini/irrigation_scheduler/pkg/dedup"
	"github.com/LeonardoBeccarini/irrigation_scheduler/pkg/rabbitmq"
)

const (
	CommandTopic = "irrigation/commands/+/valve"
	ResultPrefix = "irrigation/results"
)

// ManualValve is the engine operation a command maps to.
type ManualValve interface {
	RequestManualValve(ctx context.Context, fieldID string, mode model.ValveMode) (model.Field, error)
}

// CommandResult is published on irrigation/results/{field} for every handled command.
type CommandResult struct {
	RequestID string          `json:"request_id,omitempty"`
	FieldID   string          `json:"field_id"`
	Requested model.ValveMode `json:"requested,omitempty"`
	Mode      model.ValveMode `json:"mode,omitempty"`
	Accepted  bool            `json:"accepted"`
	Code      string          `json:"code,omitempty"`
	Error     string          `json:"error,omitempty"`
}

type Controller struct {
	consumer  rabbitmq.IConsumer
	publisher rabbitmq.IPublisher
	engine    ManualValve
	deduper   *dedup.Deduper
	metrics   *metrics.TransportMetrics
	log       *slog.Logger
}

func NewController(consumer rabbitmq.IConsumer, publisher rabbitmq.IPublisher, engine ManualValve, deduper *dedup.Deduper, m *metrics.TransportMetrics, log *slog.Logger) *Controller {
	return &Controller{
		consumer:  consumer,
		publisher: publisher,
		engine:    engine,
		deduper:   deduper,
		metrics:   m,
		log:       logging.OrDiscard(log),
	}
}

// Start consumes commands until ctx is done.
func (c *Controller) Start(ctx context.Context) error {
	c.consumer.SetHandler(func(topic string, msg mqtt.Message) error {
		return c.HandleCommand(ctx, topic, msg.Payload())
	})
	return c.consumer.ConsumeMessage(ctx)
}

// fieldFromTopic extracts {field} from irrigation/commands/{field}/valve.
func fieldFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) == 4 && parts[0] == "irrigation" && parts[1] == "commands" && parts[3] == "valve" {
		return parts[2]
	}
	return ""
}

func (c *Controller) HandleCommand(ctx context.Context, topic string, payload []byte) error {
	var cmd messages.ValveCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		c.metrics.Command("invalid")
		return fmt.Errorf("decode valve command: %w", err)
	}

	fieldID := fieldFromTopic(topic)
	if fieldID == "" {
		fieldID = cmd.FieldID
	}
	res := CommandResult{RequestID: cmd.RequestID, FieldID: fieldID}
	if fieldID == "" || (cmd.FieldID != "" && cmd.FieldID != fieldID) {
		c.metrics.Command("invalid")
		return fmt.Errorf("valve command on %s: field id mismatch or missing", topic)
	}

	// Only commands with a request id can be told apart from a deliberate repeat.
	key := ""
	if cmd.RequestID != "" {
		key = fieldID + "/" + cmd.RequestID
	}
	if c.deduper != nil && c.deduper.Seen(key) {
		c.metrics.Command("duplicate")
		return nil
	}

	mode, err := entities.ParseValveMode(cmd.Mode)
	if err != nil {
		c.metrics.Command("invalid")
		res.Code, res.Error = "invalid_mode", err.Error()
		c.markHandled(key)
		return c.reply(ctx, res)
	}
	res.Requested = mode

	f, err := c.engine.RequestManualValve(ctx, fieldID, mode)
	switch {
	case err == nil:
		c.metrics.Command("accepted")
		res.Accepted, res.Mode = true, f.ValveMode
		c.log.Info("controller: valve command applied", "field_id", fieldID, "mode", f.ValveMode, "request_id", cmd.RequestID)
	case errors.Is(err, scheduler.ErrScheduleConflict):
		c.metrics.Command("rejected")
		res.Mode, res.Code, res.Error = f.ValveMode, "schedule_conflict", err.Error()
		c.log.Info("controller: valve command rejected", "field_id", fieldID, "mode", mode, "error", err)
	case errors.Is(err, scheduler.ErrFieldNotFound):
		c.metrics.Command("rejected")
		res.Code, res.Error = "field_not_found", err.Error()
	default:
		c.metrics.Command("error")
		res.Code, res.Error = "internal", err.Error()
		c.log.Error("controller: valve command failed", "field_id", fieldID, "mode", mode, "error", err)
	}
	// A redelivery after an internal failure gets another attempt.
	if res.Code != "internal" {
		c.markHandled(key)
	}
	return c.reply(ctx, res)
}

func (c *Controller) markHandled(key string) {
	if c.deduper != nil {
		c.deduper.Mark(key)
	}
}

func (c *Controller) reply(ctx context.Context, res CommandResult) error {
	if c.publisher == nil {
		return nil
	}
	if err := c.publisher.Publish(ctx, ResultPrefix+"/"+res.FieldID, res); err != nil {
		c.metrics.Published("result", "error")
		return fmt.Errorf("publish command result: %w", err)
	}
	c.metrics.Published("result", "ok")
	return nil
}
