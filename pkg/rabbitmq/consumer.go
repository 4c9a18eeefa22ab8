package rabbitmq

import (
	"context"
	"log/slog"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/logging"
)

// Handler processes one message. The topic is the concrete topic the message
// arrived on, not the subscription filter.
type Handler func(topic string, msg mqtt.Message) error

// IConsumer subscribes and dispatches until its context ends.
type IConsumer interface {
	SetHandler(h Handler)
	ConsumeMessage(ctx context.Context) error
}

// QoSFor returns 1 for command and event topics and 0 for telemetry.
func QoSFor(topic string) byte {
	t := strings.TrimSpace(topic)
	if strings.HasPrefix(t, "irrigation/commands") || strings.HasPrefix(t, "irrigation/events") {
		return 1
	}
	return 0
}

// Consumer subscribes one client to several topic filters with a shared handler.
type Consumer struct {
	client  mqtt.Client
	topics  []string
	handler Handler
	log     *slog.Logger
}

func NewConsumer(client mqtt.Client, topics []string, handler Handler, log *slog.Logger) *Consumer {
	return &Consumer{client: client, topics: topics, handler: handler, log: logging.OrDiscard(log)}
}

func (c *Consumer) SetHandler(h Handler) { c.handler = h }

func (c *Consumer) dispatch(_ mqtt.Client, msg mqtt.Message) {
	if c.handler == nil {
		c.log.Warn("no handler set", "topic", msg.Topic())
		return
	}
	if err := c.handler(msg.Topic(), msg); err != nil {
		c.log.Warn("message handling failed", "topic", msg.Topic(), "error", err)
	}
}

// ConsumeMessage subscribes to every topic and blocks until ctx is done,
// then unsubscribes. A failed subscription is returned immediately.
func (c *Consumer) ConsumeMessage(ctx context.Context) error {
	subscribed := make([]string, 0, len(c.topics))
	for _, topic := range c.topics {
		token := c.client.Subscribe(topic, QoSFor(topic), c.dispatch)
		token.Wait()
		if err := token.Error(); err != nil {
			c.unsubscribe(subscribed)
			return err
		}
		subscribed = append(subscribed, topic)
		c.log.Info("subscribed", "topic", topic)
	}

	<-ctx.Done()
	c.unsubscribe(subscribed)
	return nil
}

func (c *Consumer) unsubscribe(topics []string) {
	if len(topics) == 0 {
		return
	}
	c.client.Unsubscribe(topics...).Wait()
}
