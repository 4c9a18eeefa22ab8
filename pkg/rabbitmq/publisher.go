package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// IPublisher sends a JSON payload to a topic.
type IPublisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Publisher publishes on a shared client. QoS is chosen per topic.
type Publisher struct {
	client  mqtt.Client
	timeout time.Duration
}

func NewPublisher(client mqtt.Client, timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Publisher{client: client, timeout: timeout}
}

// Publish marshals payload to JSON unless it is already []byte or string.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) error {
	var body []byte
	switch v := payload.(type) {
	case []byte:
		body = v
	case string:
		body = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode payload for %s: %w", topic, err)
		}
		body = b
	}

	token := p.client.Publish(topic, QoSFor(topic), false, body)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.timeout):
		return fmt.Errorf("publish %s: %w", topic, errTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

var errTimeout = errors.New("timed out waiting for broker ack")
