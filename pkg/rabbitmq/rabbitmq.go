package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/logging"
)

// Config addresses the RabbitMQ MQTT plugin (or any MQTT 3.1.1 broker).
type Config struct {
	Host           string
	Port           int
	User           string
	Password       string
	ClientID       string
	KeepAlive      time.Duration
	ConnectRetries int
	ConnectTimeout time.Duration
}

func (c Config) BrokerURL() string { return fmt.Sprintf("tcp://%s:%d", c.Host, c.Port) }

func clientOptions(cfg Config, log *slog.Logger) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL())
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(false)
	if cfg.KeepAlive > 0 {
		opts.SetKeepAlive(cfg.KeepAlive)
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost", "broker", cfg.BrokerURL(), "error", err)
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info("mqtt connected", "broker", cfg.BrokerURL(), "client_id", cfg.ClientID)
	})
	return opts
}

// Dial connects to the broker, retrying with exponential backoff. The client
// is disconnected when ctx is cancelled.
func Dial(ctx context.Context, cfg Config, log *slog.Logger) (mqtt.Client, error) {
	log = logging.OrDiscard(log)
	retries := cfg.ConnectRetries
	if retries <= 0 {
		retries = 5
	}
	opts := clientOptions(cfg, log)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			log.Warn("mqtt connect failed", "broker", cfg.BrokerURL(), "error", token.Error())
			return token.Error()
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries-1)), ctx))
	if err != nil {
		return nil, fmt.Errorf("mqtt connect %s after %d attempts: %w", cfg.BrokerURL(), retries, err)
	}

	go func() {
		<-ctx.Done()
		Close(client, log)
	}()
	return client, nil
}

// Close disconnects the client if it is still connected.
func Close(client mqtt.Client, log *slog.Logger) {
	if client != nil && client.IsConnected() {
		client.Disconnect(250)
		logging.OrDiscard(log).Info("mqtt connection closed")
	}
}
