package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/logging"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/services/event"
	"github.com/LeonardoBeccarini/irrigation_scheduler/pkg/dedup"
	"github.com/LeonardoBeccarini/irrigation_scheduler/pkg/rabbitmq"
)

func (c *cli) archiveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "archive",
		Short: "Copy scheduler events from MQTT into InfluxDB",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := c.settings
			if !s.Influx.Enabled() {
				return errors.New("archive needs influx.url and influx.bucket")
			}
			log := logging.ForService("event-archive")
			ctx := cmd.Context()

			mq, err := dialMQTT(ctx, s, "archive", log)
			if err != nil {
				return err
			}
			influx := openInflux(s)
			defer influx.Close()

			writer := event.NewWriter(influx.WriteAPI(s.Influx.Org, s.Influx.Bucket), log)
			listener := event.NewListener(event.NewInfluxSink(writer, "event-archive"), dedup.New(5*time.Minute, 50000))
			consumer := rabbitmq.NewConsumer(mq, []string{event.TopicPrefix + "/#"}, listener.Handle, log)

			log.Info("archiving events", "topic", event.TopicPrefix+"/#", "bucket", s.Influx.Bucket)
			return consumer.ConsumeMessage(ctx)
		},
	}
}
