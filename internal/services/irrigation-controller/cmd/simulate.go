package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/logging"
	simulator "github.com/LeonardoBeccarini/irrigation_scheduler/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/irrigation_scheduler/pkg/rabbitmq"
)

func (c *cli) simulateCommand() *cobra.Command {
	var (
		fieldID, sensorID string
		interval, half    time.Duration
		seed              float64
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Publish synthetic soil moisture for one probe",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.ForService("sensor-simulator")
			ctx := cmd.Context()
			mq, err := dialMQTT(ctx, c.settings, "sim-"+fieldID+"-"+sensorID, log)
			if err != nil {
				return err
			}
			pub := rabbitmq.NewPublisher(mq, 5*time.Second)
			consumer := rabbitmq.NewConsumer(mq, []string{simulator.ValveTopic(fieldID)}, nil, log)
			gen := simulator.NewDataGenerator(seed, simulator.DecayForHalfLife(half), nil)
			sim := simulator.NewSensorSimulator(consumer, pub, gen, fieldID, sensorID, log)

			log.Info("simulating probe", "field_id", fieldID, "sensor_id", sensorID, "interval", interval)
			return sim.Start(ctx, interval)
		},
	}
	cmd.Flags().StringVar(&fieldID, "field", "F1", "field id")
	cmd.Flags().StringVar(&sensorID, "sensor", "sensor1", "sensor id")
	cmd.Flags().DurationVar(&interval, "interval", 10*time.Second, "publish interval")
	cmd.Flags().DurationVar(&half, "half-life", 2*time.Hour, "time for moisture to lose half of a full reading without water")
	cmd.Flags().Float64Var(&seed, "seed", simulator.DefaultSeed, "starting moisture in [0..1]")
	return cmd
}
