package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/clock"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/config"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/logging"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/messages"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/observability/metrics"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/scheduler"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/services/aggregator"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/services/device"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/services/event"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/services/gateway/app"
	controller "github.com/LeonardoBeccarini/irrigation_scheduler/internal/services/irrigation-controller"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/services/telemetry"
	"github.com/LeonardoBeccarini/irrigation_scheduler/pkg/dedup"
	"github.com/LeonardoBeccarini/irrigation_scheduler/pkg/rabbitmq"
)

const serviceName = "irrigation-controller"

func (c *cli) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduling engine with its HTTP, gRPC and MQTT edges",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), c.settings)
		},
	}
}

// weatherTarget lets the refresher read overlaid fields and write into the telemetry cache.
type weatherTarget struct {
	*aggregator.OverlayStore
	*aggregator.TelemetryCache
}

func serve(ctx context.Context, s *config.Settings) error {
	log := logging.ForService(serviceName)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	sm, err := metrics.NewSchedulerMetrics(reg)
	if err != nil {
		return err
	}
	tm, err := metrics.NewTransportMetrics(reg)
	if err != nil {
		return err
	}

	var mq mqtt.Client
	if s.MQTT.Enabled {
		if mq, err = dialMQTT(ctx, s, "", log); err != nil {
			return err
		}
	}
	influx := openInflux(s)
	if influx != nil {
		defer influx.Close()
	}

	st, err := openStores(s, influx, tm, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn("closing stores failed", "error", err)
		}
	}()

	cache := aggregator.NewTelemetryCache(15 * time.Minute)
	fields := aggregator.NewOverlayStore(st.fields, cache)

	history := event.NewHistory(50)
	sinks := event.Fanout{history}
	var writer *event.Writer
	var eventsAPI http.Handler
	if influx != nil {
		writer = event.NewWriter(influx.WriteAPI(s.Influx.Org, s.Influx.Bucket), log)
		sinks = append(sinks, event.NewInfluxSink(writer, serviceName))
		eventsAPI = event.NewEventsHandler(influx.QueryAPI(s.Influx.Org), s.Influx.Bucket)
	}
	var pub *rabbitmq.Publisher
	if mq != nil {
		pub = rabbitmq.NewPublisher(mq, 5*time.Second)
		sinks = append(sinks, event.NewMQTTSink(pub))
	}
	if len(s.Notify.URLs) > 0 {
		push, err := event.NewPushSink(s.Notify.URLs, event.PushOptions{MinSeverity: messages.Severity(s.Notify.MinSeverity)})
		if err != nil {
			return fmt.Errorf("push notifications: %w", err)
		}
		sinks = append(sinks, push)
	}
	async := event.NewAsync(sinks, 256, log, func(messages.Event, error) { sm.RecordSinkFailure() })

	policy, err := policyFrom(s)
	if err != nil {
		return fmt.Errorf("scheduler policy: %w", err)
	}
	sys := clock.NewSystem(s.Location())
	engine, err := scheduler.NewEngine(scheduler.Options{
		Fields:  fields,
		Logs:    st.logs,
		Sink:    async,
		Clock:   sys,
		Policy:  policy,
		Logger:  log,
		Metrics: sm,
	})
	if err != nil {
		return err
	}

	runner := scheduler.NewRunner(engine, s.Scheduler.Tick, log)
	if s.Weather.APIKey != "" {
		owm := telemetry.NewOWMClient(telemetry.OWMConfig{APIKey: s.Weather.APIKey, Lat: s.Weather.Lat, Lon: s.Weather.Lon})
		refresher := telemetry.NewRefresher(owm, weatherTarget{fields, cache}, sys.Now, log)
		runner.WithRefresh(refresher.Refresh, s.Scheduler.Refresh)
	}

	api := app.NewServer(app.ServerDeps{
		Engine:  engine,
		Fields:  fields,
		Logs:    st.logs,
		History: history,
		Events:  eventsAPI,
		Health: event.HealthDeps{
			MQTT:    mq,
			Writer:  writer,
			Backend: st.ping,
		},
		Gatherer:         reg,
		Metrics:          tm,
		Clock:            sys.Now,
		AllowedOrigin:    splitOrigins(s.HTTP.AllowedOrigin),
		Timeout:          s.HTTP.Timeout,
		Logger:           log,
		MoistureCritical: policy.MoistureCritical,
	})
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.HTTP.Port),
		Handler:           api.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(device.MetricsInterceptor(tm)))
	device.Register(grpcSrv, device.NewGrpcHandler(engine, log))
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.GRPC.Port))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })
	g.Go(func() error {
		async.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info("http listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info("grpc listening", "addr", lis.Addr().String())
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdown(httpSrv, grpcSrv, log)
		return nil
	})
	if mq != nil {
		startMQTT(gctx, g, mq, pub, engine, cache, tm, log)
	}

	log.Info("irrigation controller running",
		"field_store", s.Store.Fields, "log_store", s.Store.Logs, "mqtt", mq != nil, "influx", influx != nil)
	return g.Wait()
}

func startMQTT(ctx context.Context, g *errgroup.Group, mq mqtt.Client, pub *rabbitmq.Publisher, engine *scheduler.Engine, cache *aggregator.TelemetryCache, tm *metrics.TransportMetrics, log *slog.Logger) {
	commands := rabbitmq.NewConsumer(mq, []string{controller.CommandTopic}, nil, log)
	ctrl := controller.NewController(commands, pub, engine, dedup.New(2*time.Minute, 10000), tm, log)
	g.Go(func() error { return ctrl.Start(ctx) })

	sensors := rabbitmq.NewConsumer(mq, []string{aggregator.SensorTopic}, nil, log)
	agg := aggregator.NewDataAggregatorService(sensors, pub, cache, time.Minute, log)
	g.Go(func() error { return agg.Start(ctx) })
}

func shutdown(httpSrv *http.Server, grpcSrv *grpc.Server, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	done := make(chan struct{})
	go func() {
		grpcSrv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		grpcSrv.Stop()
	}
	log.Info("servers stopped")
}
