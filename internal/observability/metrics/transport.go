package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// TransportMetrics covers the MQTT, HTTP and gRPC edges of the service.
type TransportMetrics struct {
	MQTTPublished  *prometheus.CounterVec // by topic kind and result
	MQTTCommands   *prometheus.CounterVec // by result
	HTTPRequests   *prometheus.CounterVec // by route and status code
	GRPCRequests   *prometheus.CounterVec // by method and code
	BackendBreaker *prometheus.GaugeVec   // 0 closed, 1 half-open, 2 open
}

func NewTransportMetrics(registry prometheus.Registerer) (*TransportMetrics, error) {
	m := &TransportMetrics{
		MQTTPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "irrigation_mqtt_published_total",
			Help: "MQTT messages published by kind and result",
		}, []string{"kind", "result"}),
		MQTTCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "irrigation_mqtt_commands_total",
			Help: "Valve commands received over MQTT by result",
		}, []string{"result"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "irrigation_http_requests_total",
			Help: "HTTP API requests by route and status code",
		}, []string{"route", "code"}),
		GRPCRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "irrigation_grpc_requests_total",
			Help: "gRPC requests by method and status code",
		}, []string{"method", "code"}),
		BackendBreaker: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "irrigation_backend_breaker_state",
			Help: "Circuit breaker state of the REST backend (0 closed, 1 half-open, 2 open)",
		}, []string{"name"}),
	}
	for _, c := range []prometheus.Collector{m.MQTTPublished, m.MQTTCommands, m.HTTPRequests, m.GRPCRequests, m.BackendBreaker} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register transport metrics: %w", err)
		}
	}
	return m, nil
}

func (m *TransportMetrics) Published(kind, result string) {
	if m == nil {
		return
	}
	m.MQTTPublished.WithLabelValues(kind, result).Inc()
}

func (m *TransportMetrics) Command(result string) {
	if m == nil {
		return
	}
	m.MQTTCommands.WithLabelValues(result).Inc()
}

func (m *TransportMetrics) HTTPRequest(route string, code int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, fmt.Sprint(code)).Inc()
}

func (m *TransportMetrics) GRPCRequest(method, code string) {
	if m == nil {
		return
	}
	m.GRPCRequests.WithLabelValues(method, code).Inc()
}

func (m *TransportMetrics) BreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.BackendBreaker.WithLabelValues(name).Set(float64(state))
}
