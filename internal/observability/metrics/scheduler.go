// Package metrics provides Prometheus metrics for the irrigation scheduler.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerMetrics contains the metrics recorded by the scheduling engine.
type SchedulerMetrics struct {
	Ticks               prometheus.Counter
	TickDuration        prometheus.Histogram
	Transitions         *prometheus.CounterVec // by target mode and cause
	ManualRejected      prometheus.Counter
	PersistenceFailures *prometheus.CounterVec // by operation
	SinkFailures        prometheus.Counter
	InvalidSchedules    prometheus.Counter
	EngagedFields       prometheus.Gauge
	Events              *prometheus.CounterVec // by event type
}

// NewSchedulerMetrics creates the scheduler metrics and registers them with registry.
func NewSchedulerMetrics(registry prometheus.Registerer) (*SchedulerMetrics, error) {
	m := &SchedulerMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register scheduler metrics: %w", err)
	}
	return m, nil
}

func (m *SchedulerMetrics) initMetrics() {
	m.Ticks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "irrigation_ticks_total",
		Help: "Total number of schedule evaluation cycles",
	})
	m.TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "irrigation_tick_duration_seconds",
		Help:    "Duration of one schedule evaluation cycle",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	m.Transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "irrigation_valve_transitions_total",
		Help: "Accepted valve transitions by target mode and cause",
	}, []string{"mode", "cause"})
	m.ManualRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "irrigation_manual_rejected_total",
		Help: "Manual valve requests rejected because a schedule was active",
	})
	m.PersistenceFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "irrigation_persistence_failures_total",
		Help: "Store operations that failed during scheduling",
	}, []string{"op"})
	m.SinkFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "irrigation_sink_failures_total",
		Help: "Notifications the sink failed to deliver",
	})
	m.InvalidSchedules = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "irrigation_invalid_schedules_total",
		Help: "Fields skipped because their schedule was malformed",
	})
	m.EngagedFields = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "irrigation_engaged_fields",
		Help: "Fields currently inside an engaged schedule window",
	})
	m.Events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "irrigation_events_total",
		Help: "Events emitted by type",
	}, []string{"type"})
}

// The helpers below are nil-safe so callers may run without metrics.

func (m *SchedulerMetrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.Ticks.Inc()
	m.TickDuration.Observe(d.Seconds())
}

func (m *SchedulerMetrics) RecordTransition(mode, cause string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(mode, cause).Inc()
}

func (m *SchedulerMetrics) RecordRejected() {
	if m == nil {
		return
	}
	m.ManualRejected.Inc()
}

func (m *SchedulerMetrics) RecordPersistenceFailure(op string) {
	if m == nil {
		return
	}
	m.PersistenceFailures.WithLabelValues(op).Inc()
}

func (m *SchedulerMetrics) RecordSinkFailure() {
	if m == nil {
		return
	}
	m.SinkFailures.Inc()
}

func (m *SchedulerMetrics) RecordInvalidSchedule() {
	if m == nil {
		return
	}
	m.InvalidSchedules.Inc()
}

func (m *SchedulerMetrics) SetEngaged(n int) {
	if m == nil {
		return
	}
	m.EngagedFields.Set(float64(n))
}

func (m *SchedulerMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(eventType).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *SchedulerMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Ticks.Describe(ch)
	m.TickDuration.Describe(ch)
	m.Transitions.Describe(ch)
	m.ManualRejected.Describe(ch)
	m.PersistenceFailures.Describe(ch)
	m.SinkFailures.Describe(ch)
	m.InvalidSchedules.Describe(ch)
	m.EngagedFields.Describe(ch)
	m.Events.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *SchedulerMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Ticks.Collect(ch)
	m.TickDuration.Collect(ch)
	m.Transitions.Collect(ch)
	m.ManualRejected.Collect(ch)
	m.PersistenceFailures.Collect(ch)
	m.SinkFailures.Collect(ch)
	m.InvalidSchedules.Collect(ch)
	m.EngagedFields.Collect(ch)
	m.Events.Collect(ch)
}
