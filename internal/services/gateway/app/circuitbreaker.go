package app

import (
	"time"

	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/observability/metrics"
)

// BreakerConfig trips after Failures consecutive failures and stays open
// for OpenFor. Interval resets the counts while closed (0 never resets).
type BreakerConfig struct {
	Failures int
	OpenFor  time.Duration
	Interval time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Failures < 1 {
		c.Failures = 3
	}
	if c.OpenFor <= 0 {
		c.OpenFor = 10 * time.Second
	}
	return c
}

func mkBreaker(name string, cfg BreakerConfig, m *metrics.TransportMetrics) *gobreaker.CircuitBreaker {
	cfg = cfg.withDefaults()
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     name,
		Interval: cfg.Interval,
		Timeout:  cfg.OpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(cfg.Failures)
		},
		// Client errors say nothing about upstream health.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var se *StatusError
			return asStatus(err, &se) && se.Code < 500
		},
		OnStateChange: func(name string, _, to gobreaker.State) {
			m.BreakerState(name, int(to))
		},
	})
}
