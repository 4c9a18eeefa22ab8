package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/logging"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/messages"
)

const (
	DefaultTickInterval    = 60 * time.Second
	DefaultRefreshInterval = 30 * time.Second
)

// Ticker is anything that can run an evaluation cycle.
type Ticker interface {
	EvaluateTick(ctx context.Context) ([]messages.Event, error)
}

// Runner drives a Ticker on a fixed interval and, optionally, a telemetry
// refresh on its own interval. Each refresh is followed by an evaluation so new
// readings are reflected without waiting for the next tick.
type Runner struct {
	ticker          Ticker
	interval        time.Duration
	refresh         func(ctx context.Context) error
	refreshInterval time.Duration
	log             *slog.Logger
}

func NewRunner(t Ticker, interval time.Duration, log *slog.Logger) *Runner {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Runner{ticker: t, interval: interval, log: logging.OrDiscard(log)}
}

// WithRefresh registers a data refresh callback.
func (r *Runner) WithRefresh(fn func(ctx context.Context) error, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	r.refresh = fn
	r.refreshInterval = interval
	return r
}

// Run evaluates once immediately and then on every tick until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	tick := time.NewTicker(r.interval)
	defer tick.Stop()

	var refreshC <-chan time.Time
	if r.refresh != nil {
		rt := time.NewTicker(r.refreshInterval)
		defer rt.Stop()
		refreshC = rt.C
	}

	r.evaluate(ctx)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("runner: stopped")
			return nil
		case <-tick.C:
			r.evaluate(ctx)
		case <-refreshC:
			if err := r.refresh(ctx); err != nil {
				r.log.Warn("runner: refresh failed", "err", err)
				continue
			}
			r.evaluate(ctx)
		}
	}
}

func (r *Runner) evaluate(ctx context.Context) {
	events, err := r.ticker.EvaluateTick(ctx)
	if err != nil {
		r.log.Warn("runner: evaluation reported errors", "err", err)
	}
	if len(events) > 0 {
		r.log.Debug("runner: evaluation emitted events", "count", len(events))
	}
}
