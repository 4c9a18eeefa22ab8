// Package event delivers scheduling events to MQTT, InfluxDB, push
// notification services and an in-memory history, and serves event health.
package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/logging"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/messages"
	"github.com/LeonardoBeccarini/irrigation_scheduler/pkg/rabbitmq"
)

// Sink matches the engine's notification sink.
type Sink interface {
	Emit(ctx context.Context, ev messages.Event) error
}

// TopicPrefix is the root of the event topic tree.
const TopicPrefix = "irrigation/events"

// Topic returns irrigation/events/{field}/{type}. Field-less events use "all".
func Topic(ev messages.Event) string {
	field := ev.FieldID
	if field == "" {
		field = "all"
	}
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, field, ev.Type)
}

// MQTTSink publishes each event as JSON on its own topic.
type MQTTSink struct {
	pub rabbitmq.IPublisher
}

func NewMQTTSink(pub rabbitmq.IPublisher) *MQTTSink { return &MQTTSink{pub: pub} }

func (s *MQTTSink) Emit(ctx context.Context, ev messages.Event) error {
	return s.pub.Publish(ctx, Topic(ev), ev)
}

// InfluxSink archives events as system_event points.
type InfluxSink struct {
	w      *Writer
	source string
}

func NewInfluxSink(w *Writer, source string) *InfluxSink {
	return &InfluxSink{w: w, source: source}
}

func (s *InfluxSink) Emit(_ context.Context, ev messages.Event) error {
	if s.w == nil {
		return errors.New("influx writer not configured")
	}
	s.w.Write(string(ev.Type), EventToPoint(ev, s.source))
	return nil
}

// History keeps the most recent events in memory for the notifications API.
type History struct {
	mu    sync.RWMutex
	size  int
	items []messages.Event
	next  int
	full  bool
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = 50
	}
	return &History{size: size, items: make([]messages.Event, size)}
}

func (h *History) Emit(_ context.Context, ev messages.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items[h.next] = ev
	h.next = (h.next + 1) % h.size
	if h.next == 0 {
		h.full = true
	}
	return nil
}

// Recent returns up to n events, newest first. n <= 0 means all retained.
func (h *History) Recent(n int) []messages.Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := h.next
	if h.full {
		count = h.size
	}
	if n <= 0 || n > count {
		n = count
	}
	out := make([]messages.Event, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, h.items[(h.next-i+h.size)%h.size])
	}
	return out
}

// Fanout delivers to every sink. One failing or panicking sink does not stop
// the others; all failures are joined.
type Fanout []Sink

func (f Fanout) Emit(ctx context.Context, ev messages.Event) error {
	var errs []error
	for _, s := range f {
		if err := safeEmit(ctx, s, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func safeEmit(ctx context.Context, s Sink, ev messages.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink %T panicked: %v", s, r)
		}
	}()
	return s.Emit(ctx, ev)
}

// ErrQueueFull is returned by Async when its buffer is exhausted.
var ErrQueueFull = errors.New("event queue full")

// Async decouples slow sinks from the caller. Events are delivered in order
// by a single worker; when the buffer is full new events are dropped.
// Failed deliveries are logged here; onError only observes them.
type Async struct {
	inner   Sink
	queue   chan messages.Event
	log     *slog.Logger
	onError func(messages.Event, error)
}

func NewAsync(inner Sink, buffer int, log *slog.Logger, onError func(messages.Event, error)) *Async {
	if buffer <= 0 {
		buffer = 256
	}
	return &Async{inner: inner, queue: make(chan messages.Event, buffer), log: logging.OrDiscard(log), onError: onError}
}

func (a *Async) Emit(_ context.Context, ev messages.Event) error {
	select {
	case a.queue <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run delivers queued events until ctx is cancelled, then drains what is
// already queued using a background context.
func (a *Async) Run(ctx context.Context) {
	for {
		select {
		case ev := <-a.queue:
			a.deliver(ctx, ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-a.queue:
					a.deliver(context.Background(), ev)
				default:
					return
				}
			}
		}
	}
}

func (a *Async) deliver(ctx context.Context, ev messages.Event) {
	if err := safeEmit(ctx, a.inner, ev); err != nil {
		a.log.Warn("event delivery failed", "type", ev.Type, "field_id", ev.FieldID, "error", err)
		if a.onError != nil {
			a.onError(ev, err)
		}
	}
}
